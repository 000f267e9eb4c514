package facts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/govkernel/pkg/canonicalize"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestDecodeDeclared_RejectsUnknownFacts(t *testing.T) {
	_, err := DecodeDeclared(strings.NewReader("human_oversight_enabeld: true\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "human_oversight_enabeld")
}

func TestDecodeDeclared_EmptyDocument(t *testing.T) {
	d, err := DecodeDeclared(strings.NewReader(""))
	require.NoError(t, err)
	assert.Nil(t, d.HumanOversightEnabled)
}

func TestDeclared_Apply(t *testing.T) {
	doc := `
human_oversight_enabled: false
current_phase: 1
max_tamper_scan_age: 30m
active_authorities:
  - id: ops-admin
    expires_at: 2026-04-01T00:00:00Z
  - id: root
defense_layers:
  perimeter: true
  kernel: false
`
	d, err := DecodeDeclared(strings.NewReader(doc))
	require.NoError(t, err)

	f := Baseline(fixedNow)
	d.Apply(&f)

	assert.False(t, f.HumanOversightEnabled)
	assert.True(t, f.KillSwitchAccessible, "undeclared facts keep their baseline")
	assert.Equal(t, 1, f.CurrentPhase)
	assert.Equal(t, 30*time.Minute, f.MaxTamperScanAge)
	require.Len(t, f.ActiveAuthorities, 2)
	require.NotNil(t, f.ActiveAuthorities[0].ExpiresAt)
	assert.Nil(t, f.ActiveAuthorities[1].ExpiresAt)
	assert.Equal(t, map[string]bool{"perimeter": true, "kernel": false, "audit": true}, f.DefenseLayers)
}

func TestScanEnviron(t *testing.T) {
	got := ScanEnviron([]string{"PATH=/bin", "PYTHONPATH=/tmp", "LD_PRELOAD=evil.so", "LD_PRELOADX=1"})
	assert.Equal(t, []string{"LD_PRELOAD", "PYTHONPATH"}, got)
}

func TestManifest_SealVerify(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.yaml"), []byte("a: 1"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.yaml"), []byte("b: 2"), 0o600))

	m, err := Seal(root, canonicalize.SHA3256, fixedNow, "MANIFEST.json")
	require.NoError(t, err)
	assert.Len(t, m.Files, 2)
	assert.Contains(t, m.Files, "sub/b.yaml")

	path := filepath.Join(root, "MANIFEST.json")
	require.NoError(t, m.Save(path))

	loaded, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m.ManifestHash, loaded.ManifestHash)

	tampered, err := loaded.Verify(root)
	require.NoError(t, err)
	assert.Empty(t, tampered)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.yaml"), []byte("a: 2"), 0o600))
	require.NoError(t, os.Remove(filepath.Join(root, "sub", "b.yaml")))
	tampered, err = loaded.Verify(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.yaml", "sub/b.yaml"}, tampered)
}

func TestLoadManifest_DetectsEditedManifest(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.yaml"), []byte("a: 1"), 0o600))
	m, err := Seal(root, canonicalize.SHA256, fixedNow)
	require.NoError(t, err)
	m.Files["a.yaml"] = strings.Repeat("0", 64)

	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, m.Save(path))
	_, err = LoadManifest(path)
	assert.ErrorIs(t, err, ErrManifestSeal)
}

func TestRuntime_PinsAndDetectsDrift(t *testing.T) {
	dir := t.TempDir()
	constitution := filepath.Join(dir, "constitution.md")
	constraints := filepath.Join(dir, "constraints")
	require.NoError(t, os.WriteFile(constitution, []byte("Article 1"), 0o600))
	require.NoError(t, os.MkdirAll(constraints, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(constraints, "limits.yaml"), []byte("max: 1"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(constraints, "notes.txt"), []byte("ignored"), 0o600))

	r, err := NewRuntime(RuntimeOptions{
		ConstitutionPath: constitution,
		ConstraintDir:    constraints,
		Environ:          func() []string { return []string{"LD_PRELOAD=x"} },
		Clock:            func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	f, err := r.Facts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.ExpectedConstitutionHash, f.ConstitutionHash)
	assert.Equal(t, f.ExpectedConstraintHashes, f.ConstraintHashes)
	assert.Len(t, f.ConstraintHashes, 1)
	assert.Equal(t, []string{"LD_PRELOAD"}, f.SuspiciousEnvVars)
	assert.False(t, f.TamperDetectionEnabled)

	require.NoError(t, os.WriteFile(constitution, []byte("Article 1 amended"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(constraints, "limits.yaml"), []byte("max: 99"), 0o600))
	f, err = r.Facts(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, f.ExpectedConstitutionHash, f.ConstitutionHash)
	assert.NotEqual(t, f.ExpectedConstraintHashes["limits.yaml"], f.ConstraintHashes["limits.yaml"])
}

func TestRuntime_ManifestAndWatcherFacts(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "policy.yaml"), []byte("x: 1"), 0o600))
	m, err := Seal(root, canonicalize.SHA256, fixedNow, "manifest.json")
	require.NoError(t, err)
	manifestPath := filepath.Join(root, "manifest.json")
	require.NoError(t, m.Save(manifestPath))

	r, err := NewRuntime(RuntimeOptions{
		ManifestPath: manifestPath,
		Environ:      func() []string { return nil },
		Clock:        func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	f, err := r.Facts(context.Background())
	require.NoError(t, err)
	assert.True(t, f.IntegrityManifestValid)
	assert.True(t, f.TamperDetectionEnabled)
	assert.Empty(t, f.TamperedFiles)
	age, ok := f.TamperScanAge()
	require.True(t, ok)
	assert.Zero(t, age)

	require.NoError(t, os.WriteFile(filepath.Join(root, "policy.yaml"), []byte("x: 2"), 0o600))
	f, err = r.Facts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"policy.yaml"}, f.TamperedFiles)
}

func TestRuntime_DeclaredFactsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not_a_fact: 1\n"), 0o600))

	r, err := NewRuntime(RuntimeOptions{DeclaredPath: path, Environ: func() []string { return nil }})
	require.NoError(t, err)
	_, err = r.Facts(context.Background())
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	s := Static{Value: Facts{LedgerPath: "x"}, Clock: func() time.Time { return fixedNow }}
	f, err := s.Facts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", f.LedgerPath)
	assert.Equal(t, fixedNow, f.ObservedAt)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Facts(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWatcher_DeliversChanges(t *testing.T) {
	dir := t.TempDir()
	changes := make(chan Change, 8)
	w, err := NewWatcher(dir, func(_ context.Context, c Change) { changes <- c })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "limits.yaml"), []byte("max: 1"), 0o600))

	select {
	case c := <-changes:
		assert.Equal(t, filepath.Join(dir, "limits.yaml"), c.Path)
		assert.NotEmpty(t, c.Op)
	case <-time.After(5 * time.Second):
		t.Fatal("no change delivered")
	}
	require.NoError(t, w.Stop())
}
