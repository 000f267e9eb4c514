package facts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Mindburn-Labs/govkernel/pkg/canonicalize"
)

// Provider supplies the fact snapshot for one validation cycle.
type Provider interface {
	Facts(ctx context.Context) (Facts, error)
}

// Static returns the same facts on every call, stamped with the current time.
type Static struct {
	Value Facts
	Clock func() time.Time
}

func (s Static) Facts(ctx context.Context) (Facts, error) {
	if err := ctx.Err(); err != nil {
		return Facts{}, err
	}
	f := s.Value
	now := time.Now
	if s.Clock != nil {
		now = s.Clock
	}
	f.ObservedAt = now().UTC()
	return f, nil
}

// ForbiddenEnvVars are environment variables that can inject code into the process.
var ForbiddenEnvVars = []string{
	"LD_PRELOAD",
	"LD_LIBRARY_PATH",
	"DYLD_INSERT_LIBRARIES",
	"PYTHONPATH",
	"PYTHONSTARTUP",
	"PYTHONHOME",
}

// ConstraintExtensions are the file types digested under the constraint directory.
var ConstraintExtensions = []string{".yaml", ".yml", ".json", ".toml"}

// RuntimeOptions configures a Runtime provider.
type RuntimeOptions struct {
	ConstitutionPath string
	// ExpectedConstitutionHash pins the constitution. Empty pins whatever is on disk
	// when the provider is constructed.
	ExpectedConstitutionHash string

	ConstraintDir string
	// ExpectedConstraintHashes pins constraint files. Nil pins the files present at
	// construction.
	ExpectedConstraintHashes map[string]string

	DeclaredPath string

	ManifestPath string
	ManifestRoot string

	Algorithm       canonicalize.Algorithm
	AlertingEnabled bool

	Environ func() []string
	Clock   func() time.Time
	Logger  *slog.Logger
}

// Runtime observes the host (file digests, environment, integrity manifest) and
// overlays declared facts on top of the baseline.
type Runtime struct {
	opts   RuntimeOptions
	logger *slog.Logger

	mu             sync.Mutex
	watching       bool
	lastWatchEvent time.Time
}

// NewRuntime builds a provider and pins any expected digests that were not configured.
func NewRuntime(opts RuntimeOptions) (*Runtime, error) {
	if opts.Algorithm == "" {
		opts.Algorithm = canonicalize.SHA256
	}
	if opts.Environ == nil {
		opts.Environ = os.Environ
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ManifestRoot == "" && opts.ManifestPath != "" {
		opts.ManifestRoot = filepath.Dir(opts.ManifestPath)
	}

	r := &Runtime{opts: opts, logger: opts.Logger.With("component", "facts")}

	if opts.ExpectedConstitutionHash == "" && opts.ConstitutionPath != "" {
		h, err := r.constitutionHash()
		if err != nil {
			return nil, err
		}
		r.opts.ExpectedConstitutionHash = h
	}
	if opts.ExpectedConstraintHashes == nil && opts.ConstraintDir != "" {
		hashes, err := r.constraintHashes()
		if err != nil {
			return nil, err
		}
		r.opts.ExpectedConstraintHashes = hashes
	}
	return r, nil
}

// MarkWatching records that a tamper watcher is active on the constraint directory.
func (r *Runtime) MarkWatching(active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watching = active
}

// RecordWatchEvent notes a watcher observation, which counts as a tamper scan.
func (r *Runtime) RecordWatchEvent(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastWatchEvent = at
}

// Facts implements Provider.
func (r *Runtime) Facts(ctx context.Context) (Facts, error) {
	if err := ctx.Err(); err != nil {
		return Facts{}, err
	}
	now := r.opts.Clock().UTC()
	f := Baseline(now)
	f.AlertingEnabled = r.opts.AlertingEnabled

	var err error
	if f.ConstitutionHash, err = r.constitutionHash(); err != nil {
		return Facts{}, err
	}
	f.ExpectedConstitutionHash = r.opts.ExpectedConstitutionHash

	if r.opts.ConstraintDir != "" {
		if f.ConstraintHashes, err = r.constraintHashes(); err != nil {
			return Facts{}, err
		}
		f.ExpectedConstraintHashes = copyMap(r.opts.ExpectedConstraintHashes)
	}

	f.SuspiciousEnvVars = ScanEnviron(r.opts.Environ())

	r.mu.Lock()
	watching, lastEvent := r.watching, r.lastWatchEvent
	r.mu.Unlock()
	f.TamperDetectionEnabled = watching
	if watching {
		f.LastTamperScan = now
	}
	if lastEvent.After(f.LastTamperScan) {
		f.LastTamperScan = lastEvent
	}

	if r.opts.ManifestPath != "" {
		f.TamperDetectionEnabled = true
		m, err := LoadManifest(r.opts.ManifestPath)
		switch {
		case err != nil:
			r.logger.Warn("integrity manifest unusable", "path", r.opts.ManifestPath, "error", err)
		default:
			tampered, err := m.Verify(r.opts.ManifestRoot)
			if err != nil {
				return Facts{}, fmt.Errorf("verify manifest: %w", err)
			}
			f.IntegrityManifestValid = true
			f.TamperedFiles = tampered
			f.LastTamperScan = now
		}
	}

	if r.opts.DeclaredPath != "" {
		d, err := LoadDeclared(r.opts.DeclaredPath)
		if err != nil {
			return Facts{}, err
		}
		d.Apply(&f)
	}
	return f, nil
}

func (r *Runtime) constitutionHash() (string, error) {
	if r.opts.ConstitutionPath == "" {
		return "", nil
	}
	data, err := os.ReadFile(r.opts.ConstitutionPath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read constitution: %w", err)
	}
	return r.opts.Algorithm.Sum(data), nil
}

func (r *Runtime) constraintHashes() (map[string]string, error) {
	return HashTree(r.opts.ConstraintDir, r.opts.Algorithm, func(rel string) bool {
		ext := strings.ToLower(filepath.Ext(rel))
		for _, e := range ConstraintExtensions {
			if ext == e {
				return true
			}
		}
		return false
	})
}

// ScanEnviron returns the sorted names of forbidden variables present in environ.
func ScanEnviron(environ []string) []string {
	var found []string
	for _, kv := range environ {
		name, _, _ := strings.Cut(kv, "=")
		for _, forbidden := range ForbiddenEnvVars {
			if name == forbidden {
				found = append(found, name)
			}
		}
	}
	sort.Strings(found)
	return found
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
