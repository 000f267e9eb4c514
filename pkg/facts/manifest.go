package facts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Mindburn-Labs/govkernel/pkg/canonicalize"
)

// ManifestVersion is the integrity manifest format version.
const ManifestVersion = "1.0"

// ErrManifestSeal is returned when a manifest's own hash does not match its content.
var ErrManifestSeal = errors.New("integrity manifest seal mismatch")

// Manifest pins the digest of every file under a root directory.
type Manifest struct {
	Version      string                 `json:"version"`
	Created      string                 `json:"created"`
	Algorithm    canonicalize.Algorithm `json:"algorithm"`
	Files        map[string]string      `json:"files"`
	ManifestHash string                 `json:"manifest_hash"`
}

type manifestBody struct {
	Version   string                 `json:"version"`
	Created   string                 `json:"created"`
	Algorithm canonicalize.Algorithm `json:"algorithm"`
	Files     map[string]string      `json:"files"`
}

// Seal walks root and builds a manifest of every regular file. Paths listed in skip
// (relative, slash separated) are excluded so the manifest can live inside root.
func Seal(root string, alg canonicalize.Algorithm, now time.Time, skip ...string) (*Manifest, error) {
	files, err := HashTree(root, alg, func(rel string) bool {
		for _, s := range skip {
			if rel == s {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	m := &Manifest{
		Version:   ManifestVersion,
		Created:   now.UTC().Format(time.RFC3339),
		Algorithm: alg,
		Files:     files,
	}
	if m.ManifestHash, err = m.computeHash(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) computeHash() (string, error) {
	b, err := canonicalize.JCS(manifestBody{
		Version:   m.Version,
		Created:   m.Created,
		Algorithm: m.Algorithm,
		Files:     m.Files,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalize manifest: %w", err)
	}
	return m.Algorithm.Sum(b), nil
}

// LoadManifest reads a manifest and checks its seal.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load manifest %q: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("load manifest %q: %w", path, err)
	}
	if _, err := canonicalize.ParseAlgorithm(string(m.Algorithm)); err != nil {
		return nil, fmt.Errorf("load manifest %q: %w", path, err)
	}
	want, err := m.computeHash()
	if err != nil {
		return nil, err
	}
	if want != m.ManifestHash {
		return nil, fmt.Errorf("load manifest %q: %w", path, ErrManifestSeal)
	}
	return &m, nil
}

// Save writes the manifest as indented JSON.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o640)
}

// Verify recomputes every pinned digest under root and returns the sorted list of
// files that were modified or removed.
func (m *Manifest) Verify(root string) ([]string, error) {
	var tampered []string
	for rel, want := range m.Files {
		got, err := hashFile(filepath.Join(root, filepath.FromSlash(rel)), m.Algorithm)
		if errors.Is(err, fs.ErrNotExist) {
			tampered = append(tampered, rel)
			continue
		}
		if err != nil {
			return nil, err
		}
		if got != want {
			tampered = append(tampered, rel)
		}
	}
	sort.Strings(tampered)
	return tampered, nil
}

// HashTree digests every regular file under root for which keep returns true.
// Keys are slash-separated paths relative to root. A missing root yields an empty map.
func HashTree(root string, alg canonicalize.Algorithm, keep func(rel string) bool) (map[string]string, error) {
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipAll
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if keep != nil && !keep(rel) {
			return nil
		}
		sum, err := hashFile(path, alg)
		if err != nil {
			return err
		}
		out[rel] = sum
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hash tree %q: %w", root, err)
	}
	return out, nil
}

func hashFile(path string, alg canonicalize.Algorithm) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return alg.Sum(data), nil
}
