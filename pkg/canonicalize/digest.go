package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Algorithm names a 256-bit digest function.
type Algorithm string

const (
	SHA256  Algorithm = "sha256"
	SHA3256 Algorithm = "sha3-256"
)

// ParseAlgorithm resolves a configured algorithm name. Empty selects SHA256.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", SHA256:
		return SHA256, nil
	case SHA3256, "sha3_256":
		return SHA3256, nil
	default:
		return "", fmt.Errorf("unsupported digest algorithm %q", s)
	}
}

// New returns a fresh hash.Hash for the algorithm.
func (a Algorithm) New() hash.Hash {
	if a == SHA3256 {
		return sha3.New256()
	}
	return sha256.New()
}

// Sum returns the lowercase hex digest of data.
func (a Algorithm) Sum(data []byte) string {
	if a == SHA3256 {
		sum := sha3.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashBytes computes the SHA-256 hash of raw bytes and returns it hex encoded.
func HashBytes(data []byte) string {
	return SHA256.Sum(data)
}
