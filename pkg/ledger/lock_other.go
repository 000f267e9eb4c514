//go:build !unix

package ledger

// lockFile is a no-op where advisory locks are unavailable; the in-process mutex
// still serializes appends.
func lockFile(string) (func() error, error) {
	return func() error { return nil }, nil
}
