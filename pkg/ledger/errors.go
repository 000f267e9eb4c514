package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed ledger.
	ErrClosed = errors.New("ledger closed")
	// ErrLocked is returned when another process holds the ledger lock.
	ErrLocked = errors.New("ledger locked by another process")
	// ErrChainBroken is matched by every ChainIntegrityError.
	ErrChainBroken = errors.New("hash chain is broken")
)

// IOError reports that the ledger could not be read, written or locked. It is
// always fatal to the operation that hit it.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("ledger %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ChainIntegrityError identifies the first entry whose hash or linkage does not verify.
type ChainIntegrityError struct {
	Index  int
	Reason string
}

func (e *ChainIntegrityError) Error() string {
	return fmt.Sprintf("%v: entry %d: %s", ErrChainBroken, e.Index, e.Reason)
}

func (e *ChainIntegrityError) Is(target error) bool { return target == ErrChainBroken }
