package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/govkernel/pkg/canonicalize"
)

// Verification is the outcome of replaying a chain.
type Verification struct {
	Valid bool `json:"valid"`
	// BreakIndex is the zero-based global index of the first offending entry, or -1.
	BreakIndex int    `json:"break_index"`
	Entries    int    `json:"entries"`
	Head       string `json:"head"`
	Reason     string `json:"reason,omitempty"`
	File       string `json:"file,omitempty"`
}

// Err returns a *ChainIntegrityError for an invalid chain and nil otherwise.
func (v Verification) Err() error {
	if v.Valid {
		return nil
	}
	return &ChainIntegrityError{Index: v.BreakIndex, Reason: v.Reason}
}

var errStop = errors.New("stop")

// VerifyFiles replays the chain rooted at the active path (rotated segments first)
// without taking the ledger lock. The returned error is reserved for I/O failures; a
// broken chain is reported through the Verification.
func VerifyFiles(ctx context.Context, active string, alg canonicalize.Algorithm) (Verification, error) {
	files, err := chainFiles(active)
	if err != nil {
		return Verification{}, &IOError{Op: "list", Path: active, Err: err}
	}
	v := Verification{Valid: true, BreakIndex: -1, Head: Genesis}
	idx := 0
	fail := func(line rawLine, reason string) error {
		v.Valid = false
		v.BreakIndex = idx
		v.Reason = reason
		v.File = line.file
		return errStop
	}

	err = readLines(ctx, files, func(line rawLine) error {
		var e Entry
		if err := json.Unmarshal(line.data, &e); err != nil {
			return fail(line, fmt.Sprintf("malformed entry: %v", err))
		}
		if !line.complete {
			return fail(line, "truncated entry")
		}
		if e.Sequence != uint64(idx)+1 {
			return fail(line, fmt.Sprintf("sequence %d, expected %d", e.Sequence, idx+1))
		}
		if e.PreviousHash != v.Head {
			return fail(line, fmt.Sprintf("previous_hash %s does not match %s", e.PreviousHash, v.Head))
		}
		computed, err := e.ComputeHash(alg)
		if err != nil {
			return fail(line, err.Error())
		}
		if computed != e.EntryHash {
			return fail(line, fmt.Sprintf("entry_hash mismatch (computed %s, stored %s)", computed, e.EntryHash))
		}
		v.Head = e.EntryHash
		idx++
		v.Entries = idx
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return Verification{}, err
	}
	return v, nil
}
