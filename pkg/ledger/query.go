package ledger

import (
	"context"
	"encoding/json"
	"fmt"
)

// Filter selects entries during a replay read.
type Filter struct {
	Type     EventType
	StartSeq uint64
	EndSeq   uint64
	// Limit keeps only the last Limit matches. Zero keeps all.
	Limit int
}

func (f Filter) matches(e Entry) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.StartSeq > 0 && e.Sequence < f.StartSeq {
		return false
	}
	if f.EndSeq > 0 && e.Sequence > f.EndSeq {
		return false
	}
	return true
}

// ReadEntries replays the chain rooted at active and returns matching entries in order.
func ReadEntries(ctx context.Context, active string, filter Filter) ([]Entry, error) {
	files, err := chainFiles(active)
	if err != nil {
		return nil, &IOError{Op: "list", Path: active, Err: err}
	}
	var out []Entry
	err = readLines(ctx, files, func(line rawLine) error {
		var e Entry
		if err := json.Unmarshal(line.data, &e); err != nil {
			return &IOError{Op: "decode", Path: line.file, Err: fmt.Errorf("malformed entry: %w", err)}
		}
		if filter.matches(e) {
			out = append(out, e)
			if filter.Limit > 0 && len(out) > filter.Limit {
				out = out[1:]
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Entries replays this ledger under the append lock.
func (l *Ledger) Entries(ctx context.Context, filter Filter) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	return ReadEntries(ctx, l.opts.Path, filter)
}
