package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Mindburn-Labs/govkernel/pkg/canonicalize"
	"github.com/Mindburn-Labs/govkernel/pkg/invariant"
)

// Options configures a Ledger.
type Options struct {
	// Path is the active segment. Rotated segments live beside it.
	Path      string
	Algorithm canonicalize.Algorithm
	// Sync fsyncs after every append.
	Sync bool
	// RotateMaxBytes rotates the active segment before it would exceed this size.
	RotateMaxBytes int64
	// RotateInterval rotates the active segment once its first entry is this old.
	RotateInterval time.Duration
	Sinks          []Sink
	Clock          func() time.Time
	Logger         *slog.Logger
}

// Ledger is a single-writer append-only evidence log. All appends for one
// instance are serialized through mu.
type Ledger struct {
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	file        *os.File
	unlock      func() error
	lastHash    string
	seq         uint64
	activeSize  int64
	activeFirst uint64
	activeSince time.Time
	rotated     []string
	failed      error
	closed      bool
}

// Open opens or creates the ledger at opts.Path and seeds the chain head from the
// last persisted entry. A corrupt tail is reported as an *IOError.
func Open(opts Options) (*Ledger, error) {
	if opts.Path == "" {
		return nil, &IOError{Op: "open", Path: "", Err: errors.New("ledger path not configured")}
	}
	if opts.Algorithm == "" {
		opts.Algorithm = canonicalize.SHA256
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o750); err != nil {
		return nil, &IOError{Op: "mkdir", Path: opts.Path, Err: err}
	}

	unlock, err := lockFile(opts.Path + ".lock")
	if err != nil {
		return nil, &IOError{Op: "lock", Path: opts.Path, Err: err}
	}

	l := &Ledger{
		opts:     opts,
		logger:   opts.Logger.With("component", "ledger"),
		unlock:   unlock,
		lastHash: Genesis,
	}
	if err := l.seed(); err != nil {
		_ = unlock()
		return nil, err
	}

	f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		_ = unlock()
		return nil, &IOError{Op: "open", Path: opts.Path, Err: err}
	}
	l.file = f
	return l, nil
}

// seed restores last hash, sequence and active-segment bookkeeping.
func (l *Ledger) seed() error {
	segs, err := Segments(l.opts.Path)
	if err != nil {
		return &IOError{Op: "list", Path: l.opts.Path, Err: err}
	}

	info, err := os.Stat(l.opts.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return &IOError{Op: "stat", Path: l.opts.Path, Err: err}
	default:
		l.activeSize = info.Size()
	}

	// The newest file holding entries determines the chain head.
	files := append(segs, l.opts.Path)
	for i := len(files) - 1; i >= 0; i-- {
		first, last, found, err := boundaryEntries(files[i])
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		l.lastHash = last.EntryHash
		l.seq = last.Sequence
		if files[i] == l.opts.Path {
			l.activeFirst = first.Sequence
			if ts, err := first.Time(); err == nil {
				l.activeSince = ts
			}
		}
		break
	}
	return nil
}

// boundaryEntries reads the first and last entries of one file.
func boundaryEntries(path string) (first, last Entry, found bool, err error) {
	err = readFileLines(context.Background(), path, func(line rawLine) error {
		var e Entry
		if uerr := json.Unmarshal(line.data, &e); uerr != nil || !line.complete {
			// Only the tail matters; earlier damage is left for VerifyChain to report.
			last = Entry{}
			found = false
			return nil
		}
		if first.Sequence == 0 {
			first = e
		}
		last = e
		found = true
		return nil
	})
	if err != nil {
		return Entry{}, Entry{}, false, err
	}
	if !found {
		size := int64(0)
		if info, serr := os.Stat(path); serr == nil {
			size = info.Size()
		}
		if size > 0 {
			return Entry{}, Entry{}, false, &IOError{Op: "seed", Path: path, Err: errors.New("last entry is corrupt or truncated")}
		}
	}
	return first, last, found, nil
}

// Path returns the active segment path.
func (l *Ledger) Path() string { return l.opts.Path }

// Algorithm returns the configured digest algorithm.
func (l *Ledger) Algorithm() canonicalize.Algorithm { return l.opts.Algorithm }

// LastHash returns the current chain head.
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHash
}

// Sequence returns the sequence of the last appended entry.
func (l *Ledger) Sequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Append records an invariant result and returns its entry hash.
func (l *Ledger) Append(ctx context.Context, r invariant.Result) (string, error) {
	return l.AppendEvent(ctx, TypeInvariantResult, r)
}

// AppendEvent records a generic governance event and returns its entry hash.
func (l *Ledger) AppendEvent(ctx context.Context, typ EventType, payload interface{}) (string, error) {
	raw, err := canonicalize.JCS(payload)
	if err != nil {
		return "", fmt.Errorf("ledger: encode %s payload: %w", typ, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, err := l.appendLocked(ctx, typ, raw)
	if err != nil {
		return "", err
	}
	return e.EntryHash, nil
}

// AppendBatch records results contiguously in the order given.
func (l *Ledger) AppendBatch(ctx context.Context, results []invariant.Result) ([]string, error) {
	raws := make([][]byte, len(results))
	for i, r := range results {
		raw, err := canonicalize.JCS(r)
		if err != nil {
			return nil, fmt.Errorf("ledger: encode result %s: %w", r.InvariantID, err)
		}
		raws[i] = raw
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	hashes := make([]string, 0, len(results))
	for _, raw := range raws {
		e, err := l.appendLocked(ctx, TypeInvariantResult, raw)
		if err != nil {
			return hashes, err
		}
		hashes = append(hashes, e.EntryHash)
	}
	return hashes, nil
}

func (l *Ledger) appendLocked(ctx context.Context, typ EventType, payload json.RawMessage) (Entry, error) {
	if l.closed {
		return Entry{}, ErrClosed
	}
	if l.failed != nil {
		return Entry{}, l.failed
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	now := l.opts.Clock().UTC()
	e := Entry{
		Sequence:     l.seq + 1,
		Type:         typ,
		Timestamp:    now.Format(time.RFC3339Nano),
		PreviousHash: l.lastHash,
		Payload:      payload,
	}
	h, err := e.ComputeHash(l.opts.Algorithm)
	if err != nil {
		return Entry{}, err
	}
	e.EntryHash = h
	line, err := e.marshalLine()
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: encode entry: %w", err)
	}

	if l.shouldRotate(now, int64(len(line))) {
		if err := l.rotateLocked(); err != nil {
			l.failed = err
			return Entry{}, err
		}
	}

	n, err := l.file.Write(line)
	if err == nil && n != len(line) {
		err = fmt.Errorf("short write: %d of %d bytes", n, len(line))
	}
	if err == nil && l.opts.Sync {
		err = l.file.Sync()
	}
	if err != nil {
		// A partial line would corrupt the chain; refuse further appends.
		l.failed = &IOError{Op: "append", Path: l.opts.Path, Err: err}
		return Entry{}, l.failed
	}

	l.lastHash = e.EntryHash
	l.seq = e.Sequence
	l.activeSize += int64(len(line))
	if l.activeFirst == 0 {
		l.activeFirst = e.Sequence
		l.activeSince = now
	}

	for _, s := range l.opts.Sinks {
		if err := s.Mirror(ctx, e); err != nil {
			l.logger.Error("ledger mirror failed", "sink", fmt.Sprintf("%T", s), "sequence", e.Sequence, "error", err)
		}
	}
	return e, nil
}

func (l *Ledger) shouldRotate(now time.Time, next int64) bool {
	if l.activeSize == 0 || l.activeFirst == 0 {
		return false
	}
	if l.opts.RotateMaxBytes > 0 && l.activeSize+next > l.opts.RotateMaxBytes {
		return true
	}
	if l.opts.RotateInterval > 0 && !l.activeSince.IsZero() && now.Sub(l.activeSince) >= l.opts.RotateInterval {
		return true
	}
	return false
}

// rotateLocked seals the active segment under its first sequence and starts a new one.
func (l *Ledger) rotateLocked() error {
	if err := l.file.Sync(); err != nil {
		return &IOError{Op: "sync", Path: l.opts.Path, Err: err}
	}
	if err := l.file.Close(); err != nil {
		return &IOError{Op: "close", Path: l.opts.Path, Err: err}
	}
	target := segmentPath(l.opts.Path, l.activeFirst)
	if err := os.Rename(l.opts.Path, target); err != nil {
		return &IOError{Op: "rotate", Path: l.opts.Path, Err: err}
	}
	f, err := os.OpenFile(l.opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return &IOError{Op: "open", Path: l.opts.Path, Err: err}
	}
	l.file = f
	l.activeSize = 0
	l.activeFirst = 0
	l.activeSince = time.Time{}
	l.rotated = append(l.rotated, target)
	l.logger.Info("ledger segment rotated", "segment", target, "head", l.lastHash)
	return nil
}

// Rotated drains the segments rotated since the last call.
func (l *Ledger) Rotated() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.rotated
	l.rotated = nil
	return out
}

// VerifyChain replays every segment under the append lock.
func (l *Ledger) VerifyChain(ctx context.Context) (Verification, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Verification{}, ErrClosed
	}
	return VerifyFiles(ctx, l.opts.Path, l.opts.Algorithm)
}

// Sync flushes the active segment to stable storage.
func (l *Ledger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if err := l.file.Sync(); err != nil {
		return &IOError{Op: "sync", Path: l.opts.Path, Err: err}
	}
	return nil
}

// Close flushes, closes the active segment and releases the process lock.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	var errs []error
	if err := l.file.Sync(); err != nil {
		errs = append(errs, &IOError{Op: "sync", Path: l.opts.Path, Err: err})
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, &IOError{Op: "close", Path: l.opts.Path, Err: err})
	}
	if err := l.unlock(); err != nil {
		errs = append(errs, &IOError{Op: "unlock", Path: l.opts.Path, Err: err})
	}
	return errors.Join(errs...)
}
