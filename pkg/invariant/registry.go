package invariant

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Mindburn-Labs/govkernel/pkg/facts"
)

var (
	// ErrDuplicateInvariant is returned when an id is registered twice.
	ErrDuplicateInvariant = errors.New("invariant already registered")
	// ErrUnknownInvariant is returned for ids that were never registered.
	ErrUnknownInvariant = errors.New("unknown invariant")
	// ErrInvalidInvariant is returned for definitions missing an id, a predicate or a severity.
	ErrInvalidInvariant = errors.New("invalid invariant definition")
)

// Category groups invariants for reporting.
type Category string

const (
	CategoryConstitutional Category = "constitutional"
	CategoryAGISafety      Category = "agi_safety"
	CategoryMilspec        Category = "milspec"
)

// Invariant is a named predicate that must hold. Definitions are immutable once
// registered; only the enabled flag changes at runtime.
type Invariant struct {
	ID          string
	Name        string
	Description string
	Severity    Severity
	Category    Category
	Check       Predicate
	// Disabled registers the invariant switched off.
	Disabled bool
}

// Info describes a registered invariant and its current enabled state.
type Info struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Category    Category `json:"category"`
	Enabled     bool     `json:"enabled"`
}

type entry struct {
	inv     Invariant
	enabled bool
}

// DefaultHistoryLimit bounds the retained result history.
const DefaultHistoryLimit = 1000

// Registry holds invariants in registration order.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*entry

	history      []Result
	historyLimit int

	clock  func() time.Time
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

// WithHistoryLimit bounds History. Zero disables history.
func WithHistoryLimit(n int) Option {
	return func(r *Registry) { r.historyLimit = n }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries:      make(map[string]*entry),
		historyLimit: DefaultHistoryLimit,
		clock:        time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "invariant")
	return r
}

// Register adds an invariant. Duplicate ids are rejected.
func (r *Registry) Register(inv Invariant) error {
	if inv.ID == "" || inv.Check == nil || !inv.Severity.Valid() {
		return fmt.Errorf("%w: id=%q", ErrInvalidInvariant, inv.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[inv.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateInvariant, inv.ID)
	}
	r.entries[inv.ID] = &entry{inv: inv, enabled: !inv.Disabled}
	r.order = append(r.order, inv.ID)
	return nil
}

// MustRegister panics on registration errors. Use only for compiled-in sets.
func (r *Registry) MustRegister(invs ...Invariant) {
	for _, inv := range invs {
		if err := r.Register(inv); err != nil {
			panic(err)
		}
	}
}

// SetEnabled toggles an invariant.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInvariant, id)
	}
	e.enabled = enabled
	return nil
}

func (r *Registry) Enable(id string) error  { return r.SetEnabled(id, true) }
func (r *Registry) Disable(id string) error { return r.SetEnabled(id, false) }

// Get returns the description of one invariant.
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Info{}, false
	}
	return e.info(), true
}

// List returns all invariants in registration order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].info())
	}
	return out
}

// ListByCategory returns the invariants of one category in registration order.
func (r *Registry) ListByCategory(c Category) []Info {
	var out []Info
	for _, info := range r.List() {
		if info.Category == c {
			out = append(out, info)
		}
	}
	return out
}

// Len returns the number of registered invariants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ValidateAll evaluates every invariant in registration order. It always returns
// exactly one result per registered invariant.
func (r *Registry) ValidateAll(f facts.Facts) []Result {
	r.mu.RLock()
	snapshot := make([]entry, 0, len(r.order))
	for _, id := range r.order {
		snapshot = append(snapshot, *r.entries[id])
	}
	r.mu.RUnlock()

	results := make([]Result, 0, len(snapshot))
	for _, e := range snapshot {
		results = append(results, r.evaluate(e, f))
	}
	r.record(results)
	return results
}

// ValidateSubset evaluates the named invariants in registration order. Ids that are
// not registered yield an ERROR result each, appended in the order given.
func (r *Registry) ValidateSubset(ids []string, f facts.Facts) []Result {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	r.mu.RLock()
	var snapshot []entry
	for _, id := range r.order {
		if want[id] {
			snapshot = append(snapshot, *r.entries[id])
		}
	}
	var unknown []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := r.entries[id]; !ok && !seen[id] {
			unknown = append(unknown, id)
		}
		seen[id] = true
	}
	r.mu.RUnlock()

	results := make([]Result, 0, len(snapshot)+len(unknown))
	for _, e := range snapshot {
		results = append(results, r.evaluate(e, f))
	}
	for _, id := range unknown {
		results = append(results, Result{
			InvariantID: id,
			Name:        id,
			Status:      StatusError,
			Severity:    SeverityCritical,
			Reason:      "Unknown invariant",
			Timestamp:   r.now(),
			Evidence:    Evidence{"registered": false},
		}.seal())
	}
	r.record(results)
	return results
}

// History returns retained results, oldest first.
func (r *Registry) History() []Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Result, len(r.history))
	copy(out, r.history)
	return out
}

func (r *Registry) evaluate(e entry, f facts.Facts) (res Result) {
	inv := e.inv
	base := Result{InvariantID: inv.ID, Name: inv.Name, Severity: inv.Severity}

	if !e.enabled {
		base.Status = StatusSkip
		base.Reason = "Invariant disabled"
		base.Evidence = Evidence{"enabled": false}
		base.Timestamp = r.now()
		return base.seal()
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("invariant predicate panicked", "invariant", inv.ID, "panic", p)
			res = Result{
				InvariantID: inv.ID,
				Name:        inv.Name,
				Status:      StatusError,
				Severity:    SeverityCritical,
				Reason:      fmt.Sprintf("Validator error: %v", p),
				Timestamp:   r.now(),
				Evidence: Evidence{
					"panic":      fmt.Sprint(p),
					"panic_type": fmt.Sprintf("%T", p),
				},
			}.seal()
		}
	}()

	out := inv.Check(f)
	base.Timestamp = r.now()
	switch out.status {
	case StatusPass, StatusFail, StatusError, StatusSkip:
		base.Status = out.status
		base.Reason = out.reason
		base.Evidence = out.evidence
		if out.severity != "" {
			base.Severity = out.severity
		}
		if out.status == StatusError {
			base.Severity = SeverityCritical
		}
	default:
		base.Status = StatusError
		base.Severity = SeverityCritical
		base.Reason = "Validator returned no outcome"
		base.Evidence = Evidence{"outcome": string(out.status)}
	}
	return base.seal()
}

func (r *Registry) record(results []Result) {
	if r.historyLimit <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, results...)
	if over := len(r.history) - r.historyLimit; over > 0 {
		r.history = append([]Result(nil), r.history[over:]...)
	}
}

func (r *Registry) now() time.Time {
	return r.clock().UTC()
}

func (e *entry) info() Info {
	return Info{
		ID:          e.inv.ID,
		Name:        e.inv.Name,
		Description: e.inv.Description,
		Severity:    e.inv.Severity,
		Category:    e.inv.Category,
		Enabled:     e.enabled,
	}
}

// Categories returns the categories present, sorted.
func (r *Registry) Categories() []Category {
	seen := map[Category]bool{}
	for _, info := range r.List() {
		seen[info.Category] = true
	}
	out := make([]Category, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
