// Package loudfail guarantees that no invariant failure goes unrecorded: every
// FAIL or ERROR result is counted, logged and appended to the evidence ledger before
// any alert is attempted.
package loudfail

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/Mindburn-Labs/govkernel/pkg/invariant"
	"github.com/Mindburn-Labs/govkernel/pkg/observability"
)

// Recorder is the ledger surface the handler writes to.
type Recorder interface {
	Append(ctx context.Context, r invariant.Result) (string, error)
}

// Stats aggregates failures seen since the handler was created.
type Stats struct {
	TotalFailures    int64     `json:"total_failures"`
	CriticalFailures int64     `json:"critical_failures"`
	AlertFailures    int64     `json:"alert_failures"`
	LastFailure      time.Time `json:"last_failure,omitempty"`
}

// Handler processes failing results. Safe for concurrent use.
type Handler struct {
	recorder Recorder
	alerter  Alerter
	logger   *slog.Logger
	metrics  *observability.Metrics
	clock    func() time.Time

	mu    sync.Mutex
	stats Stats
}

type Option func(*Handler)

func WithAlerter(a Alerter) Option { return func(h *Handler) { h.alerter = a } }

func WithLogger(l *slog.Logger) Option { return func(h *Handler) { h.logger = l } }

func WithMetrics(m *observability.Metrics) Option { return func(h *Handler) { h.metrics = m } }

func WithClock(c func() time.Time) Option { return func(h *Handler) { h.clock = c } }

func New(recorder Recorder, opts ...Option) *Handler {
	h := &Handler{
		recorder: recorder,
		logger:   slog.Default().With("component", "loudfail"),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = observability.MustMetrics()
	}
	return h
}

// Handle records a failing result and returns its ledger hash. Passing and skipped
// results are ignored. A ledger error is returned after counting and logging; alert
// errors are only counted.
func (h *Handler) Handle(ctx context.Context, r invariant.Result) (string, error) {
	if !r.IsFailure() {
		return "", nil
	}
	h.note(ctx, r)

	hash, err := h.recorder.Append(ctx, r)
	if err != nil {
		observability.Critical(ctx, h.logger, "failed to record invariant failure",
			"invariant_id", r.InvariantID, "error", err)
		return "", fmt.Errorf("record failure %s: %w", r.InvariantID, err)
	}
	h.metrics.LedgerAppends.Add(ctx, 1)
	h.alert(ctx, r, hash)
	return hash, nil
}

// Observe runs the count, log and alert steps for a failure the caller has already
// appended to the ledger under hash. An empty hash means the append did not happen;
// the failure is still counted and logged at CRITICAL, and no alert is sent.
func (h *Handler) Observe(ctx context.Context, r invariant.Result, hash string) {
	if !r.IsFailure() {
		return
	}
	h.note(ctx, r)
	if hash == "" {
		observability.Critical(ctx, h.logger, "invariant failure not recorded",
			"invariant_id", r.InvariantID)
		return
	}
	h.alert(ctx, r, hash)
}

func (h *Handler) note(ctx context.Context, r invariant.Result) {
	critical := r.IsCritical()
	h.mu.Lock()
	h.stats.TotalFailures++
	if critical {
		h.stats.CriticalFailures++
	}
	h.stats.LastFailure = h.clock().UTC()
	h.mu.Unlock()

	attrs := metric.WithAttributes(observability.InvariantResult(r.InvariantID, string(r.Status), string(r.Severity))...)
	h.metrics.InvariantFailures.Add(ctx, 1, attrs)
	if critical {
		h.metrics.CriticalFailures.Add(ctx, 1, attrs)
	}

	h.logger.Log(ctx, LogLevel(r.Severity), "invariant failure",
		"invariant_id", r.InvariantID,
		"name", r.Name,
		"status", r.Status,
		"severity", r.Severity,
		"reason", r.Reason,
	)
}

func (h *Handler) alert(ctx context.Context, r invariant.Result, hash string) {
	if h.alerter == nil {
		return
	}
	if err := h.alerter.Alert(ctx, NewAlert(r, hash)); err != nil {
		h.mu.Lock()
		h.stats.AlertFailures++
		h.mu.Unlock()
		h.metrics.AlertFailures.Add(ctx, 1)
		h.logger.WarnContext(ctx, "alert dispatch failed",
			"invariant_id", r.InvariantID, "error", err)
	}
}

// HandleBatch handles results in order and returns the hashes of the recorded
// failures. It stops at the first ledger error.
func (h *Handler) HandleBatch(ctx context.Context, results []invariant.Result) ([]string, error) {
	var hashes []string
	for _, r := range results {
		hash, err := h.Handle(ctx, r)
		if err != nil {
			return hashes, err
		}
		if hash != "" {
			hashes = append(hashes, hash)
		}
	}
	return hashes, nil
}

func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// LogLevel maps invariant severity onto the log level used for its failure.
func LogLevel(s invariant.Severity) slog.Level {
	switch s {
	case invariant.SeverityCritical:
		return observability.LevelCritical
	case invariant.SeverityHigh:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
