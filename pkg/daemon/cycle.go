package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/govkernel/pkg/facts"
	"github.com/Mindburn-Labs/govkernel/pkg/haltmatrix"
	"github.com/Mindburn-Labs/govkernel/pkg/invariant"
	"github.com/Mindburn-Labs/govkernel/pkg/ledger"
	"github.com/Mindburn-Labs/govkernel/pkg/observability"
)

// CycleReport is the outcome of one validation cycle.
type CycleReport struct {
	ID                  string               `json:"cycle_id"`
	StartedAt           time.Time            `json:"started_at"`
	Duration            time.Duration        `json:"duration_ns"`
	Results             []invariant.Result   `json:"results"`
	Failures            []string             `json:"failures,omitempty"`
	Severity            haltmatrix.Severity  `json:"severity"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
	Verification        *ledger.Verification `json:"verification,omitempty"`
	Archived            []string             `json:"archived,omitempty"`
	Halted              bool                 `json:"halted"`
	HaltReason          string               `json:"halt_reason,omitempty"`
}

// Passed reports whether every result in the cycle passed or was skipped.
func (r CycleReport) Passed() bool { return len(r.Failures) == 0 && !r.Halted }

// ValidateOnce runs a single cycle. Every result is recorded in registration order,
// failures through the loud-failure handler. When the cycle escalates, the report is
// returned together with ErrEmergencyHalt; afterwards every call returns ErrHalted.
func (d *Daemon) ValidateOnce(ctx context.Context) (report CycleReport, err error) {
	d.cycleMu.Lock()
	defer d.cycleMu.Unlock()

	if d.Halted() {
		return CycleReport{}, ErrHalted
	}

	report = CycleReport{ID: uuid.NewString(), StartedAt: d.clock().UTC()}
	ctx, end := d.track(ctx, "validation_cycle", observability.AttrCycleID.String(report.ID))
	defer func() {
		report.Duration = d.clock().Sub(report.StartedAt)
		end(err)
		d.saveStatus(context.WithoutCancel(ctx))
	}()
	log := d.logger.With("cycle_id", report.ID)

	d.mu.Lock()
	d.cycles++
	cycle := d.cycles
	d.mu.Unlock()

	if v, ok := d.maybeVerify(ctx, cycle); ok {
		report.Verification = &v
	}

	f, err := d.collectFacts(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		observability.Critical(ctx, log, "fact collection failed", "error", err)
		return d.failCycle(context.WithoutCancel(ctx), report, fmt.Errorf("collect facts: %w", err))
	}

	// Once validated, the cycle runs to completion: its evidence is written even
	// when shutdown has been requested.
	report.Results = d.registry.ValidateAll(f)
	ctx = context.WithoutCancel(ctx)
	if err := d.record(ctx, report.Results); err != nil {
		observability.Critical(ctx, log, "failed to record cycle results", "error", err)
		return d.failCycle(ctx, report, err)
	}
	if err := d.ledger.Sync(); err != nil {
		log.WarnContext(ctx, "ledger sync failed", "error", err)
	}

	for _, r := range report.Results {
		if r.IsFailure() {
			report.Failures = append(report.Failures, r.InvariantID)
		}
	}
	report.Severity = SystemSeverity(report.Results)
	report.Archived = d.archiveRotated(ctx)

	d.mu.Lock()
	if len(report.Failures) > 0 {
		d.consecutiveFailures++
	} else {
		d.consecutiveFailures = 0
	}
	d.severity = report.Severity
	d.lastCycleID = report.ID
	d.lastCycleAt = report.StartedAt
	d.lastFailures = report.Failures
	report.ConsecutiveFailures = d.consecutiveFailures
	d.mu.Unlock()

	log.InfoContext(ctx, "validation cycle complete",
		"results", len(report.Results),
		"failures", len(report.Failures),
		"severity", report.Severity,
		"consecutive_failures", report.ConsecutiveFailures)

	if reason := d.escalation(report); reason != "" {
		return d.emergencyHalt(ctx, report, reason)
	}
	return report, nil
}

// SystemSeverity maps the worst failure in results onto the halt-matrix scale.
func SystemSeverity(results []invariant.Result) haltmatrix.Severity {
	worst, failed := invariant.WorstFailure(results)
	if !failed {
		return haltmatrix.SeverityInfo
	}
	switch worst {
	case invariant.SeverityCritical:
		return haltmatrix.SeverityCritical
	case invariant.SeverityHigh:
		return haltmatrix.SeverityFault
	default:
		return haltmatrix.SeverityWarn
	}
}

func (d *Daemon) collectFacts(ctx context.Context) (facts.Facts, error) {
	f, err := d.provider.Facts(ctx)
	if err != nil {
		return facts.Facts{}, err
	}
	f.LedgerPath = d.ledger.Path()
	if _, statErr := os.Stat(f.LedgerPath); statErr == nil {
		f.LedgerExists = true
	}
	d.mu.RLock()
	f.HashChainValid = d.verification != nil && d.verification.Valid
	d.mu.RUnlock()
	return f, nil
}

// maybeVerify replays the chain on the first cycle and then every VerifyEvery cycles.
func (d *Daemon) maybeVerify(ctx context.Context, cycle uint64) (ledger.Verification, bool) {
	d.mu.RLock()
	verified := d.verification != nil
	d.mu.RUnlock()

	every := uint64(d.validation.VerifyEvery)
	if verified && (every == 0 || (cycle-1)%every != 0) {
		return ledger.Verification{}, false
	}

	v, err := d.ledger.VerifyChain(ctx)
	if err != nil && ctx.Err() != nil {
		return ledger.Verification{}, false
	}
	if err != nil {
		d.logger.ErrorContext(ctx, "chain verification failed", "error", err)
		v = ledger.Verification{Valid: false, BreakIndex: -1, Reason: err.Error()}
	} else if !v.Valid {
		observability.Critical(ctx, d.logger, "evidence chain broken",
			"break_index", v.BreakIndex, "reason", v.Reason, "file", v.File)
	}

	d.mu.Lock()
	d.verification = &v
	d.verifiedAt = d.clock().UTC()
	d.mu.Unlock()
	return v, true
}

// record appends the cycle's results as one contiguous batch in registration order,
// then passes each failure to the handler to be counted, logged and alerted on.
func (d *Daemon) record(ctx context.Context, results []invariant.Result) error {
	hashes, err := d.ledger.AppendBatch(ctx, results)
	d.metrics.LedgerAppends.Add(ctx, int64(len(hashes)))
	for i, r := range results {
		var hash string
		if i < len(hashes) {
			hash = hashes[i]
		}
		d.handler.Observe(ctx, r, hash)
	}
	if err != nil {
		return fmt.Errorf("record cycle results (%d of %d written): %w", len(hashes), len(results), err)
	}
	return nil
}

// archiveRotated ships rotated segments. Failed uploads are retried next cycle.
func (d *Daemon) archiveRotated(ctx context.Context) []string {
	if d.archiver == nil {
		return nil
	}
	d.mu.Lock()
	pending := append(d.pendingArchive, d.ledger.Rotated()...)
	d.pendingArchive = nil
	d.mu.Unlock()

	var done, retry []string
	for _, seg := range pending {
		loc, err := d.archiver.Archive(ctx, seg)
		if err != nil {
			d.logger.WarnContext(ctx, "segment archive failed", "segment", seg, "error", err)
			retry = append(retry, seg)
			continue
		}
		d.logger.InfoContext(ctx, "segment archived", "segment", seg, "location", loc)
		done = append(done, loc)
	}

	if len(retry) > 0 {
		d.mu.Lock()
		d.pendingArchive = append(retry, d.pendingArchive...)
		d.mu.Unlock()
	}
	return done
}

func (d *Daemon) escalation(report CycleReport) string {
	if report.Severity == haltmatrix.SeverityCritical && d.validation.HaltOnCritical {
		return "critical invariant failure"
	}
	if report.ConsecutiveFailures >= d.validation.MaxFailuresBeforeHalt {
		return fmt.Sprintf("%d consecutive failing cycles", report.ConsecutiveFailures)
	}
	return ""
}

// failCycle handles a cycle that could not produce or record results. The cycle
// counts as a critical failure.
func (d *Daemon) failCycle(ctx context.Context, report CycleReport, cause error) (CycleReport, error) {
	report.Severity = haltmatrix.SeverityCritical

	d.mu.Lock()
	d.consecutiveFailures++
	d.severity = haltmatrix.SeverityCritical
	d.lastCycleID = report.ID
	d.lastCycleAt = report.StartedAt
	report.ConsecutiveFailures = d.consecutiveFailures
	d.mu.Unlock()

	if reason := d.escalation(report); reason != "" {
		halted, err := d.emergencyHalt(ctx, report, reason+": "+cause.Error())
		return halted, errors.Join(err, cause)
	}
	return report, cause
}

// emergencyHalt records EMERGENCY_HALT and latches the halted state. The daemon
// halts even when the event cannot be written.
func (d *Daemon) emergencyHalt(ctx context.Context, report CycleReport, reason string) (CycleReport, error) {
	report.Halted = true
	report.HaltReason = reason

	d.mu.Lock()
	d.halted = true
	d.haltReason = reason
	d.severity = haltmatrix.SeverityCritical
	d.mu.Unlock()

	observability.Critical(ctx, d.logger, "EMERGENCY HALT",
		"cycle_id", report.ID,
		"reason", reason,
		"failures", report.Failures,
		"consecutive_failures", report.ConsecutiveFailures)

	_, err := d.ledger.AppendEvent(ctx, ledger.TypeEmergencyHalt, map[string]interface{}{
		"cycle_id":             report.ID,
		"reason":               reason,
		"severity":             report.Severity,
		"failures":             report.Failures,
		"consecutive_failures": report.ConsecutiveFailures,
	})
	if err != nil {
		return report, errors.Join(ErrEmergencyHalt, fmt.Errorf("record emergency halt: %w", err))
	}
	if err := d.ledger.Sync(); err != nil {
		d.logger.ErrorContext(ctx, "ledger sync failed after halt", "error", err)
	}
	return report, ErrEmergencyHalt
}
