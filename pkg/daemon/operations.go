package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/metric"

	"github.com/Mindburn-Labs/govkernel/pkg/facts"
	"github.com/Mindburn-Labs/govkernel/pkg/haltmatrix"
	"github.com/Mindburn-Labs/govkernel/pkg/hug"
	"github.com/Mindburn-Labs/govkernel/pkg/ledger"
	"github.com/Mindburn-Labs/govkernel/pkg/observability"
	"github.com/Mindburn-Labs/govkernel/pkg/quorum"
)

// Quorum carries the caller's evidence of approval. With a verifier configured only
// Tokens count; otherwise the caller's Asserted flag is taken as given.
type Quorum struct {
	Asserted bool
	Tokens   []string
}

// Evaluation is a recorded halt-matrix decision.
type Evaluation struct {
	haltmatrix.Decision
	Quorum    *quorum.Result `json:"quorum,omitempty"`
	EntryHash string         `json:"entry_hash"`
}

// EvaluateOperation decides whether op may proceed at the current system severity
// and records OPERATION_EVALUATED. If the decision cannot be recorded the returned
// decision is BLOCKED along with the error.
func (d *Daemon) EvaluateOperation(ctx context.Context, op haltmatrix.OpClass, q Quorum, challengesClear bool) (Evaluation, error) {
	if !op.Valid() {
		return Evaluation{}, fmt.Errorf("daemon: unknown operation class %q", op)
	}
	ctx, end := d.track(ctx, "evaluate_operation", observability.AttrOpClass.String(string(op)))

	var ev Evaluation
	satisfied := q.Asserted
	if d.quorum != nil {
		res := d.quorum.Check(q.Tokens, op)
		ev.Quorum = &res
		satisfied = res.Satisfied
	}

	sev := d.Severity()
	ev.Decision = d.matrix.EvaluateAt(d.clock(), op, sev, satisfied, challengesClear)

	payload := map[string]interface{}{
		"decision":         ev.Decision,
		"quorum_satisfied": satisfied,
		"challenges_clear": challengesClear,
	}
	if ev.Quorum != nil {
		payload["approvers"] = ev.Quorum.Approvers
	}
	hash, err := d.ledger.AppendEvent(ctx, ledger.TypeOperationEvaluated, payload)
	if err != nil {
		ev.Decision.Decision = haltmatrix.Blocked
		ev.Decision.Reason = "decision could not be recorded"
		end(err)
		return ev, fmt.Errorf("record operation decision: %w", err)
	}
	ev.EntryHash = hash

	d.metrics.Decisions.Add(ctx, 1, metric.WithAttributes(
		observability.Decision(string(op), string(sev), ev.Decision.Decision)...))
	d.logger.InfoContext(ctx, "operation evaluated",
		"op_class", op,
		"severity", sev,
		"behavior", ev.Behavior,
		"decision", ev.Decision.Decision,
		"reason", ev.Reason)
	end(nil)
	return ev, nil
}

// RunAudit runs the H.U.G protocol against a fresh validation of every invariant.
// The validation itself is not recorded as cycle results; the audit steps are.
func (d *Daemon) RunAudit(ctx context.Context, req hug.Request) (hug.Report, error) {
	ctx, end := d.track(ctx, "hug_audit")
	f, err := d.collectFacts(ctx)
	if err != nil {
		end(err)
		return hug.Report{}, fmt.Errorf("collect facts: %w", err)
	}
	report, err := d.audit.Run(ctx, req, d.registry.ValidateAll(f))
	end(err)
	return report, err
}

// SetInvariantEnabled toggles an invariant and records INVARIANT_TOGGLED.
func (d *Daemon) SetInvariantEnabled(ctx context.Context, id string, enabled bool) error {
	info, ok := d.registry.Get(id)
	if !ok {
		return fmt.Errorf("daemon: unknown invariant %s", id)
	}
	if err := d.registry.SetEnabled(id, enabled); err != nil {
		return err
	}
	if !enabled {
		d.logger.WarnContext(ctx, "invariant disabled", "invariant_id", id, "severity", info.Severity)
	}
	if _, err := d.ledger.AppendEvent(ctx, ledger.TypeInvariantToggled, map[string]interface{}{
		"invariant_id": id,
		"name":         info.Name,
		"enabled":      enabled,
	}); err != nil {
		return fmt.Errorf("record invariant toggle: %w", err)
	}
	return nil
}

// onConstraintChange records CONSTRAINT_FILE_CHANGED for constraint files and
// requests an early cycle.
func (d *Daemon) onConstraintChange(ctx context.Context, c facts.Change) {
	if !slices.Contains(facts.ConstraintExtensions, strings.ToLower(filepath.Ext(c.Path))) {
		return
	}
	if w, ok := d.provider.(watchAware); ok {
		w.RecordWatchEvent(c.At)
	}
	if _, err := d.ledger.AppendEvent(ctx, ledger.TypeConstraintFileChanged, c); err != nil {
		observability.Critical(ctx, d.logger, "failed to record constraint change",
			"path", c.Path, "op", c.Op, "error", err)
	}
	d.logger.WarnContext(ctx, "constraint file changed", "path", c.Path, "op", c.Op)

	select {
	case d.trigger <- struct{}{}:
	default:
	}
}
