package invariant

import (
	"fmt"

	"github.com/Mindburn-Labs/govkernel/pkg/facts"
)

// Predicate evaluates one invariant against a fact snapshot. It reports failures
// through the returned Outcome; panics are only a last-resort safety net.
type Predicate func(facts.Facts) Outcome

// Evidence is the structured detail attached to a result.
type Evidence = map[string]interface{}

// Outcome is the tagged result of a predicate.
type Outcome struct {
	status   Status
	severity Severity
	reason   string
	evidence Evidence
}

// Pass reports the invariant holds. The result carries the invariant's declared severity.
func Pass(reason string, evidence Evidence) Outcome {
	return Outcome{status: StatusPass, reason: reason, evidence: evidence}
}

// Fail reports a violation at the given severity. An empty severity uses the
// invariant's declared severity.
func Fail(severity Severity, reason string, evidence Evidence) Outcome {
	return Outcome{status: StatusFail, severity: severity, reason: reason, evidence: evidence}
}

// Errored reports that the predicate could not evaluate. Errors are CRITICAL.
func Errored(err error) Outcome {
	return Outcome{
		status:   StatusError,
		severity: SeverityCritical,
		reason:   fmt.Sprintf("Validator error: %v", err),
		evidence: Evidence{"error": errString(err), "error_type": fmt.Sprintf("%T", err)},
	}
}

// Status exposes the outcome class.
func (o Outcome) Status() Status { return o.status }

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}
