package hug

import (
	"fmt"
	"io"
	"strings"
)

// WriteText renders the report for terminals and CI logs.
func (r Report) WriteText(w io.Writer) error {
	var b strings.Builder
	rule := strings.Repeat("=", 50)
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "  H.U.G PROTOCOL AUDIT RESULTS")
	fmt.Fprintf(&b, "  audit %s\n", r.AuditID)
	fmt.Fprintln(&b, rule)

	for _, s := range r.Steps {
		status := "PASS"
		if !s.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "\n[%s] %s: %s\n", s.Step, s.Step.Title(), status)
		switch s.Step {
		case StepHuman:
			if s.Evidence["requires_human_review"] == true {
				fmt.Fprintf(&b, "    Sensitive resources: %v\n", s.Evidence["sensitive_matches"])
				fmt.Fprintf(&b, "    Human approved: %v\n", s.Evidence["human_approved"])
			}
		case StepUnit:
			fmt.Fprintf(&b, "    Invariants: %v/%v passed\n", s.Evidence["passed"], s.Evidence["total"])
			if failures, ok := s.Evidence["failures"].([]map[string]interface{}); ok {
				for _, f := range failures {
					fmt.Fprintf(&b, "    %s %s: %s\n", f["status"], f["invariant_id"], f["reason"])
				}
			}
		case StepGovernance:
			if e, ok := s.Evidence["ledger_error"]; ok {
				fmt.Fprintf(&b, "    Ledger error: %v\n", e)
			}
		}
	}

	verdict := "AUDIT PASSED"
	if !r.Passed {
		verdict = "AUDIT FAILED"
	}
	fmt.Fprintf(&b, "\n%s\n  FINAL: %s\n%s\n", strings.Repeat("-", 50), verdict, strings.Repeat("-", 50))
	_, err := io.WriteString(w, b.String())
	return err
}
