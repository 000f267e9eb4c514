// Package invariant holds the named predicates the kernel validates every cycle and
// the registry that runs them with per-predicate isolation.
package invariant

import (
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/govkernel/pkg/canonicalize"
)

// Severity ranks how serious a failing invariant is.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities; unknown values rank above CRITICAL.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 5
	}
}

// Valid reports whether s is a declared severity.
func (s Severity) Valid() bool { return s.Rank() <= 4 }

// ParseSeverity accepts any letter case.
func ParseSeverity(v string) (Severity, error) {
	s := Severity(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown invariant severity %q", v)
	}
	return s, nil
}

// Status is the outcome class of one invariant evaluation.
type Status string

const (
	StatusPass  Status = "PASS"
	StatusFail  Status = "FAIL"
	StatusSkip  Status = "SKIP"
	StatusError Status = "ERROR"
)

// Result is the immutable record of one invariant evaluation.
type Result struct {
	InvariantID string                 `json:"invariant_id"`
	Name        string                 `json:"name"`
	Status      Status                 `json:"status"`
	Severity    Severity               `json:"severity"`
	Reason      string                 `json:"reason"`
	Timestamp   time.Time              `json:"timestamp"`
	Evidence    map[string]interface{} `json:"evidence"`
	Hash        string                 `json:"hash"`
}

// hashable is the canonical subset of Result covered by Hash.
type hashable struct {
	InvariantID string                 `json:"invariant_id"`
	Name        string                 `json:"name"`
	Status      Status                 `json:"status"`
	Severity    Severity               `json:"severity"`
	Reason      string                 `json:"reason"`
	Timestamp   string                 `json:"timestamp"`
	Evidence    map[string]interface{} `json:"evidence"`
}

// IsFailure reports FAIL and ERROR results.
func (r Result) IsFailure() bool {
	return r.Status == StatusFail || r.Status == StatusError
}

// IsCritical reports a failure at CRITICAL severity.
func (r Result) IsCritical() bool {
	return r.IsFailure() && r.Severity == SeverityCritical
}

// ComputeHash returns the SHA-256 digest of the result's canonical fields.
func (r Result) ComputeHash() (string, error) {
	ev := r.Evidence
	if ev == nil {
		ev = map[string]interface{}{}
	}
	return canonicalize.CanonicalHash(hashable{
		InvariantID: r.InvariantID,
		Name:        r.Name,
		Status:      r.Status,
		Severity:    r.Severity,
		Reason:      r.Reason,
		Timestamp:   r.Timestamp.UTC().Format(time.RFC3339Nano),
		Evidence:    ev,
	})
}

// VerifyHash recomputes the digest and compares it with Hash.
func (r Result) VerifyHash() bool {
	h, err := r.ComputeHash()
	return err == nil && h == r.Hash
}

// seal stamps the content hash. Evidence that cannot be canonicalized turns the
// result into an ERROR so it is never recorded unhashed.
func (r Result) seal() Result {
	if r.Evidence == nil {
		r.Evidence = map[string]interface{}{}
	}
	h, err := r.ComputeHash()
	if err == nil {
		r.Hash = h
		return r
	}
	r = Result{
		InvariantID: r.InvariantID,
		Name:        r.Name,
		Status:      StatusError,
		Severity:    SeverityCritical,
		Reason:      fmt.Sprintf("Evidence not serializable: %v", err),
		Timestamp:   r.Timestamp,
		Evidence:    map[string]interface{}{"hash_error": err.Error()},
	}
	r.Hash, _ = r.ComputeHash()
	return r
}

// Failures returns the FAIL and ERROR results, preserving order.
func Failures(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.IsFailure() {
			out = append(out, r)
		}
	}
	return out
}

// HasCriticalFailure reports whether any failure carries CRITICAL severity.
func HasCriticalFailure(results []Result) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// WorstFailure returns the highest severity among failures and whether any failed.
func WorstFailure(results []Result) (Severity, bool) {
	var worst Severity
	found := false
	for _, r := range results {
		if !r.IsFailure() {
			continue
		}
		if !found || r.Severity.Rank() > worst.Rank() {
			worst = r.Severity
		}
		found = true
	}
	return worst, found
}
