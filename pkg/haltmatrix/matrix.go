package haltmatrix

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Mindburn-Labs/govkernel/pkg/canonicalize"
)

var (
	ErrSealed         = errors.New("halt matrix: builder already sealed")
	ErrDuplicateEntry = errors.New("halt matrix: duplicate entry")
	ErrInvalidEntry   = errors.New("halt matrix: invalid entry")
	ErrIncomplete     = errors.New("halt matrix: incomplete")
)

// Entry binds one (Severity, OpClass) pair to a behavior and its gating requirements.
type Entry struct {
	Severity               Severity   `json:"severity"`
	OpClass                OpClass    `json:"op_class"`
	Behavior               Behavior   `json:"behavior"`
	RequiresQuorum         bool       `json:"requires_quorum"`
	RequiresChallengeClear bool       `json:"requires_challenge_clear"`
	AuditLevel             AuditLevel `json:"audit_level"`
}

type key struct {
	sev Severity
	op  OpClass
}

// Builder collects entries until Seal. A Builder is single-use.
type Builder struct {
	entries map[key]Entry
	sealed  bool
}

func NewBuilder() *Builder {
	return &Builder{entries: make(map[key]Entry)}
}

// Add registers one entry. An empty AuditLevel defaults to standard.
func (b *Builder) Add(e Entry) error {
	if b.sealed {
		return ErrSealed
	}
	if e.AuditLevel == "" {
		e.AuditLevel = AuditStandard
	}
	if e.Severity.Rank() < 0 || !e.OpClass.Valid() || !e.Behavior.Valid() || !e.AuditLevel.Valid() {
		return fmt.Errorf("%w: %+v", ErrInvalidEntry, e)
	}
	k := key{e.Severity, e.OpClass}
	if _, ok := b.entries[k]; ok {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateEntry, e.Severity, e.OpClass)
	}
	b.entries[k] = e
	return nil
}

// Seal checks totality, computes the content hash and returns the immutable matrix.
// The builder refuses further use afterwards, whether or not sealing succeeded.
func (b *Builder) Seal() (*Matrix, error) {
	if b.sealed {
		return nil, ErrSealed
	}
	b.sealed = true

	var missing []string
	for _, s := range severities {
		for _, o := range opClasses {
			if _, ok := b.entries[key{s, o}]; !ok {
				missing = append(missing, string(s)+"/"+string(o))
			}
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(missing, ", "))
	}

	m := &Matrix{entries: make(map[key]Entry, len(b.entries))}
	for k, e := range b.entries {
		m.entries[k] = e
	}
	hash, err := canonicalize.CanonicalHash(m.sortedForHash())
	if err != nil {
		return nil, fmt.Errorf("halt matrix: seal hash: %w", err)
	}
	m.hash = hash
	b.entries = nil
	return m, nil
}

// Matrix is a sealed decision table. It is never mutated after Seal and is safe
// for concurrent use.
type Matrix struct {
	entries map[key]Entry
	hash    string
}

// Hash is the SHA-256 over the canonical encoding of all entries, sorted by severity
// then op class name.
func (m *Matrix) Hash() string { return m.hash }

func (m *Matrix) sortedForHash() []Entry {
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity < out[j].Severity
		}
		return out[i].OpClass < out[j].OpClass
	})
	return out
}

// Entries returns every entry ordered by severity rank, then declaration order.
func (m *Matrix) Entries() []Entry {
	out := make([]Entry, 0, len(m.entries))
	for _, s := range severities {
		for _, o := range opClasses {
			if e, ok := m.entries[key{s, o}]; ok {
				out = append(out, e)
			}
		}
	}
	return out
}

// Decide looks the pair up. A missing pair resolves to a fail-secure deny that
// requires every gating condition at maximum audit.
func (m *Matrix) Decide(sev Severity, op OpClass) Entry {
	if e, ok := m.entries[key{sev, op}]; ok {
		return e
	}
	return Entry{
		Severity:               sev,
		OpClass:                op,
		Behavior:               BehaviorDeny,
		RequiresQuorum:         true,
		RequiresChallengeClear: true,
		AuditLevel:             AuditMaximum,
	}
}

// CanProceed applies the gating conditions of the decided entry and always returns
// a reason. Quorum requirements are enforced on warn_allow entries too.
func (m *Matrix) CanProceed(sev Severity, op OpClass, quorumSatisfied, challengesClear bool) (bool, string) {
	e := m.Decide(sev, op)
	switch e.Behavior {
	case BehaviorDeny:
		return false, fmt.Sprintf("Operation %s denied at severity %s", op, sev)
	case BehaviorQueue:
		return false, fmt.Sprintf("Operation %s queued pending remediation", op)
	case BehaviorHalt:
		if e.RequiresQuorum && !quorumSatisfied {
			return false, fmt.Sprintf("Operation %s halted: quorum required", op)
		}
		if e.RequiresChallengeClear && !challengesClear {
			return false, fmt.Sprintf("Operation %s halted: challenges must be cleared", op)
		}
		return true, fmt.Sprintf("Operation %s allowed after requirements satisfied", op)
	case BehaviorAllow, BehaviorWarnAllow:
		if e.RequiresQuorum && !quorumSatisfied {
			return false, fmt.Sprintf("Operation %s blocked: quorum required at severity %s", op, sev)
		}
		if e.RequiresChallengeClear && !challengesClear {
			return false, fmt.Sprintf("Operation %s blocked: challenges must be cleared at severity %s", op, sev)
		}
		return true, fmt.Sprintf("Operation %s allowed at severity %s", op, sev)
	default:
		return false, fmt.Sprintf("Operation %s blocked: unrecognised behavior %q", op, e.Behavior)
	}
}

// Requirements echoes the gating inputs alongside what the entry demanded.
type Requirements struct {
	QuorumRequired          bool `json:"quorum_required"`
	QuorumSatisfied         bool `json:"quorum_satisfied"`
	ChallengesClearRequired bool `json:"challenges_clear_required"`
	ChallengesClear         bool `json:"challenges_clear"`
}

// Decision is the record returned to privileged-operation callers and written to
// the ledger.
type Decision struct {
	Timestamp    string       `json:"timestamp"`
	OpClass      OpClass      `json:"op_class"`
	Severity     Severity     `json:"severity"`
	Behavior     Behavior     `json:"behavior"`
	Decision     string       `json:"decision"`
	Reason       string       `json:"reason"`
	Requirements Requirements `json:"requirements"`
	AuditLevel   AuditLevel   `json:"audit_level"`
	MatrixHash   string       `json:"matrix_hash"`
}

const (
	Proceed = "PROCEED"
	Blocked = "BLOCKED"
)

// Proceeds reports whether the decision lets the operation run.
func (d Decision) Proceeds() bool { return d.Decision == Proceed }

// Evaluate decides op at sev, stamped with the current UTC time.
func (m *Matrix) Evaluate(op OpClass, sev Severity, quorumSatisfied, challengesClear bool) Decision {
	return m.EvaluateAt(time.Now(), op, sev, quorumSatisfied, challengesClear)
}

func (m *Matrix) EvaluateAt(now time.Time, op OpClass, sev Severity, quorumSatisfied, challengesClear bool) Decision {
	e := m.Decide(sev, op)
	ok, reason := m.CanProceed(sev, op, quorumSatisfied, challengesClear)
	d := Decision{
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		OpClass:   op,
		Severity:  sev,
		Behavior:  e.Behavior,
		Decision:  Blocked,
		Reason:    reason,
		Requirements: Requirements{
			QuorumRequired:          e.RequiresQuorum,
			QuorumSatisfied:         quorumSatisfied,
			ChallengesClearRequired: e.RequiresChallengeClear,
			ChallengesClear:         challengesClear,
		},
		AuditLevel: e.AuditLevel,
		MatrixHash: m.hash,
	}
	if ok {
		d.Decision = Proceed
	}
	return d
}

// Table renders the matrix grouped by severity.
func (m *Matrix) Table() string {
	var b strings.Builder
	rule := strings.Repeat("=", 80)
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "PRIVILEGED-OPERATION HALT MATRIX")
	fmt.Fprintf(&b, "Seal Hash: %s\n", m.hash)
	fmt.Fprintln(&b, rule)
	for _, s := range severities {
		fmt.Fprintf(&b, "\n### %s SEVERITY\n", strings.ToUpper(string(s)))
		fmt.Fprintf(&b, "%-22s %-12s %-7s %-7s %-9s\n", "Operation", "Behavior", "Quorum", "Clear", "Audit")
		fmt.Fprintln(&b, strings.Repeat("-", 60))
		for _, o := range opClasses {
			e, ok := m.entries[key{s, o}]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "%-22s %-12s %-7s %-7s %-9s\n", o, e.Behavior, yesNo(e.RequiresQuorum), yesNo(e.RequiresChallengeClear), e.AuditLevel)
		}
	}
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
