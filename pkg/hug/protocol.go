// Package hug runs the three-step H.U.G audit over a proposed change: Human review,
// Unit/invariant check and Governance evidence logging, strictly in that order.
package hug

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/govkernel/pkg/invariant"
	"github.com/Mindburn-Labs/govkernel/pkg/ledger"
)

// StepID names a protocol step.
type StepID string

const (
	StepHuman      StepID = "H"
	StepUnit       StepID = "U"
	StepGovernance StepID = "G"
)

// Title is the human-readable step name.
func (s StepID) Title() string {
	switch s {
	case StepHuman:
		return "Human Review Gate"
	case StepUnit:
		return "Unit/Invariant Check"
	case StepGovernance:
		return "Governance Evidence Log"
	}
	return string(s)
}

func (s StepID) eventType() ledger.EventType {
	switch s {
	case StepHuman:
		return ledger.TypeHUGStepH
	case StepUnit:
		return ledger.TypeHUGStepU
	default:
		return ledger.TypeHUGStepG
	}
}

// StepResult is the outcome of one step.
type StepResult struct {
	Step      StepID                 `json:"step"`
	Passed    bool                   `json:"passed"`
	Evidence  map[string]interface{} `json:"evidence"`
	Timestamp string                 `json:"timestamp"`
}

// Report is the full audit. Passed is the AND of all three steps.
type Report struct {
	AuditID string       `json:"audit_id"`
	Steps   []StepResult `json:"results"`
	Passed  bool         `json:"passed"`
}

// Recorder is the ledger surface step G writes to.
type Recorder interface {
	AppendEvent(ctx context.Context, typ ledger.EventType, payload interface{}) (string, error)
}

var (
	DefaultSensitiveKeywords = []string{
		"invariant", "governance", "constitution", "daemon", "authority",
		"security", "credential", "secret", ".env", "kill_switch", "halt",
	}
	DefaultApprovalMarkers = []string{"[human-approved]", "[approved]", "approved-by:", "acked-by:"}
)

const (
	failureSampleLimit = 5
	descriptionLimit   = 200
)

// Protocol holds the audit configuration. It has no mutable state and is safe for
// concurrent use.
type Protocol struct {
	recorder Recorder
	keywords []string
	markers  []string
	clock    func() time.Time
	logger   *slog.Logger
}

type Option func(*Protocol)

func WithKeywords(k []string) Option { return func(p *Protocol) { p.keywords = k } }

func WithMarkers(m []string) Option { return func(p *Protocol) { p.markers = m } }

func WithClock(c func() time.Time) Option { return func(p *Protocol) { p.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(p *Protocol) { p.logger = l } }

func New(recorder Recorder, opts ...Option) *Protocol {
	p := &Protocol{
		recorder: recorder,
		keywords: DefaultSensitiveKeywords,
		markers:  DefaultApprovalMarkers,
		clock:    time.Now,
		logger:   slog.Default().With("component", "hug"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// normalize applies NFKC then Unicode case folding so lookalike forms and any
// letter case compare equal.
func (p *Protocol) normalize(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}

// Run evaluates H, U and G in order. A ledger failure in G fails the report and is
// also returned as the error.
func (p *Protocol) Run(ctx context.Context, req Request, results []invariant.Result) (Report, error) {
	now := p.clock().UTC().Format(time.RFC3339Nano)
	report := Report{AuditID: uuid.NewString()}

	h := p.humanReview(req)
	h.Timestamp = now
	u := unitCheck(results)
	u.Timestamp = now
	report.Steps = append(report.Steps, h, u)

	g, err := p.governanceLog(ctx, report.AuditID, now, h, u)
	report.Steps = append(report.Steps, g)
	report.Passed = h.Passed && u.Passed && g.Passed

	p.logger.InfoContext(ctx, "hug audit complete",
		"audit_id", report.AuditID,
		"human", h.Passed, "unit", u.Passed, "governance", g.Passed,
		"passed", report.Passed)
	return report, err
}

func (p *Protocol) humanReview(req Request) StepResult {
	ids := req.ChangedResourceIDs
	if ids == nil {
		ids = []string{}
	}
	matched := []string{}
	for _, id := range ids {
		nid := p.normalize(id)
		for _, k := range p.keywords {
			if strings.Contains(nid, p.normalize(k)) {
				matched = append(matched, id)
				break
			}
		}
	}
	desc := p.normalize(req.ChangeDescription)
	markers := []string{}
	for _, m := range p.markers {
		if strings.Contains(desc, p.normalize(m)) {
			markers = append(markers, m)
		}
	}
	requires := len(matched) > 0
	approved := len(markers) > 0

	return StepResult{
		Step:   StepHuman,
		Passed: !requires || approved,
		Evidence: map[string]interface{}{
			"changed_resource_ids":  ids,
			"change_description":    truncate(req.ChangeDescription, descriptionLimit),
			"requires_human_review": requires,
			"human_approved":        approved,
			"sensitive_matches":     matched,
			"approval_markers":      markers,
		},
	}
}

// unitCheck passes when no result failed or errored. Skipped results are tolerated.
func unitCheck(results []invariant.Result) StepResult {
	var passed, skipped, failed, errored int
	sample := []map[string]interface{}{}
	for _, r := range results {
		switch r.Status {
		case invariant.StatusPass:
			passed++
		case invariant.StatusSkip:
			skipped++
		case invariant.StatusFail:
			failed++
		default:
			errored++
		}
		if r.IsFailure() && len(sample) < failureSampleLimit {
			sample = append(sample, map[string]interface{}{
				"invariant_id": r.InvariantID,
				"status":       string(r.Status),
				"severity":     string(r.Severity),
				"reason":       r.Reason,
				"hash":         r.Hash,
			})
		}
	}
	ev := map[string]interface{}{
		"total":    len(results),
		"passed":   passed,
		"skipped":  skipped,
		"failed":   failed,
		"errored":  errored,
		"failures": sample,
	}
	if passed == 0 {
		ev["note"] = "no invariant passed"
	}
	return StepResult{
		Step:     StepUnit,
		Passed:   failed == 0 && errored == 0,
		Evidence: ev,
	}
}

func (p *Protocol) governanceLog(ctx context.Context, auditID, now string, h, u StepResult) (StepResult, error) {
	g := StepResult{
		Step:      StepGovernance,
		Passed:    true,
		Timestamp: now,
		Evidence: map[string]interface{}{
			"audit_complete": true,
			"results_count":  3,
			"prior_passed":   h.Passed && u.Passed,
		},
	}
	fail := func(err error) (StepResult, error) {
		g.Passed = false
		g.Evidence["ledger_written"] = false
		g.Evidence["ledger_error"] = err.Error()
		return g, fmt.Errorf("hug governance log: %w", err)
	}
	if p.recorder == nil {
		return fail(errors.New("no evidence ledger configured"))
	}

	hashes := map[string]interface{}{}
	for _, step := range []StepResult{h, u} {
		hash, err := p.recorder.AppendEvent(ctx, step.Step.eventType(), stepPayload(auditID, step))
		if err != nil {
			return fail(err)
		}
		hashes[string(step.Step)] = hash
	}
	g.Evidence["ledger_written"] = true
	g.Evidence["entry_hashes"] = hashes

	if _, err := p.recorder.AppendEvent(ctx, ledger.TypeHUGStepG, stepPayload(auditID, g)); err != nil {
		return fail(err)
	}
	return g, nil
}

func stepPayload(auditID string, s StepResult) map[string]interface{} {
	return map[string]interface{}{
		"audit_id":  auditID,
		"step":      s.Step,
		"passed":    s.Passed,
		"evidence":  s.Evidence,
		"timestamp": s.Timestamp,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
