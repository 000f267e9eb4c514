package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Mindburn-Labs/govkernel/pkg/config"
	"github.com/Mindburn-Labs/govkernel/pkg/facts"
	"github.com/Mindburn-Labs/govkernel/pkg/haltmatrix"
	"github.com/Mindburn-Labs/govkernel/pkg/hug"
	"github.com/Mindburn-Labs/govkernel/pkg/invariant"
	"github.com/Mindburn-Labs/govkernel/pkg/ledger"
	"github.com/Mindburn-Labs/govkernel/pkg/quorum"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func healthyFacts() facts.Facts {
	f := facts.Baseline(fixedNow)
	f.AlertingEnabled = true
	f.ConstitutionHash = "abc"
	f.ExpectedConstitutionHash = "abc"
	f.ConstraintHashes = map[string]string{"limits.yaml": "111"}
	f.ExpectedConstraintHashes = map[string]string{"limits.yaml": "111"}
	f.IntegrityManifestValid = true
	f.TamperDetectionEnabled = true
	f.LastTamperScan = fixedNow.Add(-time.Minute)
	for _, l := range facts.RequiredDefenseLayers {
		f.DefenseLayers[l] = true
	}
	return f
}

type failingProvider struct{}

func (failingProvider) Facts(context.Context) (facts.Facts, error) {
	return facts.Facts{}, errors.New("facts source unavailable")
}

type fixture struct {
	daemon *Daemon
	ledger *ledger.Ledger
	dir    string
}

func newFixture(t *testing.T, provider facts.Provider, mutate func(*Options)) *fixture {
	t.Helper()
	dir := t.TempDir()
	l, err := ledger.Open(ledger.Options{Path: filepath.Join(dir, "ledger.ndjson")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	opts := Options{
		Registry: invariant.DefaultRegistry(),
		Ledger:   l,
		Provider: provider,
		Matrix:   haltmatrix.MustDefault(),
		Validation: config.ValidationConfig{
			Interval:              config.Duration(20 * time.Millisecond),
			MaxFailuresBeforeHalt: 3,
			HaltOnCritical:        true,
			VerifyEvery:           2,
		},
		Clock: fixedClock,
	}
	if mutate != nil {
		mutate(&opts)
	}
	d, err := New(opts)
	require.NoError(t, err)
	return &fixture{daemon: d, ledger: l, dir: dir}
}

func healthyProvider() facts.Provider {
	return facts.Static{Value: healthyFacts(), Clock: fixedClock}
}

func (fx *fixture) entries(t *testing.T, typ ledger.EventType) []ledger.Entry {
	t.Helper()
	out, err := fx.ledger.Entries(context.Background(), ledger.Filter{Type: typ})
	require.NoError(t, err)
	return out
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry")
}

func TestNew_DisablesConfiguredInvariants(t *testing.T) {
	fx := newFixture(t, healthyProvider(), func(o *Options) {
		o.Validation.Disabled = []string{"INV-009"}
	})
	info, ok := fx.daemon.registry.Get("INV-009")
	require.True(t, ok)
	assert.False(t, info.Enabled)

	_, err := New(Options{
		Registry:   invariant.DefaultRegistry(),
		Ledger:     fx.ledger,
		Provider:   healthyProvider(),
		Matrix:     haltmatrix.MustDefault(),
		Validation: config.ValidationConfig{Disabled: []string{"INV-999"}},
	})
	require.ErrorIs(t, err, invariant.ErrUnknownInvariant)
}

func TestValidateOnce_HealthySystem(t *testing.T) {
	fx := newFixture(t, healthyProvider(), nil)
	ctx := context.Background()

	report, err := fx.daemon.ValidateOnce(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 20)
	assert.True(t, report.Passed(), "failures: %v", report.Failures)
	assert.Equal(t, haltmatrix.SeverityInfo, report.Severity)
	require.NotNil(t, report.Verification)
	assert.True(t, report.Verification.Valid)

	// One entry per result, in registration order.
	entries := fx.entries(t, ledger.TypeInvariantResult)
	require.Len(t, entries, 20)
	for i, e := range entries {
		var r invariant.Result
		require.NoError(t, e.DecodePayload(&r))
		assert.Equal(t, report.Results[i].InvariantID, r.InvariantID)
	}

	st := fx.daemon.Status(ctx)
	assert.Equal(t, uint64(1), st.ValidationCount)
	assert.Equal(t, report.ID, st.LastCycleID)
	assert.True(t, st.Ledger.ChainValid)
	assert.Equal(t, uint64(20), st.Ledger.Sequence)
	assert.Equal(t, fx.daemon.matrix.Hash(), st.MatrixHash)
	assert.Len(t, st.Invariants, 20)
}

func TestStatus_JSONSurface(t *testing.T) {
	fx := newFixture(t, healthyProvider(), func(o *Options) {
		o.StatusPath = filepath.Join(o.Ledger.Path()+".d", "status.json")
	})
	ctx := context.Background()
	_, err := fx.daemon.ValidateOnce(ctx)
	require.NoError(t, err)

	data, err := json.Marshal(fx.daemon.Status(ctx))
	require.NoError(t, err)
	var keys map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &keys))
	for _, k := range []string{"running", "validation_count", "last_validation_time",
		"consecutive_failures", "failure_stats", "ledger_chain_valid"} {
		assert.Contains(t, keys, k)
	}
	assert.JSONEq(t, "1", string(keys["validation_count"]))
	assert.JSONEq(t, "true", string(keys["ledger_chain_valid"]))

	snap, err := ReadStatus(fx.daemon.statusPath)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.ValidationCount)
	assert.True(t, snap.LedgerChainValid)
	assert.True(t, fixedNow.Equal(snap.LastValidationTime))
}

func TestValidateOnce_VerifiesPeriodically(t *testing.T) {
	fx := newFixture(t, healthyProvider(), nil)
	ctx := context.Background()

	var verified []bool
	for i := 0; i < 4; i++ {
		report, err := fx.daemon.ValidateOnce(ctx)
		require.NoError(t, err)
		verified = append(verified, report.Verification != nil)
	}
	assert.Equal(t, []bool{true, false, true, false}, verified)
}

func TestValidateOnce_CriticalFailureHalts(t *testing.T) {
	f := healthyFacts()
	f.RefusalEnabled = false
	fx := newFixture(t, facts.Static{Value: f, Clock: fixedClock}, nil)
	ctx := context.Background()

	report, err := fx.daemon.ValidateOnce(ctx)
	require.ErrorIs(t, err, ErrEmergencyHalt)
	assert.True(t, report.Halted)
	assert.Contains(t, report.Failures, "INV-008")
	assert.Equal(t, haltmatrix.SeverityCritical, report.Severity)
	assert.True(t, fx.daemon.Halted())

	halts := fx.entries(t, ledger.TypeEmergencyHalt)
	require.Len(t, halts, 1)
	// The halt follows every result of the cycle.
	assert.Equal(t, uint64(21), halts[0].Sequence)

	_, err = fx.daemon.ValidateOnce(ctx)
	require.ErrorIs(t, err, ErrHalted)
	assert.Len(t, fx.entries(t, ledger.TypeEmergencyHalt), 1)

	st := fx.daemon.Status(ctx)
	assert.True(t, st.Halted)
	assert.Equal(t, "critical invariant failure", st.HaltReason)
	assert.Equal(t, int64(1), st.FailureStats.CriticalFailures)
}

func TestValidateOnce_ConsecutiveFailuresHalt(t *testing.T) {
	f := healthyFacts()
	f.AlertingEnabled = false
	fx := newFixture(t, facts.Static{Value: f, Clock: fixedClock}, func(o *Options) {
		o.Validation.HaltOnCritical = false
		o.Validation.MaxFailuresBeforeHalt = 2
	})
	ctx := context.Background()

	report, err := fx.daemon.ValidateOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, haltmatrix.SeverityFault, report.Severity)
	assert.Equal(t, 1, report.ConsecutiveFailures)
	assert.Equal(t, haltmatrix.SeverityFault, fx.daemon.Severity())

	report, err = fx.daemon.ValidateOnce(ctx)
	require.ErrorIs(t, err, ErrEmergencyHalt)
	assert.Equal(t, "2 consecutive failing cycles", report.HaltReason)
	require.Len(t, fx.entries(t, ledger.TypeEmergencyHalt), 1)
}

func TestValidateOnce_PassResetsConsecutiveFailures(t *testing.T) {
	prov := &switchProvider{value: healthyFacts()}
	prov.value.AlertingEnabled = false
	fx := newFixture(t, prov, func(o *Options) { o.Validation.HaltOnCritical = false })
	ctx := context.Background()

	_, err := fx.daemon.ValidateOnce(ctx)
	require.NoError(t, err)
	prov.value = healthyFacts()
	report, err := fx.daemon.ValidateOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.ConsecutiveFailures)
	assert.Equal(t, haltmatrix.SeverityInfo, fx.daemon.Severity())
}

type switchProvider struct{ value facts.Facts }

func (p *switchProvider) Facts(context.Context) (facts.Facts, error) {
	f := p.value
	f.ObservedAt = fixedNow
	return f, nil
}

func TestValidateOnce_ProviderErrorFailsLoudly(t *testing.T) {
	fx := newFixture(t, failingProvider{}, nil)

	report, err := fx.daemon.ValidateOnce(context.Background())
	require.ErrorIs(t, err, ErrEmergencyHalt)
	assert.Contains(t, err.Error(), "facts source unavailable")
	assert.Equal(t, haltmatrix.SeverityCritical, report.Severity)
	halts := fx.entries(t, ledger.TypeEmergencyHalt)
	require.Len(t, halts, 1)

	var payload map[string]interface{}
	require.NoError(t, halts[0].DecodePayload(&payload))
	assert.Contains(t, payload["reason"], "facts source unavailable")
}

func TestSystemSeverity(t *testing.T) {
	result := func(status invariant.Status, sev invariant.Severity) invariant.Result {
		return invariant.Result{InvariantID: "INV-X", Status: status, Severity: sev}
	}
	tests := []struct {
		name    string
		results []invariant.Result
		want    haltmatrix.Severity
	}{
		{"no results", nil, haltmatrix.SeverityInfo},
		{"all pass", []invariant.Result{result(invariant.StatusPass, invariant.SeverityCritical)}, haltmatrix.SeverityInfo},
		{"skip ignored", []invariant.Result{result(invariant.StatusSkip, invariant.SeverityHigh)}, haltmatrix.SeverityInfo},
		{"low", []invariant.Result{result(invariant.StatusFail, invariant.SeverityLow)}, haltmatrix.SeverityWarn},
		{"medium", []invariant.Result{result(invariant.StatusFail, invariant.SeverityMedium)}, haltmatrix.SeverityWarn},
		{"high", []invariant.Result{result(invariant.StatusFail, invariant.SeverityHigh)}, haltmatrix.SeverityFault},
		{"error is critical", []invariant.Result{result(invariant.StatusError, invariant.SeverityCritical)}, haltmatrix.SeverityCritical},
		{"worst wins", []invariant.Result{
			result(invariant.StatusFail, invariant.SeverityLow),
			result(invariant.StatusFail, invariant.SeverityCritical),
		}, haltmatrix.SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SystemSeverity(tt.results))
		})
	}
}

func TestEvaluateOperation(t *testing.T) {
	fx := newFixture(t, healthyProvider(), nil)
	ctx := context.Background()

	ev, err := fx.daemon.EvaluateOperation(ctx, haltmatrix.OpDataExport, Quorum{}, false)
	require.NoError(t, err)
	assert.True(t, ev.Proceeds())
	assert.Equal(t, haltmatrix.SeverityInfo, ev.Severity)
	assert.NotEmpty(t, ev.EntryHash)

	ev, err = fx.daemon.EvaluateOperation(ctx, haltmatrix.OpQuorumOverride, Quorum{}, false)
	require.NoError(t, err)
	assert.False(t, ev.Proceeds())

	ev, err = fx.daemon.EvaluateOperation(ctx, haltmatrix.OpQuorumOverride, Quorum{Asserted: true}, false)
	require.NoError(t, err)
	assert.True(t, ev.Proceeds())

	recorded := fx.entries(t, ledger.TypeOperationEvaluated)
	require.Len(t, recorded, 3)
	var payload struct {
		Decision haltmatrix.Decision `json:"decision"`
	}
	require.NoError(t, recorded[1].DecodePayload(&payload))
	assert.Equal(t, haltmatrix.Blocked, payload.Decision.Decision)

	_, err = fx.daemon.EvaluateOperation(ctx, haltmatrix.OpClass("teleport"), Quorum{}, true)
	require.Error(t, err)
}

func TestEvaluateOperation_AfterHaltBlocks(t *testing.T) {
	f := healthyFacts()
	f.HumanOversightEnabled = false
	fx := newFixture(t, facts.Static{Value: f, Clock: fixedClock}, nil)
	ctx := context.Background()

	_, err := fx.daemon.ValidateOnce(ctx)
	require.ErrorIs(t, err, ErrEmergencyHalt)

	ev, err := fx.daemon.EvaluateOperation(ctx, haltmatrix.OpDataExport, Quorum{Asserted: true}, true)
	require.NoError(t, err)
	assert.Equal(t, haltmatrix.SeverityCritical, ev.Severity)
	assert.Equal(t, haltmatrix.BehaviorHalt, ev.Behavior)
	assert.True(t, ev.Proceeds(), "halt proceeds once quorum and challenges are satisfied")

	ev, err = fx.daemon.EvaluateOperation(ctx, haltmatrix.OpDataExport, Quorum{}, false)
	require.NoError(t, err)
	assert.False(t, ev.Proceeds())
}

func TestEvaluateOperation_QuorumTokens(t *testing.T) {
	v, err := quorum.NewVerifier([]byte("0123456789abcdef0123456789abcdef"), 2)
	require.NoError(t, err)
	fx := newFixture(t, healthyProvider(), func(o *Options) { o.Quorum = v })
	ctx := context.Background()

	var tokens []string
	for _, who := range []string{"alice", "bob"} {
		tok, err := v.Issue(who, haltmatrix.OpQuorumOverride, time.Minute)
		require.NoError(t, err)
		tokens = append(tokens, tok)
	}

	// An unsupported assertion does not count once tokens are required.
	ev, err := fx.daemon.EvaluateOperation(ctx, haltmatrix.OpQuorumOverride, Quorum{Asserted: true}, false)
	require.NoError(t, err)
	assert.False(t, ev.Proceeds())
	require.NotNil(t, ev.Quorum)
	assert.False(t, ev.Quorum.Satisfied)

	ev, err = fx.daemon.EvaluateOperation(ctx, haltmatrix.OpQuorumOverride, Quorum{Tokens: tokens}, false)
	require.NoError(t, err)
	assert.True(t, ev.Proceeds())
	assert.ElementsMatch(t, []string{"alice", "bob"}, ev.Quorum.Approvers)
}

func TestSetInvariantEnabled(t *testing.T) {
	fx := newFixture(t, healthyProvider(), nil)
	ctx := context.Background()

	require.NoError(t, fx.daemon.SetInvariantEnabled(ctx, "INV-007", false))
	report, err := fx.daemon.ValidateOnce(ctx)
	require.NoError(t, err)
	for _, r := range report.Results {
		if r.InvariantID == "INV-007" {
			assert.Equal(t, invariant.StatusSkip, r.Status)
		}
	}

	require.NoError(t, fx.daemon.SetInvariantEnabled(ctx, "INV-007", true))
	toggles := fx.entries(t, ledger.TypeInvariantToggled)
	require.Len(t, toggles, 2)
	var payload map[string]interface{}
	require.NoError(t, toggles[0].DecodePayload(&payload))
	assert.Equal(t, "INV-007", payload["invariant_id"])
	assert.Equal(t, false, payload["enabled"])

	require.Error(t, fx.daemon.SetInvariantEnabled(ctx, "INV-404", false))
}

func TestRunAudit(t *testing.T) {
	fx := newFixture(t, healthyProvider(), nil)
	ctx := context.Background()

	report, err := fx.daemon.RunAudit(ctx, hug.Request{
		ChangedResourceIDs: []string{"docs/readme.md"},
		ChangeDescription:  "typo fix",
	})
	require.NoError(t, err)
	assert.True(t, report.Passed)
	require.Len(t, report.Steps, 3)
	assert.Len(t, fx.entries(t, ledger.TypeHUGStepG), 1)
	assert.Empty(t, fx.entries(t, ledger.TypeInvariantResult))

	report, err = fx.daemon.RunAudit(ctx, hug.Request{
		ChangedResourceIDs: []string{"pkg/invariant/constitution.go"},
		ChangeDescription:  "loosen checks",
	})
	require.NoError(t, err)
	assert.False(t, report.Passed)
}

func TestRun_RecordsLifecycle(t *testing.T) {
	fx := newFixture(t, healthyProvider(), nil)
	pid := filepath.Join(fx.dir, "run", "govkernel.pid")
	fx.daemon.pidPath = pid

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.daemon.Run(ctx) }()

	require.Eventually(t, func() bool { return fx.daemon.Cycles() >= 2 }, 5*time.Second, 10*time.Millisecond)
	got, alive := ProcessAlive(pid)
	assert.True(t, alive)
	assert.Equal(t, os.Getpid(), got)
	assert.ErrorIs(t, fx.daemon.Run(ctx), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	_, err := os.Stat(pid)
	assert.True(t, os.IsNotExist(err))
	assert.Len(t, fx.entries(t, ledger.TypeDaemonStart), 1)
	stops := fx.entries(t, ledger.TypeDaemonStop)
	require.Len(t, stops, 1)
	var payload map[string]interface{}
	require.NoError(t, stops[0].DecodePayload(&payload))
	assert.Equal(t, "shutdown", payload["reason"])

	v, err := fx.ledger.VerifyChain(context.Background())
	require.NoError(t, err)
	assert.True(t, v.Valid)
}

func TestRun_StopsOnEmergencyHalt(t *testing.T) {
	f := healthyFacts()
	f.HumanOversightEnabled = false
	fx := newFixture(t, facts.Static{Value: f, Clock: fixedClock}, nil)

	err := fx.daemon.Run(context.Background())
	require.ErrorIs(t, err, ErrEmergencyHalt)

	stops := fx.entries(t, ledger.TypeDaemonStop)
	require.Len(t, stops, 1)
	var payload map[string]interface{}
	require.NoError(t, stops[0].DecodePayload(&payload))
	assert.Equal(t, "emergency_halt", payload["reason"])
}

func TestRun_RecordsConstraintChanges(t *testing.T) {
	fx := newFixture(t, healthyProvider(), nil)
	constraints := filepath.Join(fx.dir, "constraints")
	require.NoError(t, os.MkdirAll(constraints, 0o750))
	fx.daemon.constraintDir = constraints
	fx.daemon.watchConstraints = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.daemon.Run(ctx) }()
	require.Eventually(t, func() bool { return fx.daemon.Cycles() >= 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(constraints, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(constraints, "limits.yaml"), []byte("max: 1\n"), 0o600))
	require.Eventually(t, func() bool {
		changes, err := ledger.ReadEntries(ctx, fx.ledger.Path(), ledger.Filter{Type: ledger.TypeConstraintFileChanged})
		return err == nil && len(changes) > 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	for _, e := range fx.entries(t, ledger.TypeConstraintFileChanged) {
		var c facts.Change
		require.NoError(t, e.DecodePayload(&c))
		assert.Equal(t, "limits.yaml", filepath.Base(c.Path))
	}
}

// shutdownRegistry returns three invariants; the first cancels the cycle's context
// while it is being evaluated, as a stop signal arriving mid-cycle would.
func shutdownRegistry(cancel context.CancelFunc, failSeverity invariant.Severity) *invariant.Registry {
	r := invariant.NewRegistry(invariant.WithClock(fixedClock))
	r.MustRegister(
		invariant.Invariant{ID: "T-1", Name: "stop_requested", Severity: invariant.SeverityLow,
			Check: func(facts.Facts) invariant.Outcome {
				cancel()
				return invariant.Pass("ok", nil)
			}},
		invariant.Invariant{ID: "T-2", Name: "always_fails", Severity: failSeverity,
			Check: func(facts.Facts) invariant.Outcome {
				return invariant.Fail(failSeverity, "violated", nil)
			}},
		invariant.Invariant{ID: "T-3", Name: "always_passes", Severity: invariant.SeverityLow,
			Check: func(facts.Facts) invariant.Outcome {
				return invariant.Pass("ok", nil)
			}},
	)
	return r
}

func TestValidateOnce_CancelledMidCycleStillRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx := newFixture(t, healthyProvider(), func(o *Options) {
		o.Registry = shutdownRegistry(cancel, invariant.SeverityMedium)
	})

	report, err := fx.daemon.ValidateOnce(ctx)
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	require.Len(t, report.Results, 3)
	assert.Equal(t, []string{"T-2"}, report.Failures)

	entries := fx.entries(t, ledger.TypeInvariantResult)
	require.Len(t, entries, 3)
	for i, e := range entries {
		var r invariant.Result
		require.NoError(t, e.DecodePayload(&r))
		assert.Equal(t, report.Results[i].InvariantID, r.InvariantID)
		assert.Equal(t, entries[0].Sequence+uint64(i), e.Sequence, "cycle results are contiguous")
	}
	assert.Equal(t, int64(1), fx.daemon.Status(context.Background()).FailureStats.TotalFailures)
}

func TestValidateOnce_CancelledMidCycleStillHalts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx := newFixture(t, healthyProvider(), func(o *Options) {
		o.Registry = shutdownRegistry(cancel, invariant.SeverityCritical)
	})

	_, err := fx.daemon.ValidateOnce(ctx)
	require.ErrorIs(t, err, ErrEmergencyHalt)
	assert.Len(t, fx.entries(t, ledger.TypeInvariantResult), 3)
	halts := fx.entries(t, ledger.TypeEmergencyHalt)
	require.Len(t, halts, 1)
	assert.Equal(t, uint64(4), halts[0].Sequence)
}

func TestRun_FinishesInFlightCycleOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx := newFixture(t, healthyProvider(), func(o *Options) {
		o.Registry = shutdownRegistry(cancel, invariant.SeverityLow)
	})

	require.NoError(t, fx.daemon.Run(ctx))
	assert.Equal(t, uint64(1), fx.daemon.Cycles())
	results := fx.entries(t, ledger.TypeInvariantResult)
	require.Len(t, results, 3)
	for i, e := range results {
		assert.Equal(t, results[0].Sequence+uint64(i), e.Sequence)
	}
	require.Len(t, fx.entries(t, ledger.TypeDaemonStop), 1)

	v, err := fx.ledger.VerifyChain(context.Background())
	require.NoError(t, err)
	assert.True(t, v.Valid)
}
