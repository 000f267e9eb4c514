package invariant

import (
	"fmt"
	"sort"

	"github.com/Mindburn-Labs/govkernel/pkg/facts"
)

// DefaultRegistry returns a registry holding the full compiled-in invariant set:
// constitutional (INV-001..010), AGI safety (INV-011..015) and milspec (INV-016..020).
func DefaultRegistry(opts ...Option) *Registry {
	r := NewRegistry(opts...)
	r.MustRegister(Constitutional()...)
	r.MustRegister(AGISafety()...)
	r.MustRegister(Milspec()...)
	return r
}

// Constitutional returns INV-001 through INV-010.
func Constitutional() []Invariant {
	return []Invariant{
		{
			ID: "INV-001", Name: "Immutable Audit Trail", Category: CategoryConstitutional,
			Description: "All actions must be logged to the ledger with hash chain integrity",
			Severity:    SeverityCritical,
			Check: func(f facts.Facts) Outcome {
				if f.LedgerPath == "" {
					return Fail(SeverityCritical, "Ledger path not configured", Evidence{"ledger_path": nil})
				}
				if !f.LedgerExists {
					return Fail(SeverityHigh, "Ledger file does not exist", Evidence{"ledger_path": f.LedgerPath, "exists": false})
				}
				return Pass("Ledger exists and accessible", Evidence{"ledger_path": f.LedgerPath, "exists": true})
			},
		},
		{
			ID: "INV-002", Name: "Human Oversight", Category: CategoryConstitutional,
			Description: "Human oversight must remain enabled",
			Severity:    SeverityCritical,
			Check: func(f facts.Facts) Outcome {
				ev := Evidence{"oversight_enabled": f.HumanOversightEnabled, "kill_switch_active": f.KillSwitchActive}
				if !f.HumanOversightEnabled {
					return Fail(SeverityCritical, "Human oversight is disabled", ev)
				}
				return Pass("Human oversight is enabled", ev)
			},
		},
		{
			ID: "INV-003", Name: "Constitutional Supremacy", Category: CategoryConstitutional,
			Description: "The constitution must match its pinned digest",
			Severity:    SeverityCritical,
			Check: func(f facts.Facts) Outcome {
				ev := Evidence{"constitution_hash": f.ConstitutionHash, "expected_hash": f.ExpectedConstitutionHash}
				if f.ConstitutionHash == "" || f.ExpectedConstitutionHash == "" {
					return Fail(SeverityCritical, "Constitution hash not available for verification", ev)
				}
				if f.ConstitutionHash != f.ExpectedConstitutionHash {
					return Fail(SeverityCritical, "Constitution has been modified without authorization", ev)
				}
				return Pass("Constitution integrity verified", Evidence{"constitution_hash": f.ConstitutionHash, "verified": true})
			},
		},
		{
			ID: "INV-004", Name: "Deterministic Behavior", Category: CategoryConstitutional,
			Description: "Phase 0 operation must be deterministic",
			Severity:    SeverityHigh,
			Check: func(f facts.Facts) Outcome {
				ev := Evidence{"phase": f.CurrentPhase, "deterministic_mode": f.DeterministicMode}
				if f.CurrentPhase == 0 && !f.DeterministicMode {
					return Fail(SeverityHigh, "Phase 0 requires deterministic mode", ev)
				}
				return Pass("Deterministic behavior requirement satisfied", ev)
			},
		},
		{
			ID: "INV-005", Name: "Graceful Degradation", Category: CategoryConstitutional,
			Description: "Failures must be loud: no silent failures, logging and alerting active",
			Severity:    SeverityCritical,
			Check: func(f facts.Facts) Outcome {
				if len(f.SilentFailures) > 0 {
					return Fail(SeverityCritical, fmt.Sprintf("Silent failures detected: %d", len(f.SilentFailures)),
						Evidence{"silent_failures": f.SilentFailures, "count": len(f.SilentFailures)})
				}
				ev := Evidence{"logging_enabled": f.LoggingEnabled, "alerting_enabled": f.AlertingEnabled}
				if !f.LoggingEnabled || !f.AlertingEnabled {
					return Fail(SeverityHigh, "Logging or alerting is disabled", ev)
				}
				return Pass("No silent failures, logging and alerting active", ev)
			},
		},
		{
			ID: "INV-006", Name: "Authority Expiry", Category: CategoryConstitutional,
			Description: "Every granted authority must carry an expiry and expired grants must not remain active",
			Severity:    SeverityCritical,
			Check: func(f facts.Facts) Outcome {
				var perpetual, expired []string
				for _, a := range f.ActiveAuthorities {
					id := a.ID
					if id == "" {
						id = "unknown"
					}
					switch {
					case a.ExpiresAt == nil:
						perpetual = append(perpetual, id)
					case a.ExpiresAt.Before(f.ObservedAt):
						expired = append(expired, id)
					}
				}
				if len(perpetual) > 0 {
					return Fail(SeverityCritical, fmt.Sprintf("Perpetual authorities detected: %v", perpetual),
						Evidence{"perpetual_authorities": perpetual})
				}
				if len(expired) > 0 {
					return Fail(SeverityHigh, fmt.Sprintf("Expired authorities still active: %v", expired),
						Evidence{"expired_authorities": expired})
				}
				return Pass("All authorities have valid expiry", Evidence{"active_count": len(f.ActiveAuthorities)})
			},
		},
		{
			ID: "INV-007", Name: "Evidence Grounding", Category: CategoryConstitutional,
			Description: "All factual claims must be backed by evidence",
			Severity:    SeverityHigh,
			Check: func(f facts.Facts) Outcome {
				if n := len(f.UngroundedClaims); n > 0 {
					return Fail(SeverityHigh, fmt.Sprintf("Ungrounded claims detected: %d", n),
						Evidence{"ungrounded_claims": head(f.UngroundedClaims, 10)})
				}
				return Pass("All claims are evidence-grounded", Evidence{"verified": true})
			},
		},
		{
			ID: "INV-008", Name: "Refusal Capability", Category: CategoryConstitutional,
			Description: "The system must retain the ability to refuse",
			Severity:    SeverityCritical,
			Check: func(f facts.Facts) Outcome {
				if !f.RefusalEnabled || f.RefusalOverridden {
					return Fail(SeverityCritical, "Refusal capability is disabled or overridden",
						Evidence{"refusal_enabled": f.RefusalEnabled, "refusal_overridden": f.RefusalOverridden})
				}
				return Pass("Refusal capability is active", Evidence{"refusal_enabled": true})
			},
		},
		{
			ID: "INV-009", Name: "Data Minimization", Category: CategoryConstitutional,
			Description: "A retention policy must exist and be honoured",
			Severity:    SeverityMedium,
			Check: func(f facts.Facts) Outcome {
				if f.DataRetentionPolicy == "" {
					return Fail(SeverityMedium, "No data retention policy configured", Evidence{"policy_configured": false})
				}
				if f.ExcessiveRetention {
					return Fail(SeverityHigh, "Excessive data retention detected", Evidence{"excessive_retention": true})
				}
				return Pass("Data minimization policy enforced", Evidence{"policy": f.DataRetentionPolicy})
			},
		},
		{
			ID: "INV-010", Name: "Scope Boundaries", Category: CategoryConstitutional,
			Description: "Operations must stay within declared scope",
			Severity:    SeverityHigh,
			Check: func(f facts.Facts) Outcome {
				if n := len(f.BoundaryViolations); n > 0 {
					return Fail(SeverityHigh, fmt.Sprintf("Boundary violations detected: %d", n),
						Evidence{"violations": head(f.BoundaryViolations, 10)})
				}
				return Pass("All operations within scope boundaries", Evidence{"verified": true})
			},
		},
	}
}

// AGISafety returns INV-011 through INV-015.
func AGISafety() []Invariant {
	return []Invariant{
		{
			ID: "INV-011", Name: "No Self-Modification", Category: CategoryAGISafety,
			Description: "Constraint files must match their pinned digests",
			Severity:    SeverityCritical,
			Check: func(f facts.Facts) Outcome {
				if len(f.ConstraintHashes) == 0 || len(f.ExpectedConstraintHashes) == 0 {
					return Fail(SeverityCritical, "Constraint file hashes not available for verification",
						Evidence{"hashes_available": false})
				}
				var modified []string
				for path, want := range f.ExpectedConstraintHashes {
					if got, ok := f.ConstraintHashes[path]; !ok || got != want {
						modified = append(modified, path)
					}
				}
				if len(modified) > 0 {
					sort.Strings(modified)
					return Fail(SeverityCritical, fmt.Sprintf("Constraint files modified: %v", modified),
						Evidence{"modified_files": modified})
				}
				return Pass("No unauthorized self-modification detected", Evidence{"files_verified": len(f.ConstraintHashes)})
			},
		},
		{
			ID: "INV-012", Name: "Bounded Recursion", Category: CategoryAGISafety,
			Description: "Reasoning chains must stay within the recursion bound",
			Severity:    SeverityHigh,
			Check: func(f facts.Facts) Outcome {
				if len(f.UnboundedChains) > 0 {
					return Fail(SeverityHigh, fmt.Sprintf("Unbounded reasoning chains detected: %d", len(f.UnboundedChains)),
						Evidence{"unbounded_chains": head(f.UnboundedChains, 5)})
				}
				max := f.MaxRecursionDepth
				if max <= 0 {
					max = facts.DefaultMaxRecursionDepth
				}
				ev := Evidence{"current_depth": f.CurrentRecursionDepth, "max_depth": max}
				if f.CurrentRecursionDepth > max {
					return Fail(SeverityHigh, fmt.Sprintf("Recursion depth %d exceeds max %d", f.CurrentRecursionDepth, max), ev)
				}
				return Pass("Recursion within bounds", ev)
			},
		},
		{
			ID: "INV-013", Name: "Ephemeral Goals", Category: CategoryAGISafety,
			Description: "Goals must not persist across sessions",
			Severity:    SeverityHigh,
			Check: func(f facts.Facts) Outcome {
				if len(f.PersistentGoals) > 0 {
					return Fail(SeverityHigh, fmt.Sprintf("Persistent goals detected: %d", len(f.PersistentGoals)),
						Evidence{"persistent_goals": head(f.PersistentGoals, 5)})
				}
				if f.CrossSessionMemoryUnauthorized {
					return Fail(SeverityHigh, "Unauthorized cross-session memory detected", Evidence{"cross_session_memory": true})
				}
				return Pass("Goals are session-scoped", Evidence{"session_scoped": true})
			},
		},
		{
			ID: "INV-014", Name: "Override Preserved", Category: CategoryAGISafety,
			Description: "Human override mechanisms must stay enabled, reachable and immediate",
			Severity:    SeverityCritical,
			Check: func(f facts.Facts) Outcome {
				if f.KillSwitchDisabled {
					return Fail(SeverityCritical, "Kill switch has been disabled", Evidence{"kill_switch_disabled": true})
				}
				if !f.KillSwitchAccessible {
					return Fail(SeverityCritical, "Kill switch is not accessible", Evidence{"kill_switch_accessible": false})
				}
				if f.OverrideDelayed {
					return Fail(SeverityHigh, "Override mechanism is being delayed", Evidence{"override_delayed": true})
				}
				return Pass("Human override mechanisms are preserved",
					Evidence{"kill_switch_accessible": true, "kill_switch_enabled": true})
			},
		},
		{
			ID: "INV-015", Name: "Verifiable Truthfulness", Category: CategoryAGISafety,
			Description: "The system must not misrepresent its state or capabilities",
			Severity:    SeverityCritical,
			Check: func(f facts.Facts) Outcome {
				if n := len(f.StateMisrepresentations); n > 0 {
					return Fail(SeverityCritical, fmt.Sprintf("State misrepresentations detected: %d", n),
						Evidence{"misrepresentations": head(f.StateMisrepresentations, 5)})
				}
				if n := len(f.CapabilityMisrepresentations); n > 0 {
					return Fail(SeverityHigh, fmt.Sprintf("Capability misrepresentations detected: %d", n),
						Evidence{"capability_misrepresentations": head(f.CapabilityMisrepresentations, 5)})
				}
				return Pass("No misrepresentations detected", Evidence{"verified": true})
			},
		},
	}
}

func head(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
