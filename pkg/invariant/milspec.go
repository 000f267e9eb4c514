package invariant

import (
	"fmt"
	"math"

	"github.com/Mindburn-Labs/govkernel/pkg/facts"
)

// Milspec returns the hardening invariants INV-016 through INV-020.
func Milspec() []Invariant {
	return []Invariant{
		{
			ID: "INV-016", Name: "Zero Backdoors", Category: CategoryMilspec,
			Description: "No forbidden code patterns or injection-capable environment variables",
			Severity:    SeverityCritical,
			Check: func(f facts.Facts) Outcome {
				if n := len(f.ForbiddenPatterns); n > 0 {
					return Fail(SeverityCritical, fmt.Sprintf("Forbidden code patterns detected: %d", n),
						Evidence{"patterns": head(f.ForbiddenPatterns, 10), "count": n})
				}
				if len(f.SuspiciousEnvVars) > 0 {
					return Fail(SeverityHigh, fmt.Sprintf("Suspicious environment variables: %v", f.SuspiciousEnvVars),
						Evidence{"suspicious_vars": f.SuspiciousEnvVars})
				}
				return Pass("No backdoors detected", Evidence{"scan_clean": true})
			},
		},
		{
			ID: "INV-017", Name: "Cryptographic Integrity", Category: CategoryMilspec,
			Description: "Sealed files, the integrity manifest and the ledger chain must all verify",
			Severity:    SeverityCritical,
			Check: func(f facts.Facts) Outcome {
				if n := len(f.TamperedFiles); n > 0 {
					return Fail(SeverityCritical, fmt.Sprintf("File tampering detected: %d files", n),
						Evidence{"tampered_files": head(f.TamperedFiles, 10)})
				}
				if !f.IntegrityManifestValid {
					return Fail(SeverityCritical, "Integrity manifest validation failed", Evidence{"manifest_valid": false})
				}
				if !f.HashChainValid {
					return Fail(SeverityCritical, "Hash chain integrity broken", Evidence{"hash_chain_valid": false})
				}
				return Pass("All cryptographic integrity checks passed",
					Evidence{"manifest_valid": true, "hash_chain_valid": true})
			},
		},
		{
			ID: "INV-018", Name: "Defense-in-Depth Active", Category: CategoryMilspec,
			Description: "Every required defense layer must be active",
			Severity:    SeverityHigh,
			Check: func(f facts.Facts) Outcome {
				var active, missing []string
				for _, layer := range facts.RequiredDefenseLayers {
					if f.DefenseLayers[layer] {
						active = append(active, layer)
					} else {
						missing = append(missing, layer)
					}
				}
				if len(missing) > 0 {
					return Fail(SeverityHigh, fmt.Sprintf("Missing defense layers: %v", missing),
						Evidence{"missing_layers": missing, "active_layers": active})
				}
				return Pass("All defense layers active", Evidence{"layers_active": active})
			},
		},
		{
			ID: "INV-019", Name: "Tamper Detection Active", Category: CategoryMilspec,
			Description: "Tamper detection must be enabled and recently run",
			Severity:    SeverityCritical,
			Check: func(f facts.Facts) Outcome {
				if !f.TamperDetectionEnabled {
					return Fail(SeverityCritical, "Tamper detection is disabled", Evidence{"tamper_detection_enabled": false})
				}
				maxAge := f.MaxTamperScanAge
				if maxAge <= 0 {
					maxAge = facts.DefaultMaxTamperScanAge
				}
				age, scanned := f.TamperScanAge()
				ageSeconds := math.Inf(1)
				if scanned {
					ageSeconds = age.Seconds()
				}
				if !scanned || age > maxAge {
					return Fail(SeverityHigh, fmt.Sprintf("Tamper scan stale: %s > %s", formatAge(ageSeconds), maxAge),
						Evidence{"scan_age_seconds": jsonSeconds(ageSeconds), "max_age_seconds": maxAge.Seconds()})
				}
				return Pass("Tamper detection active and current",
					Evidence{"tamper_detection_enabled": true, "scan_age_seconds": ageSeconds})
			},
		},
		{
			ID: "INV-020", Name: "Fail-Secure Default", Category: CategoryMilspec,
			Description: "Failures must close, never open",
			Severity:    SeverityCritical,
			Check: func(f facts.Facts) Outcome {
				if f.FailOpenDetected {
					return Fail(SeverityCritical, "Fail-open behavior detected - system must fail-secure",
						Evidence{"fail_open_detected": true})
				}
				if n := len(f.SilentFailures); n > 0 {
					return Fail(SeverityCritical, fmt.Sprintf("Silent failures detected: %d", n),
						Evidence{"silent_failures": head(f.SilentFailures, 10)})
				}
				if f.DegradedSecurityMode {
					return Fail(SeverityHigh, "System operating in degraded security mode", Evidence{"degraded_security_mode": true})
				}
				return Pass("System configured to fail-secure", Evidence{"fail_secure": true})
			},
		},
	}
}

func formatAge(seconds float64) string {
	if math.IsInf(seconds, 1) {
		return "never"
	}
	return fmt.Sprintf("%.0fs", seconds)
}

// jsonSeconds maps a missing scan to nil since JSON cannot carry infinity.
func jsonSeconds(seconds float64) interface{} {
	if math.IsInf(seconds, 1) {
		return nil
	}
	return seconds
}
