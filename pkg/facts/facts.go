// Package facts defines the typed runtime fact set that invariant predicates evaluate,
// and the providers that assemble it.
//
// Facts replace a free-form key/value context: every fact a predicate may read is a
// named field, and operator-declared facts are decoded with unknown-field rejection so
// a mistyped fact name fails loudly instead of silently defaulting.
package facts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defense layers required by the defense-in-depth invariant.
var RequiredDefenseLayers = []string{"perimeter", "application", "data", "kernel", "audit"}

// DefaultMaxRecursionDepth bounds reasoning chains when no limit is declared.
const DefaultMaxRecursionDepth = 100

// DefaultMaxTamperScanAge is the staleness bound for tamper scans.
const DefaultMaxTamperScanAge = time.Hour

// Authority is an active authority grant. A nil ExpiresAt means the grant is perpetual.
type Authority struct {
	ID        string     `yaml:"id" json:"id"`
	ExpiresAt *time.Time `yaml:"expires_at,omitempty" json:"expires_at,omitempty"`
}

// Facts is the read-only snapshot handed to every predicate of one validation cycle.
type Facts struct {
	ObservedAt time.Time `json:"observed_at"`

	// Evidence trail.
	LedgerPath     string `json:"ledger_path"`
	LedgerExists   bool   `json:"ledger_exists"`
	HashChainValid bool   `json:"hash_chain_valid"`

	// Human oversight and override.
	HumanOversightEnabled bool `json:"human_oversight_enabled"`
	KillSwitchActive      bool `json:"kill_switch_active"`
	KillSwitchAccessible  bool `json:"kill_switch_accessible"`
	KillSwitchDisabled    bool `json:"kill_switch_disabled"`
	OverrideDelayed       bool `json:"override_delayed"`

	ConstitutionHash         string `json:"constitution_hash"`
	ExpectedConstitutionHash string `json:"expected_constitution_hash"`

	CurrentPhase      int  `json:"current_phase"`
	DeterministicMode bool `json:"deterministic_mode"`

	SilentFailures  []string `json:"silent_failures"`
	LoggingEnabled  bool     `json:"logging_enabled"`
	AlertingEnabled bool     `json:"alerting_enabled"`

	ActiveAuthorities []Authority `json:"active_authorities"`
	UngroundedClaims  []string    `json:"ungrounded_claims"`

	RefusalEnabled    bool `json:"refusal_enabled"`
	RefusalOverridden bool `json:"refusal_overridden"`

	DataRetentionPolicy string `json:"data_retention_policy"`
	ExcessiveRetention  bool   `json:"excessive_retention"`

	BoundaryViolations []string `json:"boundary_violations"`

	ConstraintHashes         map[string]string `json:"constraint_hashes"`
	ExpectedConstraintHashes map[string]string `json:"expected_constraint_hashes"`

	MaxRecursionDepth     int      `json:"max_recursion_depth"`
	CurrentRecursionDepth int      `json:"current_recursion_depth"`
	UnboundedChains       []string `json:"unbounded_chains"`

	PersistentGoals                []string `json:"persistent_goals"`
	CrossSessionMemoryUnauthorized bool     `json:"cross_session_memory_unauthorized"`

	StateMisrepresentations      []string `json:"state_misrepresentations"`
	CapabilityMisrepresentations []string `json:"capability_misrepresentations"`

	ForbiddenPatterns []string `json:"forbidden_patterns"`
	SuspiciousEnvVars []string `json:"suspicious_env_vars"`

	IntegrityManifestValid bool     `json:"integrity_manifest_valid"`
	TamperedFiles          []string `json:"tampered_files"`

	DefenseLayers map[string]bool `json:"defense_layers"`

	TamperDetectionEnabled bool          `json:"tamper_detection_enabled"`
	LastTamperScan         time.Time     `json:"last_tamper_scan"`
	MaxTamperScanAge       time.Duration `json:"max_tamper_scan_age"`

	FailOpenDetected     bool `json:"fail_open_detected"`
	DegradedSecurityMode bool `json:"degraded_security_mode"`
}

// Baseline returns the facts the kernel asserts about itself before any
// observation or declaration is applied.
func Baseline(now time.Time) Facts {
	return Facts{
		ObservedAt:            now.UTC(),
		HumanOversightEnabled: true,
		KillSwitchActive:      true,
		KillSwitchAccessible:  true,
		DeterministicMode:     true,
		LoggingEnabled:        true,
		RefusalEnabled:        true,
		DataRetentionPolicy:   "30_days",
		MaxRecursionDepth:     DefaultMaxRecursionDepth,
		MaxTamperScanAge:      DefaultMaxTamperScanAge,
		DefenseLayers:         map[string]bool{"kernel": true, "audit": true},
	}
}

// TamperScanAge reports how old the last tamper scan is relative to ObservedAt.
// A missing scan is infinitely old.
func (f Facts) TamperScanAge() (time.Duration, bool) {
	if f.LastTamperScan.IsZero() {
		return 0, false
	}
	return f.ObservedAt.Sub(f.LastTamperScan), true
}

// Declared is the operator- or collaborator-supplied subset of Facts. Nil fields leave
// the observed value untouched.
type Declared struct {
	HumanOversightEnabled *bool `yaml:"human_oversight_enabled"`
	KillSwitchActive      *bool `yaml:"kill_switch_active"`
	KillSwitchAccessible  *bool `yaml:"kill_switch_accessible"`
	KillSwitchDisabled    *bool `yaml:"kill_switch_disabled"`
	OverrideDelayed       *bool `yaml:"override_delayed"`

	CurrentPhase      *int  `yaml:"current_phase"`
	DeterministicMode *bool `yaml:"deterministic_mode"`

	SilentFailures []string `yaml:"silent_failures"`
	LoggingEnabled *bool    `yaml:"logging_enabled"`

	ActiveAuthorities []Authority `yaml:"active_authorities"`
	UngroundedClaims  []string    `yaml:"ungrounded_claims"`

	RefusalEnabled    *bool `yaml:"refusal_enabled"`
	RefusalOverridden *bool `yaml:"refusal_overridden"`

	DataRetentionPolicy *string `yaml:"data_retention_policy"`
	ExcessiveRetention  *bool   `yaml:"excessive_retention"`

	BoundaryViolations []string `yaml:"boundary_violations"`

	MaxRecursionDepth     *int     `yaml:"max_recursion_depth"`
	CurrentRecursionDepth *int     `yaml:"current_recursion_depth"`
	UnboundedChains       []string `yaml:"unbounded_chains"`

	PersistentGoals                []string `yaml:"persistent_goals"`
	CrossSessionMemoryUnauthorized *bool    `yaml:"cross_session_memory_unauthorized"`

	StateMisrepresentations      []string `yaml:"state_misrepresentations"`
	CapabilityMisrepresentations []string `yaml:"capability_misrepresentations"`

	ForbiddenPatterns []string `yaml:"forbidden_patterns"`

	DefenseLayers map[string]bool `yaml:"defense_layers"`

	TamperDetectionEnabled *bool          `yaml:"tamper_detection_enabled"`
	MaxTamperScanAge       *time.Duration `yaml:"max_tamper_scan_age"`

	FailOpenDetected     *bool `yaml:"fail_open_detected"`
	DegradedSecurityMode *bool `yaml:"degraded_security_mode"`
}

// DecodeDeclared parses a declared-facts YAML document. Unknown keys are an error.
func DecodeDeclared(r io.Reader) (Declared, error) {
	var d Declared
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil && !errors.Is(err, io.EOF) {
		return Declared{}, fmt.Errorf("decode declared facts: %w", err)
	}
	return d, nil
}

// LoadDeclared reads declared facts from path.
func LoadDeclared(path string) (Declared, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Declared{}, fmt.Errorf("load declared facts %q: %w", path, err)
	}
	d, err := DecodeDeclared(bytes.NewReader(data))
	if err != nil {
		return Declared{}, fmt.Errorf("load declared facts %q: %w", path, err)
	}
	return d, nil
}

// Apply overlays the declared values onto f.
func (d Declared) Apply(f *Facts) {
	setBool(&f.HumanOversightEnabled, d.HumanOversightEnabled)
	setBool(&f.KillSwitchActive, d.KillSwitchActive)
	setBool(&f.KillSwitchAccessible, d.KillSwitchAccessible)
	setBool(&f.KillSwitchDisabled, d.KillSwitchDisabled)
	setBool(&f.OverrideDelayed, d.OverrideDelayed)
	setBool(&f.DeterministicMode, d.DeterministicMode)
	setBool(&f.LoggingEnabled, d.LoggingEnabled)
	setBool(&f.RefusalEnabled, d.RefusalEnabled)
	setBool(&f.RefusalOverridden, d.RefusalOverridden)
	setBool(&f.ExcessiveRetention, d.ExcessiveRetention)
	setBool(&f.CrossSessionMemoryUnauthorized, d.CrossSessionMemoryUnauthorized)
	setBool(&f.TamperDetectionEnabled, d.TamperDetectionEnabled)
	setBool(&f.FailOpenDetected, d.FailOpenDetected)
	setBool(&f.DegradedSecurityMode, d.DegradedSecurityMode)

	if d.CurrentPhase != nil {
		f.CurrentPhase = *d.CurrentPhase
	}
	if d.MaxRecursionDepth != nil {
		f.MaxRecursionDepth = *d.MaxRecursionDepth
	}
	if d.CurrentRecursionDepth != nil {
		f.CurrentRecursionDepth = *d.CurrentRecursionDepth
	}
	if d.DataRetentionPolicy != nil {
		f.DataRetentionPolicy = *d.DataRetentionPolicy
	}
	if d.MaxTamperScanAge != nil {
		f.MaxTamperScanAge = *d.MaxTamperScanAge
	}

	f.SilentFailures = append(f.SilentFailures, d.SilentFailures...)
	f.ActiveAuthorities = append(f.ActiveAuthorities, d.ActiveAuthorities...)
	f.UngroundedClaims = append(f.UngroundedClaims, d.UngroundedClaims...)
	f.BoundaryViolations = append(f.BoundaryViolations, d.BoundaryViolations...)
	f.UnboundedChains = append(f.UnboundedChains, d.UnboundedChains...)
	f.PersistentGoals = append(f.PersistentGoals, d.PersistentGoals...)
	f.StateMisrepresentations = append(f.StateMisrepresentations, d.StateMisrepresentations...)
	f.CapabilityMisrepresentations = append(f.CapabilityMisrepresentations, d.CapabilityMisrepresentations...)
	f.ForbiddenPatterns = append(f.ForbiddenPatterns, d.ForbiddenPatterns...)

	if len(d.DefenseLayers) > 0 {
		if f.DefenseLayers == nil {
			f.DefenseLayers = make(map[string]bool, len(d.DefenseLayers))
		}
		for layer, active := range d.DefenseLayers {
			f.DefenseLayers[layer] = active
		}
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
