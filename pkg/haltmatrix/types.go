// Package haltmatrix gates privileged operations by current system severity. The
// matrix is a total, sealed table over every (Severity, OpClass) pair.
package haltmatrix

import (
	"fmt"
	"strings"
)

// Severity is the system-wide health level. Closed vocabulary.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityFault    Severity = "fault"
	SeverityCritical Severity = "critical"
)

var severities = []Severity{SeverityInfo, SeverityWarn, SeverityFault, SeverityCritical}

// Severities returns every severity in ascending order.
func Severities() []Severity {
	return append([]Severity(nil), severities...)
}

// Rank orders severities from 0 (info) to 3 (critical); -1 for unknown values.
func (s Severity) Rank() int {
	for i, v := range severities {
		if v == s {
			return i
		}
	}
	return -1
}

func ParseSeverity(v string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(v)))
	if s.Rank() < 0 {
		return "", fmt.Errorf("unknown severity %q", v)
	}
	return s, nil
}

// OpClass is a category of privileged action.
type OpClass string

const (
	OpAuthorityGrant    OpClass = "authority_grant"
	OpAuthorityRevoke   OpClass = "authority_revoke"
	OpAuthorityExtend   OpClass = "authority_extend"
	OpConfigModify      OpClass = "config_modify"
	OpConfigDeploy      OpClass = "config_deploy"
	OpConfigRollback    OpClass = "config_rollback"
	OpDataExport        OpClass = "data_export"
	OpDataDelete        OpClass = "data_delete"
	OpDataMigrate       OpClass = "data_migrate"
	OpSystemRestart     OpClass = "system_restart"
	OpSystemUpgrade     OpClass = "system_upgrade"
	OpSystemShutdown    OpClass = "system_shutdown"
	OpSecurityOverride  OpClass = "security_override"
	OpSecurityDowngrade OpClass = "security_downgrade"
	OpKeyRotation       OpClass = "key_rotation"
	OpQuorumOverride    OpClass = "quorum_override"
	OpChallengeDismiss  OpClass = "challenge_dismiss"
	OpInvariantSuspend  OpClass = "invariant_suspend"
)

var opClasses = []OpClass{
	OpAuthorityGrant, OpAuthorityRevoke, OpAuthorityExtend,
	OpConfigModify, OpConfigDeploy, OpConfigRollback,
	OpDataExport, OpDataDelete, OpDataMigrate,
	OpSystemRestart, OpSystemUpgrade, OpSystemShutdown,
	OpSecurityOverride, OpSecurityDowngrade, OpKeyRotation,
	OpQuorumOverride, OpChallengeDismiss, OpInvariantSuspend,
}

// OpClasses returns every operation class in declaration order.
func OpClasses() []OpClass {
	return append([]OpClass(nil), opClasses...)
}

func (o OpClass) index() int {
	for i, v := range opClasses {
		if v == o {
			return i
		}
	}
	return -1
}

// Valid reports whether o belongs to the closed set.
func (o OpClass) Valid() bool { return o.index() >= 0 }

// ParseOpClass accepts either case, so CONFIG_DEPLOY and config_deploy are equivalent.
func ParseOpClass(v string) (OpClass, error) {
	o := OpClass(strings.ToLower(strings.TrimSpace(v)))
	if !o.Valid() {
		return "", fmt.Errorf("unknown operation class %q", v)
	}
	return o, nil
}

// Behavior is what happens to an operation attempted at a given severity.
type Behavior string

const (
	BehaviorAllow     Behavior = "allow"      // proceeds, recorded
	BehaviorWarnAllow Behavior = "warn_allow" // proceeds with warning
	BehaviorQueue     Behavior = "queue"      // held pending remediation
	BehaviorHalt      Behavior = "halt"       // blocked until gating conditions hold
	BehaviorDeny      Behavior = "deny"       // refused at this severity
)

func (b Behavior) Valid() bool {
	switch b {
	case BehaviorAllow, BehaviorWarnAllow, BehaviorQueue, BehaviorHalt, BehaviorDeny:
		return true
	}
	return false
}

// AuditLevel controls how much evidence accompanies a decision.
type AuditLevel string

const (
	AuditStandard AuditLevel = "standard"
	AuditElevated AuditLevel = "elevated"
	AuditMaximum  AuditLevel = "maximum"
)

func (a AuditLevel) Valid() bool {
	switch a {
	case AuditStandard, AuditElevated, AuditMaximum:
		return true
	}
	return false
}
