package haltmatrix

// Default builds and seals the constitutional policy table:
//
//	info     most operations allowed; governance overrides need quorum
//	warn     elevated audit; deploy/migrate/upgrade queued
//	fault    security downgrades and overrides denied; privileged ops halt
//	critical everything halts except a quorum-gated recovery whitelist
//
// Quorum is enforced for every entry that requires it, whatever its behavior: the
// critical-severity whitelist entries are allow or warn_allow, and CanProceed still
// returns false for them until quorum is satisfied.
//
// Each call returns a fresh matrix with the same Hash.
func Default() (*Matrix, error) {
	b := NewBuilder()
	for _, e := range defaultEntries() {
		if err := b.Add(e); err != nil {
			return nil, err
		}
	}
	return b.Seal()
}

// MustDefault is Default for process start-up, where a broken table is unrecoverable.
func MustDefault() *Matrix {
	m, err := Default()
	if err != nil {
		panic(err)
	}
	return m
}

func in(op OpClass, set ...OpClass) bool {
	for _, o := range set {
		if o == op {
			return true
		}
	}
	return false
}

func defaultEntries() []Entry {
	var out []Entry
	add := func(sev Severity, op OpClass, b Behavior, quorum, clear bool, audit AuditLevel) {
		out = append(out, Entry{
			Severity:               sev,
			OpClass:                op,
			Behavior:               b,
			RequiresQuorum:         quorum,
			RequiresChallengeClear: clear,
			AuditLevel:             audit,
		})
	}

	for _, op := range opClasses {
		switch {
		case in(op, OpInvariantSuspend, OpSecurityDowngrade):
			add(SeverityInfo, op, BehaviorHalt, true, true, AuditStandard)
		case in(op, OpQuorumOverride, OpChallengeDismiss):
			add(SeverityInfo, op, BehaviorWarnAllow, true, false, AuditStandard)
		default:
			add(SeverityInfo, op, BehaviorAllow, false, false, AuditStandard)
		}
	}

	for _, op := range opClasses {
		switch {
		case in(op, OpInvariantSuspend, OpSecurityDowngrade, OpSecurityOverride):
			add(SeverityWarn, op, BehaviorHalt, true, true, AuditStandard)
		case in(op, OpSystemUpgrade, OpConfigDeploy, OpDataMigrate):
			add(SeverityWarn, op, BehaviorQueue, false, false, AuditStandard)
		default:
			add(SeverityWarn, op, BehaviorWarnAllow, false, false, AuditElevated)
		}
	}

	for _, op := range opClasses {
		switch {
		case in(op, OpInvariantSuspend, OpSecurityDowngrade, OpSecurityOverride, OpQuorumOverride):
			add(SeverityFault, op, BehaviorDeny, false, false, AuditStandard)
		case in(op, OpAuthorityGrant, OpAuthorityExtend, OpConfigModify, OpConfigDeploy,
			OpSystemUpgrade, OpDataDelete, OpDataMigrate):
			add(SeverityFault, op, BehaviorHalt, false, true, AuditStandard)
		default:
			add(SeverityFault, op, BehaviorQueue, false, false, AuditElevated)
		}
	}

	for _, op := range opClasses {
		switch {
		case in(op, OpAuthorityRevoke, OpConfigRollback, OpSystemShutdown):
			add(SeverityCritical, op, BehaviorWarnAllow, true, false, AuditMaximum)
		case op == OpChallengeDismiss:
			add(SeverityCritical, op, BehaviorDeny, false, false, AuditStandard)
		default:
			add(SeverityCritical, op, BehaviorHalt, true, true, AuditMaximum)
		}
	}
	return out
}
