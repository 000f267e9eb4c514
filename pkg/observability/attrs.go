package observability

import "go.opentelemetry.io/otel/attribute"

var (
	AttrCycleID     = attribute.Key("govkernel.cycle.id")
	AttrInvariantID = attribute.Key("govkernel.invariant.id")
	AttrStatus      = attribute.Key("govkernel.invariant.status")
	AttrSeverity    = attribute.Key("govkernel.severity")
	AttrOpClass     = attribute.Key("govkernel.op_class")
	AttrDecision    = attribute.Key("govkernel.decision")
	AttrAuditID     = attribute.Key("govkernel.audit.id")
	AttrAlerter     = attribute.Key("govkernel.alerter")
)

// InvariantResult creates attributes for one invariant outcome.
func InvariantResult(id, status, severity string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrInvariantID.String(id),
		AttrStatus.String(status),
		AttrSeverity.String(severity),
	}
}

// Decision creates attributes for a halt-matrix decision.
func Decision(opClass, severity, decision string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrOpClass.String(opClass),
		AttrSeverity.String(severity),
		AttrDecision.String(decision),
	}
}
