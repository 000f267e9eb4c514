//go:build property
// +build property

package haltmatrix

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDecideTotal checks that every pair in the closed enums is answered by a
// sealed entry and that CanProceed never returns an empty reason.
func TestDecideTotal(t *testing.T) {
	m := MustDefault()
	sevs := Severities()
	ops := OpClasses()

	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("decide answers from the table", prop.ForAll(
		func(si, oi int) bool {
			e := m.Decide(sevs[si], ops[oi])
			_, sealed := m.entries[key{sevs[si], ops[oi]}]
			return sealed && e.Severity == sevs[si] && e.OpClass == ops[oi] && e.Behavior.Valid()
		},
		gen.IntRange(0, len(sevs)-1),
		gen.IntRange(0, len(ops)-1),
	))

	properties.Property("deny and queue never proceed", prop.ForAll(
		func(si, oi int, quorum, clear bool) bool {
			e := m.Decide(sevs[si], ops[oi])
			ok, reason := m.CanProceed(sevs[si], ops[oi], quorum, clear)
			if reason == "" {
				return false
			}
			if e.Behavior == BehaviorDeny || e.Behavior == BehaviorQueue {
				return !ok
			}
			return true
		},
		gen.IntRange(0, len(sevs)-1),
		gen.IntRange(0, len(ops)-1),
		gen.Bool(),
		gen.Bool(),
	))

	properties.Property("satisfying every requirement never blocks a halt", prop.ForAll(
		func(si, oi int) bool {
			e := m.Decide(sevs[si], ops[oi])
			ok, _ := m.CanProceed(sevs[si], ops[oi], true, true)
			if e.Behavior == BehaviorHalt {
				return ok
			}
			return true
		},
		gen.IntRange(0, len(sevs)-1),
		gen.IntRange(0, len(ops)-1),
	))

	properties.TestingRun(t)
}
