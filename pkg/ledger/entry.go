// Package ledger implements the append-only, hash-chained evidence ledger.
//
// Entries are persisted as newline-delimited RFC 8785 JSON. Each entry carries the
// digest of its predecessor, so any edit, deletion or reordering breaks the chain
// and is reported by VerifyChain at the first offending entry.
package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/govkernel/pkg/canonicalize"
)

// Genesis is the previous_hash of the first entry.
const Genesis = "GENESIS"

// EventType categorizes ledger entries.
type EventType string

const (
	TypeInvariantResult       EventType = "INVARIANT_RESULT"
	TypeDaemonStart           EventType = "DAEMON_START"
	TypeDaemonStop            EventType = "DAEMON_STOP"
	TypeEmergencyHalt         EventType = "EMERGENCY_HALT"
	TypeHUGStepH              EventType = "HUG_STEP_H"
	TypeHUGStepU              EventType = "HUG_STEP_U"
	TypeHUGStepG              EventType = "HUG_STEP_G"
	TypeOperationEvaluated    EventType = "OPERATION_EVALUATED"
	TypeInvariantToggled      EventType = "INVARIANT_TOGGLED"
	TypeConstraintFileChanged EventType = "CONSTRAINT_FILE_CHANGED"
)

// Entry is one persisted ledger record.
type Entry struct {
	Sequence     uint64          `json:"sequence"`
	Type         EventType       `json:"type"`
	Timestamp    string          `json:"timestamp"`
	PreviousHash string          `json:"previous_hash"`
	Payload      json.RawMessage `json:"payload"`
	EntryHash    string          `json:"entry_hash"`
}

type hashableEntry struct {
	Sequence     uint64          `json:"sequence"`
	Type         EventType       `json:"type"`
	Timestamp    string          `json:"timestamp"`
	PreviousHash string          `json:"previous_hash"`
	Payload      json.RawMessage `json:"payload"`
}

// ComputeHash digests every field except EntryHash.
func (e Entry) ComputeHash(alg canonicalize.Algorithm) (string, error) {
	b, err := canonicalize.JCS(hashableEntry{
		Sequence:     e.Sequence,
		Type:         e.Type,
		Timestamp:    e.Timestamp,
		PreviousHash: e.PreviousHash,
		Payload:      e.Payload,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalize entry %d: %w", e.Sequence, err)
	}
	return alg.Sum(b), nil
}

// Time parses the entry timestamp.
func (e Entry) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.Timestamp)
}

// DecodePayload unmarshals the payload into v.
func (e Entry) DecodePayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// marshalLine renders the entry as one canonical line with trailing newline.
func (e Entry) marshalLine() ([]byte, error) {
	b, err := canonicalize.JCS(e)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
