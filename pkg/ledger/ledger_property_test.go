//go:build property
// +build property

package ledger

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/govkernel/pkg/canonicalize"
)

// TestTamperAlwaysDetected flips one payload byte of one entry and expects the
// replay to break exactly there.
func TestTamperAlwaysDetected(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("single payload byte flip breaks the chain at that entry", prop.ForAll(
		func(n int, target int, offset int, mask uint8) bool {
			target = target % n
			path := filepath.Join(t.TempDir(), "ledger.ndjson")
			l, err := Open(Options{Path: path})
			if err != nil {
				return false
			}
			for i := 0; i < n; i++ {
				if _, err := l.AppendEvent(context.Background(), TypeOperationEvaluated,
					map[string]interface{}{"i": i, "op_class": "config_deploy", "reason": "allowed at severity info"}); err != nil {
					return false
				}
			}
			if err := l.Close(); err != nil {
				return false
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return false
			}
			lines := bytes.Split(bytes.TrimSuffix(data, []byte("\n")), []byte("\n"))
			line := lines[target]
			start := bytes.Index(line, []byte(`"payload":`)) + len(`"payload":`)
			end := bytes.Index(line, []byte(`,"previous_hash"`))
			pos := start + offset%(end-start)
			line[pos] ^= mask
			if err := os.WriteFile(path, append(bytes.Join(lines, []byte("\n")), '\n'), 0o600); err != nil {
				return false
			}

			v, err := VerifyFiles(context.Background(), path, canonicalize.SHA256)
			if err != nil {
				return false
			}
			return !v.Valid && v.BreakIndex == target
		},
		gen.IntRange(1, 8),
		gen.IntRange(0, 7),
		gen.IntRange(0, 1000),
		gen.UInt8Range(1, 255),
	))

	properties.TestingRun(t)
}

// TestVerifyIdempotent replays an untouched ledger twice.
func TestVerifyIdempotent(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("verification of an untouched ledger is stable", prop.ForAll(
		func(payloads []string) bool {
			path := filepath.Join(t.TempDir(), "ledger.ndjson")
			l, err := Open(Options{Path: path})
			if err != nil {
				return false
			}
			defer func() { _ = l.Close() }()
			for _, p := range payloads {
				if _, err := l.AppendEvent(context.Background(), TypeDaemonStart, map[string]string{"p": p}); err != nil {
					return false
				}
			}
			v1, err1 := l.VerifyChain(context.Background())
			v2, err2 := l.VerifyChain(context.Background())
			return err1 == nil && err2 == nil && v1 == v2 && v1.Valid && v1.Entries == len(payloads)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
