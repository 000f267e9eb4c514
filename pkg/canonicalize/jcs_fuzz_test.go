package canonicalize

import (
	"bytes"
	"encoding/json"
	"testing"
)

// FuzzJCS_Idempotent checks that canonical output is a fixed point: canonicalizing
// it again yields the same bytes and therefore the same evidence hash.
func FuzzJCS_Idempotent(f *testing.F) {
	f.Add([]byte(`{"invariant_id":"INV-001","status":"PASS","severity":"CRITICAL"}`))
	f.Add([]byte(`{"evidence":{"ledger_exists":true,"ledger_path":"/var/lib/govkernel/ledger.ndjson"}}`))
	f.Add([]byte(`{"reason":"<script>alert(1)</script> & more","seq":12}`))
	f.Add([]byte(`{"num":1e21,"small":1e-7,"neg":-0}`))
	f.Add([]byte(`{"nested":[{"b":2,"a":1},[3,1,2]]}`))
	f.Add([]byte(`{"unicode":"これは","emoji":"🚨","":""}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			t.Skip()
		}
		first, err := JCS(v)
		if err != nil {
			return
		}

		var again interface{}
		if err := json.Unmarshal(first, &again); err != nil {
			t.Fatalf("canonical output is not JSON: %s", first)
		}
		second, err := JCS(again)
		if err != nil {
			t.Fatalf("canonical output rejected on second pass: %v", err)
		}
		if !bytes.Equal(first, second) {
			t.Fatalf("not a fixed point:\n  first:  %s\n  second: %s", first, second)
		}
	})
}

// FuzzDigest checks that both ledger algorithms are deterministic and hex encoded.
func FuzzDigest(f *testing.F) {
	f.Add([]byte(""))
	f.Add([]byte("genesis"))
	f.Add([]byte(`{"previous_hash":"0000"}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		for _, alg := range []Algorithm{SHA256, SHA3256} {
			a, b := alg.Sum(data), alg.Sum(data)
			if a != b {
				t.Fatalf("%s not deterministic", alg)
			}
			if len(a) != 64 {
				t.Fatalf("%s digest length %d", alg, len(a))
			}
		}
	})
}
