package canonicalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS_Sorting(t *testing.T) {
	b, err := JCS(map[string]interface{}{"c": 3, "a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":3}`, string(b))
}

func TestJCS_RecursiveSorting(t *testing.T) {
	input := map[string]interface{}{
		"z": map[string]interface{}{"y": "foo", "x": "bar"},
		"a": 1,
	}
	b, err := JCS(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"z":{"x":"bar","y":"foo"}}`, string(b))
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	b, err := JCS(map[string]string{"html": "<script>alert('xss')</script> &"})
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<script>alert('xss')</script> &"}`, string(b))
}

func TestJCS_NumberTypes(t *testing.T) {
	b, err := JCS(map[string]interface{}{"num": json.Number("123.456"), "whole": 4.0})
	require.NoError(t, err)
	assert.Equal(t, `{"num":123.456,"whole":4}`, string(b))
}

func TestCanonicalHash_Stability(t *testing.T) {
	type S struct {
		B int `json:"b"`
		A int `json:"a"`
	}
	h1, err := CanonicalHash(map[string]interface{}{"a": 1, "b": 2})
	require.NoError(t, err)
	h2, err := CanonicalHash(S{A: 1, B: 2})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestJCS_UnsupportedValue(t *testing.T) {
	_, err := JCS(map[string]interface{}{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, SHA256, a)

	a, err = ParseAlgorithm("SHA3-256")
	require.NoError(t, err)
	assert.Equal(t, SHA3256, a)

	_, err = ParseAlgorithm("md5")
	assert.Error(t, err)

	data := []byte("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", SHA256.Sum(data))
	assert.Equal(t, "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532", SHA3256.Sum(data))
	assert.Equal(t, SHA256.Sum(data), HashBytes(data))

	h := SHA3256.New()
	h.Write(data)
	assert.Len(t, h.Sum(nil), 32)
}
