package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	a, err := New(ctx, Config{})
	require.NoError(t, err)
	assert.Nil(t, a)

	_, err = New(ctx, Config{Type: TypeFS})
	assert.Error(t, err)

	a, err = New(ctx, Config{Type: TypeFS, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileArchiver{}, a)

	_, err = New(ctx, Config{Type: TypeS3})
	assert.ErrorContains(t, err, "bucket")

	_, err = New(ctx, Config{Type: TypeGCS})
	assert.ErrorContains(t, err, "bucket")

	_, err = New(ctx, Config{Type: "tape"})
	assert.ErrorContains(t, err, "unsupported")
}

func TestFileArchiver(t *testing.T) {
	src := filepath.Join(t.TempDir(), "ledger.000000000001.ndjson")
	require.NoError(t, os.WriteFile(src, []byte("{\"sequence\":1}\n"), 0o600))

	dest := filepath.Join(t.TempDir(), "archive")
	loc, err := NewFileArchiver(dest).Archive(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "ledger.000000000001.ndjson"), loc)

	got, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "{\"sequence\":1}\n", string(got))

	_, err = os.Stat(src)
	assert.NoError(t, err, "source segment stays in place")

	_, err = NewFileArchiver(dest).Archive(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
