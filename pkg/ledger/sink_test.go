package ledger

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func TestSQLMirror_Insert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	e := Entry{Sequence: 7, Type: TypeDaemonStart, Timestamp: "2026-03-01T12:00:00Z", PreviousHash: Genesis, Payload: []byte(`{"mode":"test"}`), EntryHash: "abc"}
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(int64(7), "DAEMON_START", e.Timestamp, Genesis, `{"mode":"test"}`, "abc").
		WillReturnResult(sqlmock.NewResult(7, 1))

	require.NoError(t, NewSQLMirror(db).Mirror(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMirror_InsertErrorWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO ledger_entries").WillReturnError(sql.ErrConnDone)
	err = NewSQLMirror(db).Mirror(context.Background(), Entry{Sequence: 1})
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestSQLMirror_SQLiteFollowsLedger(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer func() { _ = db.Close() }()

	mirror := NewSQLMirror(db)
	ctx := context.Background()
	require.NoError(t, mirror.Init(ctx))

	seq, head, err := mirror.Head(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)
	assert.Equal(t, Genesis, head)

	l := openTest(t, Options{Path: filepath.Join(t.TempDir(), "ledger.ndjson"), Sinks: []Sink{mirror}})
	_, err = l.AppendEvent(ctx, TypeDaemonStart, map[string]string{"mode": "test"})
	require.NoError(t, err)
	_, err = l.AppendBatch(ctx, sampleResults(t))
	require.NoError(t, err)

	seq, head, err = mirror.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
	assert.Equal(t, l.LastHash(), head)

	results, err := mirror.ByType(ctx, TypeInvariantResult)
	require.NoError(t, err)
	require.Len(t, results, 2)
	computed, err := results[1].ComputeHash(l.Algorithm())
	require.NoError(t, err)
	assert.Equal(t, results[1].EntryHash, computed)
}
