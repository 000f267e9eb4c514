package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Sink receives every entry after it is durably appended. Mirror errors are
// logged by the ledger and never roll back the append.
type Sink interface {
	Mirror(ctx context.Context, e Entry) error
}

// SQLMirror copies entries into a relational table for querying. It works with
// Postgres (lib/pq) and SQLite (modernc.org/sqlite) through database/sql.
type SQLMirror struct {
	db *sql.DB
}

func NewSQLMirror(db *sql.DB) *SQLMirror {
	return &SQLMirror{db: db}
}

const mirrorSchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	sequence BIGINT PRIMARY KEY,
	type TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	previous_hash TEXT NOT NULL,
	payload TEXT NOT NULL,
	entry_hash TEXT NOT NULL UNIQUE
);
`

// Init creates the mirror table.
func (m *SQLMirror) Init(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, mirrorSchema)
	return err
}

// Mirror implements Sink.
func (m *SQLMirror) Mirror(ctx context.Context, e Entry) error {
	query := `
		INSERT INTO ledger_entries (sequence, type, timestamp, previous_hash, payload, entry_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := m.db.ExecContext(ctx, query,
		int64(e.Sequence), string(e.Type), e.Timestamp, e.PreviousHash, string(e.Payload), e.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("mirror entry %d: %w", e.Sequence, err)
	}
	return nil
}

// Head returns the highest mirrored sequence and its hash. An empty mirror returns
// zero and Genesis.
func (m *SQLMirror) Head(ctx context.Context) (uint64, string, error) {
	row := m.db.QueryRowContext(ctx, `SELECT sequence, entry_hash FROM ledger_entries ORDER BY sequence DESC LIMIT 1`)
	var seq int64
	var hash string
	if err := row.Scan(&seq, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, Genesis, nil
		}
		return 0, "", err
	}
	return uint64(seq), hash, nil
}

// ByType returns mirrored entries of one type in sequence order.
func (m *SQLMirror) ByType(ctx context.Context, typ EventType) ([]Entry, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT sequence, type, timestamp, previous_hash, payload, entry_hash FROM ledger_entries WHERE type = $1 ORDER BY sequence`,
		string(typ))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			seq     int64
			kind    string
			payload string
		)
		if err := rows.Scan(&seq, &kind, &e.Timestamp, &e.PreviousHash, &payload, &e.EntryHash); err != nil {
			return nil, err
		}
		e.Sequence = uint64(seq)
		e.Type = EventType(kind)
		e.Payload = []byte(payload)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
