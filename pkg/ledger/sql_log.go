package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/credledger/pkg/canonicalize"

	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax and column types.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLLog stores entries in an insert-only table keyed by sequence number.
// No UPDATE or DELETE is ever issued against it.
type SQLLog struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLLog(db *sql.DB, dialect Dialect) *SQLLog {
	return &SQLLog{db: db, dialect: dialect}
}

const entriesSchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	sequence_number BIGINT PRIMARY KEY,
	block_id TEXT NOT NULL UNIQUE,
	action TEXT NOT NULL,
	user_id TEXT NOT NULL,
	token_id TEXT NOT NULL,
	token_snapshot TEXT NOT NULL,
	previous_block_digest TEXT NOT NULL,
	block_digest TEXT NOT NULL
);
`

// Init creates the table if it does not exist.
func (s *SQLLog) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, entriesSchema)
	return err
}

func (s *SQLLog) insertQuery() string {
	if s.dialect == DialectPostgres {
		return `INSERT INTO ledger_entries (sequence_number, block_id, action, user_id, token_id, token_snapshot, previous_block_digest, block_digest)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	}
	return `INSERT INTO ledger_entries (sequence_number, block_id, action, user_id, token_id, token_snapshot, previous_block_digest, block_digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
}

func (s *SQLLog) Write(ctx context.Context, e Entry) error {
	snapshot, err := json.Marshal(e.Token)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.insertQuery(),
		int64(e.Sequence), e.BlockID, string(e.Action), e.Token.UserID(), e.Token.ID(),
		string(snapshot), e.PreviousDigest.String(), e.BlockDigest.String(),
	)
	return err
}

func (s *SQLLog) Load(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sequence_number, block_id, action, token_snapshot, previous_block_digest, block_digest
		FROM ledger_entries ORDER BY sequence_number ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e               Entry
			seq             int64
			action          string
			snapshot        string
			prevHex, blkHex string
		)
		if err := rows.Scan(&seq, &e.BlockID, &action, &snapshot, &prevHex, &blkHex); err != nil {
			return nil, err
		}
		e.Sequence = uint64(seq)
		e.Action = Action(action)
		if err := json.Unmarshal([]byte(snapshot), &e.Token); err != nil {
			return nil, fmt.Errorf("entry %d snapshot: %w", seq, err)
		}
		if e.PreviousDigest, err = canonicalize.ParseDigest(prevHex); err != nil {
			return nil, fmt.Errorf("entry %d previous digest: %w", seq, err)
		}
		if e.BlockDigest, err = canonicalize.ParseDigest(blkHex); err != nil {
			return nil, fmt.Errorf("entry %d block digest: %w", seq, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Close is a no-op; the caller owns the *sql.DB.
func (s *SQLLog) Close() error { return nil }
