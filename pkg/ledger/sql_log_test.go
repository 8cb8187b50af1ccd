package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/credledger/pkg/canonicalize"
)

func TestSQLLog_SQLiteRoundTrip(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	store := NewSQLLog(db, DialectSQLite)
	require.NoError(t, store.Init(ctx))

	l, err := Open(ctx, store)
	require.NoError(t, err)
	first, err := l.Append(ctx, ActionIssue, issueToken(t, "u1", "m1", 0))
	require.NoError(t, err)
	_, err = l.Append(ctx, ActionIssue, issueToken(t, "u2", "m1", time.Hour))
	require.NoError(t, err)

	reopened, err := Open(ctx, store)
	require.NoError(t, err)
	require.Equal(t, 2, reopened.Len())
	assert.Equal(t, l.Head(), reopened.Head())

	got := reopened.Entries()[0]
	assert.Equal(t, first.BlockID, got.BlockID)
	assert.Equal(t, first.BlockDigest, got.BlockDigest)
	assert.Equal(t, first.Token.StateDigest(), got.Token.StateDigest())

	// The table is keyed by sequence number; a second writer cannot reuse one.
	err = store.Write(ctx, first)
	assert.Error(t, err)
}

func TestSQLLog_PostgresInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	tok := issueToken(t, "u1", "m1", 0)
	mock.ExpectQuery("SELECT sequence_number").
		WillReturnRows(sqlmock.NewRows([]string{"sequence_number", "block_id", "action", "token_snapshot", "previous_block_digest", "block_digest"}))
	mock.ExpectExec(`INSERT INTO ledger_entries .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8\)`).
		WithArgs(int64(0), sqlmock.AnyArg(), "issue", "u1", tok.ID(), sqlmock.AnyArg(), canonicalize.Genesis.String(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	l, err := Open(context.Background(), NewSQLLog(db, DialectPostgres))
	require.NoError(t, err)
	_, err = l.Append(context.Background(), ActionIssue, tok)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLog_PostgresInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT sequence_number").
		WillReturnRows(sqlmock.NewRows([]string{"sequence_number", "block_id", "action", "token_snapshot", "previous_block_digest", "block_digest"}))
	mock.ExpectExec("INSERT INTO ledger_entries").WillReturnError(sql.ErrConnDone)

	l, err := Open(context.Background(), NewSQLLog(db, DialectPostgres))
	require.NoError(t, err)
	_, err = l.Append(context.Background(), ActionIssue, issueToken(t, "u1", "m1", 0))
	assert.ErrorIs(t, err, ErrAppendFailed)
	assert.Equal(t, 0, l.Len())
}

func TestSQLLog_PostgresLoad(t *testing.T) {
	source := New()
	e, err := source.Append(context.Background(), ActionIssue, issueToken(t, "u1", "m1", 0))
	require.NoError(t, err)
	snapshot, err := json.Marshal(e.Token)
	require.NoError(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT sequence_number, block_id, action, token_snapshot, previous_block_digest, block_digest").
		WillReturnRows(sqlmock.NewRows([]string{"sequence_number", "block_id", "action", "token_snapshot", "previous_block_digest", "block_digest"}).
			AddRow(int64(0), e.BlockID, "issue", string(snapshot), e.PreviousDigest.String(), e.BlockDigest.String()))

	l, err := Open(context.Background(), NewSQLLog(db, DialectPostgres))
	require.NoError(t, err)
	require.Equal(t, 1, l.Len())
	assert.Equal(t, e.BlockDigest, l.Head())
	assert.NoError(t, mock.ExpectationsWereMet())
}
