package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return newPostgresStoreFromDB(sqlx.NewDb(db, "postgres"), nil), mock
}

func TestPostgresStore_Save(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_records")).
		WithArgs(SessionKey("0xabc"), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Save(ctx, SessionKey("0xabc"), testRecord{ID: "s1", Amount: 1000})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadFound(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockPostgres(t)

	rows := sqlmock.NewRows([]string{"value"}).
		AddRow([]byte(`{"id":"s1","amount":700}`))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM ledger_records WHERE key = $1")).
		WithArgs(SessionKey("0xabc")).
		WillReturnRows(rows)

	var got testRecord
	found, err := s.Load(ctx, SessionKey("0xabc"), &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(700), got.Amount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadAbsent(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM ledger_records WHERE key = $1")).
		WithArgs(SessionKey("0xmissing")).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	var got testRecord
	found, err := s.Load(ctx, SessionKey("0xmissing"), &got)
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadCorruptTreatedAsAbsent(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockPostgres(t)

	rows := sqlmock.NewRows([]string{"value"}).AddRow([]byte("{not json"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM ledger_records WHERE key = $1")).
		WithArgs("k").
		WillReturnRows(rows)

	var got testRecord
	found, err := s.Load(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Remove(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM ledger_records WHERE key = $1")).
		WithArgs("k").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Remove(ctx, "k"))
	require.NoError(t, mock.ExpectationsWereMet())
}
