package source

import (
	"context"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockLocal(t *testing.T, driver string) (*Local, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return &Local{
		db:      db,
		cfg:     LocalConfig{Driver: driver, PageSize: defaultLocalPageSize},
		logger:  slog.New(slog.DiscardHandler),
		cursors: make(map[string]*cursorState),
		jobs:    make(map[string]*localJob),
	}, mock
}

func TestLocal_UpdateRecord_StatementShape(t *testing.T) {
	l, mock := newMockLocal(t, "sqlite")

	// Field order in the statement is sorted, whatever the map order was.
	mock.ExpectExec(`UPDATE "account" SET "amount" = ?, "name" = ? WHERE id = ?`).
		WithArgs(99, "Globex Corp", "002").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := l.UpdateRecord(context.Background(), "account", "002",
		map[string]any{"name": "Globex Corp", "amount": 99})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocal_UpdateRecord_PostgresPlaceholders(t *testing.T) {
	l, mock := newMockLocal(t, "postgres")

	mock.ExpectExec(`UPDATE "account" SET "name" = $1 WHERE id = $2`).
		WithArgs("Acme Corp", "001").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := l.UpdateRecord(context.Background(), "account", "001",
		map[string]any{"name": "Acme Corp"})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocal_UpdateRecord_ZeroRowsAffected(t *testing.T) {
	l, mock := newMockLocal(t, "sqlite")

	mock.ExpectExec(`UPDATE "account" SET "name" = ? WHERE id = ?`).
		WithArgs("x", "999").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := l.UpdateRecord(context.Background(), "account", "999",
		map[string]any{"name": "x"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 999 not found")
}
