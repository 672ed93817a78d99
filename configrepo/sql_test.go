package configrepo

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLMock(t *testing.T, opts ...SQLOption) (*SQL, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS module_properties").WillReturnResult(sqlmock.NewResult(0, 0))
	repo, err := NewSQL(context.Background(), db, opts...)
	require.NoError(t, err)
	return repo, mock
}

func TestSQL_Get(t *testing.T) {
	repo, mock := newSQLMock(t)

	mock.ExpectQuery(`SELECT properties FROM module_properties WHERE module_id = \?`).
		WithArgs("billing").
		WillReturnRows(sqlmock.NewRows([]string{"properties"}).AddRow(`{"currency":"EUR","retries":3}`))

	props, err := repo.Get(context.Background(), "Billing")
	require.NoError(t, err)
	assert.Equal(t, "EUR", props["currency"])
	assert.InDelta(t, 3.0, props["retries"], 0)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_GetMissing(t *testing.T) {
	repo, mock := newSQLMock(t)

	mock.ExpectQuery("SELECT properties FROM module_properties").
		WithArgs("auth").
		WillReturnError(sql.ErrNoRows)

	props, err := repo.Get(context.Background(), "auth")
	require.NoError(t, err)
	assert.Empty(t, props)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_SaveUpserts(t *testing.T) {
	repo, mock := newSQLMock(t)

	mock.ExpectExec("INSERT INTO module_properties .* ON CONFLICT \\(module_id\\) DO UPDATE").
		WithArgs("auth", `{"issuer":"acme"}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Save(context.Background(), "auth", map[string]any{"issuer": "acme"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_Delete(t *testing.T) {
	repo, mock := newSQLMock(t)

	mock.ExpectExec("DELETE FROM module_properties WHERE module_id").
		WithArgs("auth").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM module_properties WHERE module_id").
		WithArgs("auth").
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := repo.Delete(context.Background(), "auth")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.Delete(context.Background(), "auth")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var errConnectionReset = errors.New("connection reset")

func TestSQL_QueryError(t *testing.T) {
	repo, mock := newSQLMock(t)

	mock.ExpectQuery("SELECT properties").WillReturnError(errConnectionReset)

	_, err := repo.Get(context.Background(), "auth")
	require.ErrorIs(t, err, errConnectionReset)
}

func TestSQL_DollarPlaceholders(t *testing.T) {
	repo, mock := newSQLMock(t, WithDollarPlaceholders())

	mock.ExpectQuery(`SELECT properties FROM module_properties WHERE module_id = \$1`).
		WithArgs("auth").
		WillReturnRows(sqlmock.NewRows([]string{"properties"}).AddRow(`{}`))

	_, err := repo.Get(context.Background(), "auth")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_InvalidTable(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewSQL(context.Background(), db, WithTable("props; DROP TABLE x"))
	require.ErrorIs(t, err, ErrInvalidTableName)
}
