package database

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return &DB{SQL: sqlx.NewDb(raw, "postgres")}, mock
}

func TestRecordField_NewRow(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO audit_records")).
		WithArgs("messages:success", "3", "ts - body").
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))

	created, err := db.RecordField(context.Background(), "messages:success", "3", "ts - body")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordField_Overwrite(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (collection, field) DO UPDATE")).
		WithArgs("messages:success", "3", "ts - again").
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(false))

	created, err := db.RecordField(context.Background(), "messages:success", "3", "ts - again")
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordField_Error(t *testing.T) {
	db, mock := newMockDB(t)
	boom := errors.New("connection reset by peer")

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO audit_records")).WillReturnError(boom)

	_, err := db.RecordField(context.Background(), "c", "f", "v")
	assert.ErrorIs(t, err, boom)
}

func TestMigrate(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS audit_records")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, db.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
