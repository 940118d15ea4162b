package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", checksum(nil))
	assert.NotEqual(t, checksum([]byte("ab")), checksum([]byte("ba")))
}

func TestRun_AppliesPendingInOrder(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_init.sql": "CREATE TABLE a (id INT);",
		"002_more.sql": "CREATE TABLE b (id INT);",
		"notes.txt":    "ignored",
	})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT filename, checksum FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"filename", "checksum"}).
			AddRow("001_init.sql", checksum([]byte("CREATE TABLE a (id INT);"))))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b (id INT);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs("002_more.sql", checksum([]byte("CREATE TABLE b (id INT);"))).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	m := &migrator{db: db, logger: zap.NewNop()}
	applied, err := m.Run(context.Background(), dir)

	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_RollsBackFailedFile(t *testing.T) {
	dir := writeMigrations(t, map[string]string{"001_init.sql": "BROKEN"})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT filename, checksum FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"filename", "checksum"}))
	mock.ExpectBegin()
	mock.ExpectExec("BROKEN").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	m := &migrator{db: db, logger: zap.NewNop()}
	applied, err := m.Run(context.Background(), dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_init.sql")
	assert.Equal(t, 0, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_EmptyDirectory(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))

	m := &migrator{db: db, logger: zap.NewNop()}
	applied, err := m.Run(context.Background(), t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, 0, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}
