package migration

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count))
	return count == 1
}

func TestMigrator_EmbeddedSQLite(t *testing.T) {
	db := openSQLite(t)
	m, err := New(db, "sqlite", zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, m.Up())
	version, _, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.True(t, tableExists(t, db, "trade_records"))
	assert.True(t, tableExists(t, db, "cash_allocations"))

	require.NoError(t, m.Up(), "second up is a no-op")

	require.NoError(t, m.Steps(-1))
	version, _, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, tableExists(t, db, "cash_events"))

	require.NoError(t, m.GoTo(2))
	require.NoError(t, m.Down())
	assert.False(t, tableExists(t, db, "trade_records"))
}

func TestMigrator_Directory(t *testing.T) {
	dir := t.TempDir()
	mf, err := CreateMigration(dir, "create notes", "scratch table")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(mf.UpPath, []byte("CREATE TABLE notes (id INTEGER PRIMARY KEY);"), 0o644))
	require.NoError(t, os.WriteFile(mf.DownPath, []byte("DROP TABLE notes;"), 0o644))

	db := openSQLite(t)
	m, err := New(db, "sqlite", nil, WithDirectory(dir))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Up())
	assert.True(t, tableExists(t, db, "notes"))

	require.NoError(t, m.Force(1))
	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestMigrator_UnsupportedDriver(t *testing.T) {
	_, err := New(nil, "mysql", nil)
	assert.Error(t, err)
}
