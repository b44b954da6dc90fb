package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableColumns(t *testing.T, db *DB, table string) map[string]bool {
	t.Helper()
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	require.NoError(t, err)
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		cols[name] = true
	}
	require.NoError(t, rows.Err())
	return cols
}

func TestLatestMigrationVersion(t *testing.T) {
	v, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
}

func TestNewDB_MigratesToLatest(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)

	latest, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, latest, version)

	cols := tableColumns(t, db, "plate_detections")
	assert.True(t, cols["session_id"])
	assert.True(t, cols["confidence"])
}

func TestNewDB_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "plates.db")

	db, err := NewDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Second open finds nothing to migrate.
	db, err = NewDB(path)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, path, db.Path())
}

func TestMigrateDownAndUp(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version, "fresh database has no version")

	require.NoError(t, db.MigrateUp())
	require.NoError(t, db.MigrateDown())

	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, tableColumns(t, db, "plate_detections")["session_id"])

	require.NoError(t, db.MigrateUp())
	assert.True(t, tableColumns(t, db, "plate_detections")["session_id"])
}

func TestMigrateForce(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.MigrateForce(1))
	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}
