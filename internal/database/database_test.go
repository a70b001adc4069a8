package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/resourceflow/flowsim/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSqliteDB_FileAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	db, err := GetSqliteDB(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, Migrate(db, zerolog.Nop()))

	for _, m := range model.DatabaseModels {
		assert.True(t, db.Migrator().HasTable(m), "%T not migrated", m)
	}

	run := model.Run{Name: "probe"}
	require.NoError(t, db.Create(&run).Error)
	assert.NotZero(t, run.ID)
}

func TestDumpMemoryDBToDisk(t *testing.T) {
	dir := t.TempDir()
	db, err := GetSqliteDB(filepath.Join(dir, "source.db"), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, Migrate(db, zerolog.Nop()))
	require.NoError(t, db.Create(&model.Run{Name: "dumped"}).Error)

	target := filepath.Join(dir, "dump.db")
	// a stale file is replaced
	require.NoError(t, os.WriteFile(target, []byte("stale"), 0644))
	require.NoError(t, DumpMemoryDBToDisk(db, target))

	dumped, err := GetSqliteDB(target, zerolog.Nop())
	require.NoError(t, err)
	var run model.Run
	require.NoError(t, dumped.First(&run).Error)
	assert.Equal(t, "dumped", run.Name)
}

func TestDumpMemoryDBToDisk_NoPath(t *testing.T) {
	assert.Error(t, DumpMemoryDBToDisk(nil, ""))
}

func TestGetBackupDBPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.db"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), nil, 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "c.db"), 0755))

	paths, err := GetBackupDBPaths(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.db")}, paths)

	_, err = GetBackupDBPaths(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
