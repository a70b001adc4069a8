package postgres

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/resourceflow/flowsim/internal/config"
	"github.com/resourceflow/flowsim/internal/database"
	"github.com/resourceflow/flowsim/internal/storage"
	gormstorage "github.com/resourceflow/flowsim/internal/storage/gorm"
	"github.com/resourceflow/flowsim/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ storage.Backend = (*Backend)(nil)

func TestNew_Unreachable(t *testing.T) {
	cfg := config.DBConfig{Host: "127.0.0.1", Port: "1", Username: "u", Password: "p", Database: "d"}
	_, err := New(cfg, gormstorage.Dependencies{Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestNew_InjectedDB(t *testing.T) {
	db, err := database.GetSqliteDB(filepath.Join(t.TempDir(), "pg.db"), zerolog.Nop())
	require.NoError(t, err)

	b, err := New(config.DBConfig{}, gormstorage.Dependencies{DB: db, Logger: zerolog.Nop(), FlushInterval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, b.Init())

	run := &core.Run{Name: "probe", StartTime: time.Now()}
	require.NoError(t, b.StartRun(run))
	assert.NotZero(t, run.ID)

	require.NoError(t, b.Close())
	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Error(t, sqlDB.Ping(), "pool is closed with the backend")
}
