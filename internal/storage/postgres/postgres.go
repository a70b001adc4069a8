// Package postgres implements the storage.Backend interface on a PostgreSQL
// database. Writes go through the queue-based GORM backend.
package postgres

import (
	"fmt"

	"github.com/resourceflow/flowsim/internal/config"
	"github.com/resourceflow/flowsim/internal/database"
	gormstorage "github.com/resourceflow/flowsim/internal/storage/gorm"
)

// Backend is the GORM backend bound to a postgres connection.
type Backend struct {
	*gormstorage.Backend
	cfg config.DBConfig
}

// New connects to postgres unless deps already carries a connection.
func New(cfg config.DBConfig, deps gormstorage.Dependencies) (*Backend, error) {
	if deps.DB == nil {
		db, err := database.GetPostgresDB(cfg, deps.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		deps.DB = db
	}

	return &Backend{
		Backend: gormstorage.New(deps),
		cfg:     cfg,
	}, nil
}

// Close stops the writer and releases the connection pool.
func (b *Backend) Close() error {
	err := b.Backend.Close()
	if sqlDB, dbErr := b.DB().DB(); dbErr == nil {
		if cerr := sqlDB.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
