package main

import (
	"fmt"
	"log/slog"

	"github.com/resourceflow/flowsim/internal/config"
	"github.com/resourceflow/flowsim/internal/storage"
	gormstorage "github.com/resourceflow/flowsim/internal/storage/gorm"
	"github.com/resourceflow/flowsim/internal/storage/memory"
	pgstorage "github.com/resourceflow/flowsim/internal/storage/postgres"
	sqlitestorage "github.com/resourceflow/flowsim/internal/storage/sqlite"
	wsstorage "github.com/resourceflow/flowsim/internal/storage/websocket"
)

func createStorageBackend(storageCfg config.StorageConfig, deps gormstorage.Dependencies, logger *slog.Logger) (storage.Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch storageCfg.Type {
	case "postgres":
		backend, err := pgstorage.New(config.GetDBConfig(), deps)
		if err != nil {
			return nil, err
		}
		return backend, nil

	case "sqlite":
		backend, err := sqlitestorage.New(storageCfg.SQLite, deps)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		return backend, nil

	case "websocket":
		logger.Info("WebSocket storage backend selected", "url", storageCfg.WebSocket.URL)
		return wsstorage.New(wsstorage.Config{
			WebSocketConfig: storageCfg.WebSocket,
			Secret:          config.GetString("storage.websocket.secret"),
			Logger:          logger,
		}), nil

	case "memory", "":
		return memory.New(storageCfg.Memory), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", storageCfg.Type)
	}
}
