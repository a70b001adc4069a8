// Package sqlitestorage implements the storage.Backend interface using an in-memory
// SQLite database with periodic disk dumps via VACUUM INTO.
// It wraps the GORM backend; the SQLite-specific parts are the in-memory
// connection, the dump loop and a final dump on EndRun.
package sqlitestorage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/resourceflow/flowsim/internal/config"
	"github.com/resourceflow/flowsim/internal/database"
	"github.com/resourceflow/flowsim/internal/storage"
	gormstorage "github.com/resourceflow/flowsim/internal/storage/gorm"
	"github.com/resourceflow/flowsim/pkg/core"

	"gorm.io/gorm"
)

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	db       *gorm.DB
	cfg      config.SQLiteConfig
	deps     gormstorage.Dependencies
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu       sync.Mutex
	dumpPath string
	run      core.Run
	vessels  int
	lastTick uint64
	lastTime float64
}

// New creates a new SQLite storage backend. deps.DB overrides the
// in-memory database.
func New(cfg config.SQLiteConfig, deps gormstorage.Dependencies) (*Backend, error) {
	db := deps.DB
	if db == nil {
		var err error
		db, err = database.GetSqliteDB("", deps.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
		}
		deps.DB = db
	}

	return &Backend{
		Backend:  gormstorage.New(deps),
		db:       db,
		cfg:      cfg,
		deps:     deps,
		stopChan: make(chan struct{}),
	}, nil
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.cfg.DumpInterval > 0 {
		b.wg.Add(1)
		go b.dumpLoop()
	}
	return nil
}

// Close stops the dump goroutine and closes the embedded GORM backend.
func (b *Backend) Close() error {
	close(b.stopChan)
	b.wg.Wait()
	return b.Backend.Close()
}

// StartRun records the run and picks the dump file for it.
func (b *Backend) StartRun(run *core.Run) error {
	if err := b.Backend.StartRun(run); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.run = *run
	b.vessels = 0
	b.lastTick, b.lastTime = 0, 0
	b.dumpPath = filepath.Join(b.cfg.OutputDir, storage.FileName(*run, ".db"))
	return os.MkdirAll(b.cfg.OutputDir, 0755)
}

// AddVessel counts vessels for the run summary.
func (b *Backend) AddVessel(v *core.Vessel) error {
	if err := b.Backend.AddVessel(v); err != nil {
		return err
	}
	b.mu.Lock()
	b.vessels++
	b.mu.Unlock()
	return nil
}

// RecordTankState tracks the last tick for the run summary.
func (b *Backend) RecordTankState(s *core.TankState) error {
	b.mu.Lock()
	if s.Tick > b.lastTick {
		b.lastTick, b.lastTime = s.Tick, s.Time
	}
	b.mu.Unlock()
	return b.Backend.RecordTankState(s)
}

// EndRun flushes the queues and writes the final dump.
func (b *Backend) EndRun() error {
	if err := b.Backend.EndRun(); err != nil {
		return err
	}
	return b.dump()
}

// ExportedFilePath returns the path of the last disk dump.
func (b *Backend) ExportedFilePath() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dumpPath
}

// ExportSummary describes the current or last run.
func (b *Backend) ExportSummary() core.RunSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return core.RunSummary{
		RunName:  b.run.Name,
		Ticks:    b.lastTick,
		Duration: b.lastTime,
		Vessels:  b.vessels,
	}
}

func (b *Backend) dump() error {
	path := b.ExportedFilePath()
	if path == "" {
		return nil
	}
	if err := b.Backend.Flush(); err != nil {
		return err
	}
	if err := database.DumpMemoryDBToDisk(b.db, path); err != nil {
		return err
	}
	return nil
}

// dumpLoop periodically dumps the in-memory SQLite database to disk via VACUUM INTO.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	log := b.deps.Logger
	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.dump(); err != nil {
				log.Error().Err(err).Msg("Error dumping to disk")
			} else {
				log.Debug().Dur("duration", time.Since(start)).Msg("Dumped to disk")
			}
		}
	}
}
