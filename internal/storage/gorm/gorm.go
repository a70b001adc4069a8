// Package gormstorage implements the storage.Backend interface on top of GORM
// with internal queues and a background DB writer goroutine. The postgres and
// sqlite backends wrap it with their connection handling.
package gormstorage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/resourceflow/flowsim/internal/cache"
	"github.com/resourceflow/flowsim/internal/database"
	"github.com/resourceflow/flowsim/internal/model"
	"github.com/resourceflow/flowsim/internal/model/convert"
	"github.com/resourceflow/flowsim/internal/queue"
	"github.com/resourceflow/flowsim/pkg/core"
	"github.com/rs/zerolog"

	"gorm.io/gorm"
)

// DefaultFlushInterval is how often the writer drains the queues.
const DefaultFlushInterval = 2 * time.Second

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	VesselCache   *cache.VesselCache
	Logger        zerolog.Logger
	QueueLimit    int // per queue, 0 = unbounded
	FlushInterval time.Duration
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	TankStates   *queue.Queue[model.TankState]
	PipeFlows    *queue.Queue[model.PipeFlow]
	Performances *queue.Queue[model.Performance]
}

func newQueues(limit int) *queues {
	return &queues{
		TankStates:   queue.NewBounded[model.TankState](limit),
		PipeFlows:    queue.NewBounded[model.PipeFlow](limit),
		Performances: queue.NewBounded[model.Performance](limit),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps   Dependencies
	queues *queues

	mu       sync.RWMutex
	runID    uint
	runStart time.Time

	writeMu  sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.VesselCache == nil {
		deps.VesselCache = cache.NewVesselCache()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	return &Backend{
		deps:   deps,
		queues: newQueues(deps.QueueLimit),
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init runs schema migration and starts the DB writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("gorm backend: no database connection")
	}
	if err := database.Migrate(b.deps.DB, b.deps.Logger); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writerLoop()
	return nil
}

// Close stops the DB writer goroutine and writes whatever is still queued.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		<-b.done
		b.stopChan = nil
	}
	return b.Flush()
}

// StartRun inserts the run row synchronously so its ID can stamp every
// following record.
func (b *Backend) StartRun(run *core.Run) error {
	gormRun := convert.CoreToRun(*run)
	gormRun.ID = 0
	if err := b.deps.DB.Create(&gormRun).Error; err != nil {
		return fmt.Errorf("failed to insert new run: %w", err)
	}
	run.ID = gormRun.ID

	b.mu.Lock()
	b.runID = gormRun.ID
	b.runStart = run.StartTime
	b.mu.Unlock()

	b.deps.VesselCache.Reset()
	b.deps.Logger.Info().Uint("run_id", run.ID).Str("name", run.Name).Msg("Run started")
	return nil
}

// EndRun writes the remaining queues and stamps the run's end time.
func (b *Backend) EndRun() error {
	runID, _ := b.current()
	if runID == 0 {
		return fmt.Errorf("no run in progress")
	}
	if err := b.Flush(); err != nil {
		return err
	}
	if err := b.deps.DB.Model(&model.Run{}).Where("id = ?", runID).Update("end_time", time.Now()).Error; err != nil {
		return fmt.Errorf("failed to close run %d: %w", runID, err)
	}

	b.mu.Lock()
	b.runID = 0
	b.mu.Unlock()
	return nil
}

// AddVessel inserts a vessel with its tank and pipe descriptions
// synchronously (not queued) because the recorder needs the ID immediately.
func (b *Backend) AddVessel(v *core.Vessel) error {
	runID, _ := b.current()
	gormObj := convert.CoreToVessel(*v)
	gormObj.ID = 0
	gormObj.RunID = runID
	if gormObj.AddedAt.IsZero() {
		gormObj.AddedAt = time.Now()
	}
	if err := b.deps.DB.Create(&gormObj).Error; err != nil {
		return fmt.Errorf("failed to insert vessel %s: %w", v.VesselID, err)
	}
	v.ID = gormObj.ID
	v.RunID = runID
	b.deps.VesselCache.Set(v.VesselID, v.ID)
	return nil
}

// RecordTankState converts and queues a tank state.
func (b *Backend) RecordTankState(s *core.TankState) error {
	runID, start := b.current()
	b.queues.TankStates.Push(convert.CoreToTankState(*s, runID, start))
	return nil
}

// RecordPipeFlow converts and queues a pipe flow.
func (b *Backend) RecordPipeFlow(f *core.PipeFlow) error {
	runID, start := b.current()
	b.queues.PipeFlows.Push(convert.CoreToPipeFlow(*f, runID, start))
	return nil
}

// RecordPerformance converts and queues a performance sample.
func (b *Backend) RecordPerformance(p *core.Performance) error {
	runID, _ := b.current()
	b.queues.Performances.Push(convert.CoreToPerformance(*p, runID))
	return nil
}

// QueueDepth is the number of records waiting for the writer.
func (b *Backend) QueueDepth() int {
	return b.queues.TankStates.Len() + b.queues.PipeFlows.Len() + b.queues.Performances.Len()
}

// Dropped is the number of records discarded because a queue was full.
func (b *Backend) Dropped() uint64 {
	return b.queues.TankStates.Dropped() + b.queues.PipeFlows.Dropped() + b.queues.Performances.Dropped()
}

// Flush drains every queue into the database.
func (b *Backend) Flush() error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	log := b.deps.Logger
	db := b.deps.DB
	if db == nil {
		return nil
	}
	return errors.Join(
		writeQueue(db, b.queues.TankStates, "tank states", log),
		writeQueue(db, b.queues.PipeFlows, "pipe flows", log),
		writeQueue(db, b.queues.Performances, "performances", log),
	)
}

func (b *Backend) current() (uint, time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.runID, b.runStart
}

// writeQueue writes all items from a queue to the database in a transaction.
// On failure the items go back on the queue for the next cycle.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log zerolog.Logger) error {
	items := q.Drain()
	if len(items) == 0 {
		return nil
	}

	tx := db.Begin()
	if err := tx.Create(&items).Error; err != nil {
		log.Error().Err(err).Int("count", len(items)).Msgf("Error creating %s", name)
		tx.Rollback()
		q.Requeue(items)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tx.Commit().Error; err != nil {
		q.Requeue(items)
		return fmt.Errorf("committing %s: %w", name, err)
	}
	log.Trace().Int("count", len(items)).Msgf("Wrote %s", name)
	return nil
}

// writerLoop periodically drains queues into the DB.
func (b *Backend) writerLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.Flush(); err != nil {
				continue
			}
			b.deps.Logger.Trace().Dur("duration", time.Since(start)).Msg("DB write cycle complete")
		}
	}
}
