// Package worker turns simulation ticks into storage records and telemetry
// points. The Recorder is registered as a simulation observer; it only
// queues reports on the ticking goroutine and writes them from its own.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/resourceflow/flowsim/internal/cache"
	"github.com/resourceflow/flowsim/internal/flow"
	"github.com/resourceflow/flowsim/internal/influx"
	"github.com/resourceflow/flowsim/internal/model/convert"
	"github.com/resourceflow/flowsim/internal/queue"
	"github.com/resourceflow/flowsim/internal/session"
	"github.com/resourceflow/flowsim/internal/simulation"
	"github.com/resourceflow/flowsim/internal/storage"
	"github.com/resourceflow/flowsim/pkg/core"
)

// ErrNoRun is returned by EndRun when no run was started.
var ErrNoRun = errors.New("no run in progress")

// Uploader sends an exported run file somewhere once the run ends.
type Uploader interface {
	Upload(ctx context.Context, filePath string, meta core.UploadMetadata) error
}

// Dependencies holds all dependencies for the recorder
type Dependencies struct {
	Backend     storage.Backend
	Influx      *influx.Manager // optional
	Uploader    Uploader        // optional, needs a storage.Exportable backend
	UploadTag   string
	Session     *session.Session
	VesselCache *cache.VesselCache
	Logger      *slog.Logger
	RecordEvery int // keep every n-th tick, <= 1 keeps all
	QueueLimit  int // reports waiting to be written, 0 = unbounded
}

// Recorder writes tick reports to the storage backend.
type Recorder struct {
	deps    Dependencies
	reports *queue.Queue[simulation.TickReport]
	wake    chan struct{}

	mu        sync.Mutex
	recording bool
	vessels   map[string]core.Vessel
	order     []string

	drainMu sync.Mutex
	stop    chan struct{}
	done    chan struct{}

	lastTick     atomic.Uint64
	lastDuration atomic.Int64
	tickErrors   atomic.Uint64
}

// NewRecorder creates a recorder. Call Start to write in the background or
// Drain to write synchronously.
func NewRecorder(deps Dependencies) *Recorder {
	if deps.Session == nil {
		deps.Session = session.New()
	}
	if deps.VesselCache == nil {
		deps.VesselCache = cache.NewVesselCache()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Recorder{
		deps:    deps,
		reports: queue.NewBounded[simulation.TickReport](deps.QueueLimit),
		wake:    make(chan struct{}, 1),
		vessels: make(map[string]core.Vessel),
	}
}

// Observe is a simulation.Observer.
func (r *Recorder) Observe(_ context.Context, rep simulation.TickReport) {
	r.deps.Session.SetTick(rep.Tick, rep.Time)
	r.lastTick.Store(rep.Tick)
	r.lastDuration.Store(int64(rep.Duration))
	if rep.Err != nil {
		r.tickErrors.Add(1)
	}

	if !r.Recording() {
		return
	}
	if every := uint64(r.deps.RecordEvery); every > 1 && rep.Tick%every != 0 {
		return
	}
	if dropped := r.reports.Push(rep); dropped > 0 {
		r.deps.Logger.Warn("recorder queue full, dropped oldest reports", "dropped", dropped)
	}
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start launches the background writer.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(r.stop, r.done)
}

// Stop halts the background writer and writes what is still queued.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done = nil, nil
	r.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return r.Drain()
}

func (r *Recorder) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-r.wake:
			if err := r.Drain(); err != nil {
				r.deps.Logger.Error("failed to record tick", "error", err)
			}
		}
	}
}

// Drain writes every queued report.
func (r *Recorder) Drain() error {
	r.drainMu.Lock()
	defer r.drainMu.Unlock()

	var errs []error
	for _, rep := range r.reports.Drain() {
		if err := r.record(rep); err != nil {
			errs = append(errs, fmt.Errorf("tick %d: %w", rep.Tick, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Recorder) record(rep simulation.TickReport) error {
	start := r.deps.Session.Run().StartTime
	ts := convert.SimTime(start, rep.Time)

	var errs []error
	for _, res := range rep.Results {
		id, ok := r.deps.VesselCache.Get(res.VesselID)
		if !ok {
			r.deps.Logger.Debug("vessel not registered with storage", "vessel", res.VesselID)
			continue
		}
		for _, s := range res.Tanks {
			state := TankState(res.VesselID, id, rep.Tick, rep.Time, s)
			if err := r.deps.Backend.RecordTankState(&state); err != nil {
				errs = append(errs, err)
			}
			r.writePoint(influx.BucketState, influx.TankPoint(state, ts))
		}
		for _, f := range res.Flows {
			pf := PipeFlow(res.VesselID, id, rep.Tick, rep.Time, f)
			if err := r.deps.Backend.RecordPipeFlow(&pf); err != nil {
				errs = append(errs, err)
			}
			r.writePoint(influx.BucketState, influx.PipePoint(pf, ts))
		}
	}
	return errors.Join(errs...)
}

// RecordPerformance stores a performance sample with the backend and influx.
func (r *Recorder) RecordPerformance(p core.Performance) error {
	if !r.Recording() {
		return nil
	}
	r.writePoint(influx.BucketPerformance, influx.PerformancePoint(p))
	return r.deps.Backend.RecordPerformance(&p)
}

func (r *Recorder) writePoint(bucket string, p *write.Point) {
	if r.deps.Influx == nil {
		return
	}
	if err := r.deps.Influx.WritePoint(bucket, p); err != nil {
		r.deps.Logger.Debug("failed to write influx point", "bucket", bucket, "error", err)
	}
}

// StartRun begins a run and registers every known vessel with the backend.
func (r *Recorder) StartRun(run *core.Run) error {
	if err := r.Drain(); err != nil {
		r.deps.Logger.Error("failed to record ticks of previous run", "error", err)
	}
	if err := r.deps.Backend.StartRun(run); err != nil {
		return fmt.Errorf("failed to start run %s: %w", run.Name, err)
	}
	r.deps.Session.SetRun(run)
	r.deps.VesselCache.Reset()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = true
	for _, id := range r.order {
		v := r.vessels[id]
		if err := r.addVessel(&v); err != nil {
			return err
		}
		r.vessels[id] = v
	}
	r.deps.Logger.Info("run started", "name", run.Name, "vessels", len(r.order))
	return nil
}

// EndRun writes everything queued and closes the run with the backend.
func (r *Recorder) EndRun() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return ErrNoRun
	}
	r.recording = false
	r.mu.Unlock()

	drainErr := r.Drain()
	if err := r.deps.Backend.EndRun(); err != nil {
		return errors.Join(drainErr, fmt.Errorf("failed to end run: %w", err))
	}

	exp, ok := r.deps.Backend.(storage.Exportable)
	if !ok {
		return drainErr
	}
	summary := exp.ExportSummary()
	path := exp.ExportedFilePath()
	r.deps.Logger.Info("run exported",
		"path", path,
		"ticks", summary.Ticks,
		"duration", summary.Duration,
		"vessels", summary.Vessels)

	if r.deps.Uploader == nil || path == "" {
		return drainErr
	}
	err := r.deps.Uploader.Upload(context.Background(), path, core.UploadMetadata{
		RunName:  summary.RunName,
		Ticks:    summary.Ticks,
		Duration: summary.Duration,
		Vessels:  summary.Vessels,
		Tag:      r.deps.UploadTag,
	})
	if err != nil {
		return errors.Join(drainErr, fmt.Errorf("failed to upload %s: %w", path, err))
	}
	r.deps.Logger.Info("run uploaded", "path", path)
	return drainErr
}

// Recording reports whether a run is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// AddVessel remembers the network's static description and registers it
// with the backend when a run is in progress. A vessel loaded again replaces
// its earlier description.
func (r *Recorder) AddVessel(net *flow.Network, source string) error {
	v := VesselInfo(net, source)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.vessels[v.VesselID]; !ok {
		r.order = append(r.order, v.VesselID)
	}
	if r.recording {
		if err := r.addVessel(&v); err != nil {
			return err
		}
	}
	r.vessels[v.VesselID] = v
	return nil
}

func (r *Recorder) addVessel(v *core.Vessel) error {
	v.ID, v.RunID = 0, 0
	v.AddedAt = time.Now()
	if err := r.deps.Backend.AddVessel(v); err != nil {
		return fmt.Errorf("failed to add vessel %s: %w", v.VesselID, err)
	}
	r.deps.VesselCache.Set(v.VesselID, v.ID)
	return nil
}

// RemoveVessel forgets a vessel. Its recorded history stays in storage.
func (r *Recorder) RemoveVessel(vesselID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.vessels, vesselID)
	for i, id := range r.order {
		if id == vesselID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.deps.VesselCache.Delete(vesselID)
}

// Vessel returns the stored description of a vessel.
func (r *Recorder) Vessel(vesselID string) (core.Vessel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vessels[vesselID]
	return v, ok
}

// QueueDepth counts reports waiting here plus records buffered by the backend.
func (r *Recorder) QueueDepth() int {
	n := r.reports.Len()
	if q, ok := r.deps.Backend.(storage.QueueReporter); ok {
		n += q.QueueDepth()
	}
	return n
}

// Dropped counts reports and records discarded because a queue was full.
func (r *Recorder) Dropped() uint64 {
	n := r.reports.Dropped()
	if q, ok := r.deps.Backend.(storage.QueueReporter); ok {
		n += q.Dropped()
	}
	return n
}

// LastTick returns the last observed tick and its wall time.
func (r *Recorder) LastTick() (uint64, time.Duration) {
	return r.lastTick.Load(), time.Duration(r.lastDuration.Load())
}

// TickErrors counts ticks in which at least one network failed.
func (r *Recorder) TickErrors() uint64 {
	return r.tickErrors.Load()
}
