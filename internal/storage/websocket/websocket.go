package websocket

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/resourceflow/flowsim/internal/config"
	"github.com/resourceflow/flowsim/pkg/core"
	"github.com/resourceflow/flowsim/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	config.WebSocketConfig
	Secret string
	Logger *slog.Logger
}

// Backend streams a run over WebSocket to a remote collector.
// Vessel IDs are assigned locally since there is no database round trip.
type Backend struct {
	link         *link
	cfg          Config
	nextVesselID atomic.Uint64

	mu    sync.Mutex
	runID uint
}

// New creates a new WebSocket storage backend.
func New(cfg Config) *Backend {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		link: newLink(logger, cfg.DialTimeout),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.link.open(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.link.close()
}

// sendEnvelope queues the envelope without waiting for the collector.
func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := streaming.Marshal(msgType, payload)
	if err != nil {
		return err
	}
	b.link.send(data)
	return nil
}

func (b *Backend) await(data []byte, msgType string) error {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	return b.link.request(ctx, data, msgType)
}

// StartRun sends the run description and waits for server ack.
func (b *Backend) StartRun(run *core.Run) error {
	data, err := streaming.Marshal(streaming.TypeStartRun, streaming.StartRunPayload{Run: run})
	if err != nil {
		return err
	}

	b.link.resetHandshake(data)

	b.mu.Lock()
	b.runID = run.ID
	b.mu.Unlock()
	b.nextVesselID.Store(0)

	return b.await(data, streaming.TypeStartRun)
}

// EndRun sends end_run and waits for server ack.
func (b *Backend) EndRun() error {
	data, err := streaming.Marshal(streaming.TypeEndRun, nil)
	if err != nil {
		return err
	}
	err = b.await(data, streaming.TypeEndRun)
	b.link.resetHandshake(nil)
	return err
}

// AddVessel assigns an auto-increment ID and sends the vessel. The frame
// joins the handshake replayed after a reconnect.
func (b *Backend) AddVessel(v *core.Vessel) error {
	v.ID = uint(b.nextVesselID.Add(1))
	b.mu.Lock()
	v.RunID = b.runID
	b.mu.Unlock()

	data, err := streaming.Marshal(streaming.TypeAddVessel, v)
	if err != nil {
		return err
	}
	b.link.remember(data)
	b.link.send(data)
	return nil
}

func (b *Backend) RecordTankState(s *core.TankState) error {
	return b.sendEnvelope(streaming.TypeTankState, s)
}

func (b *Backend) RecordPipeFlow(f *core.PipeFlow) error {
	return b.sendEnvelope(streaming.TypePipeFlow, f)
}

func (b *Backend) RecordPerformance(p *core.Performance) error {
	return b.sendEnvelope(streaming.TypePerformance, p)
}

// QueueDepth is the number of messages waiting to be written.
func (b *Backend) QueueDepth() int {
	return b.link.pending()
}

// Dropped is the number of messages discarded because the send buffer was full.
func (b *Backend) Dropped() uint64 {
	return b.link.dropped.Load()
}
