package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Event is a single command line, e.g. ":TICK: 0.02".
type Event struct {
	Command   string
	Args      []string
	Timestamp time.Time
}

// ParseLine splits a whitespace separated command line into an Event.
// Blank lines and lines starting with '#' yield ok == false.
func ParseLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Event{}, false
	}
	fields := strings.Fields(line)
	return Event{
		Command:   strings.ToUpper(fields[0]),
		Args:      fields[1:],
		Timestamp: time.Now(),
	}, true
}

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(Event) (any, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered makes the handler async with a queue of the given size.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Stats counts what happened to one command since registration. Failures
// counts every error, including drops and errors from queued handlers.
type Stats struct {
	Calls    uint64 `json:"calls"`
	Failures uint64 `json:"failures"`
	Dropped  uint64 `json:"dropped"`
	Queued   int    `json:"queued"`
}

type counters struct {
	calls, failures, dropped atomic.Uint64
}

// Dispatcher routes events to registered handlers.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	stats    map[string]*counters
	logger   Logger

	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
	latency   metric.Float64Histogram

	mu      sync.RWMutex
	buffers map[string]chan Event
	workers sync.WaitGroup
	closed  bool
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		stats:    make(map[string]*counters),
		buffers:  make(map[string]chan Event),
		logger:   logger,
	}

	m := meter()

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of events in queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			for cmd, n := range d.QueueLengths() {
				o.ObserveInt64(d.queueSize, int64(n),
					metric.WithAttributes(attribute.String("command", cmd)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Total events processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"dispatcher.events.dropped",
		metric.WithDescription("Total events dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	d.latency, err = m.Float64Histogram(
		"dispatcher.event.duration",
		metric.WithDescription("Time spent in synchronous dispatch"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given command with optional configuration.
// Commands are matched case-insensitively.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	command = strings.ToUpper(command)
	c := &counters{}

	handler := h
	if cfg.bufferSize > 0 {
		handler = d.withBuffer(command, cfg.bufferSize, cfg.blocking, c, handler)
	}
	if cfg.logged {
		handler = d.withLogging(command, handler)
	}

	d.stats[command] = c
	d.handlers[command] = d.withStats(command, c, handler)
}

// Dispatch routes an event to its registered handler.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	h, ok := d.handlers[strings.ToUpper(e.Command)]
	if !ok {
		return nil, fmt.Errorf("unknown command: %s", e.Command)
	}
	return h(e)
}

// HasHandler returns true if a handler is registered for the command.
func (d *Dispatcher) HasHandler(command string) bool {
	_, ok := d.handlers[strings.ToUpper(command)]
	return ok
}

// Commands lists registered commands in sorted order.
func (d *Dispatcher) Commands() []string {
	out := make([]string, 0, len(d.handlers))
	for c := range d.handlers {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// QueueLengths reports the current depth of every buffered handler.
func (d *Dispatcher) QueueLengths() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]int, len(d.buffers))
	for cmd, buf := range d.buffers {
		out[cmd] = len(buf)
	}
	return out
}

// Stats reports per-command counters for every command that has been
// called at least once.
func (d *Dispatcher) Stats() map[string]Stats {
	queued := d.QueueLengths()
	out := make(map[string]Stats)
	for cmd, c := range d.stats {
		calls := c.calls.Load()
		if calls == 0 {
			continue
		}
		out[cmd] = Stats{
			Calls:    calls,
			Failures: c.failures.Load(),
			Dropped:  c.dropped.Load(),
			Queued:   queued[cmd],
		}
	}
	return out
}

// Close stops accepting buffered events and waits until every queued event
// has been handled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, buf := range d.buffers {
		close(buf)
	}
	d.mu.Unlock()
	d.workers.Wait()
}

func (d *Dispatcher) withStats(command string, c *counters, h HandlerFunc) HandlerFunc {
	cmdAttr := metric.WithAttributes(attribute.String("command", command))
	return func(e Event) (any, error) {
		c.calls.Add(1)
		start := time.Now()
		result, err := h(e)
		d.latency.Record(context.Background(), float64(time.Since(start))/float64(time.Millisecond), cmdAttr)
		if err != nil {
			c.failures.Add(1)
		}
		return result, err
	}
}

func (d *Dispatcher) withBuffer(command string, size int, blocking bool, c *counters, h HandlerFunc) HandlerFunc {
	buffer := make(chan Event, size)

	d.mu.Lock()
	d.buffers[command] = buffer
	d.mu.Unlock()

	cmdAttr := attribute.String("command", command)

	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		for e := range buffer {
			if _, err := h(e); err != nil {
				c.failures.Add(1)
				d.logger.Error("queued event failed", "command", command, "error", err)
			}
			d.processed.Add(context.Background(), 1, metric.WithAttributes(cmdAttr))
		}
	}()

	return func(e Event) (any, error) {
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.closed {
			return nil, fmt.Errorf("dispatcher closed: %s", command)
		}

		if blocking {
			buffer <- e
			return "queued", nil
		}
		select {
		case buffer <- e:
			return "queued", nil
		default:
			c.dropped.Add(1)
			d.dropped.Add(context.Background(), 1, metric.WithAttributes(cmdAttr))
			return nil, fmt.Errorf("queue full: %s", command)
		}
	}
}

func (d *Dispatcher) withLogging(command string, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling event", "command", command, "args", len(e.Args))

		result, err := h(e)

		if err != nil {
			d.logger.Error("event failed", "command", command, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "command", command, "duration", time.Since(start))
		}

		return result, err
	}
}
