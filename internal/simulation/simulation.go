// Package simulation owns the set of live flow networks and advances them
// once per physics tick.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/resourceflow/flowsim/internal/flow"
)

// TickReport is what observers receive after every tick.
type TickReport struct {
	Tick     uint64
	Time     float64 // simulated seconds elapsed after this tick
	DT       float64
	Results  []flow.TickResult
	Duration time.Duration
	Err      error
}

// Observer is notified after each tick. Observers run synchronously on the
// ticking goroutine and must not call back into the Context.
type Observer func(ctx context.Context, r TickReport)

// Option configures a Context.
type Option func(*Context)

// Parallel solves up to n networks concurrently. Networks never share tanks,
// so the order between them does not matter; each network is still solved
// pipe by pipe.
func Parallel(n int) Option {
	return func(c *Context) {
		c.parallel = n
	}
}

// WithLogger sets the logger used for tick failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) {
		c.logger = l
	}
}

// Context holds the registered networks, keyed by vessel. At most one network
// is active per vessel.
type Context struct {
	mu        sync.Mutex
	networks  map[string]*flow.Network
	order     []string
	observers []Observer

	parallel int
	logger   *slog.Logger

	tick    uint64
	elapsed float64

	// OTEL metrics
	ticks         metric.Int64Counter
	solveErrors   metric.Int64Counter
	solveDuration metric.Float64Histogram
	registered    metric.Int64ObservableGauge
	callback      metric.Registration
}

// New creates an empty Context. Uses the global OTel meter for metrics
// (no-op if not configured).
func New(opts ...Option) (*Context, error) {
	c := &Context{
		networks: make(map[string]*flow.Network),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	m := meter()
	var err error

	c.ticks, err = m.Int64Counter(
		"simulation.ticks",
		metric.WithDescription("Total ticks advanced"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tick counter: %w", err)
	}

	c.solveErrors, err = m.Int64Counter(
		"simulation.solve.errors",
		metric.WithDescription("Network solves that failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating solve error counter: %w", err)
	}

	c.solveDuration, err = m.Float64Histogram(
		"simulation.solve.duration",
		metric.WithDescription("Wall time of one network solve"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating solve duration histogram: %w", err)
	}

	c.registered, err = m.Int64ObservableGauge(
		"simulation.networks",
		metric.WithDescription("Currently registered networks"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating networks gauge: %w", err)
	}

	c.callback, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(c.registered, int64(c.Len()))
			return nil
		},
		c.registered,
	)
	if err != nil {
		return nil, fmt.Errorf("registering networks callback: %w", err)
	}

	return c, nil
}

// Close detaches the Context from the meter. It is safe to call more than
// once.
func (c *Context) Close() error {
	c.mu.Lock()
	reg := c.callback
	c.callback = nil
	c.mu.Unlock()
	if reg == nil {
		return nil
	}
	return reg.Unregister()
}

// Register activates net. A network already registered for the same vessel
// is replaced in place and returned.
func (c *Context) Register(net *flow.Network) (replaced *flow.Network) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := net.VesselID()
	if old, ok := c.networks[id]; ok {
		c.networks[id] = net
		return old
	}
	c.networks[id] = net
	c.order = append(c.order, id)
	return nil
}

// Unregister removes net if it is the active network of its vessel.
// Unknown networks are ignored.
func (c *Context) Unregister(net *flow.Network) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := net.VesselID()
	if c.networks[id] != net {
		return false
	}
	c.remove(id)
	return true
}

// UnregisterVessel removes whatever network is active for the vessel.
func (c *Context) UnregisterVessel(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.networks[id]; !ok {
		return false
	}
	c.remove(id)
	return true
}

func (c *Context) remove(id string) {
	delete(c.networks, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Network returns the active network for a vessel.
func (c *Context) Network(id string) (*flow.Network, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.networks[id]
	return n, ok
}

// With runs fn on the vessel's network while holding the tick lock, so fn
// never races a solve.
func (c *Context) With(id string, fn func(*flow.Network) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.networks[id]
	if !ok {
		return fmt.Errorf("vessel %s: %w", id, ErrUnknownVessel)
	}
	return fn(n)
}

// Vessels lists registered vessel ids in registration order.
func (c *Context) Vessels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// Len returns the number of registered networks.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.networks)
}

// Elapsed returns the tick count and simulated time so far.
func (c *Context) Elapsed() (uint64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick, c.elapsed
}

// OnTick adds an observer.
func (c *Context) OnTick(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Tick solves every registered network once with step dt. A failing network
// does not stop the others; failures are joined into the returned error and
// the failing network's tanks are left untouched.
func (c *Context) Tick(ctx context.Context, dt float64) (TickReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return TickReport{}, err
	}

	start := time.Now()
	nets := make([]*flow.Network, len(c.order))
	for i, id := range c.order {
		nets[i] = c.networks[id]
	}

	results := make([]flow.TickResult, len(nets))
	errs := make([]error, len(nets))

	if c.parallel > 1 && len(nets) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.parallel)
		for i, n := range nets {
			i, n := i, n
			g.Go(func() error {
				results[i], errs[i] = c.solve(gctx, n, dt)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, n := range nets {
			results[i], errs[i] = c.solve(ctx, n, dt)
		}
	}

	c.tick++
	c.elapsed += dt

	report := TickReport{
		Tick:     c.tick,
		Time:     c.elapsed,
		DT:       dt,
		Results:  make([]flow.TickResult, 0, len(nets)),
		Duration: time.Since(start),
	}
	for i := range nets {
		if errs[i] == nil {
			report.Results = append(report.Results, results[i])
		}
	}
	report.Err = errors.Join(errs...)
	if report.Err != nil {
		c.logger.Error("tick failed", "tick", c.tick, "error", report.Err)
	}

	c.ticks.Add(ctx, 1)
	for _, o := range c.observers {
		o(ctx, report)
	}
	return report, report.Err
}

func (c *Context) solve(ctx context.Context, n *flow.Network, dt float64) (flow.TickResult, error) {
	attrs := metric.WithAttributes(attribute.String("vessel", n.VesselID()))
	start := time.Now()
	res, err := n.Solve(dt)
	c.solveDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		c.solveErrors.Add(ctx, 1, attrs)
	}
	return res, err
}
