// Package agent is the synchronization core of one session. It owns the
// registry, the coalescer, the snapshot poller and the expired flag, and
// runs them all on a single loop. The bulk device fetch, the push-event
// stream and the poll timer feed that loop from their own goroutines.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"sincroniza-dispositivos/internal/clock"
	"sincroniza-dispositivos/internal/coalesce"
	"sincroniza-dispositivos/internal/device"
	"sincroniza-dispositivos/internal/events"
	"sincroniza-dispositivos/internal/logging"
	"sincroniza-dispositivos/internal/loop"
	"sincroniza-dispositivos/internal/provision"
	"sincroniza-dispositivos/internal/reconcile"
	"sincroniza-dispositivos/internal/registry"
	"sincroniza-dispositivos/internal/snapshot"
)

// ErrExpired is returned by operations that need the server once the
// event stream has ended.
var ErrExpired = errors.New("session expired")

// API is the remote server.
type API interface {
	provision.API
	coalesce.Writer
	snapshot.Fetcher
	ClearDatastore(ctx context.Context, deviceID string) error
	PutDatastore(ctx context.Context, key string, v any) error
}

// Surface is where devices and the snapshot are shown and edited.
type Surface interface {
	registry.Renderer
	snapshot.Renderer
	coalesce.StateReader
	Set(deviceID string, p device.Property, args []string) error
	SetAll(value string) error
	MarkExpired()
	Print(w io.Writer) error
	PrintSnapshot(w io.Writer) error
}

type Options struct {
	API     API
	Source  events.Source
	Surface Surface
	Clock   clock.Clock
	Logger  *slog.Logger

	QuietPeriod  time.Duration
	PollInterval time.Duration
	RetryDelay   time.Duration
	RetryBudget  int
}

type Agent struct {
	api     API
	source  events.Source
	surface Surface
	clock   clock.Clock
	logger  *slog.Logger

	loop       *loop.Loop
	registry   *registry.Registry
	reconciler *reconcile.Reconciler
	coalescer  *coalesce.Coalescer
	poller     *snapshot.Poller
	provision  *provision.Provisioner

	expired atomic.Bool

	cycleMu     sync.Mutex
	cycleCancel context.CancelFunc
}

func New(opts Options) *Agent {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	logger := logging.OrDiscard(opts.Logger)
	a := &Agent{
		api:     opts.API,
		source:  opts.Source,
		surface: opts.Surface,
		clock:   opts.Clock,
		logger:  logger,
		loop:    loop.New(),
	}
	a.registry = registry.New(opts.Surface)
	a.reconciler = reconcile.New(a.registry, logger.With("component", "reconcile"))
	a.coalescer = coalesce.New(coalesce.Options{
		Clock:       opts.Clock,
		Executor:    a.loop,
		Reader:      opts.Surface,
		Writer:      opts.API,
		Logger:      logger.With("component", "coalesce"),
		QuietPeriod: opts.QuietPeriod,
	})
	a.poller = snapshot.NewPoller(snapshot.Options{
		Clock:    opts.Clock,
		Executor: a.loop,
		Fetcher:  opts.API,
		Renderer: opts.Surface,
		Logger:   logger.With("component", "snapshot"),
		Interval: opts.PollInterval,
		Expired:  a.Expired,
	})
	a.provision = provision.New(provision.Options{
		Clock:   opts.Clock,
		API:     opts.API,
		Logger:  logger.With("component", "provision"),
		Delay:   opts.RetryDelay,
		Budget:  opts.RetryBudget,
		Expired: a.Expired,
	})
	return a
}

// OnEdit is the surface's edit handler. It runs on the loop.
func (a *Agent) OnEdit(deviceID string, p device.Property) {
	a.coalescer.Edit(deviceID, p)
}

// Expired reports whether the event stream has ended.
func (a *Agent) Expired() bool { return a.expired.Load() }

// Run starts the session and blocks until ctx is done. An ended event
// stream expires the session but does not stop Run.
func (a *Agent) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.loop.Run(ctx) })
	g.Go(func() error {
		a.loadDevices(ctx)
		return nil
	})
	g.Go(func() error {
		a.stream(ctx)
		return nil
	})
	g.Go(func() error { return a.poller.Run(ctx) })

	err := g.Wait()
	a.StopCycle()
	a.coalescer.Close()
	a.poller.Close()
	a.loop.Wait()
	return err
}

func (a *Agent) loadDevices(ctx context.Context) {
	list, err := a.api.Devices(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Error("failed to fetch devices", "error", err)
		}
		return
	}
	a.loop.Post(func() { a.reconciler.Replace(list) })
}

func (a *Agent) stream(ctx context.Context) {
	err := a.source.Stream(ctx, func(payload []byte) {
		a.loop.Post(func() {
			a.reconciler.HandlePayload(payload)
			a.poller.Trigger()
		})
	})
	if !events.Terminal(err) {
		return
	}
	a.logger.Error("event stream ended, session expired", "error", err)
	a.expired.Store(true)
	a.loop.Post(a.surface.MarkExpired)
}

// Call runs f on the loop and waits for it.
func (a *Agent) Call(ctx context.Context, f func()) error {
	return a.loop.Call(ctx, f)
}

// Devices returns the registry contents in render order.
func (a *Agent) Devices(ctx context.Context) ([]device.Info, error) {
	var list []device.Info
	err := a.Call(ctx, func() { list = a.registry.All() })
	return list, err
}

// Set edits one property on the surface, as a user would.
func (a *Agent) Set(ctx context.Context, deviceID string, p device.Property, args []string) error {
	var setErr error
	if err := a.Call(ctx, func() { setErr = a.surface.Set(deviceID, p, args) }); err != nil {
		return err
	}
	return setErr
}

// SetAll switches every device on or off.
func (a *Agent) SetAll(ctx context.Context, value string) error {
	var setErr error
	if err := a.Call(ctx, func() { setErr = a.surface.SetAll(value) }); err != nil {
		return err
	}
	return setErr
}

// CreateDevice asks the server for a new device and replaces the
// registry once the device list changes size. Running out of retries is
// logged by the provisioner and is not an error here; the registry is
// left alone.
func (a *Agent) CreateDevice(ctx context.Context) error {
	if a.Expired() {
		return ErrExpired
	}
	var known int
	if err := a.Call(ctx, func() { known = a.registry.Len() }); err != nil {
		return err
	}
	list, err := a.provision.Create(ctx, known)
	if errors.Is(err, provision.ErrBudgetExhausted) {
		return nil
	}
	if err != nil {
		return err
	}
	return a.Call(ctx, func() { a.reconciler.Replace(list) })
}

// ClearDatastore deletes the datastore entries of deviceID and refreshes
// the snapshot without waiting for the poll interval.
func (a *Agent) ClearDatastore(ctx context.Context, deviceID string) error {
	if err := a.api.ClearDatastore(ctx, deviceID); err != nil {
		return fmt.Errorf("failed to clear datastore: %w", err)
	}
	return a.RefreshSnapshot(ctx)
}

// PutDatastore stores v under the current time.
func (a *Agent) PutDatastore(ctx context.Context, v any) (string, error) {
	key := snapshot.FormatISO(a.clock.Now())
	if err := a.api.PutDatastore(ctx, key, v); err != nil {
		return "", fmt.Errorf("failed to write datastore: %w", err)
	}
	return key, nil
}

// RefreshSnapshot starts a poll that ignores the interval.
func (a *Agent) RefreshSnapshot(ctx context.Context) error {
	if a.Expired() {
		return ErrExpired
	}
	return a.Call(ctx, func() { a.poller.Refresh() })
}

// Print writes the device cards to w.
func (a *Agent) Print(ctx context.Context, w io.Writer) error {
	var printErr error
	if err := a.Call(ctx, func() { printErr = a.surface.Print(w) }); err != nil {
		return err
	}
	return printErr
}

// PrintSnapshot writes the last snapshot to w.
func (a *Agent) PrintSnapshot(ctx context.Context, w io.Writer) error {
	var printErr error
	if err := a.Call(ctx, func() { printErr = a.surface.PrintSnapshot(w) }); err != nil {
		return err
	}
	return printErr
}

// StartCycle switches every device on, then off, then on again, every
// interval until StopCycle.
func (a *Agent) StartCycle(ctx context.Context, interval time.Duration) {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()
	if a.cycleCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cycleCancel = cancel

	go func() {
		on := true
		for {
			value := "off"
			if on {
				value = "on"
			}
			a.loop.Post(func() {
				if err := a.surface.SetAll(value); err != nil {
					a.logger.Warn("failed to toggle devices", "error", err)
				}
			})
			on = !on
			select {
			case <-ctx.Done():
				return
			case <-a.clock.After(interval):
			}
		}
	}()
}

// StopCycle stops a cycle started with StartCycle.
func (a *Agent) StopCycle() {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()
	if a.cycleCancel != nil {
		a.cycleCancel()
		a.cycleCancel = nil
	}
}
