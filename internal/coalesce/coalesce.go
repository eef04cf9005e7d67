// Package coalesce batches local property edits into one debounced
// PUT /device_state per device.
//
// Each device has at most one pending edit. A new edit stops the
// pending timer, adds its property to the dirty set and starts a fresh
// quiet period. When the period expires the current values of the
// dirty properties are read from the render surface, not from the
// registry, and sent in a single write.
//
// Edit and the flush both run on the session loop; only the write
// itself runs off it.
package coalesce

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"sincroniza-dispositivos/internal/clock"
	"sincroniza-dispositivos/internal/device"
	"sincroniza-dispositivos/internal/logging"
	"sincroniza-dispositivos/internal/loop"
)

// DefaultQuietPeriod is how long a device must go without edits before
// its pending changes are written.
const DefaultQuietPeriod = 300 * time.Millisecond

// StateReader reads the values currently shown for a device. ok is
// false when the device has no rendered card.
type StateReader interface {
	CurrentState(deviceID string) (state device.State, ok bool)
}

// Writer sends a partial state update.
type Writer interface {
	PutDeviceState(ctx context.Context, deviceID string, state device.State) error
}

type Options struct {
	Clock       clock.Clock
	Executor    loop.Executor
	Reader      StateReader
	Writer      Writer
	Logger      *slog.Logger
	QuietPeriod time.Duration
}

type pendingEdit struct {
	dirty []device.Property
	timer *clock.Timer
	seq   uint64
}

type Coalescer struct {
	clock  clock.Clock
	exec   loop.Executor
	reader StateReader
	writer Writer
	logger *slog.Logger
	quiet  time.Duration

	pending map[string]*pendingEdit
	seq     uint64

	ctx    context.Context
	cancel context.CancelFunc
}

func New(opts Options) *Coalescer {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Executor == nil {
		opts.Executor = loop.Inline{}
	}
	if opts.QuietPeriod <= 0 {
		opts.QuietPeriod = DefaultQuietPeriod
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coalescer{
		clock:   opts.Clock,
		exec:    opts.Executor,
		reader:  opts.Reader,
		writer:  opts.Writer,
		logger:  logging.OrDiscard(opts.Logger),
		quiet:   opts.QuietPeriod,
		pending: make(map[string]*pendingEdit),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Edit records that prop changed on deviceID and restarts the device's
// quiet period.
func (c *Coalescer) Edit(deviceID string, prop device.Property) {
	p, ok := c.pending[deviceID]
	if ok {
		p.timer.Stop()
	} else {
		p = &pendingEdit{}
		c.pending[deviceID] = p
	}
	if !slices.Contains(p.dirty, prop) {
		p.dirty = append(p.dirty, prop)
	}

	c.seq++
	seq := c.seq
	p.seq = seq
	p.timer = c.clock.AfterFunc(c.quiet, func() {
		c.exec.Post(func() { c.flush(deviceID, seq) })
	})
}

// Pending returns the dirty properties waiting for deviceID.
func (c *Coalescer) Pending(deviceID string) []device.Property {
	if p, ok := c.pending[deviceID]; ok {
		return slices.Clone(p.dirty)
	}
	return nil
}

// Close stops every pending timer and cancels in-flight writes.
// Pending edits are dropped.
func (c *Coalescer) Close() {
	for id, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, id)
	}
	c.cancel()
}

func (c *Coalescer) flush(deviceID string, seq uint64) {
	p, ok := c.pending[deviceID]
	if !ok || p.seq != seq {
		// A newer edit took over this device's timer after it fired.
		return
	}
	delete(c.pending, deviceID)

	current, ok := c.reader.CurrentState(deviceID)
	if !ok {
		c.logger.Warn("dropping edit for device without card", "device_id", deviceID, "properties", p.dirty)
		return
	}
	state := current.Select(p.dirty...)

	c.exec.Go(func() {
		if err := c.writer.PutDeviceState(c.ctx, deviceID, state); err != nil {
			c.logger.Error("Error making request", "device_id", deviceID, "properties", p.dirty, "error", err)
			return
		}
		c.logger.Debug("state update sent", "device_id", deviceID, "properties", p.dirty)
	})
}
