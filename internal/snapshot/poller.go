package snapshot

import (
	"context"
	"log/slog"
	"time"

	"sincroniza-dispositivos/internal/clock"
	"sincroniza-dispositivos/internal/logging"
	"sincroniza-dispositivos/internal/loop"
)

// DefaultInterval is the minimum time between two successful polls.
const DefaultInterval = 15 * time.Second

// Fetcher returns the raw datastore document.
type Fetcher interface {
	Datastore(ctx context.Context) ([]byte, error)
}

// Renderer shows a transformed snapshot with its size label.
type Renderer interface {
	RenderSnapshot(blob Node, sizeLabel string) error
}

// Cache is the last successfully rendered snapshot. It is replaced
// whole on every successful poll.
type Cache struct {
	Blob      Node
	Size      int
	FetchedAt time.Time
}

type Options struct {
	Clock    clock.Clock
	Executor loop.Executor
	Fetcher  Fetcher
	Renderer Renderer
	Logger   *slog.Logger
	Interval time.Duration
	// Expired reports that the session is over; polling stops for good.
	// It is called from the Run goroutine.
	Expired func() bool
}

// Poller owns the snapshot cache. Trigger, Refresh and Snapshot run on
// the session loop; Run runs on its own goroutine and only posts.
type Poller struct {
	clock    clock.Clock
	exec     loop.Executor
	fetcher  Fetcher
	renderer Renderer
	logger   *slog.Logger
	interval time.Duration
	expired  func() bool

	lastSuccess time.Time
	inFlight    bool
	// refreshQueued asks for one more fetch once the in-flight one ends.
	refreshQueued bool
	cache         *Cache

	ctx    context.Context
	cancel context.CancelFunc
}

func NewPoller(opts Options) *Poller {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Executor == nil {
		opts.Executor = loop.Inline{}
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Expired == nil {
		opts.Expired = func() bool { return false }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		clock:    opts.Clock,
		exec:     opts.Executor,
		fetcher:  opts.Fetcher,
		renderer: opts.Renderer,
		logger:   logging.OrDiscard(opts.Logger),
		interval: opts.Interval,
		expired:  opts.Expired,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Trigger starts a poll unless one succeeded less than the interval
// ago, one is in flight, or the session expired. A failed poll leaves
// the gate open, so the next trigger fetches again.
func (p *Poller) Trigger() bool {
	if !p.lastSuccess.IsZero() && p.clock.Now().Sub(p.lastSuccess) < p.interval {
		return false
	}
	return p.start()
}

// Refresh starts a poll regardless of the interval. If a fetch is
// already in flight, it may predate whatever prompted the refresh, so
// another fetch is queued to run as soon as that one completes.
func (p *Poller) Refresh() bool {
	if p.inFlight && !p.expired() {
		p.refreshQueued = true
		return true
	}
	return p.start()
}

func (p *Poller) start() bool {
	if p.inFlight || p.expired() {
		return false
	}
	p.inFlight = true
	p.exec.Go(func() {
		data, err := p.fetcher.Datastore(p.ctx)
		p.exec.Post(func() { p.complete(data, err) })
	})
	return true
}

func (p *Poller) complete(data []byte, err error) {
	p.inFlight = false
	defer func() {
		if p.refreshQueued {
			p.refreshQueued = false
			p.start()
		}
	}()
	if err != nil {
		p.logger.Warn("error getting datastore", "error", err)
		return
	}

	size, err := CompactSize(data)
	if err != nil {
		p.logger.Warn("error getting datastore", "error", err)
		return
	}
	doc, err := Decode(data)
	if err != nil {
		p.logger.Warn("error getting datastore", "error", err)
		return
	}
	blob := Transform(doc, LogTimestamps)
	label := FormatSize(size)

	if err := p.renderer.RenderSnapshot(blob, label); err != nil {
		p.logger.Warn("error rendering datastore", "error", err)
		return
	}
	now := p.clock.Now()
	p.cache = &Cache{Blob: blob, Size: size, FetchedAt: now}
	p.lastSuccess = now
	p.logger.Debug("datastore updated", "size", label)
}

// Snapshot returns the last successful poll.
func (p *Poller) Snapshot() (Cache, bool) {
	if p.cache == nil {
		return Cache{}, false
	}
	return *p.cache, true
}

// InFlight reports whether a fetch is running.
func (p *Poller) InFlight() bool { return p.inFlight }

// LastSuccess is when the gate was last advanced; zero before the first
// successful poll.
func (p *Poller) LastSuccess() time.Time { return p.lastSuccess }

// Run triggers a poll every interval until ctx is done or the session
// expires.
func (p *Poller) Run(ctx context.Context) error {
	for !p.expired() {
		p.exec.Post(func() { p.Trigger() })
		select {
		case <-ctx.Done():
			return nil
		case <-p.clock.After(p.interval):
		}
	}
	p.logger.Info("datastore polling stopped")
	return nil
}

// Close cancels an in-flight fetch.
func (p *Poller) Close() { p.cancel() }
