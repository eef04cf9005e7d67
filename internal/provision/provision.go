// Package provision creates a device and waits for it to show up in
// the device list.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sincroniza-dispositivos/internal/clock"
	"sincroniza-dispositivos/internal/device"
	"sincroniza-dispositivos/internal/logging"
)

const (
	DefaultRetryDelay  = time.Second
	DefaultRetryBudget = 5
)

var (
	// ErrBudgetExhausted means the list fetch failed more times in a row
	// than the retry budget allows.
	ErrBudgetExhausted = errors.New("device list retry budget exhausted")
	// ErrExpired means the session expired while waiting.
	ErrExpired = errors.New("session expired")
)

// API is the part of the remote API device creation needs.
type API interface {
	NewDevice(ctx context.Context) error
	Devices(ctx context.Context) ([]device.Info, error)
}

type Options struct {
	Clock  clock.Clock
	API    API
	Logger *slog.Logger
	// Delay is the pause after a failed or unchanged fetch.
	Delay time.Duration
	// Budget is how many consecutive failed fetches are tolerated; the
	// next one ends the wait.
	Budget  int
	Expired func() bool
}

type Provisioner struct {
	clock   clock.Clock
	api     API
	logger  *slog.Logger
	delay   time.Duration
	budget  int
	expired func() bool
}

func New(opts Options) *Provisioner {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultRetryDelay
	}
	if opts.Budget <= 0 {
		opts.Budget = DefaultRetryBudget
	}
	if opts.Expired == nil {
		opts.Expired = func() bool { return false }
	}
	return &Provisioner{
		clock:   opts.Clock,
		api:     opts.API,
		logger:  logging.OrDiscard(opts.Logger),
		delay:   opts.Delay,
		budget:  opts.Budget,
		expired: opts.Expired,
	}
}

// Create asks the server for a new device, then polls the device list
// until its length differs from knownCount. Only the length is
// compared, so a device removed meanwhile can end the wait early.
//
// The returned list is nil when creation failed or the wait gave up;
// the caller then leaves its registry alone and relies on the event
// stream to deliver the device.
func (p *Provisioner) Create(ctx context.Context, knownCount int) ([]device.Info, error) {
	if err := p.api.NewDevice(ctx); err != nil {
		p.logger.Error("failed to create device", "error", err)
		return nil, fmt.Errorf("failed to create device: %w", err)
	}
	return p.Wait(ctx, knownCount)
}

// Wait is the polling half of Create.
func (p *Provisioner) Wait(ctx context.Context, knownCount int) ([]device.Info, error) {
	failures := 0
	for {
		if p.expired() {
			return nil, ErrExpired
		}

		list, err := p.api.Devices(ctx)
		if err != nil {
			failures++
			p.logger.Warn("error fetching devices", "error", err, "failures", failures)
			if failures > p.budget {
				p.logger.Error("giving up waiting for new device", "failures", failures)
				return nil, fmt.Errorf("%w: %w", ErrBudgetExhausted, err)
			}
		} else {
			failures = 0
			if len(list) != knownCount {
				p.logger.Info("device list changed", "before", knownCount, "after", len(list))
				return list, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.clock.After(p.delay):
		}
	}
}
