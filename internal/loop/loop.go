// Package loop provides the single logical thread the sync core runs
// on. Every registry mutation, render call and timer expiry is posted
// here and runs to completion before the next callback starts, so no
// callback ever observes the registry and the render surface out of
// step. Blocking I/O is launched off the loop with Go and posts its
// result back.
package loop

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned by Call once the loop has exited.
var ErrStopped = errors.New("loop stopped")

// Executor runs callbacks on the logical thread (Post) and launches
// blocking work off it (Go).
type Executor interface {
	Post(f func()) bool
	Go(f func())
}

// Loop is a FIFO executor with an unbounded queue. Post never blocks,
// so callbacks may post further callbacks.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	wg      sync.WaitGroup
}

func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post queues f. It reports false if the loop has already stopped.
func (l *Loop) Post(f func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, f)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Go runs f on its own goroutine. Wait blocks until all of them return.
func (l *Loop) Go(f func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		f()
	}()
}

// Wait blocks until every function started with Go has returned.
func (l *Loop) Wait() { l.wg.Wait() }

// Call runs f on the loop and waits for it to finish. If ctx ends first,
// f either never runs or has already returned when Call does, so f may
// write variables the caller reads afterwards.
func (l *Loop) Call(ctx context.Context, f func()) error {
	var (
		mu        sync.Mutex
		started   bool
		abandoned bool
	)
	done := make(chan struct{})
	if !l.Post(func() {
		mu.Lock()
		if abandoned {
			mu.Unlock()
			return
		}
		started = true
		mu.Unlock()
		defer close(done)
		f()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	mu.Lock()
	if !started {
		abandoned = true
		mu.Unlock()
		return ctx.Err()
	}
	mu.Unlock()
	<-done
	return nil
}

// Run drains the queue until ctx is done. Callbacks still queued at
// that point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			batch := l.queue
			l.queue = nil
			l.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, f := range batch {
				if ctx.Err() != nil {
					return nil
				}
				f()
			}
		}
	}
}

// Inline runs everything immediately on the caller's goroutine. Tests
// use it together with clock.Fake to make the core deterministic.
type Inline struct{}

func (Inline) Post(f func()) bool {
	f()
	return true
}

func (Inline) Go(f func()) { f() }
