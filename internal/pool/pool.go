// Package pool provides a bounded pool of long-lived connections of one kind
// (RPC stubs, cache links, database links) with blocking acquire and a
// background liveness check of idle resources.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is what callers surface when Acquire reports the pool closed.
var ErrClosed = errors.New("pool: closed")

const (
	defaultCheckInterval = 60 * time.Second
	defaultStaleAfter    = 5 * time.Second
	defaultProbeTimeout  = 3 * time.Second
)

// Resource is a pooled value together with the time it was last known good.
// It is owned by the pool except while checked out by exactly one caller.
type Resource[T any] struct {
	value         T
	lastValidated time.Time
}

func (r *Resource[T]) Value() T { return r.value }

// Options configures a Pool. New is required; Ping and Close are optional.
type Options[T any] struct {
	Name string
	Size int

	New   func(ctx context.Context) (T, error)
	Ping  func(ctx context.Context, v T) error
	Close func(v T) error

	CheckInterval time.Duration
	StaleAfter    time.Duration
	ProbeTimeout  time.Duration

	Logger *slog.Logger
}

type Pool[T any] struct {
	name string
	opts Options[T]

	idle chan *Resource[T]

	mu       sync.Mutex
	closed   bool
	closedCh chan struct{}

	stopCh chan struct{}
	doneCh chan struct{}

	logger *slog.Logger
	now    func() time.Time
}

// New fills the pool with opts.Size resources and starts the health checker.
// Any creation failure closes what was already built.
func New[T any](ctx context.Context, opts Options[T]) (*Pool[T], error) {
	if opts.New == nil {
		return nil, errors.New("pool: Options.New is required")
	}
	if opts.Size <= 0 {
		opts.Size = 5
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = defaultCheckInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool[T]{
		name:     opts.Name,
		opts:     opts,
		idle:     make(chan *Resource[T], opts.Size),
		closedCh: make(chan struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger.With("pool", opts.Name),
		now:      time.Now,
	}

	for i := 0; i < opts.Size; i++ {
		v, err := opts.New(ctx)
		if err != nil {
			p.drain()
			return nil, fmt.Errorf("pool %s: create resource %d: %w", opts.Name, i, err)
		}
		p.idle <- &Resource[T]{value: v, lastValidated: p.now()}
	}
	idleResources.WithLabelValues(p.name).Set(float64(len(p.idle)))

	go p.healthLoop()
	return p, nil
}


// Idle reports how many resources are currently available.
func (p *Pool[T]) Idle() int { return len(p.idle) }

// Acquire blocks until a resource is free or the pool is closed. ok is false
// only when the pool has been closed.
func (p *Pool[T]) Acquire() (*Resource[T], bool) {
	return p.acquire(nil)
}

// AcquireContext is Acquire with an additional cancellation source.
func (p *Pool[T]) AcquireContext(ctx context.Context) (*Resource[T], error) {
	r, ok := p.acquire(ctx.Done())
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrClosed
	}
	return r, nil
}

func (p *Pool[T]) acquire(cancel <-chan struct{}) (*Resource[T], bool) {
	// A closed pool wins over an idle resource still sitting in the channel.
	select {
	case <-p.closedCh:
		return nil, false
	default:
	}
	select {
	case r := <-p.idle:
		idleResources.WithLabelValues(p.name).Set(float64(len(p.idle)))
		return r, true
	case <-p.closedCh:
		return nil, false
	case <-cancel:
		return nil, false
	}
}

// Release hands r back and wakes one waiter. On a closed pool the resource is
// destroyed instead.
func (p *Pool[T]) Release(r *Resource[T]) {
	if r == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.destroy(r)
		return
	}
	select {
	case p.idle <- r:
	default:
		// More releases than the pool ever handed out.
		p.mu.Unlock()
		p.destroy(r)
		return
	}
	p.mu.Unlock()
	idleResources.WithLabelValues(p.name).Set(float64(len(p.idle)))
}

// Do acquires a resource, runs fn with it and releases it.
func (p *Pool[T]) Do(ctx context.Context, fn func(v T) error) error {
	r, err := p.AcquireContext(ctx)
	if err != nil {
		return err
	}
	defer p.Release(r)
	return fn(r.value)
}

// Close marks the pool closed, wakes every waiter and stops the health
// checker. Resources checked out at this point are destroyed on Release.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.closedCh)
	p.mu.Unlock()

	close(p.stopCh)
	<-p.doneCh
	p.drain()
	idleResources.WithLabelValues(p.name).Set(0)
}

func (p *Pool[T]) drain() {
	for {
		select {
		case r := <-p.idle:
			p.destroy(r)
		default:
			return
		}
	}
}

func (p *Pool[T]) destroy(r *Resource[T]) {
	if p.opts.Close == nil {
		return
	}
	if err := p.opts.Close(r.value); err != nil {
		p.logger.Debug("close resource failed", "error", err)
	}
}
