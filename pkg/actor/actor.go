// Package actor runs a non thread-safe driver handle on one dedicated,
// OS-thread locked goroutine and serializes every operation on it.
//
// Callers never touch the handle: they submit closures through Call, which
// waits for the single reply with a per operation class timeout.
package actor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"astrobridge/internal/pool"
	"astrobridge/pkg/device"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrInit is returned by New when the execution context setup failed.
	ErrInit = errors.New("worker context initialization failed")
	// ErrDriverCreate is returned by New when the handle could not be created.
	ErrDriverCreate = errors.New("driver creation failed")
)

const defaultQueueSize = 16

// Hooks describes how the worker builds and releases its handle. Init and
// Teardown run on the worker's OS thread, before Create and after the last
// command respectively.
type Hooks[H any] struct {
	// Init prepares the execution context, e.g. a COM apartment. Optional.
	Init func() error
	// Create instantiates the handle and returns its human readable name.
	Create func() (H, string, error)
	// Release frees the handle. Optional.
	Release func(H)
	// Teardown undoes Init. Optional.
	Teardown func()
}

type job[H any] struct {
	run  func(H)
	drop func()
}

type ready struct {
	name string
	err  error
}

// Actor owns a handle of type H on a single worker goroutine.
type Actor[H any] struct {
	name   string
	logger log.FieldLogger

	mu     sync.RWMutex
	closed bool
	jobs   chan job[H]
	done   chan struct{}
}

// Option configures an Actor.
type Option func(*options)

type options struct {
	queueSize int
	logger    log.FieldLogger
}

// WithQueueSize sets the capacity of the command queue.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithLogger sets the logger used by the worker.
func WithLogger(logger log.FieldLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New spawns the worker and blocks until it reports the handle ready or
// failed.
func New[H any](hooks Hooks[H], opts ...Option) (*Actor[H], error) {
	if hooks.Create == nil {
		return nil, fmt.Errorf("%w: no create hook", ErrDriverCreate)
	}

	o := options{queueSize: defaultQueueSize, logger: log.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &Actor[H]{
		logger: o.logger,
		jobs:   make(chan job[H], o.queueSize),
		done:   make(chan struct{}),
	}

	readyCh := make(chan ready, 1)
	go a.worker(hooks, readyCh)

	r := <-readyCh
	if r.err != nil {
		<-a.done
		return nil, r.err
	}
	a.name = r.name

	return a, nil
}

// Name returns the name reported by the driver at creation.
func (a *Actor[H]) Name() string {
	return a.name
}

// Done is closed once the worker has exited.
func (a *Actor[H]) Done() <-chan struct{} {
	return a.done
}

// Close stops accepting commands. Queued commands still run, then the worker
// releases the handle and tears down its context. Close does not wait for
// the worker, use Done for that.
func (a *Actor[H]) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.closed {
		a.closed = true
		close(a.jobs)
	}
}

func (a *Actor[H]) worker(hooks Hooks[H], readyCh chan<- ready) {
	defer close(a.done)

	// Apartment-bound handles must be created, used and destroyed on the
	// same OS thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if hooks.Init != nil {
		if err := hooks.Init(); err != nil {
			readyCh <- ready{err: fmt.Errorf("%w: %v", ErrInit, err)}
			return
		}
	}
	teardown := func() {
		if hooks.Teardown != nil {
			hooks.Teardown()
		}
	}

	handle, name, err := hooks.Create()
	if err != nil {
		teardown()
		readyCh <- ready{err: fmt.Errorf("%w: %v", ErrDriverCreate, err)}
		return
	}
	readyCh <- ready{name: name}

	a.logger.Debugf("Worker ready for %q", name)

	dead := false
	for j := range a.jobs {
		if dead {
			j.drop()
			continue
		}
		if !a.execute(j, handle) {
			// The handle is in an unknown state after a panic; refuse
			// everything else until the owner rebuilds the actor.
			dead = true
			a.markClosed()
		}
	}

	if hooks.Release != nil && !dead {
		hooks.Release(handle)
	}
	teardown()
	a.logger.Debugf("Worker for %q stopped", name)
}

// markClosed closes the queue from the worker side after a fatal failure.
func (a *Actor[H]) markClosed() {
	go a.Close()
}

func (a *Actor[H]) execute(j job[H], handle H) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Errorf("Driver panicked: %v", r)
			j.drop()
			ok = false
		}
	}()

	j.run(handle)
	return true
}

type result[R any] struct {
	value R
	err   error
}

// Call runs fn on the worker and waits for its reply for at most timeout.
//
// A timeout returns device.ErrTimeout but does not stop fn, which keeps
// running on the worker and may still change the device. A reply channel
// closed without a value returns device.ErrWorkerDead.
func Call[H, R any](ctx context.Context, a *Actor[H], timeout time.Duration, fn func(H) (R, error)) (R, error) {
	var zero R

	reply := make(chan result[R], 1)
	j := job[H]{
		run: func(h H) {
			v, err := fn(h)
			reply <- result[R]{value: v, err: err}
			close(reply)
		},
		drop: func() {
			close(reply)
		},
	}

	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	if err := a.enqueue(ctx, j, timer); err != nil {
		return zero, err
	}

	select {
	case r, ok := <-reply:
		if !ok {
			return zero, device.ErrWorkerDead
		}
		return r.value, r.err
	case <-timer.C:
		return zero, fmt.Errorf("%w after %v", device.ErrTimeout, timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (a *Actor[H]) enqueue(ctx context.Context, j job[H], timer *time.Timer) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return device.ErrWorkerDead
	}

	select {
	case a.jobs <- j:
		return nil
	case <-a.done:
		return device.ErrWorkerDead
	case <-timer.C:
		return fmt.Errorf("%w: command queue full", device.ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
