// Package dispatch serializes every panel callback onto one goroutine.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned when the loop no longer accepts work.
var ErrClosed = errors.New("dispatch loop closed")

// DefaultQueueSize is used when NewLoop is given a non-positive size.
const DefaultQueueSize = 256

// Work is a unit of work executed on the dispatch goroutine.
type Work func(ctx context.Context)

// Loop runs queued work one item at a time. Work items never overlap, so
// state touched only from work items needs no locking.
type Loop struct {
	queue chan Work

	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// NewLoop creates a loop with the given queue size.
func NewLoop(queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Loop{
		queue:   make(chan Work, queueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Do queues work without blocking.
// Returns false if the loop is closing or the queue is full.
func (l *Loop) Do(work Work) bool {
	select {
	case <-l.closing:
		log.Warn().Msg("Dispatch loop closing, dropping work")
		return false
	case l.queue <- work:
		return true
	default:
		log.Warn().Msg("Dispatch queue full, dropping work")
		return false
	}
}

// DoSync queues work, waiting for queue space.
func (l *Loop) DoSync(ctx context.Context, work Work) error {
	select {
	case <-l.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case l.queue <- work:
		return nil
	}
}

// DoWait queues fn and waits for it to finish, returning its error.
// It must not be called from the dispatch goroutine itself.
func (l *Loop) DoWait(ctx context.Context, fn func(ctx context.Context) error) error {
	result := make(chan error, 1)
	if err := l.DoSync(ctx, func(c context.Context) {
		result <- fn(c)
	}); err != nil {
		return err
	}

	select {
	case <-l.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-result:
		return err
	}
}

// Run executes queued work until the context is cancelled or Close is called.
// This is the only goroutine that touches panel state.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			l.drain(ctx)
			return
		case <-l.closing:
			l.drain(ctx)
			return
		case work := <-l.queue:
			l.execute(ctx, work)
		}
	}
}

// Close stops accepting work. Run drains what is already queued and returns.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.closing)
	})
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) drain(ctx context.Context) {
	for {
		select {
		case work := <-l.queue:
			l.execute(ctx, work)
		default:
			return
		}
	}
}

// execute runs a single work item with panic recovery.
func (l *Loop) execute(ctx context.Context, work Work) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Msg("Dispatched work panicked - loop continuing")
		}
	}()
	work(ctx)
}
