package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Task is a scheduled callback that can be cancelled.
type Task interface {
	// Stop cancels the task. It returns false if the task was already stopped
	// or, for one-shot tasks, already fired.
	Stop() bool
}

// Scheduler creates recurring and one-shot tasks.
type Scheduler interface {
	Every(interval time.Duration, fn func()) Task
	After(delay time.Duration, fn func()) Task
}

// LoopScheduler fires task callbacks on a Loop, so they never run
// concurrently with other dispatched work.
type LoopScheduler struct {
	loop *Loop
}

// NewLoopScheduler creates a scheduler bound to loop.
func NewLoopScheduler(loop *Loop) *LoopScheduler {
	return &LoopScheduler{loop: loop}
}

// loopTask is shared by both task kinds. The stopped flag is checked on the
// dispatch goroutine, so a tick queued before Stop never runs after it.
// ctx is cancelled by Stop and releases a one-shot blocked on a full queue.
type loopTask struct {
	stopped atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	timer   *time.Timer
}

func newLoopTask() *loopTask {
	ctx, cancel := context.WithCancel(context.Background())
	return &loopTask{ctx: ctx, cancel: cancel}
}

func (t *loopTask) Stop() bool {
	if !t.stopped.CompareAndSwap(false, true) {
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.cancel()
	return true
}

// Every runs fn on the loop at each interval until stopped. A tick that
// finds the queue full is skipped. The ticker exits once the loop closes.
func (s *LoopScheduler) Every(interval time.Duration, fn func()) Task {
	t := newLoopTask()
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.ctx.Done():
				return
			case <-s.loop.closing:
				return
			case <-ticker.C:
				s.loop.Do(func(context.Context) {
					if !t.stopped.Load() {
						fn()
					}
				})
			}
		}
	}()

	return t
}

// After runs fn once on the loop after delay unless stopped first.
// When the timer fires it waits for queue space rather than dropping fn.
func (s *LoopScheduler) After(delay time.Duration, fn func()) Task {
	t := newLoopTask()
	t.timer = time.AfterFunc(delay, func() {
		err := s.loop.DoSync(t.ctx, func(context.Context) {
			if t.stopped.CompareAndSwap(false, true) {
				fn()
			}
			t.cancel()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Dur("delay", delay).Msg("One-shot task could not be queued")
		}
	})
	return t
}
