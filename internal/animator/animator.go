// Package animator drives the power sequencing progress bar.
package animator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roompaneld/internal/dispatch"
	"github.com/dokzlo13/roompaneld/internal/layer"
)

const (
	// Steps is the number of ticks in one session.
	Steps = 100

	// DefaultTimeout bounds a session regardless of the step timer.
	DefaultTimeout = 300 * time.Second

	// MinInterval keeps a zero or tiny duration from spinning the loop.
	MinInterval = 10 * time.Millisecond
)

// TimingSource supplies the session duration.
type TimingSource interface {
	Timing(poweringOn bool) time.Duration
}

// ProgressSurface displays the progress value and its label.
type ProgressSurface interface {
	SetProgress(value int) error
	SetLabel(label string) error
}

// Options configures an Animator.
type Options struct {
	Scheduler dispatch.Scheduler
	Timing    TimingSource
	Progress  ProgressSurface
	// Navigate issues the follow-up layer request when a session ends.
	Navigate func(target layer.Layer)
	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration
}

// Snapshot describes the animator for diagnostics.
type Snapshot struct {
	Animating  bool   `json:"animating"`
	PoweringOn bool   `json:"powering_on"`
	Step       int    `json:"step"`
	Progress   int    `json:"progress"`
	SessionID  string `json:"session_id,omitempty"`
}

type session struct {
	id         string
	poweringOn bool
	duration   time.Duration
	counter    int
	step       dispatch.Task
	timeout    dispatch.Task
}

func (s *session) progress() int {
	if s.poweringOn {
		return s.counter
	}
	return Steps - s.counter
}

func (s *session) stopTasks() {
	if s.step != nil {
		s.step.Stop()
	}
	if s.timeout != nil {
		s.timeout.Stop()
	}
}

// Animator runs at most one progress session at a time. Its callbacks are
// expected on the dispatch goroutine; the mutex only guards Snapshot readers.
type Animator struct {
	opts    Options
	timeout time.Duration

	mu        sync.Mutex
	animating bool
	current   *session
	last      Snapshot
}

// New creates an animator.
func New(opts Options) *Animator {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Animator{opts: opts, timeout: timeout}
}

// Animating reports whether a session is running.
func (a *Animator) Animating() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.animating
}

// Start begins a session. It returns false without side effects while a
// session is already running.
func (a *Animator) Start(poweringOn bool) bool {
	a.mu.Lock()
	if a.animating {
		a.mu.Unlock()
		log.Debug().Bool("powering_on", poweringOn).Msg("Animation already running, start ignored")
		return false
	}
	a.animating = true
	a.mu.Unlock()

	duration := a.duration(poweringOn)
	interval := duration / Steps
	if interval < MinInterval {
		interval = MinInterval
	}

	s := &session{
		id:         uuid.NewString(),
		poweringOn: poweringOn,
		duration:   duration,
	}

	a.mu.Lock()
	a.current = s
	a.mu.Unlock()

	a.show(s.progress())

	id := s.id
	step := a.opts.Scheduler.Every(interval, func() { a.step(id) })
	timeout := a.opts.Scheduler.After(a.timeout, func() { a.expire(id) })

	a.mu.Lock()
	s.step, s.timeout = step, timeout
	a.mu.Unlock()

	log.Info().
		Str("session", id).
		Bool("powering_on", poweringOn).
		Dur("duration", duration).
		Dur("interval", interval).
		Msg("Power animation started")
	return true
}

func (a *Animator) duration(poweringOn bool) (d time.Duration) {
	if a.opts.Timing == nil {
		return 0
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("Timing source panicked, animating with minimum interval")
			d = 0
		}
	}()
	return a.opts.Timing.Timing(poweringOn)
}

// step advances the session identified by id. Ticks from an ended session are ignored.
func (a *Animator) step(id string) {
	a.mu.Lock()
	s := a.current
	if !a.animating || s == nil || s.id != id {
		a.mu.Unlock()
		return
	}
	s.counter++
	progress := s.progress()
	done := s.counter >= Steps
	if done {
		a.end(s)
	}
	a.mu.Unlock()

	a.show(progress)

	if done {
		log.Info().Str("session", id).Bool("powering_on", s.poweringOn).Msg("Power animation complete")
		a.followUp(s.poweringOn)
	}
}

// expire ends the session if the step timer has not finished it.
func (a *Animator) expire(id string) {
	a.mu.Lock()
	s := a.current
	if !a.animating || s == nil || s.id != id {
		a.mu.Unlock()
		return
	}
	a.end(s)
	a.mu.Unlock()

	log.Warn().
		Str("session", id).
		Int("step", s.counter).
		Dur("timeout", a.timeout).
		Msg("Power animation timed out, forcing completion")
	a.followUp(s.poweringOn)
}

// end stops both tasks and clears the session. Caller holds a.mu.
func (a *Animator) end(s *session) {
	s.stopTasks()
	a.animating = false
	a.current = nil
	a.last = Snapshot{
		PoweringOn: s.poweringOn,
		Step:       s.counter,
		Progress:   s.progress(),
		SessionID:  s.id,
	}
}

func (a *Animator) followUp(poweringOn bool) {
	target := layer.Start
	if poweringOn {
		target = layer.Laptop
	}
	if a.opts.Navigate == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("target", target.String()).Msg("Animation follow-up panicked")
		}
	}()
	a.opts.Navigate(target)
}

func (a *Animator) show(progress int) {
	if a.opts.Progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("Progress surface panicked")
		}
	}()
	if err := a.opts.Progress.SetProgress(progress); err != nil {
		log.Warn().Err(err).Int("progress", progress).Msg("Failed to set progress")
	}
	if err := a.opts.Progress.SetLabel(fmt.Sprintf("%d%%", progress)); err != nil {
		log.Warn().Err(err).Int("progress", progress).Msg("Failed to set progress label")
	}
}

// Snapshot returns the running session, or the last finished one.
func (a *Animator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s := a.current; a.animating && s != nil {
		return Snapshot{
			Animating:  true,
			PoweringOn: s.poweringOn,
			Step:       s.counter,
			Progress:   s.progress(),
			SessionID:  s.id,
		}
	}
	return a.last
}
