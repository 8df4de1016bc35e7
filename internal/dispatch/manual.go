package dispatch

import (
	"sync"
	"time"
)

// ManualScheduler fires tasks only when told to. It lets tests drive
// timer-based components one tick at a time.
type ManualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
}

type manualTask struct {
	owner    *ManualScheduler
	periodic bool
	interval time.Duration
	fn       func()
	done     bool
}

func (t *manualTask) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// NewManualScheduler creates an empty manual scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// Every registers a periodic task.
func (m *ManualScheduler) Every(interval time.Duration, fn func()) Task {
	return m.add(&manualTask{periodic: true, interval: interval, fn: fn})
}

// After registers a one-shot task.
func (m *ManualScheduler) After(delay time.Duration, fn func()) Task {
	return m.add(&manualTask{interval: delay, fn: fn})
}

func (m *ManualScheduler) add(t *manualTask) Task {
	t.owner = m
	m.mu.Lock()
	m.tasks = append(m.tasks, t)
	m.mu.Unlock()
	return t
}

// Tick fires every live periodic task once and returns how many fired.
func (m *ManualScheduler) Tick() int {
	return m.fire(true)
}

// FireTimeouts fires every live one-shot task and returns how many fired.
func (m *ManualScheduler) FireTimeouts() int {
	return m.fire(false)
}

// Active returns the number of live periodic and one-shot tasks.
func (m *ManualScheduler) Active() (periodic, oneShot int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.done {
			continue
		}
		if t.periodic {
			periodic++
		} else {
			oneShot++
		}
	}
	return periodic, oneShot
}

// LastInterval returns the interval of the most recently registered task of the given kind.
func (m *ManualScheduler) LastInterval(periodic bool) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.tasks) - 1; i >= 0; i-- {
		if m.tasks[i].periodic == periodic {
			return m.tasks[i].interval
		}
	}
	return 0
}

func (m *ManualScheduler) fire(periodic bool) int {
	m.mu.Lock()
	var due []*manualTask
	for _, t := range m.tasks {
		if !t.done && t.periodic == periodic {
			due = append(due, t)
		}
	}
	m.mu.Unlock()

	fired := 0
	for _, t := range due {
		m.mu.Lock()
		live := !t.done
		if live && !t.periodic {
			t.done = true
		}
		m.mu.Unlock()
		if !live {
			continue
		}
		t.fn()
		fired++
	}
	return fired
}
