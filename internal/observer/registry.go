// Package observer notifies external controllers of layer transitions.
package observer

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roompaneld/internal/layer"
)

// Category groups observers by the kind of controller they are.
type Category int

const (
	CategoryRoom Category = iota
	CategoryAudio
	CategoryCamera
	CategoryRouting
	CategoryRemote

	categoryCount
)

// String returns a human-readable name for the category.
func (c Category) String() string {
	switch c {
	case CategoryRoom:
		return "room"
	case CategoryAudio:
		return "audio"
	case CategoryCamera:
		return "camera"
	case CategoryRouting:
		return "routing"
	case CategoryRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Transition describes one accepted layer change.
type Transition struct {
	ID        string
	Seq       uint64
	Previous  layer.Layer
	Current   layer.Layer
	LayerName string
	At        time.Time
}

// NewTransition builds a transition with a fresh ID.
func NewTransition(seq uint64, previous, current layer.Layer) Transition {
	return Transition{
		ID:        uuid.NewString(),
		Seq:       seq,
		Previous:  previous,
		Current:   current,
		LayerName: current.String(),
		At:        time.Now(),
	}
}

// Observer receives transition notifications.
type Observer interface {
	OnTransition(t Transition) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(t Transition) error

// OnTransition calls f.
func (f ObserverFunc) OnTransition(t Transition) error { return f(t) }

// Handle identifies one registration.
type Handle string

type entry struct {
	handle   Handle
	observer Observer
}

// Registry holds observers per category and notifies them synchronously.
type Registry struct {
	mu      sync.RWMutex
	entries map[Category][]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[Category][]entry),
	}
}

// Register appends an observer to a category. Registering the same
// observer twice yields two entries.
func (r *Registry) Register(c Category, o Observer) (Handle, error) {
	if c < 0 || c >= categoryCount {
		return "", fmt.Errorf("unknown observer category %d", c)
	}
	if o == nil {
		return "", fmt.Errorf("nil observer")
	}

	h := Handle(uuid.NewString())

	r.mu.Lock()
	r.entries[c] = append(r.entries[c], entry{handle: h, observer: o})
	r.mu.Unlock()

	log.Debug().Str("category", c.String()).Str("handle", string(h)).Msg("Observer registered")
	return h, nil
}

// Unregister removes the registration with the given handle.
func (r *Registry) Unregister(c Category, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.entries[c]
	for i, e := range list {
		if e.handle == h {
			r.entries[c] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// UnregisterObserver removes the first entry of c holding o.
// Observers of non-comparable types (such as ObserverFunc) can only be
// removed by handle.
func (r *Registry) UnregisterObserver(c Category, o Observer) bool {
	if o == nil || !reflect.TypeOf(o).Comparable() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.entries[c]
	for i, e := range list {
		if reflect.TypeOf(e.observer) == reflect.TypeOf(o) && e.observer == o {
			r.entries[c] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Count returns the number of observers registered for c.
func (r *Registry) Count(c Category) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[c])
}

// Notify calls every observer, categories in enum order and observers in
// registration order. A failing observer is logged and skipped.
// It returns the number of observers that failed.
func (r *Registry) Notify(t Transition) int {
	r.mu.RLock()
	var targets []struct {
		category Category
		entry    entry
	}
	for c := Category(0); c < categoryCount; c++ {
		for _, e := range r.entries[c] {
			targets = append(targets, struct {
				category Category
				entry    entry
			}{c, e})
		}
	}
	r.mu.RUnlock()

	failed := 0
	for _, target := range targets {
		if err := notifyOne(target.entry.observer, t); err != nil {
			failed++
			log.Warn().
				Err(err).
				Str("category", target.category.String()).
				Str("handle", string(target.entry.handle)).
				Str("layer", t.LayerName).
				Msg("Observer failed")
		}
	}
	return failed
}

// notifyOne converts an observer panic into an error.
func notifyOne(o Observer, t Transition) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("observer panicked: %v", rec)
		}
	}()
	return o.OnTransition(t)
}
