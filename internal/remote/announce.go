package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/dokzlo13/roompaneld/internal/registry"
)

// Announcements collects retained component announcements and serves them
// as a registry.Lister. Components are listed in first-announcement order.
type Announcements struct {
	topics Topics

	mu       sync.RWMutex
	order    []string
	types    map[string]string
	onChange func()
}

// NewAnnouncements creates an empty announcement set.
func NewAnnouncements(topics Topics) *Announcements {
	return &Announcements{topics: topics, types: make(map[string]string)}
}

// OnChange sets a callback run after the announced set changes. It runs on
// the caller of Handle and must not block.
func (a *Announcements) OnChange(fn func()) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// Subscribe starts collecting announcements from pub.
func (a *Announcements) Subscribe(pub Publisher) error {
	return pub.Subscribe(a.topics.AllRegistry(), a.Handle)
}

// Handle processes one announcement. An empty payload withdraws the component.
func (a *Announcements) Handle(topic string, payload []byte) error {
	name, ok := a.topics.ParseRegistry(topic)
	if !ok {
		return fmt.Errorf("unrecognised registry topic %q", topic)
	}

	raw := strings.TrimSpace(string(payload))
	declared := strings.Trim(raw, `"`)
	var body struct {
		Type string `json:"type"`
	}
	if strings.HasPrefix(raw, "{") {
		if err := json.Unmarshal(payload, &body); err != nil {
			return fmt.Errorf("announcement %s: %w", name, err)
		}
		declared = body.Type
	}

	changed := a.apply(name, declared)

	a.mu.RLock()
	fn := a.onChange
	a.mu.RUnlock()
	if changed && fn != nil {
		fn()
	}
	return nil
}

// apply records or withdraws one component and reports whether the set changed.
func (a *Announcements) apply(name, declared string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev, known := a.types[name]
	if declared == "" {
		if !known {
			return false
		}
		delete(a.types, name)
		for i, n := range a.order {
			if n == name {
				a.order = append(a.order[:i:i], a.order[i+1:]...)
				break
			}
		}
		return true
	}
	if !known {
		a.order = append(a.order, name)
	}
	a.types[name] = declared
	return !known || prev != declared
}

// ListComponents implements registry.Lister.
func (a *Announcements) ListComponents(context.Context) ([]registry.Component, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]registry.Component, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, registry.Component{Name: name, DeclaredType: a.types[name]})
	}
	return out, nil
}

// Known reports whether name has been announced.
func (a *Announcements) Known(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.types[name]
	return ok
}
