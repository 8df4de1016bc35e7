package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/roompaneld/internal/dispatch"
	"github.com/dokzlo13/roompaneld/internal/observer"
)

// Poster queues work onto the dispatch goroutine.
type Poster interface {
	Do(work dispatch.Work) bool
}

// Handlers react to inbound panel events. They run on the dispatch goroutine.
type Handlers struct {
	NavPress   func(button int)
	RoutePress func(route int)
	Signal     func(name string, value bool)
	Request    func(layer string)
}

// Listener turns inbound MQTT messages into dispatched work.
type Listener struct {
	pub      Publisher
	topics   Topics
	poster   Poster
	handlers Handlers
	limiter  *rate.Limiter
}

// NewListener creates a listener. Button presses beyond pressRate per second
// (with an equal burst) are dropped; a non-positive rate disables limiting.
func NewListener(pub Publisher, topics Topics, poster Poster, handlers Handlers, pressRate float64) *Listener {
	l := &Listener{
		pub:      pub,
		topics:   topics,
		poster:   poster,
		handlers: handlers,
	}
	if pressRate > 0 {
		burst := int(pressRate)
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(pressRate), burst)
	}
	return l
}

// Start subscribes to presses, signals and layer requests.
func (l *Listener) Start() error {
	subs := []struct {
		topic   string
		handler MessageHandler
	}{
		{l.topics.AllButtonPresses(), l.handlePress},
		{l.topics.AllSignals(), l.handleSignal},
		{l.topics.LayerRequest(), l.handleRequest},
	}
	for _, s := range subs {
		if err := l.pub.Subscribe(s.topic, s.handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.topic, err)
		}
	}
	log.Info().Str("prefix", l.topics.root()).Msg("Listening for panel events")
	return nil
}

// ErrRateLimited is returned for dropped button presses.
var ErrRateLimited = errors.New("button press rate limited")

func (l *Listener) handlePress(topic string, payload []byte) error {
	group, index, ok := l.topics.ParseButtonPress(topic)
	if !ok {
		return fmt.Errorf("unrecognised press topic %q", topic)
	}
	// Releases are ignored; an empty payload counts as a press.
	if len(strings.TrimSpace(string(payload))) > 0 {
		if pressed, err := parseBool(string(payload)); err == nil && !pressed {
			return nil
		}
	}
	if l.limiter != nil && !l.limiter.Allow() {
		return ErrRateLimited
	}

	switch group {
	case "nav":
		if l.handlers.NavPress != nil {
			l.post(func() { l.handlers.NavPress(index) })
		}
	case "routing":
		if l.handlers.RoutePress != nil {
			// Routing buttons are 0-based on the surface, routes are 1-based.
			l.post(func() { l.handlers.RoutePress(index + 1) })
		}
	default:
		return fmt.Errorf("unknown button group %q", group)
	}
	return nil
}

func (l *Listener) handleSignal(topic string, payload []byte) error {
	name, ok := l.topics.ParseSignal(topic)
	if !ok {
		return fmt.Errorf("unrecognised signal topic %q", topic)
	}
	value, err := parseBool(string(payload))
	if err != nil {
		return err
	}
	if l.handlers.Signal != nil {
		l.post(func() { l.handlers.Signal(name, value) })
	}
	return nil
}

func (l *Listener) handleRequest(_ string, payload []byte) error {
	name := strings.Trim(strings.TrimSpace(string(payload)), `"`)
	var body struct {
		Layer string `json:"layer"`
	}
	if json.Unmarshal(payload, &body) == nil && body.Layer != "" {
		name = body.Layer
	}
	if name == "" {
		return errors.New("empty layer request")
	}
	if l.handlers.Request != nil {
		l.post(func() { l.handlers.Request(name) })
	}
	return nil
}

func (l *Listener) post(fn func()) {
	l.poster.Do(func(_ context.Context) { fn() })
}

type transitionPayload struct {
	ID       string `json:"id"`
	Seq      uint64 `json:"seq"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
	At       string `json:"at"`
}

// TransitionFeed publishes every transition for remote observers.
type TransitionFeed struct {
	pub    Publisher
	topics Topics
}

// NewTransitionFeed creates a feed observer.
func NewTransitionFeed(pub Publisher, topics Topics) *TransitionFeed {
	return &TransitionFeed{pub: pub, topics: topics}
}

// OnTransition implements observer.Observer.
func (f *TransitionFeed) OnTransition(t observer.Transition) error {
	payload, err := json.Marshal(transitionPayload{
		ID:       t.ID,
		Seq:      t.Seq,
		Previous: t.Previous.String(),
		Current:  t.LayerName,
		At:       t.At.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	return f.pub.Publish(f.topics.Transition(), payload, false)
}
