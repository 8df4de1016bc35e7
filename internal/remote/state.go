package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNoState indicates nothing has been seen on a state topic yet.
var ErrNoState = errors.New("no state received")

// ErrUnconfirmed indicates a device that reports state did not confirm a
// command within the confirmation window.
var ErrUnconfirmed = errors.New("command not confirmed by device")

// DefaultConfirmTimeout bounds how long a read-back waits for the device.
const DefaultConfirmTimeout = 500 * time.Millisecond

type stateValue struct {
	payload string
	seq     uint64
}

// StateCache keeps the last payload seen per topic. Every update gets a
// sequence number so reads can tell reports that arrived after a command.
type StateCache struct {
	mu      sync.RWMutex
	values  map[string]stateValue
	seq     uint64
	changed chan struct{}
	confirm time.Duration
}

// NewStateCache creates an empty cache.
func NewStateCache() *StateCache {
	return &StateCache{
		values:  make(map[string]stateValue),
		changed: make(chan struct{}),
		confirm: DefaultConfirmTimeout,
	}
}

// SetConfirmTimeout sets how long a read-back after a command waits for the
// device to report. Non-positive values keep the current timeout.
func (s *StateCache) SetConfirmTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.confirm = d
	s.mu.Unlock()
}

// Update stores payload for topic. It has the MessageHandler signature.
// Command topics echoed back by the broker are ignored.
func (s *StateCache) Update(topic string, payload []byte) error {
	if strings.HasSuffix(topic, "/set") {
		return nil
	}
	s.mu.Lock()
	s.seq++
	s.values[topic] = stateValue{payload: strings.TrimSpace(string(payload)), seq: s.seq}
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
	return nil
}

// Get returns the payload stored for topic.
func (s *StateCache) Get(topic string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[topic]
	return v.payload, ok
}

// HasPrefix reports whether any topic under prefix has been seen.
func (s *StateCache) HasPrefix(prefix string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for topic := range s.values {
		if strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}

func (s *StateCache) mark() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

func (s *StateCache) lookup(topic string) (stateValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[topic]
	return v, ok
}

// awaitAfter waits up to the confirm timeout for topic to be updated after
// mark. State arrives on the MQTT client goroutine, never the caller's.
func (s *StateCache) awaitAfter(topic string, mark uint64) (string, bool) {
	s.mu.RLock()
	timeout := s.confirm
	s.mu.RUnlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		s.mu.RLock()
		v, ok := s.values[topic]
		changed := s.changed
		s.mu.RUnlock()

		if ok && v.seq > mark {
			return v.payload, true
		}
		select {
		case <-changed:
		case <-timer.C:
			return "", false
		}
	}
}

// property is one commandable device value. After a command, a read waits
// for the device to report the property again. A device that has never
// reported it is trusted with the acknowledged command; one that has
// reported before and stays silent is unconfirmed.
type property struct {
	pub     Publisher
	states  *StateCache
	state   string
	command string

	mu         sync.Mutex
	commanded  string
	commandSeq uint64
	hasCommand bool
}

func newProperty(pub Publisher, states *StateCache, topics Topics, device, name string) *property {
	return &property{
		pub:     pub,
		states:  states,
		state:   topics.DeviceState(device, name),
		command: topics.DeviceCommand(device, name),
	}
}

func (p *property) write(value string) error {
	mark := p.states.mark()
	if err := p.pub.Publish(p.command, []byte(value), false); err != nil {
		return err
	}
	p.mu.Lock()
	p.commanded, p.commandSeq, p.hasCommand = value, mark, true
	p.mu.Unlock()
	return nil
}

func (p *property) read() (string, error) {
	p.mu.Lock()
	commanded, mark, hasCommand := p.commanded, p.commandSeq, p.hasCommand
	p.mu.Unlock()

	v, ok := p.states.lookup(p.state)
	if !hasCommand {
		if !ok {
			return "", fmt.Errorf("%s: %w", p.state, ErrNoState)
		}
		return v.payload, nil
	}
	if ok && v.seq > mark {
		return v.payload, nil
	}
	if payload, fresh := p.states.awaitAfter(p.state, mark); fresh {
		return payload, nil
	}
	if ok {
		return "", fmt.Errorf("%s: %w", p.state, ErrUnconfirmed)
	}
	return commanded, nil
}

// parseBool accepts the payloads panel runtimes commonly send.
func parseBool(payload string) (bool, error) {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(payload), `"`)) {
	case "1", "true", "on", "yes":
		return true, nil
	case "0", "false", "off", "no", "":
		return false, nil
	}
	var v struct {
		Value *bool `json:"value"`
		On    *bool `json:"on"`
	}
	if err := json.Unmarshal([]byte(payload), &v); err == nil {
		if v.Value != nil {
			return *v.Value, nil
		}
		if v.On != nil {
			return *v.On, nil
		}
	}
	return false, fmt.Errorf("invalid boolean payload %q", payload)
}

func parseInt(payload string) (int, error) {
	return strconv.Atoi(strings.Trim(strings.TrimSpace(payload), `"`))
}

func parseFloat(payload string) (float64, error) {
	return strconv.ParseFloat(strings.Trim(strings.TrimSpace(payload), `"`), 64)
}
