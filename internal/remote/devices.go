package remote

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/dokzlo13/roompaneld/internal/automation"
	"github.com/dokzlo13/roompaneld/internal/switcher"
)

// Device property names.
const (
	PropInput    = "input"
	PropPower    = "power"
	PropWarmup   = "warmup"
	PropCooldown = "cooldown"
)

// Router is a video router reachable over MQTT. It implements both
// switcher.NumericRouter and switcher.StringRouter; the encoding only
// changes the payload.
type Router struct {
	name  string
	input *property
}

// SetInputIndex commands a numeric input.
func (r *Router) SetInputIndex(input int) error {
	return r.input.write(strconv.Itoa(input))
}

// InputIndex reads the selected input as a number.
func (r *Router) InputIndex() (int, error) {
	payload, err := r.input.read()
	if err != nil {
		return 0, err
	}
	n, err := parseInt(payload)
	if err != nil {
		return 0, fmt.Errorf("router %s: %w", r.name, err)
	}
	return n, nil
}

// SetInputString commands a string-encoded input.
func (r *Router) SetInputString(input string) error {
	return r.input.write(strconv.Quote(input))
}

// InputString reads the selected input as a string.
func (r *Router) InputString() (string, error) {
	payload, err := r.input.read()
	if err != nil {
		return "", err
	}
	if s, err := strconv.Unquote(payload); err == nil {
		return s, nil
	}
	return payload, nil
}

// Devices resolves device names into MQTT-backed handles. A name resolves
// once the device has published any state or the registry announced it.
type Devices struct {
	pub    Publisher
	states *StateCache
	topics Topics
	known  func(name string) bool

	mu      sync.Mutex
	routers map[string]*Router
}

// NewDevices creates a resolver. known may be nil.
func NewDevices(pub Publisher, states *StateCache, topics Topics, known func(name string) bool) *Devices {
	return &Devices{
		pub:     pub,
		states:  states,
		topics:  topics,
		known:   known,
		routers: make(map[string]*Router),
	}
}

func (d *Devices) exists(name string) bool {
	if name == "" {
		return false
	}
	if d.states.HasPrefix(d.topics.DevicePrefix(name)) {
		return true
	}
	return d.known != nil && d.known(name)
}

func (d *Devices) router(name string) (*Router, error) {
	if !d.exists(name) {
		return nil, fmt.Errorf("%w: %s", switcher.ErrNotFound, name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.routers[name]
	if !ok {
		r = &Router{name: name, input: newProperty(d.pub, d.states, d.topics, name, PropInput)}
		d.routers[name] = r
	}
	return r, nil
}

// Numeric implements switcher.DeviceResolver.
func (d *Devices) Numeric(name string) (switcher.NumericRouter, error) {
	r, err := d.router(name)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// String implements switcher.DeviceResolver.
func (d *Devices) String(name string) (switcher.StringRouter, error) {
	r, err := d.router(name)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// PowerSwitch returns the power property of a named device, or nil when the
// device is unknown.
func (d *Devices) PowerSwitch(name string) automation.PowerSwitch {
	if !d.exists(name) {
		return nil
	}
	return &Power{prop: newProperty(d.pub, d.states, d.topics, name, PropPower)}
}

// Power is a boolean power property.
type Power struct {
	prop *property
}

// SetPower commands the power state.
func (p *Power) SetPower(on bool) error {
	return p.prop.write(strconv.FormatBool(on))
}

// Power reads the power state back.
func (p *Power) Power() (bool, error) {
	payload, err := p.prop.read()
	if err != nil {
		return false, err
	}
	return parseBool(payload)
}

// Component is the room automation component: a power switch plus
// read-only warm-up and cool-down timings.
type Component struct {
	power  Power
	states *StateCache
	topics Topics
	name   string
}

// NewComponent binds the automation component published under name.
func NewComponent(pub Publisher, states *StateCache, topics Topics, name string) *Component {
	return &Component{
		power:  Power{prop: newProperty(pub, states, topics, name, PropPower)},
		states: states,
		topics: topics,
		name:   name,
	}
}

// SetPower commands the component power. A component that has never
// published state is treated as absent.
func (c *Component) SetPower(on bool) error {
	if !c.Present() {
		return fmt.Errorf("automation component %s: %w", c.name, ErrNoState)
	}
	return c.power.SetPower(on)
}

// Power reads the component power back.
func (c *Component) Power() (bool, error) {
	return c.power.Power()
}

// Present reports whether the component has published any state.
func (c *Component) Present() bool {
	return c.states.HasPrefix(c.topics.DevicePrefix(c.name))
}

// WarmupSeconds reads the warm-up timing.
func (c *Component) WarmupSeconds() (float64, error) {
	return c.seconds(PropWarmup)
}

// CooldownSeconds reads the cool-down timing.
func (c *Component) CooldownSeconds() (float64, error) {
	return c.seconds(PropCooldown)
}

func (c *Component) seconds(prop string) (float64, error) {
	topic := c.topics.DeviceState(c.name, prop)
	payload, ok := c.states.Get(topic)
	if !ok {
		return 0, fmt.Errorf("%s: %w", topic, ErrNoState)
	}
	return parseFloat(payload)
}
