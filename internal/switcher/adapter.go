package switcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roompaneld/internal/registry"
)

// State is the lifecycle state of the adapter.
type State int

const (
	StateUninitialized State = iota
	StateDetecting
	StateBound
	StateActive
	StateDisabled
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateDetecting:
		return "detecting"
	case StateBound:
		return "bound"
	case StateActive:
		return "active"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// MappingStore persists runtime mapping changes per family.
type MappingStore interface {
	LoadMapping(family string) (Mapping, bool, error)
	SaveMapping(family string, m Mapping) error
}

// Options configures an Adapter.
type Options struct {
	Cache     *registry.DiscoveryCache
	Resolver  DeviceResolver
	Variables Variables
	// Families in detection order; DefaultFamilies when empty.
	Families []Family
	// Mapping, when non-empty, replaces the family default mapping.
	Mapping Mapping
	Store   MappingStore
}

// Status is a snapshot of the adapter for diagnostics.
type Status struct {
	Enabled      bool                `json:"enabled"`
	SwitcherType string              `json:"switcher_type"`
	DeviceName   string              `json:"device_name"`
	State        string              `json:"state"`
	Mapping      map[int]int         `json:"mapping"`
	LastInput    int                 `json:"last_input"`
	LastError    string              `json:"last_error,omitempty"`
	Discovered   map[string][]string `json:"discovered,omitempty"`
}

// Adapter detects the switcher family present in the room and routes inputs to it.
type Adapter struct {
	cache    *registry.DiscoveryCache
	resolver DeviceResolver
	vars     Variables
	families []Family
	override Mapping
	store    MappingStore

	mu         sync.RWMutex
	state      State
	family     *Family
	deviceName string
	proto      protocol
	mapping    Mapping
	lastInput  int
	lastErr    string
}

// New creates an uninitialized adapter. Call Initialize to detect the device.
func New(opts Options) *Adapter {
	families := opts.Families
	if len(families) == 0 {
		families = DefaultFamilies()
	}
	vars := opts.Variables
	if vars == nil {
		vars = VariableMap{}
	}
	return &Adapter{
		cache:    opts.Cache,
		resolver: opts.Resolver,
		vars:     vars,
		families: families,
		override: opts.Mapping.Clone(),
		store:    opts.Store,
		state:    StateUninitialized,
	}
}

// Initialize runs detection and binds the first device found.
// Configuration-variable overrides win over discovery; with neither, the
// adapter is disabled and routing calls become no-ops.
func (a *Adapter) Initialize(ctx context.Context) State {
	a.setState(StateDetecting)

	if a.resolver == nil {
		log.Warn().Msg("No switcher resolver configured, input routing disabled")
		return a.disable()
	}

	if a.detectOverride() || a.detectDiscovered(ctx) {
		return a.activate()
	}

	log.Warn().Msg("No video switcher found, input routing disabled")
	return a.disable()
}

// Redetect runs detection again when the adapter is disabled, picking up
// switchers that were announced after Initialize. Discovery goes through the
// shared cache, so within the TTL this only costs a snapshot read unless the
// cache was cleared. Other states are returned unchanged.
func (a *Adapter) Redetect(ctx context.Context) State {
	if st := a.State(); st != StateDisabled || a.resolver == nil {
		return st
	}
	if a.detectOverride() || a.detectDiscovered(ctx) {
		log.Info().Str("device", a.Status().DeviceName).Msg("Switcher found on re-detection")
		return a.activate()
	}
	return a.disable()
}

// detectOverride tries every candidate variable of every family in order.
func (a *Adapter) detectOverride() bool {
	for i := range a.families {
		f := &a.families[i]
		for _, variable := range f.Variables {
			name, ok := a.vars.Lookup(variable)
			if !ok {
				continue
			}
			if err := a.bind(f, name); err != nil {
				log.Warn().
					Err(err).
					Str("variable", variable).
					Str("device", name).
					Str("family", f.Name).
					Msg("Switcher override did not resolve")
				continue
			}
			log.Info().
				Str("variable", variable).
				Str("device", name).
				Str("family", f.Name).
				Msg("Switcher bound from configuration override")
			return true
		}
	}
	return false
}

// detectDiscovered binds the first discovered device of any known family,
// in registry enumeration order.
func (a *Adapter) detectDiscovered(ctx context.Context) bool {
	if a.cache == nil {
		return false
	}

	for _, comp := range a.cache.Components(ctx) {
		f := a.familyForType(comp.DeclaredType)
		if f == nil {
			continue
		}
		if err := a.bind(f, comp.Name); err != nil {
			log.Warn().
				Err(err).
				Str("device", comp.Name).
				Str("family", f.Name).
				Msg("Discovered switcher could not be bound")
			continue
		}
		log.Info().
			Str("device", comp.Name).
			Str("family", f.Name).
			Msg("Switcher bound from discovery")
		return true
	}
	return false
}

func (a *Adapter) familyForType(declared string) *Family {
	for i := range a.families {
		if a.families[i].DeclaredType == declared {
			return &a.families[i]
		}
	}
	return nil
}

// bind resolves the device for family f and loads its mapping.
func (a *Adapter) bind(f *Family, name string) error {
	proto, err := a.resolve(f, name)
	if err != nil {
		return err
	}

	mapping := f.DefaultMapping.Clone()
	if len(a.override) > 0 {
		mapping = a.override.Clone()
	}
	if a.store != nil {
		stored, ok, err := a.store.LoadMapping(f.Name)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("family", f.Name).Msg("Failed to load stored mapping, using defaults")
		case ok && len(stored) > 0:
			mapping = stored
		}
	}

	a.mu.Lock()
	a.family = f
	a.deviceName = name
	a.proto = proto
	a.mapping = mapping
	a.state = StateBound
	a.mu.Unlock()
	return nil
}

// resolve builds the family protocol over the device capabilities.
func (a *Adapter) resolve(f *Family, name string) (protocol, error) {
	switch f.Name {
	case FamilyNumeric:
		dev, err := a.resolver.Numeric(name)
		if err != nil {
			return nil, err
		}
		return numericProtocol{dev: dev}, nil
	case FamilyString:
		dev, err := a.resolver.String(name)
		if err != nil {
			return nil, err
		}
		return stringProtocol{dev: dev}, nil
	default:
		num, errNum := a.resolver.Numeric(name)
		str, errStr := a.resolver.String(name)
		if errNum != nil && errStr != nil {
			return nil, errors.Join(errNum, errStr)
		}
		if errNum != nil {
			num = nil
		}
		if errStr != nil {
			str = nil
		}
		return genericProtocol{num: num, str: str}, nil
	}
}

func (a *Adapter) activate() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = StateActive
	return a.state
}

func (a *Adapter) disable() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = StateDisabled
	a.family = nil
	a.deviceName = ""
	a.proto = nil
	a.mapping = nil
	return a.state
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// State returns the current lifecycle state.
func (a *Adapter) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// SwitchToInput routes input on the bound device and verifies the result.
// Failures are logged and reported as false; they never propagate.
func (a *Adapter) SwitchToInput(input, sourceButton int) (ok bool) {
	a.Redetect(context.Background())
	return a.switchTo(input, sourceButton)
}

func (a *Adapter) switchTo(input, sourceButton int) bool {
	a.mu.RLock()
	state, proto, family, device := a.state, a.proto, a.family, a.deviceName
	a.mu.RUnlock()

	if state != StateActive || proto == nil {
		log.Debug().Int("input", input).Str("state", state.String()).Msg("Switcher not active, ignoring route request")
		return false
	}
	if input <= 0 {
		log.Warn().Int("input", input).Int("button", sourceButton).Msg("Invalid switcher input")
		return false
	}

	err := safeSwitch(proto, input)

	a.mu.Lock()
	if err != nil {
		a.lastErr = err.Error()
	} else {
		a.lastInput = input
		a.lastErr = ""
	}
	a.mu.Unlock()

	if err != nil {
		log.Warn().
			Err(err).
			Int("input", input).
			Int("button", sourceButton).
			Str("family", family.Name).
			Str("device", device).
			Msg("Switcher route failed")
		return false
	}

	log.Info().
		Int("input", input).
		Int("button", sourceButton).
		Str("family", family.Name).
		Str("device", device).
		Msg("Switcher routed")
	return true
}

// safeSwitch converts a panicking device handle into an error.
func safeSwitch(p protocol, input int) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("switcher device panicked: %v", rec)
		}
	}()
	return p.switchTo(input)
}

// SwitchForButton routes the input mapped to a navigation button.
func (a *Adapter) SwitchForButton(button int) bool {
	a.Redetect(context.Background())

	a.mu.RLock()
	input, ok := a.mapping[button]
	a.mu.RUnlock()

	if !ok {
		log.Debug().Int("button", button).Msg("No switcher input mapped for button")
		return false
	}
	return a.switchTo(input, button)
}

// UpdateMapping replaces the button mapping without re-detection.
func (a *Adapter) UpdateMapping(m Mapping) error {
	if len(m) == 0 {
		return fmt.Errorf("empty mapping")
	}
	for button, input := range m {
		if input <= 0 {
			return fmt.Errorf("button %d: invalid input %d", button, input)
		}
	}

	a.mu.Lock()
	a.mapping = m.Clone()
	family := a.family
	a.mu.Unlock()

	log.Info().Interface("mapping", m).Msg("Switcher mapping updated")

	if a.store != nil && family != nil {
		if err := a.store.SaveMapping(family.Name, m); err != nil {
			log.Warn().Err(err).Str("family", family.Name).Msg("Failed to persist switcher mapping")
		}
	}
	return nil
}

// Mapping returns a copy of the active mapping.
func (a *Adapter) Mapping() Mapping {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mapping.Clone()
}

// Status returns a snapshot of the adapter, including the switchers seen in
// the last discovery pass.
func (a *Adapter) Status() Status {
	discovered := a.discovered()

	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Status{
		Enabled:    a.state == StateActive,
		DeviceName: a.deviceName,
		State:      a.state.String(),
		Mapping:    a.mapping.Clone(),
		LastInput:  a.lastInput,
		LastError:  a.lastErr,
		Discovered: discovered,
	}
	if a.family != nil {
		s.SwitcherType = a.family.Name
	}
	return s
}

// discovered groups the last enumeration by family. It never enumerates,
// so it is safe to call from status readers.
func (a *Adapter) discovered() map[string][]string {
	if a.cache == nil {
		return nil
	}
	var out map[string][]string
	for _, comp := range a.cache.Cached() {
		f := a.familyForType(comp.DeclaredType)
		if f == nil {
			continue
		}
		if out == nil {
			out = make(map[string][]string)
		}
		out[f.Name] = append(out[f.Name], comp.Name)
	}
	return out
}
