// Package panel implements the layer navigation state machine of the room panel.
//
// A Machine owns the single active layer. All mutating calls are expected on
// the dispatch goroutine; read accessors are safe from any goroutine.
package panel

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roompaneld/internal/layer"
	"github.com/dokzlo13/roompaneld/internal/observer"
)

// DefaultPage is the page id passed to the visual surface.
const DefaultPage = "Main"

// Options configures a Machine. Nil collaborators are skipped.
type Options struct {
	Page        string
	Layout      *layer.Layout
	Transitions layer.TransitionTable

	Visual    VisualSurface
	Buttons   ButtonSurface
	Bridge    PowerBridge
	Animator  Animator
	Router    Router
	Observers *observer.Registry
}

// Snapshot describes the machine for diagnostics.
type Snapshot struct {
	Active    string          `json:"active"`
	Animating bool            `json:"animating"`
	Route     int             `json:"route"`
	Signals   map[string]bool `json:"signals"`
	Visible   []string        `json:"visible"`
	Seq       uint64          `json:"seq"`
}

type buttonKey struct {
	group string
	index int
}

// Machine is the layer navigation state machine.
type Machine struct {
	page      string
	layout    layer.Layout
	table     layer.TransitionTable
	visual    VisualSurface
	buttons   ButtonSurface
	bridge    PowerBridge
	animator  Animator
	router    Router
	observers *observer.Registry

	mu      sync.RWMutex
	active  layer.Layer
	signals map[string]bool
	route   int
	seq     uint64

	// visibility and pressed hold the last value applied to the surfaces.
	// A missing key always applies.
	visibility map[string]bool
	pressed    map[buttonKey]bool
}

// New creates a machine on the Start layer. Call Boot to draw it.
func New(opts Options) *Machine {
	ly := layer.DefaultLayout()
	if opts.Layout != nil {
		ly = *opts.Layout
	}
	table := opts.Transitions
	if table == nil {
		table = layer.DefaultTransitions()
	}
	page := opts.Page
	if page == "" {
		page = DefaultPage
	}
	observers := opts.Observers
	if observers == nil {
		observers = observer.NewRegistry()
	}

	return &Machine{
		page:       page,
		layout:     ly,
		table:      table,
		visual:     opts.Visual,
		buttons:    opts.Buttons,
		bridge:     opts.Bridge,
		animator:   opts.Animator,
		router:     opts.Router,
		observers:  observers,
		active:     layer.Start,
		signals:    make(map[string]bool),
		route:      1,
		visibility: make(map[string]bool),
		pressed:    make(map[buttonKey]bool),
	}
}

// Observers returns the registry notified on every transition.
func (m *Machine) Observers() *observer.Registry {
	return m.observers
}

// ActiveLayer returns the current layer.
func (m *Machine) ActiveLayer() layer.Layer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Boot applies the full visual state of the current layer without
// notifying observers.
func (m *Machine) Boot() {
	active := m.renderSafe()
	m.runFollowUps(active)
	m.interlock(active)
	log.Info().Str("layer", active.String()).Msg("Panel booted")
}

// RequestTransition moves to target. Rejections are logged and reported as false.
func (m *Machine) RequestTransition(target layer.Layer) bool {
	prev := m.ActiveLayer()

	switch {
	case !target.Valid():
		log.Warn().Int("target", int(target)).Str("from", prev.String()).Msg("Rejected transition to invalid layer")
		return false
	case target == prev:
		log.Debug().Str("layer", prev.String()).Msg("Already on layer, transition ignored")
		return false
	case m.animating():
		log.Warn().Str("from", prev.String()).Str("to", target.String()).Msg("Rejected transition during power animation")
		return false
	case !m.table.Allows(prev, target):
		log.Warn().Str("from", prev.String()).Str("to", target.String()).Msg("Rejected transition not permitted by table")
		return false
	}

	m.mu.Lock()
	m.active = target
	m.mu.Unlock()

	active := m.renderSafe()
	m.runFollowUps(active)
	m.interlock(active)
	if active == prev {
		log.Warn().Str("layer", prev.String()).Msg("Render fell back to the layer already shown, observers not notified")
		return true
	}
	m.notify(prev, active)

	log.Info().Str("from", prev.String()).Str("to", active.String()).Msg("Layer transition")
	return true
}

// PressNavButton handles a press of navigation button index.
func (m *Machine) PressNavButton(button int) bool {
	target, ok := layer.ByNavButton(button)
	if !ok {
		log.Warn().Int("button", button).Msg("Press on unknown navigation button")
		return false
	}
	return m.RequestTransition(target)
}

func (m *Machine) animating() bool {
	if m.animator == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("Animator state check panicked")
		}
	}()
	return m.animator.Animating()
}

// renderSafe renders the active layer. If rendering panics the machine
// falls back to Start, forgets what it applied, and renders again.
// It returns the layer that ended up rendered.
func (m *Machine) renderSafe() layer.Layer {
	active := m.ActiveLayer()
	err := m.tryRender(active)
	if err == nil {
		return active
	}

	log.Error().Err(err).Str("layer", active.String()).Msg("Render failed, forcing Start layer")
	m.mu.Lock()
	m.active = layer.Start
	m.visibility = make(map[string]bool)
	m.mu.Unlock()

	if err := m.tryRender(layer.Start); err != nil {
		log.Error().Err(err).Msg("Re-render of Start layer failed")
	}
	return layer.Start
}

func (m *Machine) tryRender(active layer.Layer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render panic: %v", r)
		}
	}()
	m.render(active)
	return nil
}

// render hides every element except the active layer's own ones. The base
// chrome and the active layer's sub-layers are left to the follow-ups so
// they are never hidden and re-shown within one pass.
func (m *Machine) render(active layer.Layer) {
	for _, name := range m.layout.AllElements() {
		if name == m.layout.Base || m.layout.OwnsSubLayer(active, name) {
			continue
		}
		m.setVisible(name, m.layout.ShowsElement(active, name))
	}
}

// setVisible applies visibility through the cache. Surface errors are
// logged and left uncached so the next pass retries; panics propagate.
func (m *Machine) setVisible(name string, visible bool) {
	m.mu.RLock()
	cached, known := m.visibility[name]
	m.mu.RUnlock()
	if known && cached == visible {
		return
	}
	if m.visual != nil {
		if err := m.visual.SetLayerVisible(m.page, name, visible, m.layout.Transition); err != nil {
			log.Warn().Err(err).Str("element", name).Bool("visible", visible).Msg("Failed to set layer visibility")
			return
		}
	}
	m.mu.Lock()
	m.visibility[name] = visible
	m.mu.Unlock()
}

func (m *Machine) setPressed(group string, index int, pressed bool) {
	key := buttonKey{group, index}
	m.mu.RLock()
	cached, known := m.pressed[key]
	m.mu.RUnlock()
	if known && cached == pressed {
		return
	}
	if m.buttons != nil {
		if err := m.buttons.SetPressed(group, index, pressed); err != nil {
			log.Warn().Err(err).Str("group", group).Int("button", index).Msg("Failed to set button state")
			return
		}
	}
	m.mu.Lock()
	m.pressed[key] = pressed
	m.mu.Unlock()
}

type followUp struct {
	name string
	run  func(active layer.Layer)
}

func (m *Machine) followUps() []followUp {
	return []followUp{
		{"base", m.applyBase},
		{"power", m.applyPower},
		{"animation", m.applyAnimation},
		{"source", m.applySourceRules},
		{"routing", m.applyRouting},
		{"input", m.applyInput},
	}
}

// runFollowUps runs every per-layer action, each isolated from the others.
func (m *Machine) runFollowUps(active layer.Layer) {
	for _, f := range m.followUps() {
		m.runFollowUp(f, active)
	}
}

func (m *Machine) runFollowUp(f followUp, active layer.Layer) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("action", f.name).
				Str("layer", active.String()).
				Msg("Layer follow-up panicked")
		}
	}()
	f.run(active)
}

func (m *Machine) applyBase(active layer.Layer) {
	if m.layout.Base == "" {
		return
	}
	m.setVisible(m.layout.Base, active != layer.Start && active != layer.Alarm)
}

func (m *Machine) applyPower(active layer.Layer) {
	if m.bridge == nil {
		return
	}
	switch active {
	case layer.Warming:
		m.bridge.PowerOn()
	case layer.Cooling:
		m.bridge.PowerOff()
	}
}

func (m *Machine) applyAnimation(active layer.Layer) {
	if m.animator == nil || !active.IsPowerTransition() {
		return
	}
	m.animator.Start(active == layer.Warming)
}

func (m *Machine) applySourceRules(active layer.Layer) {
	if active != layer.PC && active != layer.Laptop {
		return
	}
	for _, role := range layer.SourceRoles {
		name := layer.SubLayerName(active, role)
		if !m.layout.OwnsSubLayer(active, name) {
			continue
		}
		m.setVisible(name, m.Signal(name))
	}
}

func (m *Machine) applyRouting(active layer.Layer) {
	if active != layer.Routing {
		return
	}
	route := m.Route()
	for i := 1; i <= layer.RouteCount; i++ {
		m.setVisible(layer.RouteName(i), i == route)
	}
	for i := 1; i <= layer.RouteCount; i++ {
		m.setPressed(GroupRouting, i-1, i == route)
	}
}

func (m *Machine) applyInput(active layer.Layer) {
	if m.router == nil || !active.IsInputSelecting() {
		return
	}
	button, ok := active.NavButton()
	if !ok {
		return
	}
	if !m.router.SwitchForButton(button) {
		log.Warn().Str("layer", active.String()).Int("button", button).Msg("Input routing failed")
	}
}

// interlock presses the active layer's navigation button and releases the rest.
func (m *Machine) interlock(active layer.Layer) {
	current, ok := active.NavButton()
	for b := 0; b < layer.NavButtonCount; b++ {
		m.setPressed(GroupNav, b, ok && b == current)
	}
}

func (m *Machine) notify(prev, cur layer.Layer) {
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	t := observer.NewTransition(seq, prev, cur)
	if failed := m.observers.Notify(t); failed > 0 {
		log.Warn().Int("failed", failed).Str("layer", cur.String()).Msg("Some observers failed")
	}
}

// SetSignal updates an external sub-layer signal, such as "PC-Connected".
// If the active layer owns that sub-layer it is updated immediately.
func (m *Machine) SetSignal(name string, value bool) {
	m.mu.Lock()
	m.signals[name] = value
	active := m.active
	m.mu.Unlock()

	if m.layout.OwnsSubLayer(active, name) && (active == layer.PC || active == layer.Laptop) {
		m.runFollowUp(followUp{"source", m.applySourceRules}, active)
	}
}

// Signal returns the last value set for name.
func (m *Machine) Signal(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.signals[name]
}

// SelectRoute picks routing sub-layer i (1-based).
func (m *Machine) SelectRoute(i int) bool {
	if i < 1 || i > layer.RouteCount {
		log.Warn().Int("route", i).Msg("Invalid routing selection")
		return false
	}
	m.mu.Lock()
	m.route = i
	active := m.active
	m.mu.Unlock()

	if active == layer.Routing {
		m.runFollowUp(followUp{"routing", m.applyRouting}, active)
	}
	return true
}

// Route returns the selected routing sub-layer.
func (m *Machine) Route() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.route
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	animating := m.animating()

	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Snapshot{
		Active:    m.active.String(),
		Animating: animating,
		Route:     m.route,
		Signals:   make(map[string]bool, len(m.signals)),
		Seq:       m.seq,
	}
	for k, v := range m.signals {
		s.Signals[k] = v
	}
	for name, visible := range m.visibility {
		if visible {
			s.Visible = append(s.Visible, name)
		}
	}
	sort.Strings(s.Visible)
	return s
}
