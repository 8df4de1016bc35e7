package panel

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dokzlo13/roompaneld/internal/automation"
	"github.com/dokzlo13/roompaneld/internal/layer"
	"github.com/dokzlo13/roompaneld/internal/observer"
)

// eventLog collects collaborator calls in order.
type eventLog struct {
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) index(prefix string) int {
	for i, e := range l.events {
		if strings.HasPrefix(e, prefix) {
			return i
		}
	}
	return -1
}

type fakeVisual struct {
	log     *eventLog
	state   map[string]bool
	calls   int
	panicOn string
}

func (f *fakeVisual) SetLayerVisible(page, name string, visible bool, transition string) error {
	if visible && name == f.panicOn {
		panic("surface exploded")
	}
	f.calls++
	f.state[name] = visible
	f.log.add("vis:%s=%t", name, visible)
	return nil
}

type fakeButtons struct {
	log   *eventLog
	state map[string]bool
}

func (f *fakeButtons) SetPressed(group string, index int, pressed bool) error {
	f.state[fmt.Sprintf("%s/%d", group, index)] = pressed
	f.log.add("press:%s/%d=%t", group, index, pressed)
	return nil
}

func (f *fakeButtons) pressedIn(group string) []int {
	var out []int
	for i := 0; i < 10; i++ {
		if f.state[fmt.Sprintf("%s/%d", group, i)] {
			out = append(out, i)
		}
	}
	return out
}

type fakeBridge struct {
	log    *eventLog
	panics bool
}

func (f *fakeBridge) PowerOn() automation.Result {
	if f.panics {
		panic("bridge exploded")
	}
	f.log.add("power:on")
	return automation.Result{OK: true}
}

func (f *fakeBridge) PowerOff() automation.Result {
	f.log.add("power:off")
	return automation.Result{OK: true}
}

type fakeAnimator struct {
	log       *eventLog
	animating bool
}

func (f *fakeAnimator) Start(on bool) bool {
	f.log.add("anim:%t", on)
	return true
}

func (f *fakeAnimator) Animating() bool { return f.animating }

type fakeRouter struct {
	log     *eventLog
	buttons []int
}

func (f *fakeRouter) SwitchForButton(button int) bool {
	f.buttons = append(f.buttons, button)
	f.log.add("route:%d", button)
	return true
}

type fixture struct {
	log      *eventLog
	visual   *fakeVisual
	buttons  *fakeButtons
	bridge   *fakeBridge
	animator *fakeAnimator
	router   *fakeRouter
	machine  *Machine
}

func newFixture(table layer.TransitionTable) *fixture {
	l := &eventLog{}
	f := &fixture{
		log:      l,
		visual:   &fakeVisual{log: l, state: make(map[string]bool)},
		buttons:  &fakeButtons{log: l, state: make(map[string]bool)},
		bridge:   &fakeBridge{log: l},
		animator: &fakeAnimator{log: l},
		router:   &fakeRouter{log: l},
	}
	f.machine = New(Options{
		Transitions: table,
		Visual:      f.visual,
		Buttons:     f.buttons,
		Bridge:      f.bridge,
		Animator:    f.animator,
		Router:      f.router,
	})
	f.machine.Boot()
	f.log.events = nil
	f.visual.calls = 0
	return f
}

// jump puts the machine on l without going through the table.
func (f *fixture) jump(l layer.Layer) {
	f.machine.mu.Lock()
	f.machine.active = l
	f.machine.mu.Unlock()
}

func TestRequestTransition_AllPairsFollowTable(t *testing.T) {
	table := layer.DefaultTransitions()
	for _, from := range layer.All() {
		for _, to := range layer.All() {
			if from == to {
				continue
			}
			name := from.String() + "_to_" + to.String()
			t.Run(name, func(t *testing.T) {
				f := newFixture(table)
				f.jump(from)
				f.visual.calls = 0

				got := f.machine.RequestTransition(to)
				want := table.Allows(from, to)
				if got != want {
					t.Fatalf("RequestTransition = %v, want %v", got, want)
				}
				if want && f.machine.ActiveLayer() != to {
					t.Errorf("active = %v, want %v", f.machine.ActiveLayer(), to)
				}
				if !want {
					if f.machine.ActiveLayer() != from {
						t.Errorf("active changed to %v on rejection", f.machine.ActiveLayer())
					}
					if f.visual.calls != 0 {
						t.Errorf("%d visibility calls on rejection", f.visual.calls)
					}
				}
			})
		}
	}
}

func TestRequestTransition_OnlyWarmingFromStart(t *testing.T) {
	f := newFixture(layer.TransitionTable{layer.Start: {layer.Warming}})

	if f.machine.RequestTransition(layer.PC) {
		t.Error("Start -> PC should be rejected")
	}
	if f.machine.ActiveLayer() != layer.Start {
		t.Errorf("active = %v, want Start", f.machine.ActiveLayer())
	}
	if len(f.log.events) != 0 {
		t.Errorf("rejection produced calls: %v", f.log.events)
	}

	if !f.machine.RequestTransition(layer.Warming) {
		t.Error("Start -> Warming should succeed")
	}
	if f.machine.ActiveLayer() != layer.Warming {
		t.Errorf("active = %v, want Warming", f.machine.ActiveLayer())
	}
}

func TestRequestTransition_SameLayerIsNoOp(t *testing.T) {
	f := newFixture(layer.TransitionTable{})
	f.machine.RequestTransition(layer.RoomControls)
	f.log.events = nil

	if f.machine.RequestTransition(layer.RoomControls) {
		t.Error("repeat transition should be rejected")
	}
	if len(f.log.events) != 0 {
		t.Errorf("repeat transition produced calls: %v", f.log.events)
	}
}

func TestRequestTransition_InvalidTarget(t *testing.T) {
	f := newFixture(layer.TransitionTable{})
	if f.machine.RequestTransition(layer.Layer(42)) {
		t.Error("invalid layer accepted")
	}
	if f.machine.RequestTransition(layer.Layer(-1)) {
		t.Error("negative layer accepted")
	}
	if f.machine.ActiveLayer() != layer.Start {
		t.Errorf("active = %v", f.machine.ActiveLayer())
	}
}

func TestRequestTransition_RejectedWhileAnimating(t *testing.T) {
	f := newFixture(layer.TransitionTable{})
	f.animator.animating = true

	if f.machine.RequestTransition(layer.RoomControls) {
		t.Error("transition accepted during animation")
	}
	if len(f.log.events) != 0 {
		t.Errorf("rejection produced calls: %v", f.log.events)
	}
}

func TestBoot_AppliesEveryElement(t *testing.T) {
	l := &eventLog{}
	visual := &fakeVisual{log: l, state: make(map[string]bool)}
	m := New(Options{Visual: visual})
	m.Boot()

	ly := layer.DefaultLayout()
	for _, name := range ly.AllElements() {
		if _, ok := visual.state[name]; !ok && !ly.OwnsSubLayer(layer.Start, name) {
			t.Errorf("element %q not applied on first pass", name)
		}
	}
	if !visual.state["Start"] || visual.state["Base"] || visual.state["PC"] {
		t.Errorf("unexpected boot state: Start=%v Base=%v PC=%v",
			visual.state["Start"], visual.state["Base"], visual.state["PC"])
	}
}

func TestVisibilityCache_OnlyChangesAfterFirstPass(t *testing.T) {
	f := newFixture(layer.TransitionTable{})

	f.machine.RequestTransition(layer.RoomControls)

	want := map[string]bool{"Start": false, "RoomControls": true, "Base": true}
	if f.visual.calls != len(want) {
		t.Errorf("visibility calls = %d, want %d: %v", f.visual.calls, len(want), f.log.events)
	}
	for name, v := range want {
		if f.visual.state[name] != v {
			t.Errorf("%s visible = %v, want %v", name, f.visual.state[name], v)
		}
	}

	// Moving between two layers that both show the base chrome leaves it alone.
	f.log.events = nil
	f.machine.RequestTransition(layer.Dialer)
	if i := f.log.index("vis:Base"); i >= 0 {
		t.Errorf("base chrome re-applied: %v", f.log.events)
	}
}

func TestStartAndAlarmHideBase(t *testing.T) {
	f := newFixture(layer.TransitionTable{})
	f.machine.RequestTransition(layer.RoomControls)
	if !f.visual.state["Base"] {
		t.Fatal("base should be shown on RoomControls")
	}
	f.machine.RequestTransition(layer.Alarm)
	if f.visual.state["Base"] {
		t.Error("base should be hidden on Alarm")
	}
}

func TestWarmingPowersOnThenAnimates(t *testing.T) {
	f := newFixture(nil)

	if !f.machine.RequestTransition(layer.Warming) {
		t.Fatal("Start -> Warming rejected")
	}
	power, anim := f.log.index("power:on"), f.log.index("anim:true")
	if power < 0 || anim < 0 || power > anim {
		t.Errorf("want power:on before anim:true, got %v", f.log.events)
	}
	if !f.visual.state["Progress"] || !f.visual.state["Warming"] {
		t.Error("Warming elements not shown")
	}
}

func TestCoolingPowersOffThenAnimates(t *testing.T) {
	f := newFixture(layer.TransitionTable{})
	f.jump(layer.RoomControls)

	f.machine.RequestTransition(layer.Cooling)
	power, anim := f.log.index("power:off"), f.log.index("anim:false")
	if power < 0 || anim < 0 || power > anim {
		t.Errorf("want power:off before anim:false, got %v", f.log.events)
	}
}

func TestFollowUpPanicDoesNotBlockOthers(t *testing.T) {
	f := newFixture(nil)
	f.bridge.panics = true

	var notified []observer.Transition
	f.machine.Observers().Register(observer.CategoryRoom, observer.ObserverFunc(func(tr observer.Transition) error {
		notified = append(notified, tr)
		return nil
	}))

	if !f.machine.RequestTransition(layer.Warming) {
		t.Fatal("transition rejected")
	}
	if f.log.index("anim:true") < 0 {
		t.Error("animator not started after bridge panic")
	}
	if f.machine.ActiveLayer() != layer.Warming {
		t.Errorf("active = %v, want Warming", f.machine.ActiveLayer())
	}
	if len(notified) != 1 {
		t.Errorf("observers notified %d times", len(notified))
	}
}

func TestOrdering_RenderFollowUpsInterlockNotify(t *testing.T) {
	f := newFixture(layer.TransitionTable{})
	f.machine.Observers().Register(observer.CategoryRemote, observer.ObserverFunc(func(observer.Transition) error {
		f.log.add("notify")
		return nil
	}))

	f.machine.RequestTransition(layer.PC)

	render := f.log.index("vis:PC=true")
	route := f.log.index("route:1")
	press := f.log.index("press:nav/1=true")
	notify := f.log.index("notify")
	if !(render >= 0 && render < route && route < press && press < notify) {
		t.Errorf("unexpected order: %v", f.log.events)
	}
}

func TestRenderPanicForcesStart(t *testing.T) {
	f := newFixture(layer.TransitionTable{})
	f.machine.RequestTransition(layer.RoomControls)
	f.visual.panicOn = "PC"

	var got observer.Transition
	f.machine.Observers().Register(observer.CategoryRoom, observer.ObserverFunc(func(tr observer.Transition) error {
		got = tr
		return nil
	}))

	f.machine.RequestTransition(layer.PC)

	if f.machine.ActiveLayer() != layer.Start {
		t.Fatalf("active = %v, want Start", f.machine.ActiveLayer())
	}
	if !f.visual.state["Start"] || f.visual.state["RoomControls"] || f.visual.state["Base"] {
		t.Errorf("Start not re-rendered: %v", f.visual.state)
	}
	if got.Previous != layer.RoomControls || got.Current != layer.Start {
		t.Errorf("notified %v -> %v", got.Previous, got.Current)
	}
	if len(f.router.buttons) != 0 {
		t.Error("PC follow-ups should not run after falling back to Start")
	}
}

func TestRenderPanicFromStartSkipsNotify(t *testing.T) {
	f := newFixture(layer.TransitionTable{})
	f.visual.panicOn = "Alarm"

	notified := 0
	f.machine.Observers().Register(observer.CategoryRoom, observer.ObserverFunc(func(observer.Transition) error {
		notified++
		return nil
	}))

	f.machine.RequestTransition(layer.Alarm)

	if f.machine.ActiveLayer() != layer.Start {
		t.Fatalf("active = %v, want Start", f.machine.ActiveLayer())
	}
	if notified != 0 {
		t.Errorf("observers told about Start -> Start %d times", notified)
	}
}

func TestInterlock_ExactlyOnePressed(t *testing.T) {
	f := newFixture(layer.TransitionTable{})

	for _, l := range []layer.Layer{layer.PC, layer.Routing, layer.StreamMusic, layer.RoomControls} {
		f.machine.RequestTransition(l)
		want, _ := l.NavButton()
		pressed := f.buttons.pressedIn(GroupNav)
		if len(pressed) != 1 || pressed[0] != want {
			t.Errorf("%v: pressed nav buttons = %v, want [%d]", l, pressed, want)
		}
	}

	f.machine.RequestTransition(layer.Alarm)
	if pressed := f.buttons.pressedIn(GroupNav); len(pressed) != 0 {
		t.Errorf("Alarm has no nav button, pressed = %v", pressed)
	}
}

func TestInputSelectingLayersRoute(t *testing.T) {
	tests := []struct {
		name   string
		target layer.Layer
		want   []int
	}{
		{"pc", layer.PC, []int{1}},
		{"laptop", layer.Laptop, []int{2}},
		{"wireless", layer.Wireless, []int{3}},
		{"room_controls", layer.RoomControls, nil},
		{"routing", layer.Routing, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(layer.TransitionTable{})
			f.machine.RequestTransition(tt.target)
			if fmt.Sprint(f.router.buttons) != fmt.Sprint(tt.want) {
				t.Errorf("routed buttons = %v, want %v", f.router.buttons, tt.want)
			}
		})
	}
}

func TestRoutingSubLayers(t *testing.T) {
	f := newFixture(layer.TransitionTable{})
	f.machine.RequestTransition(layer.Routing)

	check := func(selected int) {
		t.Helper()
		for i := 1; i <= layer.RouteCount; i++ {
			if f.visual.state[layer.RouteName(i)] != (i == selected) {
				t.Errorf("%s visible = %v with route %d", layer.RouteName(i), f.visual.state[layer.RouteName(i)], selected)
			}
		}
		if pressed := f.buttons.pressedIn(GroupRouting); len(pressed) != 1 || pressed[0] != selected-1 {
			t.Errorf("routing buttons pressed = %v, want [%d]", pressed, selected-1)
		}
	}

	check(1)
	if !f.machine.SelectRoute(4) {
		t.Fatal("SelectRoute(4) failed")
	}
	check(4)
	if f.machine.SelectRoute(6) || f.machine.SelectRoute(0) {
		t.Error("out-of-range route accepted")
	}
	check(4)

	// Leaving Routing hides every routing sub-layer.
	f.machine.RequestTransition(layer.Dialer)
	for i := 1; i <= layer.RouteCount; i++ {
		if f.visual.state[layer.RouteName(i)] {
			t.Errorf("%s still visible on Dialer", layer.RouteName(i))
		}
	}
}

func TestSourceSubLayersFollowSignals(t *testing.T) {
	f := newFixture(layer.TransitionTable{})
	f.machine.SetSignal("Laptop-Connected", true)
	f.machine.SetSignal("Laptop-Help", true)

	f.machine.RequestTransition(layer.Laptop)

	for name, want := range map[string]bool{
		"Laptop-Connected":      true,
		"Laptop-PresetSaved":    false,
		"Laptop-TrackingBypass": false,
		"Laptop-Help":           true,
	} {
		if got, ok := f.visual.state[name]; !ok || got != want {
			t.Errorf("%s = %v (applied %v), want %v", name, got, ok, want)
		}
	}

	f.machine.SetSignal("Laptop-Help", false)
	if f.visual.state["Laptop-Help"] {
		t.Error("signal change not applied to the active layer")
	}

	// Signals for inactive layers are stored but not drawn.
	f.log.events = nil
	f.machine.SetSignal("PC-Connected", true)
	if len(f.log.events) != 0 {
		t.Errorf("inactive layer signal produced calls: %v", f.log.events)
	}
	f.machine.RequestTransition(layer.PC)
	if !f.visual.state["PC-Connected"] || f.visual.state["Laptop-Connected"] {
		t.Errorf("PC-Connected=%v Laptop-Connected=%v", f.visual.state["PC-Connected"], f.visual.state["Laptop-Connected"])
	}
}

func TestObserversReceiveTransition(t *testing.T) {
	f := newFixture(layer.TransitionTable{})
	var got []observer.Transition
	f.machine.Observers().Register(observer.CategoryAudio, observer.ObserverFunc(func(observer.Transition) error {
		return errors.New("mixer offline")
	}))
	f.machine.Observers().Register(observer.CategoryCamera, observer.ObserverFunc(func(tr observer.Transition) error {
		got = append(got, tr)
		return nil
	}))

	f.machine.RequestTransition(layer.Dialer)
	f.machine.RequestTransition(layer.StreamMusic)

	if len(got) != 2 {
		t.Fatalf("camera observer notified %d times", len(got))
	}
	if got[0].Previous != layer.Start || got[0].Current != layer.Dialer || got[0].LayerName != "Dialer" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Seq != got[0].Seq+1 {
		t.Errorf("sequence numbers %d, %d", got[0].Seq, got[1].Seq)
	}
	if snap := f.machine.Snapshot(); snap.Active != "StreamMusic" || snap.Seq != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestPressNavButton(t *testing.T) {
	f := newFixture(layer.TransitionTable{})
	if !f.machine.PressNavButton(3) || f.machine.ActiveLayer() != layer.Wireless {
		t.Errorf("button 3 should open Wireless, active = %v", f.machine.ActiveLayer())
	}
	if f.machine.PressNavButton(99) {
		t.Error("unknown button accepted")
	}
}
