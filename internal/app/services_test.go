package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/roompaneld/internal/automation"
	"github.com/dokzlo13/roompaneld/internal/config"
	"github.com/dokzlo13/roompaneld/internal/layer"
	"github.com/dokzlo13/roompaneld/internal/remote"
	"github.com/dokzlo13/roompaneld/internal/store"
	"github.com/dokzlo13/roompaneld/internal/switcher"
)

const testScript = `
local log = require("log")
powered = nil
transitions = 0

automation = {
	power = function(on)
		powered = on
		return true
	end,
}

function on_transition(prev, cur)
	transitions = transitions + 1
	log.debug("transition", { from = prev, to = cur })
end
`

func newTestServices(t *testing.T) *Services {
	return newTestServicesWith(t, "")
}

func newTestServicesWith(t *testing.T, extra string) *Services {
	t.Helper()
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "room.lua")
	if err := os.WriteFile(scriptPath, []byte(testScript), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Parse([]byte(fmt.Sprintf(`
database:
  path: %s
automation:
  warmup: 100ms
script: %s
%s`, filepath.Join(dir, "roompanel.sqlite"), scriptPath, extra)))
	if err != nil {
		t.Fatal(err)
	}

	s, err := NewServices(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServicesPowerOnSequence(t *testing.T) {
	s := newTestServices(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx, func(err error) { t.Errorf("fatal: %v", err) }); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if !s.ready.Load() {
		t.Error("not ready after Start")
	}
	if got := s.Machine.ActiveLayer(); got != layer.Start {
		t.Fatalf("booted on %s", got)
	}
	if s.Switcher.State() != switcher.StateDisabled {
		t.Errorf("switcher state = %s, want disabled without a resolver", s.Switcher.State())
	}

	var accepted bool
	err := s.Loop.DoWait(ctx, func(context.Context) error {
		accepted = s.Machine.RequestTransition(layer.Warming)
		return nil
	})
	if err != nil || !accepted {
		t.Fatalf("Start -> Warming: accepted=%v err=%v", accepted, err)
	}

	// The warm-up animation ends on Laptop.
	waitFor(t, "Laptop", func() bool { return s.Machine.Snapshot().Active == layer.Laptop.String() })

	var powered, transitions string
	s.Loop.DoWait(ctx, func(context.Context) error {
		powered = s.Script.L.GetGlobal("powered").String()
		transitions = s.Script.L.GetGlobal("transitions").String()
		return nil
	})
	if powered != "true" {
		t.Errorf("script controller saw powered = %s", powered)
	}
	if transitions != "2" {
		t.Errorf("script saw %s transitions, want 2", transitions)
	}

	power, err := s.Ledger.GetByType(store.EventPowerSucceeded, 10)
	if err != nil || len(power) != 1 {
		t.Fatalf("power entries = %d, %v", len(power), err)
	}
	if power[0].Payload["strategy"] != automation.StrategyController {
		t.Errorf("strategy = %v", power[0].Payload["strategy"])
	}

	last, ok, err := s.Ledger.LastLayer()
	if err != nil || !ok || last != layer.Laptop {
		t.Errorf("LastLayer = %v, %v, %v", last, ok, err)
	}
}

func TestServicesStopWithoutStart(t *testing.T) {
	s := newTestServices(t)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked without Start")
	}
}

func TestServicesAnnouncementRedetectsSwitcher(t *testing.T) {
	s := newTestServicesWith(t, "mqtt:\n  enabled: true\ndiscovery:\n  announcements: true\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer s.Stop()
	go s.Loop.Run(ctx)

	err := s.Loop.DoWait(ctx, func(workCtx context.Context) error {
		s.Switcher.Initialize(workCtx)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if s.Switcher.State() != switcher.StateDisabled {
		t.Fatalf("state = %s, want disabled before any announcement", s.Switcher.State())
	}

	topics := remote.Topics{Prefix: s.cfg.MQTT.Prefix}
	for _, name := range []string{"Mixer", "Router-A"} {
		declared := "audio_mixer"
		if name == "Router-A" {
			declared = "video_router_numeric"
		}
		if err := s.Remote.Announcements.Handle(topics.Registry(name), []byte(declared)); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, "switcher bound from announcement", func() bool {
		return s.Switcher.State() == switcher.StateActive
	})
	if st := s.Switcher.Status(); st.DeviceName != "Router-A" || st.SwitcherType != switcher.FamilyNumeric {
		t.Errorf("status = %+v", st)
	}
}
