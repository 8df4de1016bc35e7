package automation

import (
	"errors"
	"testing"
	"time"
)

type fakeSwitch struct {
	value    bool
	stuck    bool
	writeErr error
	panics   bool
	writes   int
}

func (f *fakeSwitch) SetPower(on bool) error {
	if f.panics {
		panic("property missing")
	}
	f.writes++
	if f.writeErr != nil {
		return f.writeErr
	}
	if !f.stuck {
		f.value = on
	}
	return nil
}

func (f *fakeSwitch) Power() (bool, error) { return f.value, nil }

type fakeController struct {
	ok    bool
	err   error
	calls []bool
}

func (f *fakeController) Power(on bool) (bool, error) {
	f.calls = append(f.calls, on)
	return f.ok, f.err
}

type fakeTiming struct {
	warmup, cooldown float64
	err              error
}

func (f fakeTiming) WarmupSeconds() (float64, error)   { return f.warmup, f.err }
func (f fakeTiming) CooldownSeconds() (float64, error) { return f.cooldown, f.err }

type recorded struct {
	on  bool
	res Result
}

type fakeRecorder struct{ got []recorded }

func (r *fakeRecorder) RecordPower(on bool, res Result) { r.got = append(r.got, recorded{on, res}) }

func TestPower_StrategyOrder(t *testing.T) {
	tests := []struct {
		name          string
		component     *fakeSwitch
		local         *fakeSwitch
		controller    *fakeController
		wantOK        bool
		wantStrategy  string
		wantAttempted []string
	}{
		{
			name:          "component_succeeds",
			component:     &fakeSwitch{},
			local:         &fakeSwitch{},
			controller:    &fakeController{ok: true},
			wantOK:        true,
			wantStrategy:  StrategyComponent,
			wantAttempted: []string{StrategyComponent},
		},
		{
			name:          "component_verify_fails_local_succeeds",
			component:     &fakeSwitch{stuck: true},
			local:         &fakeSwitch{},
			wantOK:        true,
			wantStrategy:  StrategyLocal,
			wantAttempted: []string{StrategyComponent, StrategyLocal},
		},
		{
			name:          "only_controller",
			controller:    &fakeController{ok: true},
			wantOK:        true,
			wantStrategy:  StrategyController,
			wantAttempted: []string{StrategyComponent, StrategyLocal, StrategyController},
		},
		{
			name:          "component_panics",
			component:     &fakeSwitch{panics: true},
			controller:    &fakeController{ok: true},
			wantOK:        true,
			wantStrategy:  StrategyController,
			wantAttempted: []string{StrategyComponent, StrategyLocal, StrategyController},
		},
		{
			name:          "everything_fails",
			component:     &fakeSwitch{writeErr: errors.New("offline")},
			local:         &fakeSwitch{stuck: true},
			controller:    &fakeController{ok: false},
			wantOK:        false,
			wantAttempted: []string{StrategyComponent, StrategyLocal, StrategyController},
		},
		{
			name:          "nothing_configured",
			wantOK:        false,
			wantAttempted: []string{StrategyComponent, StrategyLocal, StrategyController},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{}
			// Typed nils must not reach the interface fields.
			if tt.component != nil {
				opts.Component = tt.component
			}
			if tt.local != nil {
				opts.Local = tt.local
			}
			if tt.controller != nil {
				opts.Controller = tt.controller
			}

			res := NewBridge(opts).PowerOn()

			if res.OK != tt.wantOK || res.Strategy != tt.wantStrategy {
				t.Errorf("result = %+v, want ok=%v strategy=%q", res, tt.wantOK, tt.wantStrategy)
			}
			if len(res.Attempted) != len(tt.wantAttempted) {
				t.Fatalf("attempted = %v, want %v", res.Attempted, tt.wantAttempted)
			}
			for i := range res.Attempted {
				if res.Attempted[i] != tt.wantAttempted[i] {
					t.Errorf("attempted = %v, want %v", res.Attempted, tt.wantAttempted)
					break
				}
			}
		})
	}
}

func TestPower_FirstSuccessShortCircuits(t *testing.T) {
	local := &fakeSwitch{}
	controller := &fakeController{ok: true}
	b := NewBridge(Options{Component: &fakeSwitch{}, Local: local, Controller: controller})

	b.PowerOff()
	if local.writes != 0 || len(controller.calls) != 0 {
		t.Errorf("later strategies ran: local writes %d, controller calls %v", local.writes, controller.calls)
	}
}

func TestPower_RecordsOutcome(t *testing.T) {
	rec := &fakeRecorder{}
	b := NewBridge(Options{Recorder: rec})
	b.SetController(&fakeController{ok: true})

	b.PowerOff()
	if len(rec.got) != 1 || rec.got[0].on || rec.got[0].res.Strategy != StrategyController {
		t.Errorf("recorded = %+v", rec.got)
	}
}

func TestTiming(t *testing.T) {
	tests := []struct {
		name       string
		timing     TimingSource
		local      time.Duration
		poweringOn bool
		want       time.Duration
	}{
		{"component_warmup", fakeTiming{warmup: 30, cooldown: 12}, 0, true, 30 * time.Second},
		{"component_cooldown", fakeTiming{warmup: 30, cooldown: 1.5}, 0, false, 1500 * time.Millisecond},
		{"component_error_uses_local", fakeTiming{err: errors.New("missing")}, 20 * time.Second, true, 20 * time.Second},
		{"component_zero_uses_local", fakeTiming{}, 7 * time.Second, false, 7 * time.Second},
		{"default_warmup", nil, 0, true, DefaultWarmup},
		{"default_cooldown", nil, 0, false, DefaultCooldown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBridge(Options{
				Timing:        tt.timing,
				LocalWarmup:   tt.local,
				LocalCooldown: tt.local,
			})
			if got := b.Timing(tt.poweringOn); got != tt.want {
				t.Errorf("Timing(%v) = %v, want %v", tt.poweringOn, got, tt.want)
			}
		})
	}
}
