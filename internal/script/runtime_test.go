package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dokzlo13/roompaneld/internal/dispatch"
	"github.com/dokzlo13/roompaneld/internal/layer"
	"github.com/dokzlo13/roompaneld/internal/observer"
)

type fakePanel struct {
	active   layer.Layer
	requests []layer.Layer
	signals  map[string]bool
	routes   []int
}

func newFakePanel() *fakePanel {
	return &fakePanel{active: layer.Start, signals: make(map[string]bool)}
}

func (p *fakePanel) ActiveLayer() layer.Layer { return p.active }

func (p *fakePanel) RequestTransition(target layer.Layer) bool {
	p.requests = append(p.requests, target)
	return true
}

func (p *fakePanel) SetSignal(name string, value bool) { p.signals[name] = value }

func (p *fakePanel) SelectRoute(i int) bool {
	p.routes = append(p.routes, i)
	return true
}

// queuePoster holds work until flushed, like the dispatch loop would.
type queuePoster struct {
	queue []dispatch.Work
}

func (q *queuePoster) Do(work dispatch.Work) bool {
	q.queue = append(q.queue, work)
	return true
}

func (q *queuePoster) flush() {
	for len(q.queue) > 0 {
		w := q.queue[0]
		q.queue = q.queue[1:]
		w(context.Background())
	}
}

func newTestRuntime(t *testing.T) (*Runtime, *fakePanel, *queuePoster) {
	t.Helper()
	p := newFakePanel()
	q := &queuePoster{}
	r := NewRuntime(p, q)
	t.Cleanup(r.Close)
	return r, p, q
}

func TestPanelModule(t *testing.T) {
	r, p, q := newTestRuntime(t)

	err := r.LoadString(`
		local panel = require("panel")
		current = panel.layer()
		ok_valid = panel.request("Warming")
		ok_invalid = panel.request("Basement")
		panel.signal("PC-Help", true)
		panel.route(4)
		layer_count = #panel.layers
	`)
	if err != nil {
		t.Fatal(err)
	}

	if got := r.L.GetGlobal("current").String(); got != "Start" {
		t.Errorf("panel.layer() = %q", got)
	}
	if r.L.GetGlobal("ok_valid").String() != "true" || r.L.GetGlobal("ok_invalid").String() != "false" {
		t.Error("request return values wrong")
	}
	if got := r.L.GetGlobal("layer_count").String(); got != "12" {
		t.Errorf("#panel.layers = %s", got)
	}

	// Nothing runs until the dispatcher picks it up.
	if len(p.requests) != 0 {
		t.Fatal("request ran inline")
	}
	q.flush()

	if len(p.requests) != 1 || p.requests[0] != layer.Warming {
		t.Errorf("requests = %v", p.requests)
	}
	if !p.signals["PC-Help"] {
		t.Errorf("signals = %v", p.signals)
	}
	if len(p.routes) != 1 || p.routes[0] != 4 {
		t.Errorf("routes = %v", p.routes)
	}
}

func TestPanelRouteOutOfRange(t *testing.T) {
	r, _, _ := newTestRuntime(t)
	if err := r.LoadString(`require("panel").route(9)`); err == nil {
		t.Error("route(9) should raise")
	}
}

func TestController(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		on      bool
		want    bool
		wantErr error
		anyErr  bool
	}{
		{
			name:    "absent",
			source:  ``,
			wantErr: ErrNoController,
		},
		{
			name:    "table without power",
			source:  `automation = {}`,
			wantErr: ErrNoController,
		},
		{
			name:   "echoes request",
			source: `automation = { power = function(on) return on end }`,
			on:     true,
			want:   true,
		},
		{
			name:   "false result",
			source: `automation = { power = function(on) return false end }`,
			on:     true,
			want:   false,
		},
		{
			name:   "truthy non-boolean is not success",
			source: `automation = { power = function(on) return 1 end }`,
			on:     true,
			want:   false,
		},
		{
			name:   "raises",
			source: `automation = { power = function(on) error("relay stuck") end }`,
			on:     false,
			anyErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _ := newTestRuntime(t)
			if err := r.LoadString(tt.source); err != nil {
				t.Fatal(err)
			}
			got, err := r.Power(tt.on)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
			case tt.anyErr:
				if err == nil {
					t.Error("expected error")
				}
			default:
				if err != nil || got != tt.want {
					t.Errorf("Power(%v) = %v, %v; want %v", tt.on, got, err, tt.want)
				}
			}
			if tt.wantErr == nil && !r.HasController() {
				t.Error("HasController should be true")
			}
		})
	}
}

func TestOnTransition(t *testing.T) {
	r, _, _ := newTestRuntime(t)

	// Without a hook it is a no-op.
	if err := r.OnTransition(observer.NewTransition(1, layer.Start, layer.Warming)); err != nil {
		t.Fatal(err)
	}

	err := r.LoadString(`
		seen = ""
		function on_transition(prev, cur)
			seen = prev .. "->" .. cur
			if cur == "Alarm" then error("boom") end
		end
	`)
	if err != nil {
		t.Fatal(err)
	}

	if err := r.OnTransition(observer.NewTransition(2, layer.Start, layer.Warming)); err != nil {
		t.Fatal(err)
	}
	if got := r.L.GetGlobal("seen").String(); got != "Start->Warming" {
		t.Errorf("seen = %q", got)
	}
	if err := r.OnTransition(observer.NewTransition(3, layer.Laptop, layer.Alarm)); err == nil {
		t.Error("script error should be returned to the registry")
	}
}

func TestLoadScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "room.lua")
	src := `
		local log = require("log")
		log.info("room script loaded", { room = "boardroom", screens = { 1, 2 } })
		automation = { power = function(on) return true end }
	`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	r, _, _ := newTestRuntime(t)
	if err := r.LoadScript(path); err != nil {
		t.Fatal(err)
	}
	if !r.HasController() {
		t.Error("controller not registered")
	}

	if err := r.LoadScript(filepath.Join(dir, "missing.lua")); err == nil {
		t.Error("missing file should fail")
	}
	if err := r.LoadString(`this is not lua`); err == nil {
		t.Error("syntax error should fail")
	}
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	write := func(name, src string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"valid", write("ok.lua", "automation = { power = function(on) return on end }"), false},
		{"syntax error", write("bad.lua", "automation = {"), true},
		{"missing", filepath.Join(dir, "missing.lua"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Check(tt.path); (err != nil) != tt.wantErr {
				t.Errorf("Check() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
