// Package script hosts the user Lua script. The script can drive the panel
// and may define the room automation controller.
//
// The Lua state is not thread safe: after LoadScript every call into the
// runtime must happen on the dispatch goroutine.
package script

import (
	"bufio"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/dokzlo13/roompaneld/internal/automation"
	"github.com/dokzlo13/roompaneld/internal/dispatch"
	"github.com/dokzlo13/roompaneld/internal/layer"
	"github.com/dokzlo13/roompaneld/internal/observer"
)

// ErrNoController is returned when the script defines no automation controller.
var ErrNoController = fmt.Errorf("script defines no automation.power: %w", automation.ErrAbsent)

// Global names looked up in the script.
const (
	globalAutomation   = "automation"
	globalOnTransition = "on_transition"
)

// Panel is the panel surface exposed to scripts.
type Panel interface {
	ActiveLayer() layer.Layer
	RequestTransition(target layer.Layer) bool
	SetSignal(name string, value bool)
	SelectRoute(i int) bool
}

// Poster queues work onto the dispatch goroutine.
type Poster interface {
	Do(work dispatch.Work) bool
}

// Runtime owns one Lua state.
type Runtime struct {
	L *lua.LState
}

// NewRuntime creates a runtime with the log and panel modules preloaded.
func NewRuntime(panel Panel, poster Poster) *Runtime {
	r := &Runtime{L: lua.NewState()}
	r.L.PreloadModule("log", NewLogModule().Loader)
	r.L.PreloadModule("panel", NewPanelModule(panel, poster).Loader)
	return r
}

// Close releases the Lua state.
func (r *Runtime) Close() {
	r.L.Close()
}

// LoadScript executes the script file at path.
func (r *Runtime) LoadScript(path string) error {
	log.Info().Str("path", path).Msg("Loading Lua script")
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}
	log.Info().Bool("controller", r.HasController()).Msg("Lua script loaded")
	return nil
}

// Check parses and compiles the script at path without running it.
func Check(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	chunk, err := parse.Parse(bufio.NewReader(f), path)
	if err != nil {
		return fmt.Errorf("failed to parse Lua script: %w", err)
	}
	if _, err := lua.Compile(chunk, path); err != nil {
		return fmt.Errorf("failed to compile Lua script: %w", err)
	}
	return nil
}

// LoadString executes source.
func (r *Runtime) LoadString(source string) error {
	if err := r.L.DoString(source); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}
	return nil
}

func (r *Runtime) powerFunc() (*lua.LFunction, *lua.LTable) {
	tbl, ok := r.L.GetGlobal(globalAutomation).(*lua.LTable)
	if !ok {
		return nil, nil
	}
	fn, ok := r.L.GetField(tbl, "power").(*lua.LFunction)
	if !ok {
		return nil, nil
	}
	return fn, tbl
}

// HasController reports whether the script defines automation.power.
func (r *Runtime) HasController() bool {
	fn, _ := r.powerFunc()
	return fn != nil
}

// Power calls automation.power(on). Only a boolean true result counts as success.
func (r *Runtime) Power(on bool) (bool, error) {
	fn, _ := r.powerFunc()
	if fn == nil {
		return false, ErrNoController
	}

	if err := r.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LBool(on)); err != nil {
		return false, fmt.Errorf("automation.power: %w", err)
	}
	ret := r.L.Get(-1)
	r.L.Pop(1)
	return ret == lua.LTrue, nil
}

// OnTransition calls the script's on_transition(previous, current) if defined.
func (r *Runtime) OnTransition(t observer.Transition) error {
	fn, ok := r.L.GetGlobal(globalOnTransition).(*lua.LFunction)
	if !ok {
		return nil
	}
	err := r.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true},
		lua.LString(t.Previous.String()), lua.LString(t.LayerName))
	if err != nil {
		return fmt.Errorf("on_transition: %w", err)
	}
	return nil
}

var _ observer.Observer = (*Runtime)(nil)
