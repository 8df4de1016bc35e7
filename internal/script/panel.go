package script

import (
	"context"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/roompaneld/internal/layer"
)

// PanelModule exposes the navigation state machine to Lua.
//
//	local panel = require("panel")
//	panel.layer()                 -- "Start"
//	panel.request("Warming")      -- queued, returns true if accepted for dispatch
//	panel.signal("PC-Help", true)
//	panel.route(3)
//
// Mutations are queued on the dispatcher rather than run inline, so a
// script called from inside a transition never re-enters the machine.
type PanelModule struct {
	panel  Panel
	poster Poster
}

// NewPanelModule creates the panel module.
func NewPanelModule(panel Panel, poster Poster) *PanelModule {
	return &PanelModule{panel: panel, poster: poster}
}

// Loader is the module loader for Lua
func (m *PanelModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "layer", L.NewFunction(m.layer))
	L.SetField(mod, "request", L.NewFunction(m.request))
	L.SetField(mod, "signal", L.NewFunction(m.signal))
	L.SetField(mod, "route", L.NewFunction(m.route))

	layers := L.NewTable()
	for _, l := range layer.All() {
		layers.Append(lua.LString(l.String()))
	}
	L.SetField(mod, "layers", layers)

	L.Push(mod)
	return 1
}

func (m *PanelModule) layer(L *lua.LState) int {
	L.Push(lua.LString(m.panel.ActiveLayer().String()))
	return 1
}

func (m *PanelModule) request(L *lua.LState) int {
	name := L.CheckString(1)
	target, ok := layer.Parse(name)
	if !ok {
		log.Warn().Str("source", "lua").Str("layer", name).Msg("Script requested unknown layer")
		L.Push(lua.LFalse)
		return 1
	}
	queued := m.poster.Do(func(context.Context) {
		m.panel.RequestTransition(target)
	})
	L.Push(lua.LBool(queued))
	return 1
}

func (m *PanelModule) signal(L *lua.LState) int {
	name := L.CheckString(1)
	value := L.ToBool(2)
	queued := m.poster.Do(func(context.Context) {
		m.panel.SetSignal(name, value)
	})
	L.Push(lua.LBool(queued))
	return 1
}

func (m *PanelModule) route(L *lua.LState) int {
	i := L.CheckInt(1)
	if i < 1 || i > layer.RouteCount {
		L.ArgError(1, "route out of range")
		return 0
	}
	queued := m.poster.Do(func(context.Context) {
		m.panel.SelectRoute(i)
	})
	L.Push(lua.LBool(queued))
	return 1
}
