package layer

import "fmt"

// Sub-layer roles evaluated by the source screens (PC and Laptop).
const (
	RoleConnected      = "Connected"
	RolePresetSaved    = "PresetSaved"
	RoleTrackingBypass = "TrackingBypass"
	RoleHelp           = "Help"
)

// SourceRoles lists the independent sub-layer rules of a source screen.
var SourceRoles = []string{RoleConnected, RolePresetSaved, RoleTrackingBypass, RoleHelp}

// RouteCount is the number of mutually exclusive routing sub-layers.
const RouteCount = 5

// Layout describes the visual groups owned by each layer.
type Layout struct {
	// Base is the persistent chrome shown on every layer except Start and Alarm.
	Base string
	// Elements are shown whenever their layer is active.
	Elements map[Layer][]string
	// SubLayers are declared by a layer but shown by its follow-up rules.
	SubLayers map[Layer][]string
	// Transition is the style passed to the visual surface.
	Transition string
}

// DefaultLayout builds the layout used by the stock panel file.
// Every layer owns an element of its own name; PC and Laptop own the four
// source sub-layers and Routing owns Routing-1 through Routing-5.
func DefaultLayout() Layout {
	l := Layout{
		Base:       "Base",
		Elements:   make(map[Layer][]string, count),
		SubLayers:  make(map[Layer][]string),
		Transition: "fade",
	}
	for _, ly := range All() {
		l.Elements[ly] = []string{ly.String()}
	}
	l.Elements[Warming] = append(l.Elements[Warming], "Progress")
	l.Elements[Cooling] = append(l.Elements[Cooling], "Progress")

	for _, src := range []Layer{PC, Laptop} {
		for _, role := range SourceRoles {
			l.SubLayers[src] = append(l.SubLayers[src], SubLayerName(src, role))
		}
	}
	for i := 1; i <= RouteCount; i++ {
		l.SubLayers[Routing] = append(l.SubLayers[Routing], RouteName(i))
	}
	return l
}

// SubLayerName returns the element name of a source sub-layer.
func SubLayerName(l Layer, role string) string {
	return l.String() + "-" + role
}

// RouteName returns the element name of routing sub-layer i (1-based).
func RouteName(i int) string {
	return fmt.Sprintf("Routing-%d", i)
}

// AllElements returns every element the layout declares, base first, then
// per layer (in enum order) its elements followed by its sub-layers.
// Shared element names appear once.
func (l Layout) AllElements() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	add(l.Base)
	for _, ly := range All() {
		for _, e := range l.Elements[ly] {
			add(e)
		}
		for _, e := range l.SubLayers[ly] {
			add(e)
		}
	}
	return out
}

// OwnsSubLayer reports whether name is a declared sub-layer of ly.
func (l Layout) OwnsSubLayer(ly Layer, name string) bool {
	for _, e := range l.SubLayers[ly] {
		if e == name {
			return true
		}
	}
	return false
}

// ShowsElement reports whether name is one of the always-visible elements of ly.
func (l Layout) ShowsElement(ly Layer, name string) bool {
	for _, e := range l.Elements[ly] {
		if e == name {
			return true
		}
	}
	return false
}
