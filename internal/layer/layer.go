// Package layer defines the screens of the room panel and the rules for moving between them.
package layer

import "strings"

// Layer identifies one mutually exclusive screen of the control surface.
type Layer int

const (
	Alarm Layer = iota
	Start
	Warming
	Cooling
	RoomControls
	PC
	Laptop
	Wireless
	Routing
	Dialer
	StreamMusic
	IncomingCall

	count
)

var names = [...]string{
	Alarm:        "Alarm",
	Start:        "Start",
	Warming:      "Warming",
	Cooling:      "Cooling",
	RoomControls: "RoomControls",
	PC:           "PC",
	Laptop:       "Laptop",
	Wireless:     "Wireless",
	Routing:      "Routing",
	Dialer:       "Dialer",
	StreamMusic:  "StreamMusic",
	IncomingCall: "IncomingCall",
}

// String returns the layer name as used on the visual surface.
func (l Layer) String() string {
	if !l.Valid() {
		return "unknown"
	}
	return names[l]
}

// Valid reports whether l is one of the enumerated layers.
func (l Layer) Valid() bool {
	return l >= Alarm && l < count
}

// All returns every layer in enum order.
func All() []Layer {
	all := make([]Layer, 0, count)
	for l := Alarm; l < count; l++ {
		all = append(all, l)
	}
	return all
}

// Parse resolves a layer by name, ignoring case.
func Parse(name string) (Layer, bool) {
	for l := Alarm; l < count; l++ {
		if strings.EqualFold(names[l], name) {
			return l, true
		}
	}
	return -1, false
}

// IsPowerTransition reports whether entering l drives the power sequencing animation.
func (l Layer) IsPowerTransition() bool {
	return l == Warming || l == Cooling
}

// IsInputSelecting reports whether entering l routes a source to the display.
func (l Layer) IsInputSelecting() bool {
	switch l {
	case PC, Laptop, Wireless:
		return true
	}
	return false
}

// NavButton returns the navigation button index bound to l.
// Layers reached only programmatically have no button.
func (l Layer) NavButton() (int, bool) {
	switch l {
	case RoomControls:
		return 0, true
	case PC:
		return 1, true
	case Laptop:
		return 2, true
	case Wireless:
		return 3, true
	case Routing:
		return 4, true
	case Dialer:
		return 5, true
	case StreamMusic:
		return 6, true
	}
	return 0, false
}

// NavButtonCount is the number of interlocked navigation buttons.
const NavButtonCount = 7

// ByNavButton is the inverse of NavButton.
func ByNavButton(button int) (Layer, bool) {
	for l := Alarm; l < count; l++ {
		if b, ok := l.NavButton(); ok && b == button {
			return l, true
		}
	}
	return -1, false
}
