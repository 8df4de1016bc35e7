package panel

import (
	"github.com/dokzlo13/roompaneld/internal/automation"
)

// Button groups on the navigation button surface.
const (
	GroupNav     = "nav"
	GroupRouting = "routing"
)

// VisualSurface shows and hides named layer elements on a page.
type VisualSurface interface {
	SetLayerVisible(page, name string, visible bool, transition string) error
}

// ButtonSurface sets the pressed state of a button.
type ButtonSurface interface {
	SetPressed(group string, index int, pressed bool) error
}

// PowerBridge commands room power.
type PowerBridge interface {
	PowerOn() automation.Result
	PowerOff() automation.Result
}

// Animator runs the power sequencing progress bar.
type Animator interface {
	Start(poweringOn bool) bool
	Animating() bool
}

// Router routes the input bound to a navigation button.
type Router interface {
	SwitchForButton(button int) bool
}
