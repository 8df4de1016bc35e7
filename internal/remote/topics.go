package remote

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultPrefix roots every topic when none is configured.
const DefaultPrefix = "roompanel"

// Topics builds the topic hierarchy under one prefix.
//
//	<prefix>/panel/<page>/layer/<name>          retained visibility
//	<prefix>/panel/button/<group>/<i>/pressed   retained interlock state
//	<prefix>/panel/button/<group>/<i>/press     inbound press events
//	<prefix>/panel/progress/{value,label}       retained progress
//	<prefix>/panel/signal/<name>                inbound sub-layer signals
//	<prefix>/panel/request                      inbound layer requests
//	<prefix>/panel/transition                   outbound transition feed
//	<prefix>/device/<name>/<property>[/set]     device state and commands
//	<prefix>/registry/<name>                    retained component announcements
//	<prefix>/status                             retained online/offline
type Topics struct {
	Prefix string
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// Layer returns the visibility topic of an element.
func (t Topics) Layer(page, name string) string {
	return fmt.Sprintf("%s/panel/%s/layer/%s", t.root(), page, name)
}

// ButtonPressed returns the interlock state topic of a button.
func (t Topics) ButtonPressed(group string, index int) string {
	return fmt.Sprintf("%s/panel/button/%s/%d/pressed", t.root(), group, index)
}

// ButtonPress returns the press event topic of a button.
func (t Topics) ButtonPress(group string, index int) string {
	return fmt.Sprintf("%s/panel/button/%s/%d/press", t.root(), group, index)
}

// AllButtonPresses matches every press event.
func (t Topics) AllButtonPresses() string {
	return t.root() + "/panel/button/+/+/press"
}

// ParseButtonPress extracts group and index from a press topic.
func (t Topics) ParseButtonPress(topic string) (group string, index int, ok bool) {
	rest, found := strings.CutPrefix(topic, t.root()+"/panel/button/")
	if !found {
		return "", 0, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "press" {
		return "", 0, false
	}
	i, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, false
	}
	return parts[0], i, true
}

// ProgressValue returns the numeric progress topic.
func (t Topics) ProgressValue() string {
	return t.root() + "/panel/progress/value"
}

// ProgressLabel returns the progress label topic.
func (t Topics) ProgressLabel() string {
	return t.root() + "/panel/progress/label"
}

// Signal returns the topic of a sub-layer signal.
func (t Topics) Signal(name string) string {
	return t.root() + "/panel/signal/" + name
}

// AllSignals matches every signal.
func (t Topics) AllSignals() string {
	return t.root() + "/panel/signal/+"
}

// ParseSignal extracts the signal name from a signal topic.
func (t Topics) ParseSignal(topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, t.root()+"/panel/signal/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// LayerRequest returns the inbound layer request topic.
func (t Topics) LayerRequest() string {
	return t.root() + "/panel/request"
}

// Transition returns the outbound transition feed topic.
func (t Topics) Transition() string {
	return t.root() + "/panel/transition"
}

// DeviceState returns the state topic of a device property.
func (t Topics) DeviceState(device, property string) string {
	return fmt.Sprintf("%s/device/%s/%s", t.root(), device, property)
}

// DeviceCommand returns the command topic of a device property.
func (t Topics) DeviceCommand(device, property string) string {
	return t.DeviceState(device, property) + "/set"
}

// AllDeviceStates matches every device property, commands included.
func (t Topics) AllDeviceStates() string {
	return t.root() + "/device/#"
}

// DevicePrefix returns the topic prefix shared by one device.
func (t Topics) DevicePrefix(device string) string {
	return fmt.Sprintf("%s/device/%s/", t.root(), device)
}

// Registry returns the announcement topic of a component.
func (t Topics) Registry(name string) string {
	return t.root() + "/registry/" + name
}

// AllRegistry matches every announcement.
func (t Topics) AllRegistry() string {
	return t.root() + "/registry/+"
}

// ParseRegistry extracts the component name from an announcement topic.
func (t Topics) ParseRegistry(topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, t.root()+"/registry/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// Status returns the service status topic.
func (t Topics) Status() string {
	return t.root() + "/status"
}
