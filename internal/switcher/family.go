// Package switcher routes navigation buttons to video-switcher inputs,
// hiding the differences between switcher families behind one call.
package switcher

import (
	"errors"
)

var (
	// ErrNotFound indicates a device could not be resolved.
	ErrNotFound = errors.New("switcher device not found")

	// ErrVerifyFailed indicates a write did not read back as written.
	ErrVerifyFailed = errors.New("switcher read-back mismatch")

	// ErrUnsupported indicates the device lacks the capability a family needs.
	ErrUnsupported = errors.New("switcher capability not supported")
)

// NumericRouter exposes the selected input as a numeric index.
type NumericRouter interface {
	SetInputIndex(input int) error
	InputIndex() (int, error)
}

// StringRouter exposes the selected input as a string-encoded index.
type StringRouter interface {
	SetInputString(input string) error
	InputString() (string, error)
}

// DeviceResolver turns a registry name into capability handles.
type DeviceResolver interface {
	Numeric(name string) (NumericRouter, error)
	String(name string) (StringRouter, error)
}

// Variables looks up configuration variables that may name a device.
type Variables interface {
	Lookup(name string) (string, bool)
}

// VariableMap is a Variables backed by a map.
type VariableMap map[string]string

// Lookup returns a non-empty value for name.
func (m VariableMap) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok && v != ""
}

// Mapping maps a navigation button index to a switcher input number.
type Mapping map[int]int

// Clone returns an independent copy.
func (m Mapping) Clone() Mapping {
	out := make(Mapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Family describes one class of switcher sharing a property convention.
type Family struct {
	// Name is reported as the switcher type.
	Name string
	// DeclaredType is the component type the registry reports.
	DeclaredType string
	// Variables are candidate configuration variables naming the device.
	Variables []string
	// DefaultMapping is loaded when the family is detected.
	DefaultMapping Mapping
}

// Family names.
const (
	FamilyNumeric = "numeric"
	FamilyString  = "string"
	FamilyGeneric = "generic"
)

// DefaultFamilies returns the known families in detection order.
// Buttons 1-3 are PC, Laptop and Wireless.
func DefaultFamilies() []Family {
	return []Family{
		{
			Name:           FamilyNumeric,
			DeclaredType:   "video_router_numeric",
			Variables:      []string{"numeric_router", "router_numeric", "video_router"},
			DefaultMapping: Mapping{1: 1, 2: 2, 3: 3},
		},
		{
			Name:           FamilyString,
			DeclaredType:   "video_router_string",
			Variables:      []string{"string_router", "router_string", "media_switcher"},
			DefaultMapping: Mapping{1: 2, 2: 1, 3: 4},
		},
		{
			Name:           FamilyGeneric,
			DeclaredType:   "video_router",
			Variables:      []string{"generic_router", "router"},
			DefaultMapping: Mapping{1: 1, 2: 2, 3: 3},
		},
	}
}
