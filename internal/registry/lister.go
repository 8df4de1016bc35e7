// Package registry discovers external devices and caches what it finds.
package registry

import (
	"context"
	"errors"
	"fmt"
)

// Component is one entry of the device registry.
type Component struct {
	Name         string `yaml:"name" json:"name"`
	DeclaredType string `yaml:"type" json:"type"`
}

// Lister enumerates the components currently available.
type Lister interface {
	ListComponents(ctx context.Context) ([]Component, error)
}

// FilterByType returns the names of components whose declared type is one
// of types, preserving enumeration order.
func FilterByType(components []Component, types ...string) []string {
	var names []string
	for _, comp := range components {
		for _, t := range types {
			if comp.DeclaredType == t {
				names = append(names, comp.Name)
				break
			}
		}
	}
	return names
}

// StaticLister returns a fixed component list, typically from config.
type StaticLister []Component

// ListComponents returns a copy of the static list.
func (s StaticLister) ListComponents(context.Context) ([]Component, error) {
	return append([]Component(nil), s...), nil
}

// MultiLister concatenates the results of several listers in order.
// A failing lister is skipped; the call fails only if every lister fails.
type MultiLister []Lister

// ListComponents queries each lister in turn.
func (m MultiLister) ListComponents(ctx context.Context) ([]Component, error) {
	var (
		all  []Component
		errs []error
	)
	for i, l := range m {
		comps, err := l.ListComponents(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("lister %d: %w", i, err))
			continue
		}
		all = append(all, comps...)
	}
	if len(m) > 0 && len(errs) == len(m) {
		return nil, errors.Join(errs...)
	}
	return all, nil
}
