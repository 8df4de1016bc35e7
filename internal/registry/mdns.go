package registry

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog/log"
)

// MDNSLister enumerates devices that advertise themselves over mDNS.
// Each advertisement carries its declared type in a "type=" TXT field and
// optionally its registry name in "name="; otherwise the instance name is used.
type MDNSLister struct {
	Service string
	Domain  string
	Timeout time.Duration
}

// NewMDNSLister creates a lister for service (e.g. "_avrouter._tcp").
func NewMDNSLister(service string, timeout time.Duration) *MDNSLister {
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	return &MDNSLister{
		Service: service,
		Domain:  "local",
		Timeout: timeout,
	}
}

// ListComponents runs one mDNS query and converts every entry it receives.
func (m *MDNSLister) ListComponents(ctx context.Context) ([]Component, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	errCh := make(chan error, 1)

	go func() {
		params := &mdns.QueryParam{
			Service:     m.Service,
			Domain:      m.Domain,
			Timeout:     m.Timeout,
			Entries:     entries,
			DisableIPv6: true,
			Logger:      stdlog.New(io.Discard, "", 0),
		}
		errCh <- mdns.Query(params)
		close(entries)
	}()

	var components []Component
	for entry := range entries {
		if ctx.Err() != nil {
			continue
		}
		comp, ok := componentFromEntry(entry, m.Service)
		if !ok {
			log.Debug().Str("entry", entry.Name).Msg("mDNS entry without declared type, skipping")
			continue
		}
		components = append(components, comp)
	}

	if err := <-errCh; err != nil {
		return nil, fmt.Errorf("mdns query %s: %w", m.Service, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return components, nil
}

// componentFromEntry maps an mDNS advertisement to a registry component.
func componentFromEntry(entry *mdns.ServiceEntry, service string) (Component, bool) {
	if entry == nil {
		return Component{}, false
	}

	var comp Component
	for _, field := range entry.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "type":
			comp.DeclaredType = value
		case "name":
			comp.Name = value
		}
	}
	if comp.DeclaredType == "" {
		return Component{}, false
	}
	if comp.Name == "" {
		comp.Name = instanceName(entry.Name, service)
	}
	return comp, comp.Name != ""
}

// instanceName strips the service and domain suffix from an mDNS name:
// "Router-1._avrouter._tcp.local." becomes "Router-1".
func instanceName(full, service string) string {
	full = strings.TrimSuffix(full, ".")
	if i := strings.Index(full, "."+service); i >= 0 {
		return full[:i]
	}
	if i := strings.Index(full, "."); i >= 0 {
		return full[:i]
	}
	return full
}
