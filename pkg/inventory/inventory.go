// Package inventory resolves device scope expressions against the network
// inventory collaborator. The core never talks to the inventory system
// directly; it only ever sees the Provider interface below.
package inventory

import (
	"context"
	"fmt"
	"strings"
)

// Device is the unit of fan-out.
type Device struct {
	Name     string            `json:"name"`
	Address  string            `json:"address"`
	Platform string            `json:"platform"`
	Group    string            `json:"group"`
	Role     string            `json:"role"`
	Site     string            `json:"site"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// Provider is the narrow interface onto the external inventory system.
// Concrete implementations (NetBox, a static YAML file, etc.) are
// collaborators out of scope for this core.
type Provider interface {
	// ListDevices returns the full known device set.
	ListDevices(ctx context.Context) ([]Device, error)
	// GetDevice resolves a single device by name.
	GetDevice(ctx context.Context, name string) (Device, bool, error)
}

// Resolve expands a scope expression into a finite device set.
//
// A scope is either an explicit comma-separated device name list, or one
// of the filter forms "group:<value>", "role:<value>", "site:<value>".
// An empty resolved set is returned as-is; callers (the fan-out layer)
// are responsible for failing on it rather than silently proceeding.
func Resolve(ctx context.Context, p Provider, scope string) ([]Device, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, nil
	}

	if filter, value, ok := parseFilter(scope); ok {
		all, err := p.ListDevices(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing devices: %w", err)
		}
		var matched []Device
		for _, d := range all {
			if filterMatches(d, filter, value) {
				matched = append(matched, d)
			}
		}
		return matched, nil
	}

	names := strings.Split(scope, ",")
	devices := make([]Device, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		d, found, err := p.GetDevice(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("resolving device %q: %w", n, err)
		}
		if found {
			devices = append(devices, d)
		}
	}
	return devices, nil
}

func parseFilter(scope string) (filter, value string, ok bool) {
	for _, prefix := range []string{"group:", "role:", "site:"} {
		if strings.HasPrefix(scope, prefix) {
			return strings.TrimSuffix(prefix, ":"), strings.TrimPrefix(scope, prefix), true
		}
	}
	return "", "", false
}

func filterMatches(d Device, filter, value string) bool {
	switch filter {
	case "group":
		return d.Group == value
	case "role":
		return d.Role == value
	case "site":
		return d.Site == value
	default:
		return false
	}
}
