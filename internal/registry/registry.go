package registry

import (
	"context"

	"github.com/statuswatch/statuswatch/internal/status"
)

// Descriptor identifies one probeable service.
type Descriptor struct {
	ID                 string       `yaml:"id"`
	Name               string       `yaml:"name"`
	Group              status.Group `yaml:"group"`
	URL                string       `yaml:"url"`
	Path               string       `yaml:"path,omitempty"`
	Description        string       `yaml:"description,omitempty"`
	Icon               string       `yaml:"icon,omitempty"`
	Enabled            *bool        `yaml:"enabled,omitempty"`
	InsecureSkipVerify bool         `yaml:"insecure_skip_verify,omitempty"`
	HealthyStatusCodes []int        `yaml:"healthy_status_codes,omitempty"`
}

// IsEnabled reports whether the service should be probed. Services are
// enabled unless the file says otherwise.
func (d Descriptor) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Registry lists the services the scheduler should probe.
type Registry interface {
	Enabled(ctx context.Context) ([]Descriptor, error)
}

// Static is a fixed in-memory registry, mainly for tests and embedding.
type Static []Descriptor

// Enabled implements Registry.
func (s Static) Enabled(_ context.Context) ([]Descriptor, error) {
	enabled := make([]Descriptor, 0, len(s))
	for _, d := range s {
		if d.IsEnabled() {
			enabled = append(enabled, d)
		}
	}
	return enabled, nil
}
