package registry

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/statuswatch/statuswatch/internal/status"
)

// servicesFile is the parsed YAML structure:
// services: [{id, name, group, url, ...}]
type servicesFile struct {
	Services []Descriptor `yaml:"services"`
}

// FileRegistry reads service descriptors from a YAML file on every call,
// so registry edits are picked up on the next refresh cycle without a
// restart.
type FileRegistry struct {
	path string
}

// NewFileRegistry returns a YAML-backed registry.
func NewFileRegistry(path string) *FileRegistry {
	return &FileRegistry{path: path}
}

// Enabled implements Registry. It returns only descriptors that are
// enabled, in file order.
func (r *FileRegistry) Enabled(ctx context.Context) ([]Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	descriptors, err := LoadServicesFile(r.path)
	if err != nil {
		return nil, err
	}

	enabled := make([]Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if d.IsEnabled() {
			enabled = append(enabled, d)
		}
	}
	return enabled, nil
}

// LoadServicesFile parses and validates a YAML services file.
func LoadServicesFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read services file: %w", err)
	}

	var sf servicesFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse services file: %w", err)
	}

	if err := validateDescriptors(sf.Services); err != nil {
		return nil, err
	}

	for i := range sf.Services {
		applyDefaults(&sf.Services[i])
	}

	return sf.Services, nil
}

func validateDescriptors(descriptors []Descriptor) error {
	seen := make(map[string]bool)

	for i, d := range descriptors {
		if d.ID == "" {
			return fmt.Errorf("service %d: id is required", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("service %q: duplicate id", d.ID)
		}
		seen[d.ID] = true

		if d.Name == "" {
			return fmt.Errorf("service %q: name is required", d.ID)
		}

		switch d.Group {
		case status.GroupCore, status.GroupMedia, status.GroupAutomation:
		default:
			return fmt.Errorf("service %q: unknown group %q", d.ID, d.Group)
		}

		for _, code := range d.HealthyStatusCodes {
			if code < 100 || code > 599 {
				return fmt.Errorf("service %q: invalid status code %d", d.ID, code)
			}
		}
	}

	return nil
}

func applyDefaults(d *Descriptor) {
	if d.Path == "" {
		d.Path = "/"
	}
	if len(d.HealthyStatusCodes) == 0 {
		d.HealthyStatusCodes = []int{200}
	}
}
