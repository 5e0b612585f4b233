package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edgecli/xplnet/internal/app"
	"github.com/edgecli/xplnet/internal/xpl"
)

// DeviceConfig is the identity and settings of the device the CLI hosts.
// Intervals are in seconds. An empty instance is filled from the persistent
// instance id.
type DeviceConfig struct {
	Vendor         string   `yaml:"vendor"`
	Device         string   `yaml:"device"`
	Instance       string   `yaml:"instance,omitempty"`
	Interval       int      `yaml:"interval"`
	ConfigInterval int      `yaml:"config_interval,omitempty"`
	Configurable   bool     `yaml:"configurable,omitempty"`
	Configured     bool     `yaml:"configured,omitempty"`
	Groups         []string `yaml:"groups,omitempty"`
	Filters        []string `yaml:"filters,omitempty"`
}

// DefaultDevice is the identity used by monitor and send.
func DefaultDevice() DeviceConfig {
	return DeviceConfig{
		Vendor:   "xpl",
		Device:   "cli",
		Interval: int(app.DefaultInterval / time.Second),
	}
}

// Validate checks the identity and filters. An empty instance is accepted.
func (d DeviceConfig) Validate() error {
	instance := d.Instance
	if instance == "" {
		instance = "check"
	}
	if _, err := xpl.NewAddress(d.Vendor, d.Device, instance); err != nil {
		return err
	}
	if d.Interval < 0 || d.ConfigInterval < 0 {
		return errors.New("intervals must not be negative")
	}
	if len(d.Groups) > app.MaxGroups || len(d.Filters) > app.MaxFilters {
		return fmt.Errorf("at most %d groups and %d filters", app.MaxGroups, app.MaxFilters)
	}
	for _, f := range d.Filters {
		if _, err := xpl.ParseFilter(f); err != nil {
			return err
		}
	}
	return nil
}

// Options converts d into app.DeviceOptions, using instance when d has none.
func (d DeviceConfig) Options(instance string) (app.DeviceOptions, error) {
	if d.Instance != "" {
		instance = d.Instance
	}
	addr, err := xpl.NewAddress(d.Vendor, d.Device, instance)
	if err != nil {
		return app.DeviceOptions{}, err
	}
	filters := make([]xpl.Filter, 0, len(d.Filters))
	for _, s := range d.Filters {
		f, err := xpl.ParseFilter(s)
		if err != nil {
			return app.DeviceOptions{}, err
		}
		filters = append(filters, f)
	}
	return app.DeviceOptions{
		Address:        addr,
		Configurable:   d.Configurable,
		Configured:     d.Configured,
		Interval:       time.Duration(d.Interval) * time.Second,
		ConfigInterval: time.Duration(d.ConfigInterval) * time.Second,
		Groups:         d.Groups,
		Filters:        filters,
	}, nil
}

// Apply returns d updated with values received through the config protocol.
func (d DeviceConfig) Apply(v app.ConfigValues) DeviceConfig {
	d.Instance = v.Instance
	if v.Interval > 0 {
		d.Interval = int(v.Interval / time.Second)
	}
	d.Groups = v.Groups
	d.Filters = nil
	for _, f := range v.Filters {
		d.Filters = append(d.Filters, f.String())
	}
	d.Configured = true
	return d
}

// LoadDevice reads a persisted device configuration. ok is false when the
// file does not exist.
func LoadDevice(path string) (d DeviceConfig, ok bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DeviceConfig{}, false, nil
	}
	if err != nil {
		return DeviceConfig{}, false, fmt.Errorf("failed to read device file: %w", err)
	}
	if err := yaml.Unmarshal(data, &d); err != nil {
		return DeviceConfig{}, false, fmt.Errorf("failed to parse device file: %w", err)
	}
	if err := d.Validate(); err != nil {
		return DeviceConfig{}, false, fmt.Errorf("device file %s: %w", path, err)
	}
	return d, true, nil
}

// SaveDevice persists d at path.
func SaveDevice(path string, d DeviceConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal device config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write device file: %w", err)
	}
	return nil
}
