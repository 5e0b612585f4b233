// Package config manages CLI configuration and device state persistence
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/edgecli/xplnet/internal/transport"
)

const (
	// ConfigDirName is the name of the config directory
	ConfigDirName = ".xpl"
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.yaml"
	// DeviceFileName holds the configuration a configurable device received
	DeviceFileName = "device.yaml"
	// EnvFileName is loaded from the working directory when present
	EnvFileName = ".env"
)

// Environment overrides applied after the file is read.
const (
	EnvLogLevel  = "XPL_LOG_LEVEL"
	EnvHubListen = "XPL_HUB_LISTEN"
	EnvMaxHop    = "XPL_MAX_HOP"
)

// DefaultMaxHop is the bridge hop ceiling used by Default.
const DefaultMaxHop = 5

// Config holds the CLI configuration
type Config struct {
	// LogLevel is a zerolog level name
	LogLevel string `yaml:"log_level"`
	// Verbose forces debug logging
	Verbose bool         `yaml:"verbose"`
	Hub     HubConfig    `yaml:"hub"`
	Client  ClientConfig `yaml:"client"`
	Bridge  BridgeConfig `yaml:"bridge"`
	Device  DeviceConfig `yaml:"device"`
	Status  StatusConfig `yaml:"status"`
}

// HubConfig configures xpl hub.
type HubConfig struct {
	Transport transport.Config `yaml:"transport"`
}

// ClientConfig is the transport monitor and send join the network with.
type ClientConfig struct {
	Transport transport.Config `yaml:"transport"`
}

// BridgeConfig configures xpl bridge.
type BridgeConfig struct {
	Outer  transport.Config `yaml:"outer"`
	Inner  transport.Config `yaml:"inner"`
	MaxHop int              `yaml:"max_hop"`
}

// StatusConfig configures the health and metrics listeners. Empty
// addresses disable them.
type StatusConfig struct {
	GRPCListen    string `yaml:"grpc_listen,omitempty"`
	MetricsListen string `yaml:"metrics_listen,omitempty"`
}

// Paths holds commonly used paths
type Paths struct {
	// ConfigDir is ~/.xpl
	ConfigDir string
	// ConfigFile is ~/.xpl/config.yaml
	ConfigFile string
	// DeviceFile is ~/.xpl/device.yaml
	DeviceFile string
	// LogsDir is ~/.xpl/logs
	LogsDir string
}

// GetPaths returns the standard paths
func GetPaths() (*Paths, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return PathsIn(filepath.Join(homeDir, ConfigDirName)), nil
}

// PathsIn returns the standard layout rooted at dir.
func PathsIn(dir string) *Paths {
	return &Paths{
		ConfigDir:  dir,
		ConfigFile: filepath.Join(dir, ConfigFileName),
		DeviceFile: filepath.Join(dir, DeviceFileName),
		LogsDir:    filepath.Join(dir, "logs"),
	}
}

// EnsureDirectories creates all required directories
func (p *Paths) EnsureDirectories() error {
	dirs := []string{p.ConfigDir, p.LogsDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Default returns a new Config with default values
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Hub: HubConfig{
			Transport: transport.Config{Kind: transport.KindUDP, Listen: fmt.Sprintf(":%d", transport.DefaultPort)},
		},
		Client: ClientConfig{
			Transport: transport.Config{Kind: transport.KindUDP, Listen: ":0"},
		},
		Bridge: BridgeConfig{
			Outer:  transport.Config{Kind: transport.KindUDP},
			Inner:  transport.Config{Kind: transport.KindMQTT, URL: "tcp://localhost:1883", Prefix: "xpl"},
			MaxHop: DefaultMaxHop,
		},
		Device: DefaultDevice(),
	}
}

// Load reads the config file at path, or the default path when path is
// empty. A missing file yields defaults. The .env file in the working
// directory and the XPL_* environment variables are applied on top.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(EnvFileName); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", EnvFileName, err)
	}

	if path == "" {
		paths, err := GetPaths()
		if err != nil {
			return nil, err
		}
		path = paths.ConfigFile
	}

	config := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvHubListen); v != "" {
		c.Hub.Transport.Listen = v
	}
	if v := os.Getenv(EnvMaxHop); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvMaxHop, v, err)
		}
		c.Bridge.MaxHop = n
	}
	return nil
}

// Save writes the configuration to path
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate reports every problem in the configuration.
func (c *Config) Validate() error {
	var errs []error
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if err := c.Hub.Transport.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("hub: %w", err))
	}
	if err := c.Client.Transport.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("client: %w", err))
	}
	if err := c.Bridge.Outer.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("bridge outer: %w", err))
	}
	if err := c.Bridge.Inner.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("bridge inner: %w", err))
	}
	if c.Bridge.MaxHop < 1 {
		errs = append(errs, fmt.Errorf("bridge max_hop %d: must be at least 1", c.Bridge.MaxHop))
	}
	if err := c.Device.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("device: %w", err))
	}
	return errors.Join(errs...)
}
