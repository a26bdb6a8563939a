package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/frymanofer/enginehub/pkg/engine"
	"github.com/frymanofer/enginehub/pkg/storage"
)

const (
	// DefaultBaseDir is the base configuration directory name
	DefaultBaseDir = ".enginehub"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.yaml"
)

// Config is the enginehub configuration file
type Config struct {
	// DataDir holds engine targets, cluster state and recordings.
	// Relative paths are resolved against the config file directory.
	DataDir string `yaml:"data_dir,omitempty"`

	Log LogConfig `yaml:"log,omitempty"`

	// WindowMs is the audio span embedded per cluster push (default 1000)
	WindowMs int `yaml:"window_ms,omitempty"`

	Engine EngineConfig `yaml:"engine,omitempty"`

	// Instances are created at startup by serve and looked up by key by
	// the other commands
	Instances []InstanceConfig `yaml:"instances,omitempty"`

	// Export is the destination of exported speaker targets
	Export storage.Config `yaml:"export,omitempty"`

	Metrics MetricsConfig `yaml:"metrics,omitempty"`

	// path is the path to the config file
	path string
}

// LogConfig selects the log level (debug, info, warn, error) and format
// (text, json)
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// EngineConfig tunes the reference engine
type EngineConfig struct {
	RequireLicense bool    `yaml:"require_license,omitempty"`
	VoiceRMS       float64 `yaml:"voice_rms,omitempty"`
	AcceptScore    float32 `yaml:"accept_score,omitempty"`
	ClusterSize    int     `yaml:"cluster_size,omitempty"`
}

// InstanceConfig describes one engine instance
type InstanceConfig struct {
	Key     string         `yaml:"key"`
	Profile engine.Profile `yaml:"profile,omitempty"`

	// License is handed to the engine after creation
	License string `yaml:"license,omitempty"`

	// Threshold is the detection threshold used by serve
	Threshold float32 `yaml:"threshold,omitempty"`

	Models []engine.ModelConfig `yaml:"models"`
}

// MetricsConfig configures the Prometheus endpoint of serve
type MetricsConfig struct {
	// Addr is the listen address, e.g. ":9090". Empty disables the endpoint.
	Addr string `yaml:"addr,omitempty"`
}

// LoadConfig loads the configuration at path, or at the default location
// when path is empty. A missing file yields an empty configuration. Relative
// model paths are resolved against the config directory.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		p, err := NewPaths()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = p.ConfigFile()
	}

	cfg := &Config{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.path = path
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	cfg.resolveModels()
	return cfg, nil
}

// resolveModels makes relative model paths relative to the config directory.
func (c *Config) resolveModels() {
	for i := range c.Instances {
		for j, m := range c.Instances[i].Models {
			if !filepath.IsAbs(m.Model) {
				c.Instances[i].Models[j].Model = filepath.Join(c.Dir(), m.Model)
			}
		}
	}
}

// Save writes the configuration to its path, creating the directory
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(c.Dir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Path returns the config file path
func (c *Config) Path() string {
	return c.path
}

// Dir returns the config directory path
func (c *Config) Dir() string {
	return filepath.Dir(c.path)
}

// Validate checks instance keys, profiles and model records.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Instances))
	for i, inst := range c.Instances {
		if inst.Key == "" {
			return fmt.Errorf("instance %d: empty key", i)
		}
		if seen[inst.Key] {
			return fmt.Errorf("instance %q: duplicate key", inst.Key)
		}
		seen[inst.Key] = true
		switch inst.Profile {
		case "", engine.ProfileStandard, engine.ProfileWakeWord:
		default:
			return fmt.Errorf("instance %q: unknown profile %q", inst.Key, inst.Profile)
		}
		if inst.Threshold < 0 || inst.Threshold > 1 {
			return fmt.Errorf("instance %q: threshold %v out of [0,1]", inst.Key, inst.Threshold)
		}
		if err := engine.ValidateModels(inst.Models); err != nil {
			return fmt.Errorf("instance %q: %w", inst.Key, err)
		}
	}
	if c.WindowMs < 0 {
		return fmt.Errorf("negative window_ms %d", c.WindowMs)
	}
	return nil
}

// Instance returns the instance configured under key
func (c *Config) Instance(key string) (*InstanceConfig, error) {
	for i := range c.Instances {
		if c.Instances[i].Key == key {
			return &c.Instances[i], nil
		}
	}
	return nil, fmt.Errorf("instance %q not found in %s", key, c.path)
}

// Window returns the cluster embedding window
func (c *Config) Window() time.Duration {
	if c.WindowMs <= 0 {
		return time.Second
	}
	return time.Duration(c.WindowMs) * time.Millisecond
}

// ResolveDataDir returns the absolute data directory
func (c *Config) ResolveDataDir() string {
	switch {
	case c.DataDir == "":
		return filepath.Join(c.Dir(), "data")
	case filepath.IsAbs(c.DataDir):
		return c.DataDir
	default:
		return filepath.Join(c.Dir(), c.DataDir)
	}
}

// Logger builds a slog logger writing to w. verbose forces debug level.
func (c *Config) Logger(w io.Writer, verbose bool) (*slog.Logger, error) {
	var level slog.Level
	if c.Log.Level != "" {
		if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.Log.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Log.Format)
	}
}

// MaskLicense masks a license key for display
func MaskLicense(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
