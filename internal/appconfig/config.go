// Package appconfig manages tunneld configuration and runtime file paths.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tunneld/tunneld/internal/forwarding"
	"github.com/tunneld/tunneld/internal/model"
	"github.com/tunneld/tunneld/internal/util"
)

// RemoteConfig describes the SSH endpoint all tunnels run through.
type RemoteConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	IdentityFile string `yaml:"identity_file"`
}

// HealthConfig tunes the supervision loop. Durations are expressed in seconds
// in the file.
type HealthConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	TimeoutSeconds  int `yaml:"timeout_seconds"`
	Threshold       int `yaml:"threshold"`
	WarmupSeconds   int `yaml:"warmup_seconds"`
}

// BackoffConfig bounds the exponential restart delay.
type BackoffConfig struct {
	BaseSeconds int `yaml:"base_seconds"`
	MaxSeconds  int `yaml:"max_seconds"`
}

// Config is the on-disk configuration for a tunneld instance.
type Config struct {
	Remote               RemoteConfig  `yaml:"remote"`
	Mode                 string        `yaml:"mode"`
	Forwards             []string      `yaml:"forwards"`
	Health               HealthConfig  `yaml:"health"`
	Backoff              BackoffConfig `yaml:"backoff"`
	ShutdownGraceSeconds int           `yaml:"shutdown_grace_seconds"`
}

// Default returns the default configuration (no remote, no forwards).
func Default() Config {
	return Config{
		Mode: string(model.ForwardLocal),
		Health: HealthConfig{
			IntervalSeconds: int(util.DefaultCheckInterval / time.Second),
			TimeoutSeconds:  int(util.DefaultProbeTimeout / time.Second),
			Threshold:       util.DefaultFailureThreshold,
			WarmupSeconds:   int(util.DefaultWarmup / time.Second),
		},
		Backoff: BackoffConfig{
			BaseSeconds: int(util.DefaultBackoffBase / time.Second),
			MaxSeconds:  int(util.DefaultBackoffMax / time.Second),
		},
		ShutdownGraceSeconds: int(util.DefaultShutdownGrace / time.Second),
	}
}

// ConfigDir returns the application config directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/tunneld.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tunneld"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".config", "tunneld"), nil
}

// DefaultPath returns the full path to the default config.yaml.
func DefaultPath() (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "config.yaml"), nil
}

// EventsFilePath returns the full path to the lifecycle event journal.
func EventsFilePath() (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "events.jsonl"), nil
}

// Load reads the configuration from path (or the default location when path
// is empty), applies defaults for absent fields and validates the result.
func Load(path string) (Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.Remote.Port <= 0 {
		c.Remote.Port = 22
	}
	if c.Health.IntervalSeconds <= 0 {
		c.Health.IntervalSeconds = d.Health.IntervalSeconds
	}
	if c.Health.TimeoutSeconds <= 0 {
		c.Health.TimeoutSeconds = d.Health.TimeoutSeconds
	}
	if c.Health.Threshold <= 0 {
		c.Health.Threshold = d.Health.Threshold
	}
	if c.Health.WarmupSeconds < 0 {
		c.Health.WarmupSeconds = d.Health.WarmupSeconds
	}
	if c.Backoff.BaseSeconds <= 0 {
		c.Backoff.BaseSeconds = d.Backoff.BaseSeconds
	}
	if c.Backoff.MaxSeconds <= 0 {
		c.Backoff.MaxSeconds = d.Backoff.MaxSeconds
	}
	if c.ShutdownGraceSeconds <= 0 {
		c.ShutdownGraceSeconds = d.ShutdownGraceSeconds
	}
}

// Validate checks the configuration for errors that must stop startup before
// any process is spawned.
func (c Config) Validate() error {
	if c.Remote.Host == "" {
		return fmt.Errorf("remote.host is required")
	}
	if err := util.ValidatePort(c.Remote.Port); err != nil {
		return fmt.Errorf("remote.port: %w", err)
	}
	if mode := model.ForwardMode(c.Mode); mode != model.ForwardLocal && mode != model.ForwardRemote {
		return fmt.Errorf("mode must be %q or %q, got %q", model.ForwardLocal, model.ForwardRemote, c.Mode)
	}
	if len(c.Forwards) == 0 {
		return fmt.Errorf("at least one forward is required")
	}
	if _, err := c.Specs(); err != nil {
		return err
	}
	if c.Backoff.MaxSeconds < c.Backoff.BaseSeconds {
		return fmt.Errorf("backoff.max_seconds (%d) must be >= backoff.base_seconds (%d)",
			c.Backoff.MaxSeconds, c.Backoff.BaseSeconds)
	}
	return nil
}

// ForwardMode returns the configured forwarding direction.
func (c Config) ForwardMode() model.ForwardMode {
	return model.ForwardMode(c.Mode)
}

// ModelRemote converts the remote section into its model form.
func (c Config) ModelRemote() model.Remote {
	return model.Remote{
		Host:         c.Remote.Host,
		Port:         c.Remote.Port,
		User:         c.Remote.User,
		IdentityFile: c.Remote.IdentityFile,
	}
}

// Specs parses the forwards list into validated forwarding specs.
func (c Config) Specs() ([]model.ForwardingSpec, error) {
	return forwarding.ParseAll(c.Forwards, c.ForwardMode())
}

// Durations expressed by the config, converted from their on-disk second
// counts.

func (c Config) Interval() time.Duration {
	return time.Duration(c.Health.IntervalSeconds) * time.Second
}

func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Health.TimeoutSeconds) * time.Second
}

func (c Config) Warmup() time.Duration {
	return time.Duration(c.Health.WarmupSeconds) * time.Second
}

func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Backoff.BaseSeconds) * time.Second
}

func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.Backoff.MaxSeconds) * time.Second
}

func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}
