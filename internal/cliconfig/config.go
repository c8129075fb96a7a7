package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/bft-labs/keylink/pkg/keylink"
)

// Config holds CLI configuration for keylink.
type Config struct {
	StateDir     string
	KeyFile      string
	SessionStore string
	LogLevel     string

	TickInterval    time.Duration
	ExchangeTimeout time.Duration
	CommandTimeout  time.Duration
	MaxRetries      int
	MaxQueueSize    int

	UnitSize       int
	MaxMessageSize int
	UnitTimeout    time.Duration
	UnitRetries    int
	RxTimeout      time.Duration
	AckWrites      bool

	PollVCSEC  time.Duration
	PollData   time.Duration
	PollActive time.Duration

	MetricsAddr     string
	ShutdownTimeout time.Duration
}

// DefaultStateDir returns ~/.keylink, or "" if the home directory is unknown.
func DefaultStateDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".keylink")
	}
	return ""
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	var kc keylink.Config
	kc.SetDefaults()

	return Config{
		StateDir:        DefaultStateDir(),
		SessionStore:    keylink.StoreFile,
		LogLevel:        "info",
		TickInterval:    kc.TickInterval,
		ExchangeTimeout: kc.Timing.ExchangeTimeout,
		CommandTimeout:  kc.Timing.CommandTimeout,
		MaxRetries:      kc.Timing.MaxRetries,
		MaxQueueSize:    kc.Timing.MaxQueueSize,
		UnitSize:        kc.Transport.UnitSize,
		MaxMessageSize:  kc.Transport.MaxMessageSize,
		UnitTimeout:     kc.Transport.UnitTimeout,
		UnitRetries:     kc.Transport.UnitRetries,
		RxTimeout:       kc.Transport.RxTimeout,
		AckWrites:       kc.Transport.AckWrites,
		ShutdownTimeout: kc.ShutdownTimeout,
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.StateDir == "" && c.SessionStore != keylink.StoreMemory {
		return fmt.Errorf("state-dir is required unless session-store is %q", keylink.StoreMemory)
	}
	if c.PollVCSEC == 0 && (c.PollData > 0 || c.PollActive > 0) {
		return fmt.Errorf("poll-data and poll-active require poll-vcsec")
	}

	kc := c.Keylink()
	kc.SetDefaults()
	return kc.Validate()
}

// Keylink converts the CLI configuration into a client configuration.
func (c Config) Keylink() keylink.Config {
	return keylink.Config{
		StateDir:     c.StateDir,
		KeyFile:      c.KeyFile,
		SessionStore: c.SessionStore,
		TickInterval: c.TickInterval,
		Timing: keylink.Timing{
			ExchangeTimeout: c.ExchangeTimeout,
			CommandTimeout:  c.CommandTimeout,
			MaxRetries:      c.MaxRetries,
			MaxQueueSize:    c.MaxQueueSize,
		},
		Transport: keylink.TransportConfig{
			UnitSize:       c.UnitSize,
			MaxMessageSize: c.MaxMessageSize,
			UnitTimeout:    c.UnitTimeout,
			UnitRetries:    c.UnitRetries,
			RxTimeout:      c.RxTimeout,
			AckWrites:      c.AckWrites,
		},
		Poll: keylink.PollConfig{
			VCSECInterval:        c.PollVCSEC,
			InfotainmentInterval: c.PollData,
			ActiveInterval:       c.PollActive,
		},
		ShutdownTimeout: c.ShutdownTimeout,
	}
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setCount sets an int value that may legitimately be zero. nil means unset.
func (s *configSetter) setCount(flag string, value *int, dst *int) error {
	if value == nil || s.changed[flag] {
		return nil
	}
	if *value < 0 {
		return fmt.Errorf("%s must not be negative", flag)
	}
	*dst = *value
	return nil
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Zero is accepted. Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i < 0 {
		return fmt.Errorf("%s must not be negative", flag)
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
