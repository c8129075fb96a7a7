package cliconfig

import (
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/bft-labs/keylink/pkg/keylink"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	StateDir     string `toml:"state_dir"`
	KeyFile      string `toml:"key_file"`
	SessionStore string `toml:"session_store"`
	LogLevel     string `toml:"log_level"`

	TickInterval    string `toml:"tick_interval"`
	ExchangeTimeout string `toml:"exchange_timeout"`
	CommandTimeout  string `toml:"command_timeout"`
	MaxRetries      *int   `toml:"max_retries"`
	MaxQueueSize    int    `toml:"max_queue_size"`

	UnitSize       int    `toml:"unit_size"`
	MaxMessageSize int    `toml:"max_message_size"`
	UnitTimeout    string `toml:"unit_timeout"`
	UnitRetries    *int   `toml:"unit_retries"`
	RxTimeout      string `toml:"rx_timeout"`
	AckWrites      *bool  `toml:"ack_writes"`

	PollVCSEC  string `toml:"poll_vcsec"`
	PollData   string `toml:"poll_data"`
	PollActive string `toml:"poll_active"`

	MetricsAddr     string `toml:"metrics_addr"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.keylink/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if dir := DefaultStateDir(); dir != "" {
		return filepath.Join(dir, "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("state-dir", fc.StateDir, &cfg.StateDir)
	s.setString("key-file", fc.KeyFile, &cfg.KeyFile)
	s.setString("session-store", fc.SessionStore, &cfg.SessionStore)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)

	durations := []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"tick", fc.TickInterval, &cfg.TickInterval},
		{"poll-vcsec", fc.PollVCSEC, &cfg.PollVCSEC},
		{"poll-data", fc.PollData, &cfg.PollData},
		{"poll-active", fc.PollActive, &cfg.PollActive},
		{"shutdown-timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}

	t := timingRefs{
		exchangeTimeout: &cfg.ExchangeTimeout,
		commandTimeout:  &cfg.CommandTimeout,
		maxRetries:      &cfg.MaxRetries,
		maxQueueSize:    &cfg.MaxQueueSize,
		unitSize:        &cfg.UnitSize,
		maxMessageSize:  &cfg.MaxMessageSize,
		unitTimeout:     &cfg.UnitTimeout,
		unitRetries:     &cfg.UnitRetries,
		rxTimeout:       &cfg.RxTimeout,
		ackWrites:       &cfg.AckWrites,
	}
	return t.apply(s, fc)
}

// ApplyTiming overlays the timing and transport settings of fc onto t and
// tc. Settings absent from the file are left untouched.
func ApplyTiming(fc FileConfig, t *keylink.Timing, tc *keylink.TransportConfig) error {
	refs := timingRefs{
		exchangeTimeout: &t.ExchangeTimeout,
		commandTimeout:  &t.CommandTimeout,
		maxRetries:      &t.MaxRetries,
		maxQueueSize:    &t.MaxQueueSize,
		unitSize:        &tc.UnitSize,
		maxMessageSize:  &tc.MaxMessageSize,
		unitTimeout:     &tc.UnitTimeout,
		unitRetries:     &tc.UnitRetries,
		rxTimeout:       &tc.RxTimeout,
		ackWrites:       &tc.AckWrites,
	}
	return refs.apply(newConfigSetter(nil), fc)
}

// timingRefs points at the settings that can also change at runtime.
type timingRefs struct {
	exchangeTimeout *time.Duration
	commandTimeout  *time.Duration
	maxRetries      *int
	maxQueueSize    *int
	unitSize        *int
	maxMessageSize  *int
	unitTimeout     *time.Duration
	unitRetries     *int
	rxTimeout       *time.Duration
	ackWrites       *bool
}

func (r timingRefs) apply(s *configSetter, fc FileConfig) error {
	if err := s.setDuration("exchange-timeout", fc.ExchangeTimeout, r.exchangeTimeout); err != nil {
		return err
	}
	if err := s.setDuration("command-timeout", fc.CommandTimeout, r.commandTimeout); err != nil {
		return err
	}
	if err := s.setDuration("unit-timeout", fc.UnitTimeout, r.unitTimeout); err != nil {
		return err
	}
	if err := s.setDuration("rx-timeout", fc.RxTimeout, r.rxTimeout); err != nil {
		return err
	}
	if err := s.setCount("max-retries", fc.MaxRetries, r.maxRetries); err != nil {
		return err
	}
	if err := s.setCount("unit-retries", fc.UnitRetries, r.unitRetries); err != nil {
		return err
	}

	s.setInt("max-queue", fc.MaxQueueSize, r.maxQueueSize)
	s.setInt("unit-size", fc.UnitSize, r.unitSize)
	s.setInt("max-message-size", fc.MaxMessageSize, r.maxMessageSize)
	s.setBool("ack-writes", fc.AckWrites, r.ackWrites)
	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
