package cliconfig

import (
	"os"
	"time"
)

// ApplyEnvConfig applies configuration from environment variables (KEYLINK_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("state-dir", os.Getenv("KEYLINK_STATE_DIR"), &cfg.StateDir)
	s.setString("key-file", os.Getenv("KEYLINK_KEY_FILE"), &cfg.KeyFile)
	s.setString("session-store", os.Getenv("KEYLINK_SESSION_STORE"), &cfg.SessionStore)
	s.setString("log-level", os.Getenv("KEYLINK_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("metrics-addr", os.Getenv("KEYLINK_METRICS_ADDR"), &cfg.MetricsAddr)

	durations := []struct {
		flag string
		env  string
		dst  *time.Duration
	}{
		{"tick", "KEYLINK_TICK_INTERVAL", &cfg.TickInterval},
		{"exchange-timeout", "KEYLINK_EXCHANGE_TIMEOUT", &cfg.ExchangeTimeout},
		{"command-timeout", "KEYLINK_COMMAND_TIMEOUT", &cfg.CommandTimeout},
		{"unit-timeout", "KEYLINK_UNIT_TIMEOUT", &cfg.UnitTimeout},
		{"rx-timeout", "KEYLINK_RX_TIMEOUT", &cfg.RxTimeout},
		{"poll-vcsec", "KEYLINK_POLL_VCSEC", &cfg.PollVCSEC},
		{"poll-data", "KEYLINK_POLL_DATA", &cfg.PollData},
		{"poll-active", "KEYLINK_POLL_ACTIVE", &cfg.PollActive},
		{"shutdown-timeout", "KEYLINK_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, os.Getenv(d.env), d.dst); err != nil {
			return err
		}
	}

	ints := []struct {
		flag string
		env  string
		dst  *int
	}{
		{"max-retries", "KEYLINK_MAX_RETRIES", &cfg.MaxRetries},
		{"max-queue", "KEYLINK_MAX_QUEUE", &cfg.MaxQueueSize},
		{"unit-size", "KEYLINK_UNIT_SIZE", &cfg.UnitSize},
		{"max-message-size", "KEYLINK_MAX_MESSAGE_SIZE", &cfg.MaxMessageSize},
		{"unit-retries", "KEYLINK_UNIT_RETRIES", &cfg.UnitRetries},
	}
	for _, i := range ints {
		if err := s.setIntFromString(i.flag, os.Getenv(i.env), i.dst); err != nil {
			return err
		}
	}

	s.setBoolFromString("ack-writes", os.Getenv("KEYLINK_ACK_WRITES"), &cfg.AckWrites)

	return nil
}
