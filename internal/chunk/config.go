package chunk

import (
	"fmt"
	"time"
)

// Config holds the transport limits and timers.
type Config struct {
	// UnitSize is the payload size of one transport unit.
	// Default: 20 bytes
	UnitSize int

	// MaxMessageSize bounds a framed message, length prefix included.
	// Default: 1024 bytes
	MaxMessageSize int

	// UnitTimeout is how long a written unit may stay unconfirmed.
	// Default: 1 second
	UnitTimeout time.Duration

	// UnitRetries is how many times one unit is rewritten before the whole
	// message is aborted.
	// Default: 3
	UnitRetries int

	// RxTimeout discards a partial inbound message idle for this long.
	// Default: 1 second
	RxTimeout time.Duration

	// AckWrites requests a link-level confirmation for each unit.
	// Default: true
	AckWrites bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		UnitSize:       20,
		MaxMessageSize: 1024,
		UnitTimeout:    time.Second,
		UnitRetries:    3,
		RxTimeout:      time.Second,
		AckWrites:      true,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.UnitSize <= 0 {
		return fmt.Errorf("unit size must be positive")
	}
	if c.MaxMessageSize <= PrefixLen || c.MaxMessageSize > PrefixLen+0xFFFF {
		return fmt.Errorf("max message size must be in (%d, %d]", PrefixLen, PrefixLen+0xFFFF)
	}
	if c.UnitTimeout <= 0 {
		return fmt.Errorf("unit timeout must be positive")
	}
	if c.UnitRetries < 0 {
		return fmt.Errorf("unit retries must not be negative")
	}
	if c.RxTimeout <= 0 {
		return fmt.Errorf("rx timeout must be positive")
	}
	return nil
}
