package app

import (
	"fmt"
	"time"
)

// Timing holds the command-level timeouts and bounds. It can be replaced at
// runtime through Runner.UpdateTiming.
type Timing struct {
	// ExchangeTimeout is how long a waiting state may go without progress
	// before the command is retried.
	// Default: 4 seconds
	ExchangeTimeout time.Duration

	// CommandTimeout bounds the total time a command may spend at the head
	// of the queue. Exceeding it is always fatal.
	// Default: 30 seconds
	CommandTimeout time.Duration

	// MaxRetries bounds RetryCount.
	// Default: 5
	MaxRetries int

	// MaxQueueSize bounds the number of queued commands.
	// Default: 20
	MaxQueueSize int
}

// DefaultTiming returns a Timing with sensible defaults.
func DefaultTiming() Timing {
	return Timing{
		ExchangeTimeout: 4 * time.Second,
		CommandTimeout:  30 * time.Second,
		MaxRetries:      5,
		MaxQueueSize:    20,
	}
}

// Validate checks the timing for errors.
func (t Timing) Validate() error {
	if t.ExchangeTimeout <= 0 {
		return fmt.Errorf("exchange timeout must be positive")
	}
	if t.CommandTimeout < t.ExchangeTimeout {
		return fmt.Errorf("command timeout must be at least the exchange timeout")
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if t.MaxQueueSize <= 0 {
		return fmt.Errorf("max queue size must be positive")
	}
	return nil
}
