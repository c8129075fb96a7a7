package keylink

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/bft-labs/keylink/internal/app"
)

// Session store kinds.
const (
	StoreFile   = "file"
	StoreBadger = "badger"
	StoreMemory = "memory"
)

// DefaultKeyFileName is the controller key file created inside StateDir.
const DefaultKeyFileName = "controller.key"

// Config is the configuration of a Client.
// Zero values are replaced by defaults in SetDefaults.
type Config struct {
	// StateDir holds the controller key and persisted sessions.
	// Empty keeps everything in memory: a fresh key per Start and no
	// session persistence.
	StateDir string

	// KeyFile is the hex-encoded controller private key. It is created on
	// first start.
	// Default: StateDir/controller.key
	KeyFile string

	// SessionStore selects where sessions are persisted: StoreFile,
	// StoreBadger or StoreMemory. Ignored when WithSessionStore is used.
	// Default: StoreFile when StateDir is set, StoreMemory otherwise
	SessionStore string

	// TickInterval is how often the engine is ticked when idle.
	// Default: 10 milliseconds
	TickInterval time.Duration

	// Timing bounds command retries and timeouts. The zero value selects
	// DefaultTiming.
	Timing Timing

	// Transport sets the transport unit size and timers. The zero value
	// selects DefaultTransportConfig.
	Transport TransportConfig

	// Poll enables periodic status and data polls. The zero value
	// disables polling.
	Poll PollConfig

	// ShutdownTimeout bounds Stop.
	// Default: 30 seconds
	ShutdownTimeout time.Duration
}

// SetDefaults fills zero fields with their defaults.
func (c *Config) SetDefaults() {
	if c.KeyFile == "" && c.StateDir != "" {
		c.KeyFile = filepath.Join(c.StateDir, DefaultKeyFileName)
	}
	if c.SessionStore == "" {
		if c.StateDir != "" {
			c.SessionStore = StoreFile
		} else {
			c.SessionStore = StoreMemory
		}
	}
	if c.TickInterval <= 0 {
		c.TickInterval = app.DefaultTickInterval
	}
	if c.Timing == (Timing{}) {
		c.Timing = DefaultTiming()
	}
	if c.Transport == (TransportConfig{}) {
		c.Transport = DefaultTransportConfig()
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = app.ShutdownTimeout
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.SessionStore {
	case StoreMemory:
	case StoreFile, StoreBadger:
		if c.StateDir == "" {
			return fmt.Errorf("%w: session store %q requires a state dir", ErrInvalidConfig, c.SessionStore)
		}
	default:
		return fmt.Errorf("%w: unknown session store %q", ErrInvalidConfig, c.SessionStore)
	}

	engine := app.EngineConfig{Timing: c.Timing, Transport: c.Transport}
	if err := engine.Validate(); err != nil {
		return err
	}

	if c.Poll.VCSECInterval < 0 || c.Poll.InfotainmentInterval < 0 || c.Poll.ActiveInterval < 0 {
		return fmt.Errorf("%w: poll intervals must not be negative", ErrInvalidConfig)
	}
	return nil
}
