package log

import (
	"github.com/rs/zerolog"

	adapter "github.com/bft-labs/keylink/internal/adapters/log"
	"github.com/bft-labs/keylink/internal/ports"
)

// Logger provides structured logging capabilities.
type Logger = ports.Logger

// Field represents a key-value pair for structured logging.
type Field = ports.Field

// Field constructors.
var (
	String   = ports.String
	Int      = ports.Int
	Uint64   = ports.Uint64
	Bool     = ports.Bool
	Duration = ports.Duration
	Hex      = ports.Hex
	Err      = ports.Err
	Any      = ports.Any
)

// NewZerolog returns a Logger writing console lines with RFC3339 timestamps
// to stderr. Unknown levels fall back to info.
func NewZerolog(level string) Logger {
	return adapter.NewZerologAdapter(level)
}

// NewZerologWithLogger wraps an existing zerolog.Logger.
func NewZerologWithLogger(logger zerolog.Logger) Logger {
	return adapter.NewZerologAdapterWithLogger(logger)
}

// NewNoop returns a Logger that discards everything.
func NewNoop() Logger {
	return adapter.NewNoopLogger()
}
