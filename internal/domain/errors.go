package domain

import (
	"errors"
	"fmt"
)

// Lifecycle errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("keylink: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("keylink: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("keylink: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("keylink: invalid configuration")
)

// Enqueue errors.
var (
	ErrQueueFull      = errors.New("keylink: command queue full")
	ErrUnknownDomain  = errors.New("keylink: unknown domain")
	ErrUnknownAction  = errors.New("keylink: unknown action")
	ErrInvalidPayload = errors.New("keylink: invalid payload")
)

// Transport errors. Unit-level retries absorb these; once exhausted they
// surface to the command queue as an exchange timeout.
var (
	ErrTransportTimeout = errors.New("keylink: transport write not confirmed")
	ErrInboundTimeout   = errors.New("keylink: inbound message incomplete")
	ErrFraming          = errors.New("keylink: invalid message framing")
	ErrMessageTooLarge  = errors.New("keylink: message exceeds maximum size")
	ErrTransportBusy    = errors.New("keylink: transport busy")
)

// Protocol errors. Any of these invalidates the affected session.
var (
	ErrProtocol      = errors.New("keylink: protocol error")
	ErrKeyNotPaired  = fmt.Errorf("%w: key not on whitelist", ErrProtocol)
	ErrStaleCounter  = fmt.Errorf("%w: stale counter or epoch", ErrProtocol)
	ErrBadSignature  = fmt.Errorf("%w: invalid signature", ErrProtocol)
	ErrSessionStale  = fmt.Errorf("%w: session not established", ErrProtocol)
	ErrDecode        = fmt.Errorf("%w: undecodable message", ErrProtocol)
	ErrWrongEndpoint = fmt.Errorf("%w: unexpected destination", ErrProtocol)
)

// Timeout and terminal errors.
var (
	ErrExchangeTimeout = errors.New("keylink: exchange timeout")
	ErrCommandTimeout  = errors.New("keylink: command timeout")
	ErrRetryExhausted  = errors.New("keylink: retries exhausted")
	ErrVehicleRejected = errors.New("keylink: vehicle reported error")
	ErrCanceled        = errors.New("keylink: command canceled")
)

// FailureReason classifies a terminal command failure.
type FailureReason int

const (
	ReasonRetryExhausted FailureReason = iota
	ReasonCommandTimeout
	ReasonAuthRejected
	ReasonVehicleError
	ReasonEncode
	ReasonCanceled
)

// String returns a human-readable representation of the reason.
func (r FailureReason) String() string {
	switch r {
	case ReasonRetryExhausted:
		return "retry_exhausted"
	case ReasonCommandTimeout:
		return "command_timeout"
	case ReasonAuthRejected:
		return "auth_rejected"
	case ReasonVehicleError:
		return "vehicle_error"
	case ReasonEncode:
		return "encode"
	case ReasonCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// CommandError is delivered to the completion callback of a failed command.
type CommandError struct {
	Reason   FailureReason
	Attempts int
	Err      error
}

func (e *CommandError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("command failed: %s after %d attempts", e.Reason, e.Attempts)
	}
	return fmt.Sprintf("command failed: %s after %d attempts: %v", e.Reason, e.Attempts, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel associated with the failure reason, so callers can
// write errors.Is(err, ErrRetryExhausted) without unpacking.
func (e *CommandError) Is(target error) bool {
	switch e.Reason {
	case ReasonRetryExhausted:
		return target == ErrRetryExhausted
	case ReasonCommandTimeout:
		return target == ErrCommandTimeout
	case ReasonCanceled:
		return target == ErrCanceled
	case ReasonVehicleError:
		return target == ErrVehicleRejected
	}
	return false
}
