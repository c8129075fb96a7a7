package keylink

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bft-labs/keylink/internal/app"
	"github.com/bft-labs/keylink/internal/chunk"
	"github.com/bft-labs/keylink/internal/domain"
	"github.com/bft-labs/keylink/internal/ports"
	"github.com/bft-labs/keylink/pkg/log"
)

// Re-exported engine types. They are aliases, so values move between this
// package and the engine without conversion.
type (
	// Domain identifies the vehicle subsystem a command is addressed to.
	Domain = domain.Domain

	// Action identifies a row of the action table.
	Action = domain.Action

	// ActionSpec is one row of the action table.
	ActionSpec = domain.ActionSpec

	// ParamKind describes the parameter an action takes.
	ParamKind = domain.ParamKind

	// Payload is a command descriptor: an action and its optional parameter.
	Payload = domain.Payload

	// Envelope is a decoded vehicle message, as carried in Result.Response.
	Envelope = domain.Envelope

	// Result is delivered exactly once for every accepted command.
	Result = domain.Result

	// CompletionFunc receives the terminal result of a command.
	CompletionFunc = domain.CompletionFunc

	// CommandError is the error of a failed Result.
	CommandError = domain.CommandError

	// FailureReason classifies a CommandError.
	FailureReason = domain.FailureReason

	// VehicleStatus is the VCSEC view of the vehicle.
	VehicleStatus = domain.VehicleStatus

	// SleepStatus is the reported power state of the vehicle.
	SleepStatus = domain.SleepStatus

	// Session is the in-memory session for one domain.
	Session = domain.Session

	// Timing holds the command-level timeouts and bounds.
	Timing = app.Timing

	// TransportConfig holds the transport limits and timers.
	TransportConfig = chunk.Config

	// PollConfig controls periodic status and data polls.
	PollConfig = app.PollConfig

	// Snapshot is a point-in-time view of the engine.
	Snapshot = app.Snapshot

	// LinkEvent is reported by a Link after a write or on reception.
	LinkEvent = domain.LinkEvent

	// LinkEventSink receives link events.
	LinkEventSink = ports.LinkEventSink

	// StatusSink receives unsolicited vehicle status pushes.
	StatusSink = ports.StatusSink

	// SessionStore persists per-domain session material.
	SessionStore = ports.SessionStore

	// EventEmitter observes commands and sessions, typically for metrics.
	EventEmitter = ports.EventEmitter

	// Logger is the logging interface accepted by WithLogger.
	Logger = log.Logger

	// LogField is a structured log field.
	LogField = log.Field
)

const (
	DomainBroadcast    = domain.DomainBroadcast
	DomainVCSEC        = domain.DomainVCSEC
	DomainInfotainment = domain.DomainInfotainment
)

const (
	ParamNone = domain.ParamNone
	ParamBool = domain.ParamBool
	ParamInt  = domain.ParamInt
)

const (
	SleepUnknown = domain.SleepUnknown
	SleepAwake   = domain.SleepAwake
	SleepAsleep  = domain.SleepAsleep
)

const (
	ReasonRetryExhausted = domain.ReasonRetryExhausted
	ReasonCommandTimeout = domain.ReasonCommandTimeout
	ReasonAuthRejected   = domain.ReasonAuthRejected
	ReasonVehicleError   = domain.ReasonVehicleError
	ReasonEncode         = domain.ReasonEncode
	ReasonCanceled       = domain.ReasonCanceled
)

// Errors returned by the client or carried in a CommandError. Check them
// with errors.Is.
var (
	ErrAlreadyRunning  = domain.ErrAlreadyRunning
	ErrNotRunning      = domain.ErrNotRunning
	ErrShutdownTimeout = domain.ErrShutdownTimeout
	ErrInvalidConfig   = domain.ErrInvalidConfig

	ErrQueueFull      = domain.ErrQueueFull
	ErrUnknownAction  = domain.ErrUnknownAction
	ErrInvalidPayload = domain.ErrInvalidPayload

	ErrProtocol        = domain.ErrProtocol
	ErrKeyNotPaired    = domain.ErrKeyNotPaired
	ErrExchangeTimeout = domain.ErrExchangeTimeout
	ErrCommandTimeout  = domain.ErrCommandTimeout
	ErrRetryExhausted  = domain.ErrRetryExhausted
	ErrVehicleRejected = domain.ErrVehicleRejected
	ErrCanceled        = domain.ErrCanceled
)

// DefaultTiming returns the default command timing.
func DefaultTiming() Timing { return app.DefaultTiming() }

// DefaultTransportConfig returns the default transport limits.
func DefaultTransportConfig() TransportConfig { return chunk.DefaultConfig() }

// DefaultPollConfig returns the default polling intervals.
func DefaultPollConfig() PollConfig { return app.DefaultPollConfig() }

// Actions returns a copy of the action table.
func Actions() []ActionSpec {
	return append([]ActionSpec(nil), domain.Actions...)
}

// ParsePayload builds a payload from an action name and an optional
// parameter. Boolean parameters accept true/false/on/off/1/0.
func ParsePayload(name, param string) (Payload, error) {
	spec, ok := domain.LookupActionName(name)
	if !ok {
		return Payload{}, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	p := Payload{Action: spec.Action}

	switch spec.Param {
	case domain.ParamNone:
		if param != "" {
			return Payload{}, fmt.Errorf("%w: %s takes no parameter", ErrInvalidPayload, spec.Name)
		}
	case domain.ParamBool:
		switch strings.ToLower(param) {
		case "true", "on", "1":
			p.Value = 1
		case "false", "off", "0":
			p.Value = 0
		default:
			return Payload{}, fmt.Errorf("%w: %s expects on or off, got %q", ErrInvalidPayload, spec.Name, param)
		}
	case domain.ParamInt:
		v, err := strconv.ParseInt(param, 10, 32)
		if err != nil {
			return Payload{}, fmt.Errorf("%w: %s expects an integer: %v", ErrInvalidPayload, spec.Name, err)
		}
		p.Value = int32(v)
	}

	if _, err := p.Spec(); err != nil {
		return Payload{}, err
	}
	return p, nil
}
