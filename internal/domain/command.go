package domain

import (
	"bytes"
	"time"
)

// CommandState is the position of a command in the execution state machine.
type CommandState int

const (
	StateIdle CommandState = iota
	StateWaitingForVCSECAuth
	StateWaitingForVCSECAuthResponse
	StateWaitingForInfotainmentAuth
	StateWaitingForInfotainmentAuthResponse
	StateWaitingForWake
	StateWaitingForWakeResponse
	StateReady
	StateWaitingForResponse
)

func (s CommandState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateWaitingForVCSECAuth:
		return "WaitingForVCSECAuth"
	case StateWaitingForVCSECAuthResponse:
		return "WaitingForVCSECAuthResponse"
	case StateWaitingForInfotainmentAuth:
		return "WaitingForInfotainmentAuth"
	case StateWaitingForInfotainmentAuthResponse:
		return "WaitingForInfotainmentAuthResponse"
	case StateWaitingForWake:
		return "WaitingForWake"
	case StateWaitingForWakeResponse:
		return "WaitingForWakeResponse"
	case StateReady:
		return "Ready"
	case StateWaitingForResponse:
		return "WaitingForResponse"
	default:
		return "Unknown"
	}
}

// AuthState returns the auth-waiting state for d.
func AuthState(d Domain) CommandState {
	if d == DomainVCSEC {
		return StateWaitingForVCSECAuth
	}
	return StateWaitingForInfotainmentAuth
}

// AuthDomain returns the domain an auth state refers to.
func (s CommandState) AuthDomain() (Domain, bool) {
	switch s {
	case StateWaitingForVCSECAuth, StateWaitingForVCSECAuthResponse:
		return DomainVCSEC, true
	case StateWaitingForInfotainmentAuth, StateWaitingForInfotainmentAuthResponse:
		return DomainInfotainment, true
	}
	return 0, false
}

// AwaitingReply reports whether a transmission has been made and the command
// is waiting for the vehicle to answer it.
func (s CommandState) AwaitingReply() bool {
	switch s {
	case StateWaitingForVCSECAuthResponse,
		StateWaitingForInfotainmentAuthResponse,
		StateWaitingForWakeResponse,
		StateWaitingForResponse:
		return true
	}
	return false
}

// Outcome is what a single queue tick produced.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeTransmitted
	OutcomeCompleted
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeTransmitted:
		return "transmitted"
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is delivered exactly once to a command's completion callback.
// Err is nil on success, otherwise a *CommandError.
type Result struct {
	ID       string
	Tag      string
	Response Envelope
	Err      error
	Attempts int
	Elapsed  time.Duration
}

// CompletionFunc receives the terminal result of a command.
type CompletionFunc func(Result)

// Command is a queued vehicle command. It is mutated only by the command queue.
type Command struct {
	ID         string
	Domain     Domain
	Payload    Payload
	Tag        string
	State      CommandState
	EnqueuedAt time.Time
	StartedAt  time.Time
	LastTxAt   time.Time
	RetryCount int
	RequestIDs [][]byte
	OnDone     CompletionFunc
}

// Started reports whether the command has become head of the queue.
func (c *Command) Started() bool {
	return !c.StartedAt.IsZero()
}

// IssuedRequest reports whether id was sent on behalf of this command.
func (c *Command) IssuedRequest(id []byte) bool {
	for _, issued := range c.RequestIDs {
		if bytes.Equal(issued, id) {
			return true
		}
	}
	return false
}
