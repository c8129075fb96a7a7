package keylink

import "github.com/bft-labs/keylink/internal/app"

// State is the lifecycle state of a Client.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	return app.State(s).String()
}

// StateChangeEvent is emitted on every lifecycle transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// EventHandler receives client events. Calls are made synchronously from
// the engine goroutine and must return quickly.
type EventHandler interface {
	OnStateChange(event StateChangeEvent)

	// OnCommandResult is called for every finished command, polls
	// included, after its own completion callback.
	OnCommandResult(result Result)
}

// BaseEventHandler implements EventHandler with no-ops. Embed it to
// override only the events you need.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent) {}
func (BaseEventHandler) OnCommandResult(Result)         {}

// eventEmitterWrapper adapts EventHandler to the lifecycle emitter.
type eventEmitterWrapper struct {
	handler EventHandler
}

func (e *eventEmitterWrapper) OnStateChange(previous, current app.State, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{
		Previous: State(previous),
		Current:  State(current),
		Reason:   reason,
	})
}

func (e *eventEmitterWrapper) wrap(fn CompletionFunc) CompletionFunc {
	if e.handler == nil {
		return fn
	}
	return func(r Result) {
		if fn != nil {
			fn(r)
		}
		e.handler.OnCommandResult(r)
	}
}
