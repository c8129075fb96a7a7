package app

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/bft-labs/keylink/internal/domain"
	"github.com/bft-labs/keylink/internal/ports"
)

// ShutdownTimeout bounds Stop when no timeout is configured.
const ShutdownTimeout = 30 * time.Second

// State is the lifecycle state of a client run.
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
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// transitions lists the states reachable from each state. Stop may arrive
// before the engine goroutine has reported Running.
var transitions = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateStopping, StateCrashed},
	StateRunning:  {StateStopping, StateCrashed},
	StateStopping: {StateStopped, StateCrashed},
	StateCrashed:  {StateStarting},
}

// EventEmitter is called when lifecycle state changes.
type EventEmitter interface {
	OnStateChange(previous, current State, reason string)
}

// Lifecycle tracks the state of a client and the goroutines of its current
// run: the engine runner and the link reader.
type Lifecycle struct {
	logger  ports.Logger
	emitter EventEmitter

	mu      sync.RWMutex
	state   State
	err     error
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// NewLifecycle creates a lifecycle in StateStopped.
func NewLifecycle(logger ports.Logger, emitter EventEmitter) *Lifecycle {
	return &Lifecycle{
		logger:  logger,
		emitter: emitter,
		state:   StateStopped,
	}
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Err returns the error that crashed the last run, if any. It is cleared
// on the next Start.
func (l *Lifecycle) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// TransitionTo moves to next, or returns ErrNotRunning / ErrAlreadyRunning
// if next is not reachable from the current state.
func (l *Lifecycle) TransitionTo(next State, reason string) error {
	l.mu.Lock()
	prev := l.state
	if !slices.Contains(transitions[prev], next) {
		l.mu.Unlock()
		if prev == StateStopped || prev == StateCrashed {
			return domain.ErrNotRunning
		}
		return domain.ErrAlreadyRunning
	}
	l.state = next
	if next == StateStarting {
		l.err = nil
	}
	l.mu.Unlock()

	if l.emitter != nil {
		l.emitter.OnStateChange(prev, next, reason)
	}
	l.logger.Info("state transition",
		ports.String("from", prev.String()),
		ports.String("to", next.String()),
		ports.String("reason", reason),
	)
	return nil
}

// CanStart reports whether a new run may begin.
func (l *Lifecycle) CanStart() bool {
	s := l.State()
	return s == StateStopped || s == StateCrashed
}

// CanStop reports whether there is a run to stop.
func (l *Lifecycle) CanStop() bool {
	s := l.State()
	return s == StateRunning || s == StateStarting
}

// Begin returns the context of a new run. Cancel ends it.
func (l *Lifecycle) Begin(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	return ctx
}

// Cancel ends the current run.
func (l *Lifecycle) Cancel() {
	l.mu.RLock()
	cancel := l.cancel
	l.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Go runs fn as a worker of the current run. An error other than
// cancellation crashes the run and cancels the other workers.
func (l *Lifecycle) Go(name string, fn func() error) {
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		err := fn()
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		l.logger.Error("worker failed", ports.String("worker", name), ports.Err(err))
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		_ = l.TransitionTo(StateCrashed, name+": "+err.Error())
		l.Cancel()
	}()
}

// WaitWithTimeout waits for every worker to return.
// Returns ErrShutdownTimeout if the timeout expires first.
func (l *Lifecycle) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.workers.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		l.logger.Warn("shutdown timeout, forcing exit", ports.Duration("timeout", timeout))
		return domain.ErrShutdownTimeout
	}
}
