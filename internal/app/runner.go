package app

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/keylink/internal/chunk"
	"github.com/bft-labs/keylink/internal/domain"
	"github.com/bft-labs/keylink/internal/ports"
)

// DefaultTickInterval is how often the runner ticks the engine when no link
// event arrives.
const DefaultTickInterval = 10 * time.Millisecond

// Runner is the only goroutine that touches an Engine. Link events and calls
// from other goroutines are funnelled to it.
type Runner struct {
	engine   *Engine
	poller   *Poller
	clock    ports.Clock
	interval time.Duration
	logger   ports.Logger

	mu    sync.Mutex
	inbox []domain.LinkEvent

	wake  chan struct{}
	calls chan func(*Engine)
}

// NewRunner creates a runner for engine. poller may be nil.
func NewRunner(engine *Engine, poller *Poller, clock ports.Clock, interval time.Duration, logger ports.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	r := &Runner{
		engine:   engine,
		poller:   poller,
		clock:    clock,
		interval: interval,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		calls:    make(chan func(*Engine)),
	}
	if poller != nil {
		engine.OnVehicleAwake(poller.TriggerInfotainment)
	}
	return r
}

// Deliver queues a link event. It is safe to call from any goroutine,
// including from inside Link.WriteUnit on the runner goroutine.
func (r *Runner) Deliver(ev domain.LinkEvent) {
	r.mu.Lock()
	r.inbox = append(r.inbox, ev)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the runner goroutine and waits for it to return.
func (r *Runner) Do(ctx context.Context, fn func(*Engine)) error {
	done := make(chan struct{})
	call := func(e *Engine) {
		defer close(done)
		fn(e)
	}
	select {
	case r.calls <- call:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Enqueue adds a command through the runner goroutine.
func (r *Runner) Enqueue(ctx context.Context, d domain.Domain, payload domain.Payload, tag string, onDone domain.CompletionFunc) (string, error) {
	var (
		id  string
		err error
	)
	if doErr := r.Do(ctx, func(e *Engine) {
		id, err = e.Enqueue(d, payload, tag, onDone)
	}); doErr != nil {
		return "", doErr
	}
	if err == nil {
		r.kick()
	}
	return id, err
}

// UpdateTiming replaces the engine timing through the runner goroutine.
func (r *Runner) UpdateTiming(ctx context.Context, t Timing, tc chunk.Config) error {
	var err error
	if doErr := r.Do(ctx, func(e *Engine) {
		err = e.SetTiming(t, tc)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Snapshot returns the engine state, read on the runner goroutine.
func (r *Runner) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := r.Do(ctx, func(e *Engine) {
		s = e.Snapshot()
	})
	return s, err
}

// Clear cancels every queued command.
func (r *Runner) Clear(ctx context.Context) (int, error) {
	var n int
	err := r.Do(ctx, func(e *Engine) {
		n = e.Clear()
	})
	return n, err
}

func (r *Runner) kick() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run starts the engine and ticks it until ctx is canceled. Queued commands
// are failed with ReasonCanceled on exit.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.engine.Start(ctx); err != nil {
		return err
	}
	defer r.engine.Close()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case call := <-r.calls:
			call(r.engine)
		case <-r.wake:
			r.tick()
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Runner) tick() {
	r.mu.Lock()
	events := r.inbox
	r.inbox = nil
	r.mu.Unlock()

	for _, ev := range events {
		r.engine.Deliver(ev)
	}

	now := r.clock.Now()
	if r.poller != nil {
		r.poller.Step(now, r.engine)
	}
	if outcome := r.engine.Tick(now); outcome != domain.OutcomeNone {
		// Keep going while the head makes progress.
		r.kick()
	} else if !r.engine.Idle() && len(events) > 0 {
		r.kick()
	}
}
