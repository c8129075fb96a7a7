package app

import (
	"context"
	"fmt"
	"time"

	"github.com/bft-labs/keylink/internal/chunk"
	"github.com/bft-labs/keylink/internal/domain"
	"github.com/bft-labs/keylink/internal/ports"
	"github.com/bft-labs/keylink/internal/session"
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	Timing    Timing
	Transport chunk.Config
}

// DefaultEngineConfig returns an EngineConfig with sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Timing:    DefaultTiming(),
		Transport: chunk.DefaultConfig(),
	}
}

// Validate checks the configuration for errors.
func (c EngineConfig) Validate() error {
	if err := c.Timing.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return nil
}

// Dependencies are the collaborators an Engine drives. Status and Emitter
// may be nil.
type Dependencies struct {
	Link     ports.Link
	Messages ports.MessageCodec
	Payloads ports.PayloadEncoder
	Sessions *session.Manager
	Clock    ports.Clock
	Status   ports.StatusSink
	Logger   ports.Logger
	Emitter  ports.EventEmitter
}

// Engine owns the four work queues (read, response, write, command) and the
// session table. It is single-threaded: every method must be called from
// the same goroutine, and none of them blocks on the link.
type Engine struct {
	ctx       context.Context
	clock     ports.Clock
	messages  ports.MessageCodec
	logger    ports.Logger
	transport *chunk.Transport
	sessions  *session.Manager
	queue     *Queue
	router    *Router

	readQueue     []domain.RxUnit
	responseQueue []domain.Envelope
}

// NewEngine wires an engine from its configuration and collaborators.
func NewEngine(cfg EngineConfig, deps Dependencies) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Link == nil || deps.Messages == nil || deps.Payloads == nil || deps.Sessions == nil {
		return nil, fmt.Errorf("%w: link, codecs and session manager are required", domain.ErrInvalidConfig)
	}
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	if deps.Emitter == nil {
		deps.Emitter = ports.NoopEmitter{}
	}
	if deps.Logger == nil {
		deps.Logger = nopLogger{}
	}

	transport := chunk.New(cfg.Transport, deps.Link, deps.Logger)
	transport.OnUnitRetry = deps.Emitter.OnUnitRetry

	queue := newQueue(cfg.Timing, deps.Sessions, transport, deps.Messages, deps.Payloads,
		deps.Clock, deps.Logger, deps.Emitter, newIDSource())

	return &Engine{
		ctx:       context.Background(),
		clock:     deps.Clock,
		messages:  deps.Messages,
		logger:    deps.Logger,
		transport: transport,
		sessions:  deps.Sessions,
		queue:     queue,
		router:    NewRouter(deps.Sessions, queue, deps.Status, deps.Logger),
	}, nil
}

// Start restores persisted sessions. ctx is also used for session store
// writes made while ticking.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx = ctx
	e.queue.ctx = ctx
	return e.sessions.Load(ctx)
}

// Enqueue adds a command. onDone is called exactly once, from Tick or Close.
func (e *Engine) Enqueue(d domain.Domain, payload domain.Payload, tag string, onDone domain.CompletionFunc) (string, error) {
	return e.queue.Enqueue(d, payload, tag, onDone)
}

// Deliver records a link event for processing. Write outcomes update the
// transport immediately; received units wait for the read step.
func (e *Engine) Deliver(ev domain.LinkEvent) {
	switch ev.Kind {
	case domain.LinkWriteConfirmed:
		e.transport.OnWriteConfirmed()
	case domain.LinkWriteFailed:
		e.transport.OnWriteFailed(ev.Err)
	case domain.LinkUnitReceived:
		data := append([]byte(nil), ev.Data...)
		e.readQueue = append(e.readQueue, domain.RxUnit{Data: data, ReceivedAt: e.clock.Now()})
	}
}

// OnVehicleAwake registers fn to run when the vehicle reports awake after
// having been asleep or unknown.
func (e *Engine) OnVehicleAwake(fn func()) {
	e.queue.onAwake = fn
}

// Tick performs one unit of work on each queue, in order: read, response,
// write, command. It returns what happened to the head command.
func (e *Engine) Tick(now time.Time) domain.Outcome {
	e.stepRead(now)
	e.stepResponse()
	e.stepWrite(now)
	if e.exchanging() {
		e.queue.Progress(now)
	}
	return e.queue.Tick(now)
}

// exchanging reports whether units are still moving in either direction.
func (e *Engine) exchanging() bool {
	return e.transport.Busy() || e.transport.Receiving() ||
		len(e.readQueue) > 0 || len(e.responseQueue) > 0
}

func (e *Engine) stepRead(now time.Time) {
	if len(e.readQueue) == 0 {
		if err := e.transport.CheckInbound(now); err != nil {
			e.logger.Warn("inbound message timed out", ports.Err(err))
			e.queue.SignalTransportFailure(err)
		}
		return
	}

	unit := e.readQueue[0]
	e.readQueue = e.readQueue[1:]

	msg, ok, err := e.transport.Receive(unit)
	if err != nil {
		e.logger.Warn("inbound framing error, buffer discarded", ports.Err(err))
		return
	}
	if !ok {
		return
	}
	env, err := e.messages.Decode(msg.Bytes)
	if err != nil {
		e.logger.Warn("dropping undecodable message", ports.Err(err), ports.Hex("body", msg.Bytes))
		return
	}
	e.responseQueue = append(e.responseQueue, env)
}

func (e *Engine) stepResponse() {
	if len(e.responseQueue) == 0 {
		return
	}
	env := e.responseQueue[0]
	e.responseQueue = e.responseQueue[1:]
	e.router.Route(e.ctx, env)
}

func (e *Engine) stepWrite(now time.Time) {
	if err := e.transport.StepWrite(now); err != nil {
		e.logger.Warn("transport aborted message", ports.Err(err))
		e.queue.SignalTransportFailure(err)
	}
}

// SetTiming replaces the command timing and transport timers.
func (e *Engine) SetTiming(t Timing, tc chunk.Config) error {
	if err := (EngineConfig{Timing: t, Transport: tc}).Validate(); err != nil {
		return err
	}
	e.queue.timing = t
	e.transport.SetConfig(tc)
	e.logger.Info("timing updated",
		ports.Duration("exchange_timeout", t.ExchangeTimeout),
		ports.Duration("command_timeout", t.CommandTimeout),
		ports.Int("max_retries", t.MaxRetries),
	)
	return nil
}

// Clear fails every queued command with ReasonCanceled.
func (e *Engine) Clear() int {
	return e.queue.Clear(e.clock.Now())
}

// Close fails every queued command and drops transport state. The engine
// can be started again afterwards.
func (e *Engine) Close() {
	if n := e.Clear(); n > 0 {
		e.logger.Info("engine closed with queued commands", ports.Int("canceled", n))
	}
	e.transport.Reset()
	e.readQueue = nil
	e.responseQueue = nil
}

// Snapshot describes the engine for status reporting.
type Snapshot struct {
	QueueDepth    int
	Head          *domain.Command
	Sessions      []domain.Session
	Vehicle       domain.VehicleStatus
	TransportBusy bool
	Timing        Timing
	Transport     chunk.Config
}

// Snapshot returns the current engine state.
func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{
		QueueDepth:    e.queue.Len(),
		Sessions:      e.sessions.Sessions(),
		Vehicle:       e.queue.Vehicle(),
		TransportBusy: e.transport.Busy(),
		Timing:        e.queue.timing,
		Transport:     e.transport.Config(),
	}
	if head, ok := e.queue.Head(); ok {
		head.OnDone = nil
		s.Head = &head
	}
	return s
}

// Idle reports whether there is no queued command, no pending transport
// work, and nothing waiting to be read or routed.
func (e *Engine) Idle() bool {
	return e.queue.Len() == 0 && !e.transport.Busy() && len(e.readQueue) == 0 && len(e.responseQueue) == 0
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...ports.Field) {}
func (nopLogger) Info(string, ...ports.Field)  {}
func (nopLogger) Warn(string, ...ports.Field)  {}
func (nopLogger) Error(string, ...ports.Field) {}
