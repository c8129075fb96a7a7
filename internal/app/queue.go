package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bft-labs/keylink/internal/domain"
	"github.com/bft-labs/keylink/internal/ports"
	"github.com/bft-labs/keylink/internal/session"
)

// outbound is the part of the chunk transport the queue needs.
type outbound interface {
	Busy() bool
	Send(body []byte) ([]domain.TxUnit, error)
	Abort() int
}

type signalKind int

const (
	sigResponse signalKind = iota
	sigSessionFailed
	sigFault
	sigTransport
)

// signal is an event observed between ticks. It only applies if the head is
// still the same command in the same state when the queue ticks.
type signal struct {
	kind  signalKind
	cmdID string
	state domain.CommandState
	env   domain.Envelope
	err   error
}

// Queue is the FIFO command queue and its execution state machine. Only the
// head is processed, and each Tick applies at most one transition to it.
type Queue struct {
	ctx      context.Context
	timing   Timing
	sessions *session.Manager
	out      outbound
	messages ports.MessageCodec
	payloads ports.PayloadEncoder
	clock    ports.Clock
	logger   ports.Logger
	emitter  ports.EventEmitter
	ids      *idSource

	commands []*domain.Command
	signals  []signal
	vehicle  domain.VehicleStatus

	onAwake func()
}

func newQueue(timing Timing, sessions *session.Manager, out outbound, messages ports.MessageCodec,
	payloads ports.PayloadEncoder, clock ports.Clock, logger ports.Logger, emitter ports.EventEmitter, ids *idSource) *Queue {
	return &Queue{
		ctx:      context.Background(),
		timing:   timing,
		sessions: sessions,
		out:      out,
		messages: messages,
		payloads: payloads,
		clock:    clock,
		logger:   logger,
		emitter:  emitter,
		ids:      ids,
	}
}

// Enqueue appends a command and returns its ID.
func (q *Queue) Enqueue(d domain.Domain, payload domain.Payload, tag string, onDone domain.CompletionFunc) (string, error) {
	if !d.Valid() {
		return "", fmt.Errorf("%w: %d", domain.ErrUnknownDomain, int(d))
	}
	spec, err := payload.Spec()
	if err != nil {
		return "", err
	}
	if spec.Domain != d {
		return "", fmt.Errorf("%w: %s is a %s action, not %s", domain.ErrInvalidPayload, spec.Name, spec.Domain, d)
	}
	if len(q.commands) >= q.timing.MaxQueueSize {
		return "", fmt.Errorf("%w: %d commands", domain.ErrQueueFull, len(q.commands))
	}
	if tag == "" {
		tag = spec.Name
	}

	now := q.clock.Now()
	cmd := &domain.Command{
		ID:         q.ids.commandID(now),
		Domain:     d,
		Payload:    payload,
		Tag:        tag,
		State:      domain.StateIdle,
		EnqueuedAt: now,
		OnDone:     onDone,
	}
	q.commands = append(q.commands, cmd)
	q.emitter.OnQueueDepth(len(q.commands))
	q.logger.Debug("command queued",
		ports.String("id", cmd.ID),
		ports.String("tag", tag),
		ports.Stringer("domain", d),
		ports.Int("depth", len(q.commands)),
	)
	return cmd.ID, nil
}

// Len returns the number of queued commands, head included.
func (q *Queue) Len() int {
	return len(q.commands)
}

// Head returns a copy of the head command.
func (q *Queue) Head() (domain.Command, bool) {
	if len(q.commands) == 0 {
		return domain.Command{}, false
	}
	return *q.commands[0], true
}

// Vehicle returns the last observed vehicle status.
func (q *Queue) Vehicle() domain.VehicleStatus {
	return q.vehicle
}

// ObserveVehicle records a vehicle status report.
func (q *Queue) ObserveVehicle(status domain.VehicleStatus) {
	prev := q.vehicle.Sleep
	q.vehicle = status
	if status.Sleep == domain.SleepAwake && prev != domain.SleepAwake {
		q.logger.Info("vehicle awake")
		if q.onAwake != nil {
			q.onAwake()
		}
	}
}

// AcceptResponse records env as the answer to the head command if the head
// is waiting for it. It reports whether env was accepted.
func (q *Queue) AcceptResponse(env domain.Envelope) bool {
	head := q.head()
	if head == nil {
		return false
	}
	if len(env.RequestID) > 0 && !head.IssuedRequest(env.RequestID) {
		return false
	}
	switch head.State {
	case domain.StateWaitingForResponse:
		if head.Domain != env.From {
			return false
		}
		q.record(head, signal{kind: sigResponse, env: env})
		return true
	case domain.StateWaitingForWakeResponse:
		// The wake acknowledgment itself is not the answer; the awake report is.
		return env.From == domain.DomainVCSEC
	}
	return false
}

// SignalSessionFailure reports an invalid session response for d. It
// reports whether the head was waiting for that session.
func (q *Queue) SignalSessionFailure(d domain.Domain, err error) bool {
	head := q.head()
	if head == nil {
		return false
	}
	ad, ok := head.State.AuthDomain()
	if !ok || ad != d || !head.State.AwaitingReply() {
		return false
	}
	q.record(head, signal{kind: sigSessionFailed, err: err})
	return true
}

// SignalFault reports that the vehicle rejected a signed message for d.
func (q *Queue) SignalFault(d domain.Domain, err error) {
	head := q.head()
	if head == nil || !head.State.AwaitingReply() {
		return
	}
	if q.replyDomain(head) == d {
		q.record(head, signal{kind: sigFault, err: err})
	}
}

// SignalTransportFailure reports that the last transmission or reception
// failed at the transport level.
func (q *Queue) SignalTransportFailure(err error) {
	head := q.head()
	if head == nil || !head.State.AwaitingReply() {
		return
	}
	q.record(head, signal{kind: sigTransport, err: err})
}

// Progress restarts the exchange clock of a head that is waiting for a
// reply. The engine calls it on every tick the transport is still moving
// units for the exchange; stalled writes are bounded by the unit retries.
func (q *Queue) Progress(now time.Time) {
	head := q.head()
	if head == nil || !head.State.AwaitingReply() {
		return
	}
	if now.After(head.LastTxAt) {
		head.LastTxAt = now
	}
}

func (q *Queue) record(head *domain.Command, s signal) {
	s.cmdID = head.ID
	s.state = head.State
	q.signals = append(q.signals, s)
}

// replyDomain is the domain whose answer the head is waiting for.
func (q *Queue) replyDomain(head *domain.Command) domain.Domain {
	if d, ok := head.State.AuthDomain(); ok {
		return d
	}
	if head.State == domain.StateWaitingForWakeResponse {
		return domain.DomainVCSEC
	}
	return head.Domain
}

func (q *Queue) head() *domain.Command {
	if len(q.commands) == 0 {
		return nil
	}
	return q.commands[0]
}

// Tick advances the head command by at most one state transition.
func (q *Queue) Tick(now time.Time) domain.Outcome {
	signals := q.signals
	q.signals = nil

	head := q.head()
	if head == nil {
		return domain.OutcomeNone
	}
	if !head.Started() {
		head.StartedAt = now
	}
	if now.Sub(head.StartedAt) > q.timing.CommandTimeout {
		return q.fail(head, domain.ReasonCommandTimeout,
			fmt.Errorf("%w: %s in %s", domain.ErrCommandTimeout, now.Sub(head.StartedAt), head.State), now)
	}

	for _, s := range signals {
		if s.cmdID == head.ID && s.state == head.State {
			return q.apply(head, s, now)
		}
	}

	switch head.State {
	case domain.StateIdle:
		return q.resolve(head)

	case domain.StateWaitingForVCSECAuth, domain.StateWaitingForInfotainmentAuth:
		d, _ := head.State.AuthDomain()
		return q.sendHandshake(head, d, now)

	case domain.StateWaitingForVCSECAuthResponse, domain.StateWaitingForInfotainmentAuthResponse:
		d, _ := head.State.AuthDomain()
		if q.sessions.EnsureFresh(d) == domain.Fresh {
			return q.resolve(head)
		}
		return q.checkExchange(head, now)

	case domain.StateWaitingForWake:
		return q.sendWake(head, now)

	case domain.StateWaitingForWakeResponse:
		if q.vehicle.Sleep == domain.SleepAwake {
			return q.resolve(head)
		}
		return q.checkExchange(head, now)

	case domain.StateReady:
		return q.sendCommand(head, now)

	case domain.StateWaitingForResponse:
		return q.checkExchange(head, now)
	}
	return domain.OutcomeNone
}

// nextState decides what the command needs before it can be transmitted.
// Wake requests are VCSEC actions, so waking requires a VCSEC session first.
func (q *Queue) nextState(cmd *domain.Command) domain.CommandState {
	if cmd.Domain.RequiresAwake() && q.vehicle.Sleep == domain.SleepAsleep {
		if q.sessions.EnsureFresh(domain.DomainVCSEC) != domain.Fresh {
			return domain.AuthState(domain.DomainVCSEC)
		}
		return domain.StateWaitingForWake
	}
	if cmd.Domain.RequiresSession() && q.sessions.EnsureFresh(cmd.Domain) != domain.Fresh {
		return domain.AuthState(cmd.Domain)
	}
	return domain.StateReady
}

func (q *Queue) resolve(head *domain.Command) domain.Outcome {
	next := q.nextState(head)
	if next != head.State {
		q.logger.Debug("command state",
			ports.String("id", head.ID),
			ports.Stringer("from", head.State),
			ports.Stringer("to", next),
		)
		head.State = next
	}
	return domain.OutcomeNone
}

// backState is where a waiting state returns to when its exchange is retried.
func backState(s domain.CommandState) domain.CommandState {
	switch s {
	case domain.StateWaitingForVCSECAuthResponse:
		return domain.StateWaitingForVCSECAuth
	case domain.StateWaitingForInfotainmentAuthResponse:
		return domain.StateWaitingForInfotainmentAuth
	case domain.StateWaitingForWakeResponse:
		return domain.StateWaitingForWake
	default:
		return domain.StateReady
	}
}

func (q *Queue) checkExchange(head *domain.Command, now time.Time) domain.Outcome {
	if now.Sub(head.LastTxAt) <= q.timing.ExchangeTimeout {
		return domain.OutcomeNone
	}
	return q.retry(head, backState(head.State),
		fmt.Errorf("%w: no answer in %s", domain.ErrExchangeTimeout, head.State), now)
}

func (q *Queue) apply(head *domain.Command, s signal, now time.Time) domain.Outcome {
	switch s.kind {
	case sigResponse:
		return q.answer(head, s.env, now)
	case sigSessionFailed:
		if session.IsAuthRejection(s.err) {
			return q.fail(head, domain.ReasonAuthRejected, s.err, now)
		}
		return q.retry(head, backState(head.State), s.err, now)
	case sigFault:
		return q.retry(head, q.nextState(head), s.err, now)
	case sigTransport:
		return q.retry(head, backState(head.State), s.err, now)
	}
	return domain.OutcomeNone
}

func (q *Queue) answer(head *domain.Command, env domain.Envelope, now time.Time) domain.Outcome {
	switch {
	case env.Status == domain.OperationWait,
		env.Status == domain.OperationError && (env.Fault == domain.FaultBusy || env.Fault == domain.FaultTimeout):
		return q.retry(head, domain.StateReady,
			fmt.Errorf("%w: vehicle busy (%s)", domain.ErrExchangeTimeout, env.Fault), now)
	case env.Status == domain.OperationError:
		return q.fail(head, domain.ReasonVehicleError,
			fmt.Errorf("%w: %s", domain.ErrVehicleRejected, env.Fault), now)
	}
	return q.complete(head, env, now)
}

func (q *Queue) sendHandshake(head *domain.Command, d domain.Domain, now time.Time) domain.Outcome {
	if q.sessions.EnsureFresh(d) == domain.Fresh {
		return q.resolve(head)
	}
	if q.out.Busy() {
		return domain.OutcomeNone
	}
	pub, err := q.sessions.RequestHandshake(d)
	if err != nil {
		return q.fail(head, domain.ReasonEncode, fmt.Errorf("build session request: %w", err), now)
	}
	env := domain.Envelope{
		To:        d,
		Kind:      domain.EnvelopeSessionInfoRequest,
		PublicKey: pub,
	}
	next := domain.StateWaitingForInfotainmentAuthResponse
	if d == domain.DomainVCSEC {
		next = domain.StateWaitingForVCSECAuthResponse
	}
	return q.send(head, env, next, now)
}

func (q *Queue) sendWake(head *domain.Command, now time.Time) domain.Outcome {
	if next := q.nextState(head); next != domain.StateWaitingForWake {
		return q.resolve(head)
	}
	if q.out.Busy() {
		return domain.OutcomeNone
	}
	return q.transmit(head, domain.DomainVCSEC, domain.Payload{Action: domain.ActionWakeVehicle},
		domain.StateWaitingForWakeResponse, now)
}

func (q *Queue) sendCommand(head *domain.Command, now time.Time) domain.Outcome {
	if next := q.nextState(head); next != domain.StateReady {
		return q.resolve(head)
	}
	if q.out.Busy() {
		return domain.OutcomeNone
	}
	return q.transmit(head, head.Domain, head.Payload, domain.StateWaitingForResponse, now)
}

// transmit encodes and signs payload against the current session, so a retry
// always uses the latest counter.
func (q *Queue) transmit(head *domain.Command, d domain.Domain, payload domain.Payload, next domain.CommandState, now time.Time) domain.Outcome {
	body, err := q.payloads.EncodePayload(payload)
	if err != nil {
		return q.fail(head, domain.ReasonEncode, fmt.Errorf("encode %s: %w", payload.Action, err), now)
	}
	signed, err := q.sessions.Sign(d, body)
	if err != nil {
		if errors.Is(err, domain.ErrSessionStale) {
			return q.resolve(head)
		}
		return q.fail(head, domain.ReasonEncode, err, now)
	}
	env := domain.Envelope{
		To:            d,
		Kind:          domain.EnvelopePayload,
		Body:          signed.Body,
		SignatureData: signed.SignatureData,
	}
	return q.send(head, env, next, now)
}

func (q *Queue) send(head *domain.Command, env domain.Envelope, next domain.CommandState, now time.Time) domain.Outcome {
	env.RequestID = q.ids.requestID()
	raw, err := q.messages.Encode(env)
	if err != nil {
		return q.fail(head, domain.ReasonEncode, fmt.Errorf("encode message: %w", err), now)
	}
	units, err := q.out.Send(raw)
	if err != nil {
		return q.fail(head, domain.ReasonEncode, err, now)
	}
	head.RequestIDs = append(head.RequestIDs, env.RequestID)
	head.State = next
	head.LastTxAt = now
	q.logger.Debug("command transmitted",
		ports.String("id", head.ID),
		ports.Stringer("state", next),
		ports.Stringer("kind", env.Kind),
		ports.Int("units", len(units)),
		ports.Int("retry", head.RetryCount),
	)
	return domain.OutcomeTransmitted
}

// retry moves the head back to state and consumes one retry, or fails it
// when the bound is already reached.
func (q *Queue) retry(head *domain.Command, state domain.CommandState, cause error, now time.Time) domain.Outcome {
	if head.RetryCount >= q.timing.MaxRetries {
		return q.fail(head, domain.ReasonRetryExhausted, cause, now)
	}
	head.RetryCount++
	if q.out.Busy() {
		n := q.out.Abort()
		q.logger.Debug("dropped stale transmission", ports.String("id", head.ID), ports.Int("messages", n))
	}
	q.emitter.OnCommandRetry(head.Domain, head.State)
	q.logger.Warn("retrying command",
		ports.String("id", head.ID),
		ports.String("tag", head.Tag),
		ports.Stringer("from", head.State),
		ports.Stringer("to", state),
		ports.Int("retry", head.RetryCount),
		ports.Err(cause),
	)
	head.State = state
	return domain.OutcomeNone
}

func (q *Queue) pop() {
	q.commands[0] = nil
	q.commands = q.commands[1:]
	q.emitter.OnQueueDepth(len(q.commands))
}

func (q *Queue) complete(head *domain.Command, env domain.Envelope, now time.Time) domain.Outcome {
	q.pop()
	elapsed := now.Sub(head.StartedAt)
	q.emitter.OnCommandCompleted(head.Domain, head.Payload.Action, head.RetryCount+1, elapsed)
	q.logger.Info("command completed",
		ports.String("id", head.ID),
		ports.String("tag", head.Tag),
		ports.Int("retries", head.RetryCount),
		ports.Duration("elapsed", elapsed),
	)
	if head.OnDone != nil {
		head.OnDone(domain.Result{
			ID:       head.ID,
			Tag:      head.Tag,
			Response: env,
			Attempts: head.RetryCount + 1,
			Elapsed:  elapsed,
		})
	}
	return domain.OutcomeCompleted
}

func (q *Queue) fail(head *domain.Command, reason domain.FailureReason, cause error, now time.Time) domain.Outcome {
	q.pop()
	var elapsed time.Duration
	if head.Started() {
		elapsed = now.Sub(head.StartedAt)
	}
	err := &domain.CommandError{Reason: reason, Attempts: head.RetryCount + 1, Err: cause}
	q.emitter.OnCommandFailed(head.Domain, head.Payload.Action, reason)
	q.logger.Error("command failed",
		ports.String("id", head.ID),
		ports.String("tag", head.Tag),
		ports.Stringer("state", head.State),
		ports.Stringer("reason", reason),
		ports.Int("retries", head.RetryCount),
		ports.Err(cause),
	)
	if head.OnDone != nil {
		head.OnDone(domain.Result{
			ID:       head.ID,
			Tag:      head.Tag,
			Err:      err,
			Attempts: head.RetryCount + 1,
			Elapsed:  elapsed,
		})
	}
	return domain.OutcomeFailed
}

// Clear fails every queued command with ReasonCanceled.
func (q *Queue) Clear(now time.Time) int {
	n := len(q.commands)
	for len(q.commands) > 0 {
		q.fail(q.commands[0], domain.ReasonCanceled, domain.ErrCanceled, now)
	}
	q.signals = nil
	return n
}
