// Package sim is an in-process vehicle. It speaks the same framing, message
// and session formats as a real vehicle and implements ports.Link, so the
// engine can be exercised end to end without hardware.
package sim

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bft-labs/keylink/internal/adapters/crypto"
	"github.com/bft-labs/keylink/internal/adapters/log"
	"github.com/bft-labs/keylink/internal/adapters/protocol"
	"github.com/bft-labs/keylink/internal/chunk"
	"github.com/bft-labs/keylink/internal/domain"
	"github.com/bft-labs/keylink/internal/ports"
)

// ErrLinkDown is reported for writes the vehicle was told to fail.
var ErrLinkDown = errors.New("sim: link down")

// Config describes the simulated vehicle.
type Config struct {
	// Transport sets the unit size used for replies.
	Transport chunk.Config

	// PrivateKey is the vehicle key. A random key is generated when nil.
	PrivateKey []byte

	// Asleep starts the vehicle asleep.
	Asleep bool

	// Unpaired makes the vehicle refuse every controller key.
	Unpaired bool

	// Logger is optional.
	Logger ports.Logger
}

// Faults are one-shot misbehaviours. Each counter is consumed by the next
// matching event.
type Faults struct {
	// DropWrites writes are neither confirmed nor processed.
	DropWrites int
	// FailWrites writes are reported as failed.
	FailWrites int
	// Silent complete messages get no reply.
	Silent int
	// Garbage replies are replaced by undecodable bytes.
	Garbage int
	// Busy signed commands are answered with a busy fault.
	Busy int
	// StaleCounter signed commands are rejected as replays, with fresh
	// session info attached.
	StaleCounter int
}

// State is the simulated vehicle state.
type State struct {
	Status domain.VehicleStatus
	Charge protocol.ChargeState
	Sentry bool
	HVAC   bool
}

type vehicleSession struct {
	epoch   []byte
	counter uint32
	signer  []byte
	key     []byte
}

// Vehicle is the simulated vehicle.
type Vehicle struct {
	mu      sync.Mutex
	cfg     Config
	codec   *protocol.Codec
	private []byte
	public  []byte
	started time.Time
	logger  ports.Logger

	rx       *chunk.Reassembler
	outbox   []domain.LinkEvent
	notify   chan struct{}
	faults   Faults
	sessions map[domain.Domain]*vehicleSession
	state    State
	executed []domain.Payload
	peer     []byte
}

// New creates a vehicle.
func New(cfg Config) (*Vehicle, error) {
	if cfg.Transport.UnitSize == 0 {
		cfg.Transport = chunk.DefaultConfig()
	}
	if err := cfg.Transport.Validate(); err != nil {
		return nil, err
	}
	priv := cfg.PrivateKey
	if priv == nil {
		var err error
		if priv, err = crypto.GenerateKey(); err != nil {
			return nil, err
		}
	}
	pub, err := crypto.PublicKey(priv)
	if err != nil {
		return nil, err
	}
	codec, err := protocol.NewCodec(nil)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	sleep := domain.SleepAwake
	if cfg.Asleep {
		sleep = domain.SleepAsleep
	}
	return &Vehicle{
		cfg:      cfg,
		codec:    codec,
		private:  priv,
		public:   pub,
		started:  time.Now(),
		logger:   logger,
		rx:       chunk.NewReassembler(cfg.Transport.MaxMessageSize),
		notify:   make(chan struct{}, 1),
		sessions: make(map[domain.Domain]*vehicleSession),
		state: State{
			Status: domain.VehicleStatus{Sleep: sleep, Locked: true},
			Charge: protocol.ChargeState{BatteryLevel: 64, ChargeLimit: 80, ChargingAmps: 16},
		},
	}, nil
}

// PublicKey returns the vehicle public key.
func (v *Vehicle) PublicKey() []byte {
	return append([]byte(nil), v.public...)
}

// Inject adds f to the pending faults.
func (v *Vehicle) Inject(f Faults) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.faults.DropWrites += f.DropWrites
	v.faults.FailWrites += f.FailWrites
	v.faults.Silent += f.Silent
	v.faults.Garbage += f.Garbage
	v.faults.Busy += f.Busy
	v.faults.StaleCounter += f.StaleCounter
}

// Sleep puts the vehicle to sleep and reports it.
func (v *Vehicle) Sleep() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Status.Sleep = domain.SleepAsleep
	v.pushStatus()
}

// ForgetSessions drops every session, as a vehicle reboot would.
func (v *Vehicle) ForgetSessions() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sessions = make(map[domain.Domain]*vehicleSession)
}

// State returns a copy of the vehicle state.
func (v *Vehicle) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Executed returns the payloads the vehicle accepted, in order.
func (v *Vehicle) Executed() []domain.Payload {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.Payload(nil), v.executed...)
}

// Counter returns the last accepted counter for d.
func (v *Vehicle) Counter(d domain.Domain) uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.sessions[d]; ok {
		return s.counter
	}
	return 0
}

// WriteUnit accepts one unit from the controller. Its confirmation and any
// reply are queued and handed out by Drain or Run, never synchronously.
func (v *Vehicle) WriteUnit(data []byte, ackRequired bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.faults.DropWrites > 0 {
		v.faults.DropWrites--
		v.logger.Debug("sim: dropping write", ports.Hex("unit", data))
		return nil
	}
	if v.faults.FailWrites > 0 {
		v.faults.FailWrites--
		v.emit(domain.LinkEvent{Kind: domain.LinkWriteFailed, Err: ErrLinkDown})
		return nil
	}
	if ackRequired {
		v.emit(domain.LinkEvent{Kind: domain.LinkWriteConfirmed})
	}

	msg, ok, err := v.rx.Push(domain.RxUnit{Data: append([]byte(nil), data...), ReceivedAt: time.Now()})
	if err != nil {
		v.logger.Debug("sim: framing error", ports.Err(err))
		return nil
	}
	if ok {
		v.handle(msg.Bytes)
	}
	return nil
}

// Drain returns and clears the queued link events.
func (v *Vehicle) Drain() []domain.LinkEvent {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := v.outbox
	v.outbox = nil
	return out
}

// Run delivers queued link events to sink until ctx is canceled.
func (v *Vehicle) Run(ctx context.Context, sink ports.LinkEventSink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-v.notify:
			for _, ev := range v.Drain() {
				sink.Deliver(ev)
			}
		}
	}
}

func (v *Vehicle) emit(ev domain.LinkEvent) {
	v.outbox = append(v.outbox, ev)
	select {
	case v.notify <- struct{}{}:
	default:
	}
}

func (v *Vehicle) handle(raw []byte) {
	env, err := v.codec.Decode(raw)
	if err != nil {
		v.logger.Debug("sim: undecodable message", ports.Err(err))
		return
	}
	if v.faults.Silent > 0 {
		v.faults.Silent--
		return
	}
	if v.peer == nil {
		v.peer = env.FromAddress
	}
	if env.To == domain.DomainInfotainment && v.state.Status.Sleep == domain.SleepAsleep {
		v.logger.Debug("sim: infotainment asleep, no reply")
		return
	}

	switch env.Kind {
	case domain.EnvelopeSessionInfoRequest:
		v.handleSessionRequest(env)
	case domain.EnvelopePayload:
		v.handleCommand(env)
	}
}

func (v *Vehicle) handleSessionRequest(req domain.Envelope) {
	if v.cfg.Unpaired {
		v.reply(domain.Envelope{
			From:        req.To,
			ToAddress:   req.FromAddress,
			Kind:        domain.EnvelopeSessionInfo,
			RequestID:   req.RequestID,
			SessionInfo: crypto.EncodeSessionInfo(crypto.SessionInfo{Status: crypto.SessionInfoKeyNotOnWhitelist}),
		})
		return
	}
	s, err := v.session(req.To, req.PublicKey)
	if err != nil {
		v.logger.Debug("sim: session setup failed", ports.Err(err))
		return
	}
	v.reply(domain.Envelope{
		From:        req.To,
		ToAddress:   req.FromAddress,
		Kind:        domain.EnvelopeSessionInfo,
		RequestID:   req.RequestID,
		SessionInfo: v.sessionInfo(s),
	})
}

func (v *Vehicle) session(d domain.Domain, signer []byte) (*vehicleSession, error) {
	if s, ok := v.sessions[d]; ok && bytes.Equal(s.signer, signer) {
		return s, nil
	}
	key, err := crypto.DeriveKey(v.private, signer)
	if err != nil {
		return nil, err
	}
	epoch := make([]byte, crypto.EpochSize)
	if _, err := io.ReadFull(rand.Reader, epoch); err != nil {
		return nil, err
	}
	s := &vehicleSession{epoch: epoch, signer: append([]byte(nil), signer...), key: key}
	v.sessions[d] = s
	return s, nil
}

func (v *Vehicle) sessionInfo(s *vehicleSession) []byte {
	return crypto.EncodeSessionInfo(crypto.SessionInfo{
		Counter:   s.counter,
		PublicKey: v.public,
		Epoch:     s.epoch,
		ClockTime: uint32(time.Since(v.started) / time.Second),
	})
}

func (v *Vehicle) handleCommand(req domain.Envelope) {
	d := req.To
	resp := domain.Envelope{
		From:      d,
		ToAddress: req.FromAddress,
		Kind:      domain.EnvelopePayload,
		RequestID: req.RequestID,
	}
	reject := func(fault domain.MessageFault, s *vehicleSession) {
		resp.Status = domain.OperationError
		resp.Fault = fault
		if s != nil {
			resp.Kind = domain.EnvelopeSessionInfo
			resp.SessionInfo = v.sessionInfo(s)
		}
		v.reply(resp)
	}

	if v.faults.Busy > 0 {
		v.faults.Busy--
		reject(domain.FaultBusy, nil)
		return
	}

	sig, err := crypto.DecodeSignature(req.SignatureData)
	if err != nil {
		reject(domain.FaultDecoding, nil)
		return
	}
	s, ok := v.sessions[d]
	if !ok || !bytes.Equal(s.signer, sig.Signer) {
		reject(domain.FaultUnknownKeyID, nil)
		return
	}
	if !bytes.Equal(s.epoch, sig.Epoch) {
		reject(domain.FaultIncorrectEpoch, s)
		return
	}
	if v.faults.StaleCounter > 0 {
		v.faults.StaleCounter--
		s.counter = sig.Counter
		reject(domain.FaultInvalidTokenOrCounter, s)
		return
	}
	if sig.Counter <= s.counter {
		reject(domain.FaultInvalidTokenOrCounter, s)
		return
	}
	plain, err := crypto.Open(s.key, d, req.Body, sig)
	if err != nil {
		reject(domain.FaultInvalidSignature, nil)
		return
	}
	s.counter = sig.Counter

	payload, err := protocol.DecodePayload(d, plain)
	if err != nil {
		reject(domain.FaultDecoding, nil)
		return
	}
	v.executed = append(v.executed, payload)
	resp.Body = v.execute(payload)
	v.reply(resp)

	if payload.Action == domain.ActionWakeVehicle {
		v.pushStatus()
	}
}

// execute applies payload and returns the reply body.
func (v *Vehicle) execute(p domain.Payload) []byte {
	switch p.Action {
	case domain.ActionVehicleStatus:
		return protocol.EncodeVehicleStatus(v.state.Status)
	case domain.ActionWakeVehicle:
		v.state.Status.Sleep = domain.SleepAwake
		return protocol.EncodeCommandAck()
	case domain.ActionLock:
		v.state.Status.Locked = true
		return protocol.EncodeCommandAck()
	case domain.ActionUnlock:
		v.state.Status.Locked = false
		return protocol.EncodeCommandAck()
	case domain.ActionGetChargeState:
		return protocol.EncodeChargeState(v.state.Charge)
	case domain.ActionSetChargingLimit:
		v.state.Charge.ChargeLimit = p.Value
	case domain.ActionSetChargingAmps:
		v.state.Charge.ChargingAmps = p.Value
	case domain.ActionSetChargingSwitch:
		v.state.Charge.Charging = p.Value != 0
	case domain.ActionSetSentrySwitch:
		v.state.Sentry = p.Value != 0
	case domain.ActionSetHVACSwitch:
		v.state.HVAC = p.Value != 0
	}
	return nil
}

func (v *Vehicle) pushStatus() {
	if v.peer == nil {
		return
	}
	v.reply(domain.Envelope{
		From:      domain.DomainVCSEC,
		ToAddress: v.peer,
		Kind:      domain.EnvelopePayload,
		Body:      protocol.EncodeVehicleStatus(v.state.Status),
	})
}

func (v *Vehicle) reply(env domain.Envelope) {
	raw, err := v.codec.Encode(env)
	if err != nil {
		v.logger.Warn("sim: encode reply", ports.Err(err))
		return
	}
	if v.faults.Garbage > 0 {
		v.faults.Garbage--
		raw = []byte{0xff, 0xff, 0xff}
	}
	units, err := chunk.Fragment(raw, v.cfg.Transport)
	if err != nil {
		v.logger.Warn("sim: frame reply", ports.Err(err))
		return
	}
	for _, u := range units {
		v.emit(domain.LinkEvent{Kind: domain.LinkUnitReceived, Data: u.Data})
	}
}

// String describes the vehicle for logs.
func (v *Vehicle) String() string {
	return fmt.Sprintf("sim vehicle %x", v.public[:4])
}
