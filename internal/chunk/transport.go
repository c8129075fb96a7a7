package chunk

import (
	"fmt"
	"time"

	"github.com/bft-labs/keylink/internal/domain"
	"github.com/bft-labs/keylink/internal/ports"
)

// Transport is the chunked half-duplex transport. It is driven by the engine
// tick and must only be used from one goroutine.
type Transport struct {
	cfg    Config
	link   ports.Link
	logger ports.Logger

	queue    [][]domain.TxUnit
	current  []domain.TxUnit
	idx      int
	inFlight bool

	rx *Reassembler

	// OnUnitRetry is called each time a unit is rewritten.
	OnUnitRetry func()
}

// New creates a transport writing to link.
func New(cfg Config, link ports.Link, logger ports.Logger) *Transport {
	return &Transport{
		cfg:    cfg,
		link:   link,
		logger: logger,
		rx:     NewReassembler(cfg.MaxMessageSize),
	}
}

// SetConfig replaces the timers and retry bound. Size limits only apply to
// messages sent or started after the call.
func (t *Transport) SetConfig(cfg Config) {
	t.cfg = cfg
	if !t.rx.Pending() {
		t.rx = NewReassembler(cfg.MaxMessageSize)
	}
}

// Config returns the active configuration.
func (t *Transport) Config() Config {
	return t.cfg
}

// Send fragments body and queues its units behind any message already
// queued. The returned units are copies for inspection.
func (t *Transport) Send(body []byte) ([]domain.TxUnit, error) {
	units, err := Fragment(body, t.cfg)
	if err != nil {
		return nil, err
	}
	t.queue = append(t.queue, units)
	t.logger.Debug("tx queued",
		ports.Int("bytes", len(body)),
		ports.Int("units", len(units)),
		ports.Hex("body", body),
	)
	out := make([]domain.TxUnit, len(units))
	copy(out, units)
	return out, nil
}

// Busy reports whether any unit is queued or awaiting confirmation.
func (t *Transport) Busy() bool {
	return t.current != nil || len(t.queue) > 0
}

// Receiving reports whether a partial inbound message is buffered.
func (t *Transport) Receiving() bool {
	return t.rx.Pending()
}

// Abort drops every queued message and the one being written. Inbound
// state is kept.
func (t *Transport) Abort() int {
	n := len(t.queue)
	if t.current != nil {
		n++
	}
	t.queue = nil
	t.current = nil
	t.idx = 0
	t.inFlight = false
	return n
}

// OnWriteConfirmed advances past the unit in flight.
func (t *Transport) OnWriteConfirmed() {
	if !t.inFlight {
		return
	}
	t.inFlight = false
	t.advance()
}

// OnWriteFailed marks the unit in flight for rewrite on the next step.
func (t *Transport) OnWriteFailed(err error) {
	if !t.inFlight {
		return
	}
	t.inFlight = false
	t.logger.Debug("tx unit write failed", ports.Int("unit", t.idx), ports.Err(err))
}

// StepWrite performs at most one link write. It returns an error wrapping
// domain.ErrTransportTimeout when a unit exhausts its retries; the whole
// message is dropped in that case.
func (t *Transport) StepWrite(now time.Time) error {
	if t.current == nil {
		if len(t.queue) == 0 {
			return nil
		}
		t.current = t.queue[0]
		t.queue = t.queue[1:]
		t.idx = 0
	}

	unit := &t.current[t.idx]
	if t.inFlight {
		if now.Sub(unit.SentAt) <= t.cfg.UnitTimeout {
			return nil
		}
		t.inFlight = false
	}

	if !unit.SentAt.IsZero() {
		if unit.RetryCount >= t.cfg.UnitRetries {
			idx, total := t.idx, len(t.current)
			t.current = nil
			t.idx = 0
			return fmt.Errorf("%w: unit %d/%d after %d retries", domain.ErrTransportTimeout, idx+1, total, unit.RetryCount)
		}
		unit.RetryCount++
		if t.OnUnitRetry != nil {
			t.OnUnitRetry()
		}
	}

	unit.SentAt = now
	if err := t.link.WriteUnit(unit.Data, unit.Ack); err != nil {
		t.logger.Debug("tx unit rejected by link", ports.Int("unit", t.idx), ports.Err(err))
		return nil
	}
	if unit.Ack {
		t.inFlight = true
		return nil
	}
	t.advance()
	return nil
}

func (t *Transport) advance() {
	t.idx++
	if t.idx >= len(t.current) {
		t.current = nil
		t.idx = 0
	}
}

// Receive feeds one inbound unit to the reassembler.
func (t *Transport) Receive(u domain.RxUnit) (domain.Message, bool, error) {
	msg, ok, err := t.rx.Push(u)
	if ok {
		t.logger.Debug("rx message", ports.Int("bytes", len(msg.Bytes)), ports.Hex("body", msg.Bytes))
	}
	return msg, ok, err
}

// CheckInbound discards a stalled partial message and reports it with an
// error wrapping domain.ErrInboundTimeout.
func (t *Transport) CheckInbound(now time.Time) error {
	if !t.rx.Expired(now, t.cfg.RxTimeout) {
		return nil
	}
	n := t.rx.Buffered()
	t.rx.Reset()
	return fmt.Errorf("%w: %d bytes buffered", domain.ErrInboundTimeout, n)
}

// Reset drops everything queued, in flight, or partially received.
func (t *Transport) Reset() {
	t.Abort()
	t.rx.Reset()
}
