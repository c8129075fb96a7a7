package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bft-labs/keylink/internal/adapters/crypto"
	"github.com/bft-labs/keylink/internal/adapters/log"
	"github.com/bft-labs/keylink/internal/adapters/protocol"
	"github.com/bft-labs/keylink/internal/adapters/sim"
	"github.com/bft-labs/keylink/internal/domain"
	"github.com/bft-labs/keylink/internal/session"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type statusRecord struct {
	domain domain.Domain
	status *domain.VehicleStatus
}

type recordingSink struct {
	records []statusRecord
}

func (s *recordingSink) OnStatus(d domain.Domain, status *domain.VehicleStatus, _ []byte) {
	s.records = append(s.records, statusRecord{domain: d, status: status})
}

// harness drives an Engine against a simulated vehicle on a fake clock,
// delivering link events between ticks the way the runner does.
type harness struct {
	t        *testing.T
	clock    *fakeClock
	vehicle  *sim.Vehicle
	engine   *Engine
	sessions *session.Manager
	sink     *recordingSink
	step     time.Duration
}

func newHarness(t *testing.T, vcfg sim.Config, cfg EngineConfig) *harness {
	t.Helper()

	vehicle, err := sim.New(vcfg)
	require.NoError(t, err)

	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	sessionCodec, err := crypto.NewCodec(priv)
	require.NoError(t, err)
	messages, err := protocol.NewCodec(protocol.NewAddress())
	require.NoError(t, err)

	clock := newFakeClock()
	logger := log.NewNoopLogger()
	sessions := session.NewManager(sessionCodec, nil, clock, logger, nil)
	sink := &recordingSink{}

	engine, err := NewEngine(cfg, Dependencies{
		Link:     vehicle,
		Messages: messages,
		Payloads: protocol.Payloads{},
		Sessions: sessions,
		Clock:    clock,
		Status:   sink,
		Logger:   logger,
	})
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))

	return &harness{
		t:        t,
		clock:    clock,
		vehicle:  vehicle,
		engine:   engine,
		sessions: sessions,
		sink:     sink,
		step:     time.Millisecond,
	}
}

func (h *harness) tick() domain.Outcome {
	for _, ev := range h.vehicle.Drain() {
		h.engine.Deliver(ev)
	}
	out := h.engine.Tick(h.clock.Now())
	h.clock.Advance(h.step)
	return out
}

// until ticks until cond holds, failing the test after max ticks.
func (h *harness) until(max int, cond func() bool) {
	h.t.Helper()
	for i := 0; i < max; i++ {
		if cond() {
			return
		}
		h.tick()
	}
	require.FailNow(h.t, "condition not reached", "after %d ticks", max)
}

// send enqueues a command and ticks until it finishes.
func (h *harness) send(d domain.Domain, p domain.Payload, max int) domain.Result {
	h.t.Helper()
	var (
		res  domain.Result
		done bool
	)
	_, err := h.engine.Enqueue(d, p, "", func(r domain.Result) {
		res = r
		done = true
	})
	require.NoError(h.t, err)
	h.until(max, func() bool { return done })
	return res
}
