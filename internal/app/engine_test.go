package app

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/keylink/internal/adapters/protocol"
	"github.com/bft-labs/keylink/internal/adapters/sim"
	"github.com/bft-labs/keylink/internal/domain"
)

func commandErr(t *testing.T, err error) *domain.CommandError {
	t.Helper()
	var cerr *domain.CommandError
	require.True(t, errors.As(err, &cerr), "want *CommandError, got %v", err)
	return cerr
}

func TestCommandCompletesAfterHandshake(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())

	res := h.send(domain.DomainInfotainment, domain.Payload{Action: domain.ActionSetChargingLimit, Value: 90}, 2000)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "setChargingLimit", res.Tag)
	assert.Equal(t, int32(90), h.vehicle.State().Charge.ChargeLimit)

	s, ok := h.sessions.Session(domain.DomainInfotainment)
	require.True(t, ok)
	assert.True(t, s.Fresh)
	assert.Equal(t, h.vehicle.Counter(domain.DomainInfotainment), s.Material.Counter)
	assert.True(t, h.engine.Idle())
}

func TestSessionIsReused(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())

	for i := 0; i < 3; i++ {
		res := h.send(domain.DomainVCSEC, domain.Payload{Action: domain.ActionLock}, 2000)
		require.NoError(t, res.Err)
		assert.Equal(t, 1, res.Attempts)
	}
	s, _ := h.sessions.Session(domain.DomainVCSEC)
	assert.Equal(t, uint32(3), s.Material.Counter)
	assert.Equal(t, uint32(3), h.vehicle.Counter(domain.DomainVCSEC))
	assert.Len(t, h.vehicle.Executed(), 3)
}

func TestChargeStateResponse(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())

	res := h.send(domain.DomainInfotainment, domain.Payload{Action: domain.ActionGetChargeState}, 2000)
	require.NoError(t, res.Err)
	cs, err := protocol.DecodeChargeState(res.Response.Body)
	require.NoError(t, err)
	assert.Equal(t, int32(80), cs.ChargeLimit)
}

func TestRetryExhaustedWhenWritesNeverConfirmed(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Timing.MaxRetries = 2
	cfg.Transport.UnitRetries = 1
	cfg.Transport.UnitTimeout = 100 * time.Millisecond
	h := newHarness(t, sim.Config{}, cfg)
	h.vehicle.Inject(sim.Faults{DropWrites: 1 << 20})

	res := h.send(domain.DomainVCSEC, domain.Payload{Action: domain.ActionUnlock}, 5000)
	require.Error(t, res.Err)
	cerr := commandErr(t, res.Err)
	assert.Equal(t, domain.ReasonRetryExhausted, cerr.Reason)
	assert.Equal(t, 3, cerr.Attempts)
	assert.ErrorIs(t, res.Err, domain.ErrRetryExhausted)
	assert.ErrorIs(t, res.Err, domain.ErrTransportTimeout)
	assert.Empty(t, h.vehicle.Executed())
}

func TestSlowLinkIsNotRetried(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Timing.ExchangeTimeout = 300 * time.Millisecond
	cfg.Timing.MaxRetries = 2
	h := newHarness(t, sim.Config{}, cfg)
	// One unit confirmed per tick: every message takes longer than the
	// exchange timeout to cross the link.
	h.step = 100 * time.Millisecond

	res := h.send(domain.DomainVCSEC, domain.Payload{Action: domain.ActionLock}, 500)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, h.vehicle.Executed(), 1)
	assert.True(t, h.vehicle.State().Status.Locked)
}

func TestStalledWriteIsChargedToTransport(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Timing.MaxRetries = 1
	h := newHarness(t, sim.Config{}, cfg)
	h.step = 10 * time.Millisecond
	h.vehicle.Inject(sim.Faults{DropWrites: 1 << 20})

	// UnitRetries x UnitTimeout outlasts the exchange timeout.
	require.Greater(t, time.Duration(cfg.Transport.UnitRetries+1)*cfg.Transport.UnitTimeout, cfg.Timing.ExchangeTimeout)

	res := h.send(domain.DomainVCSEC, domain.Payload{Action: domain.ActionLock}, 3000)
	cerr := commandErr(t, res.Err)
	assert.Equal(t, domain.ReasonRetryExhausted, cerr.Reason)
	assert.Equal(t, 2, cerr.Attempts)
	assert.ErrorIs(t, res.Err, domain.ErrTransportTimeout)
	assert.NotErrorIs(t, res.Err, domain.ErrExchangeTimeout)
}

func TestRetryDropsStaleTransmission(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())
	require.NoError(t, h.send(domain.DomainVCSEC, domain.Payload{Action: domain.ActionLock}, 2000).Err)

	_, err := h.engine.Enqueue(domain.DomainVCSEC, domain.Payload{Action: domain.ActionUnlock}, "", nil)
	require.NoError(t, err)
	q := h.engine.queue
	q.Tick(h.clock.Now())
	require.Equal(t, domain.OutcomeTransmitted, q.Tick(h.clock.Now()))
	require.True(t, h.engine.transport.Busy())

	q.SignalFault(domain.DomainVCSEC, domain.ErrStaleCounter)
	q.Tick(h.clock.Now())

	head, ok := q.Head()
	require.True(t, ok)
	assert.Equal(t, 1, head.RetryCount)
	assert.False(t, h.engine.transport.Busy(), "the unanswered message is not sent twice")
}

func TestInvalidatedSessionPassesThroughAuth(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())
	require.NoError(t, h.send(domain.DomainVCSEC, domain.Payload{Action: domain.ActionLock}, 2000).Err)

	var res *domain.Result
	_, err := h.engine.Enqueue(domain.DomainVCSEC, domain.Payload{Action: domain.ActionUnlock}, "", func(r domain.Result) {
		res = &r
	})
	require.NoError(t, err)

	// Hold the transport so the head parks in Ready.
	q := h.engine.queue
	_, err = h.engine.transport.Send([]byte{0xff})
	require.NoError(t, err)
	q.Tick(h.clock.Now())
	q.Tick(h.clock.Now())
	head, _ := q.Head()
	require.Equal(t, domain.StateReady, head.State)

	h.sessions.Invalidate(h.engine.ctx, domain.DomainVCSEC, "test")
	h.engine.transport.Abort()

	var states []domain.CommandState
	h.until(2000, func() bool {
		if head, ok := q.Head(); ok && (len(states) == 0 || states[len(states)-1] != head.State) {
			states = append(states, head.State)
		}
		return res != nil
	})
	require.NoError(t, res.Err)

	assert.Equal(t, []domain.CommandState{
		domain.StateReady,
		domain.StateWaitingForVCSECAuth,
		domain.StateWaitingForVCSECAuthResponse,
		domain.StateReady,
		domain.StateWaitingForResponse,
	}, states)
}

func TestFailedWritesAreResent(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())
	h.vehicle.Inject(sim.Faults{FailWrites: 2})

	res := h.send(domain.DomainVCSEC, domain.Payload{Action: domain.ActionLock}, 2000)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Attempts, "unit retries do not consume command retries")
}

func TestUndecodableReplyIsRetried(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())
	h.step = 10 * time.Millisecond
	h.vehicle.Inject(sim.Faults{Garbage: 1})

	res := h.send(domain.DomainVCSEC, domain.Payload{Action: domain.ActionVehicleStatus}, 2000)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Attempts)
}

func TestCommandTimeout(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Timing.MaxRetries = 100
	cfg.Timing.CommandTimeout = 10 * time.Second
	h := newHarness(t, sim.Config{}, cfg)
	h.step = 50 * time.Millisecond
	h.vehicle.Inject(sim.Faults{Silent: 1 << 20})

	res := h.send(domain.DomainVCSEC, domain.Payload{Action: domain.ActionLock}, 1000)
	cerr := commandErr(t, res.Err)
	assert.Equal(t, domain.ReasonCommandTimeout, cerr.Reason)
	assert.ErrorIs(t, res.Err, domain.ErrCommandTimeout)
	assert.GreaterOrEqual(t, res.Elapsed, 10*time.Second)
}

func TestBusyVehicleIsRetried(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())
	require.NoError(t, h.send(domain.DomainVCSEC, domain.Payload{Action: domain.ActionLock}, 2000).Err)

	h.vehicle.Inject(sim.Faults{Busy: 1})
	res := h.send(domain.DomainVCSEC, domain.Payload{Action: domain.ActionUnlock}, 2000)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Attempts)
	assert.False(t, h.vehicle.State().Status.Locked)
}

func TestStaleCounterAdoptsVehicleCounter(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())
	require.NoError(t, h.send(domain.DomainInfotainment, domain.Payload{Action: domain.ActionSoundHorn}, 2000).Err)

	h.vehicle.Inject(sim.Faults{StaleCounter: 1})
	res := h.send(domain.DomainInfotainment, domain.Payload{Action: domain.ActionFlashLights}, 2000)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Attempts)

	s, _ := h.sessions.Session(domain.DomainInfotainment)
	assert.True(t, s.Fresh)
	assert.Equal(t, h.vehicle.Counter(domain.DomainInfotainment), s.Material.Counter)
}

func TestForgottenSessionForcesHandshake(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())
	require.NoError(t, h.send(domain.DomainVCSEC, domain.Payload{Action: domain.ActionLock}, 2000).Err)

	h.vehicle.ForgetSessions()
	res := h.send(domain.DomainVCSEC, domain.Payload{Action: domain.ActionUnlock}, 2000)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, uint32(1), h.vehicle.Counter(domain.DomainVCSEC), "new session starts a new counter")
}

func TestUnpairedKeyIsRejected(t *testing.T) {
	h := newHarness(t, sim.Config{Unpaired: true}, DefaultEngineConfig())

	res := h.send(domain.DomainVCSEC, domain.Payload{Action: domain.ActionUnlock}, 2000)
	cerr := commandErr(t, res.Err)
	assert.Equal(t, domain.ReasonAuthRejected, cerr.Reason)
	assert.Equal(t, 1, cerr.Attempts)
	assert.ErrorIs(t, res.Err, domain.ErrKeyNotPaired)
}

func TestVehicleErrorIsTerminal(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())
	require.NoError(t, h.send(domain.DomainVCSEC, domain.Payload{Action: domain.ActionLock}, 2000).Err)

	h.vehicle.Inject(sim.Faults{Silent: 1})
	var res *domain.Result
	_, err := h.engine.Enqueue(domain.DomainVCSEC, domain.Payload{Action: domain.ActionUnlock}, "", func(r domain.Result) {
		res = &r
	})
	require.NoError(t, err)
	h.until(2000, func() bool {
		head, ok := h.engine.queue.Head()
		return ok && head.State == domain.StateWaitingForResponse && !h.engine.transport.Busy()
	})

	head, _ := h.engine.queue.Head()
	h.engine.router.Route(h.engine.ctx, domain.Envelope{
		From:      domain.DomainVCSEC,
		Kind:      domain.EnvelopePayload,
		RequestID: head.RequestIDs[len(head.RequestIDs)-1],
		Status:    domain.OperationError,
		Fault:     domain.FaultInsufficientPrivileges,
	})
	h.tick()

	require.NotNil(t, res)
	cerr := commandErr(t, res.Err)
	assert.Equal(t, domain.ReasonVehicleError, cerr.Reason)
	assert.ErrorIs(t, res.Err, domain.ErrVehicleRejected)
}

func TestResponseForOtherRequestIsIgnored(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())
	require.NoError(t, h.send(domain.DomainVCSEC, domain.Payload{Action: domain.ActionLock}, 2000).Err)

	h.vehicle.Inject(sim.Faults{Silent: 1})
	_, err := h.engine.Enqueue(domain.DomainVCSEC, domain.Payload{Action: domain.ActionUnlock}, "", nil)
	require.NoError(t, err)
	h.until(2000, func() bool {
		head, ok := h.engine.queue.Head()
		return ok && head.State == domain.StateWaitingForResponse
	})

	accepted := h.engine.queue.AcceptResponse(domain.Envelope{
		From:      domain.DomainVCSEC,
		RequestID: protocol.NewAddress(),
	})
	assert.False(t, accepted)

	head, _ := h.engine.queue.Head()
	accepted = h.engine.queue.AcceptResponse(domain.Envelope{
		From:      domain.DomainInfotainment,
		RequestID: head.RequestIDs[0],
	})
	assert.False(t, accepted, "wrong domain")
}

func TestWakeBeforeInfotainmentCommand(t *testing.T) {
	h := newHarness(t, sim.Config{Asleep: true}, DefaultEngineConfig())

	res := h.send(domain.DomainVCSEC, domain.Payload{Action: domain.ActionVehicleStatus}, 2000)
	require.NoError(t, res.Err)
	assert.Equal(t, domain.SleepAsleep, h.engine.queue.Vehicle().Sleep)

	awake := 0
	h.engine.OnVehicleAwake(func() { awake++ })

	res = h.send(domain.DomainInfotainment, domain.Payload{Action: domain.ActionGetChargeState}, 4000)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, awake)
	assert.Equal(t, domain.SleepAwake, h.engine.queue.Vehicle().Sleep)

	executed := h.vehicle.Executed()
	require.Len(t, executed, 3)
	assert.Equal(t, domain.ActionWakeVehicle, executed[1].Action)
	assert.Equal(t, domain.ActionGetChargeState, executed[2].Action)

	var pushed bool
	for _, r := range h.sink.records {
		if r.status != nil && r.status.Sleep == domain.SleepAwake {
			pushed = true
		}
	}
	assert.True(t, pushed, "awake push reaches the status sink")
}

func TestUnsolicitedStatusReachesSink(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())
	require.NoError(t, h.send(domain.DomainVCSEC, domain.Payload{Action: domain.ActionLock}, 2000).Err)
	before := len(h.sink.records)

	h.vehicle.Sleep()
	h.until(200, func() bool { return len(h.sink.records) > before })

	last := h.sink.records[len(h.sink.records)-1]
	assert.Equal(t, domain.DomainVCSEC, last.domain)
	require.NotNil(t, last.status)
	assert.Equal(t, domain.SleepAsleep, last.status.Sleep)
	assert.Equal(t, domain.SleepAsleep, h.engine.queue.Vehicle().Sleep)
}

func TestOnlyHeadIsActive(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())

	done := 0
	for _, a := range []domain.Action{domain.ActionLock, domain.ActionUnlock, domain.ActionLock} {
		_, err := h.engine.Enqueue(domain.DomainVCSEC, domain.Payload{Action: a}, "", func(domain.Result) { done++ })
		require.NoError(t, err)
	}

	for i := 0; i < 3000 && done < 3; i++ {
		h.tick()
		for j, cmd := range h.engine.queue.commands {
			if j > 0 {
				assert.Equal(t, domain.StateIdle, cmd.State, "only the head advances")
			}
		}
	}
	assert.Equal(t, 3, done)
	assert.Len(t, h.vehicle.Executed(), 3)
}

func TestEnqueueValidation(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())

	_, err := h.engine.Enqueue(domain.Domain(9), domain.Payload{Action: domain.ActionLock}, "", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownDomain)

	_, err = h.engine.Enqueue(domain.DomainInfotainment, domain.Payload{Action: domain.ActionLock}, "", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = h.engine.Enqueue(domain.DomainInfotainment, domain.Payload{Action: domain.ActionSetChargingAmps, Value: 81}, "", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = h.engine.Enqueue(domain.DomainVCSEC, domain.Payload{Action: domain.Action(500)}, "", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownAction)

	assert.Equal(t, 0, h.engine.queue.Len())
}

func TestQueueFull(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())

	for i := 0; i < DefaultTiming().MaxQueueSize; i++ {
		_, err := h.engine.Enqueue(domain.DomainVCSEC, domain.Payload{Action: domain.ActionLock}, "", nil)
		require.NoError(t, err)
	}
	_, err := h.engine.Enqueue(domain.DomainVCSEC, domain.Payload{Action: domain.ActionLock}, "", nil)
	assert.ErrorIs(t, err, domain.ErrQueueFull)
}

func TestCloseCancelsQueuedCommandsOnce(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())

	calls := map[string]int{}
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := h.engine.Enqueue(domain.DomainVCSEC, domain.Payload{Action: domain.ActionLock}, "", func(r domain.Result) {
			calls[r.ID]++
			assert.ErrorIs(t, r.Err, domain.ErrCanceled)
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	h.tick()
	h.tick()

	h.engine.Close()
	for i := 0; i < 10; i++ {
		h.tick()
	}

	require.Len(t, calls, 3)
	for _, id := range ids {
		assert.Equal(t, 1, calls[id])
	}
	assert.True(t, h.engine.Idle())
}

func TestCommandIDsAreOrdered(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())

	var prev string
	for i := 0; i < 5; i++ {
		id, err := h.engine.Enqueue(domain.DomainVCSEC, domain.Payload{Action: domain.ActionLock}, "", nil)
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestSetTimingValidates(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())

	bad := DefaultTiming()
	bad.MaxRetries = -1
	assert.ErrorIs(t, h.engine.SetTiming(bad, h.engine.transport.Config()), domain.ErrInvalidConfig)

	good := DefaultTiming()
	good.ExchangeTimeout = time.Second
	require.NoError(t, h.engine.SetTiming(good, h.engine.transport.Config()))
	assert.Equal(t, time.Second, h.engine.queue.timing.ExchangeTimeout)
}
