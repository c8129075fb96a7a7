package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/keylink/internal/adapters/sim"
	"github.com/bft-labs/keylink/internal/domain"
)

func TestRouterDropsUnknownDomain(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())

	h.engine.router.Route(h.engine.ctx, domain.Envelope{
		From:    domain.Domain(7),
		Vehicle: &domain.VehicleStatus{Sleep: domain.SleepAsleep},
	})
	assert.Empty(t, h.sink.records)
	assert.Equal(t, domain.SleepUnknown, h.engine.queue.Vehicle().Sleep)
}

func TestRouterRejectionInvalidatesSession(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())
	require.NoError(t, h.send(domain.DomainVCSEC, domain.Payload{Action: domain.ActionLock}, 2000).Err)
	require.Equal(t, domain.Fresh, h.sessions.EnsureFresh(domain.DomainVCSEC))

	h.engine.router.Route(h.engine.ctx, domain.Envelope{
		From:   domain.DomainVCSEC,
		Kind:   domain.EnvelopePayload,
		Status: domain.OperationError,
		Fault:  domain.FaultIncorrectEpoch,
	})
	assert.Equal(t, domain.NeedsRequest, h.sessions.EnsureFresh(domain.DomainVCSEC))
}

func TestRouterBadSessionInfoWithoutHead(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())
	require.NoError(t, h.send(domain.DomainInfotainment, domain.Payload{Action: domain.ActionSoundHorn}, 2000).Err)

	h.engine.router.Route(h.engine.ctx, domain.Envelope{
		From:        domain.DomainInfotainment,
		Kind:        domain.EnvelopeSessionInfo,
		SessionInfo: []byte{0x12, 0x40},
	})
	assert.Equal(t, domain.NeedsRequest, h.sessions.EnsureFresh(domain.DomainInfotainment))
	assert.Equal(t, domain.OutcomeNone, h.tick())
}

func TestRouterBroadcastNeedsNoSession(t *testing.T) {
	h := newHarness(t, sim.Config{}, DefaultEngineConfig())

	h.engine.router.Route(h.engine.ctx, domain.Envelope{
		From: domain.DomainBroadcast,
		Kind: domain.EnvelopePayload,
		Body: []byte{1},
	})
	require.Len(t, h.sink.records, 1)
	assert.Equal(t, domain.DomainBroadcast, h.sink.records[0].domain)
	assert.Nil(t, h.sink.records[0].status)
}

func TestRouterBadSessionInfoSignalsOnce(t *testing.T) {
	badInfo := domain.Envelope{
		From:        domain.DomainVCSEC,
		Kind:        domain.EnvelopeSessionInfo,
		SessionInfo: []byte{0x12, 0x40},
	}

	t.Run("awaiting handshake", func(t *testing.T) {
		h := newHarness(t, sim.Config{}, DefaultEngineConfig())
		_, err := h.engine.Enqueue(domain.DomainVCSEC, domain.Payload{Action: domain.ActionLock}, "", nil)
		require.NoError(t, err)
		q := h.engine.queue
		q.Tick(h.clock.Now())
		q.Tick(h.clock.Now())
		head, _ := q.Head()
		require.Equal(t, domain.StateWaitingForVCSECAuthResponse, head.State)

		h.engine.router.Route(h.engine.ctx, badInfo)
		require.Len(t, q.signals, 1)
		assert.Equal(t, sigSessionFailed, q.signals[0].kind)
	})

	t.Run("awaiting command reply", func(t *testing.T) {
		h := newHarness(t, sim.Config{}, DefaultEngineConfig())
		require.NoError(t, h.send(domain.DomainVCSEC, domain.Payload{Action: domain.ActionLock}, 2000).Err)
		_, err := h.engine.Enqueue(domain.DomainVCSEC, domain.Payload{Action: domain.ActionUnlock}, "", nil)
		require.NoError(t, err)
		q := h.engine.queue
		q.Tick(h.clock.Now())
		require.Equal(t, domain.OutcomeTransmitted, q.Tick(h.clock.Now()))

		h.engine.router.Route(h.engine.ctx, badInfo)
		require.Len(t, q.signals, 1)
		assert.Equal(t, sigFault, q.signals[0].kind)
	})
}
