package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/keylink/internal/domain"
)

func newController(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec(NewAddress())
	require.NoError(t, err)
	return c
}

func newVehicle(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec(nil)
	require.NoError(t, err)
	return c
}

func TestNewCodecRejectsShortAddress(t *testing.T) {
	_, err := NewCodec([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestSessionInfoRequestReachesVehicle(t *testing.T) {
	controller := newController(t)
	vehicle := newVehicle(t)

	reqID := bytes.Repeat([]byte{0xab}, RequestIDLen)
	raw, err := controller.Encode(domain.Envelope{
		To:        domain.DomainVCSEC,
		Kind:      domain.EnvelopeSessionInfoRequest,
		PublicKey: []byte{1, 2, 3, 4},
		RequestID: reqID,
	})
	require.NoError(t, err)

	env, err := vehicle.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.EnvelopeSessionInfoRequest, env.Kind)
	assert.Equal(t, domain.DomainVCSEC, env.To)
	assert.Equal(t, controller.Address(), env.FromAddress)
	assert.Equal(t, []byte{1, 2, 3, 4}, env.PublicKey)
	assert.Equal(t, reqID, env.RequestID)
}

func TestVehicleResponseDecodes(t *testing.T) {
	controller := newController(t)
	vehicle := newVehicle(t)

	reqID := bytes.Repeat([]byte{0x01}, RequestIDLen)
	raw, err := vehicle.Encode(domain.Envelope{
		From:      domain.DomainInfotainment,
		ToAddress: controller.Address(),
		Kind:      domain.EnvelopePayload,
		Body:      []byte{0x0a, 0x00},
		Status:    domain.OperationError,
		Fault:     domain.FaultBusy,
		RequestID: reqID,
	})
	require.NoError(t, err)

	env, err := controller.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.DomainInfotainment, env.From)
	assert.Equal(t, domain.EnvelopePayload, env.Kind)
	assert.Equal(t, domain.OperationError, env.Status)
	assert.Equal(t, domain.FaultBusy, env.Fault)
	assert.Equal(t, reqID, env.RequestID)
	assert.Nil(t, env.Vehicle)
	assert.False(t, env.Unsolicited())
}

func TestVehicleStatusPushIsUnsolicited(t *testing.T) {
	controller := newController(t)
	vehicle := newVehicle(t)

	want := domain.VehicleStatus{Sleep: domain.SleepAsleep, Locked: true, UserPresent: true}
	raw, err := vehicle.Encode(domain.Envelope{
		From:      domain.DomainVCSEC,
		ToAddress: controller.Address(),
		Kind:      domain.EnvelopePayload,
		Body:      EncodeVehicleStatus(want),
	})
	require.NoError(t, err)

	env, err := controller.Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, env.Vehicle)
	assert.Equal(t, want, *env.Vehicle)
	assert.True(t, env.Unsolicited())
}

func TestCommandAckCarriesNoStatus(t *testing.T) {
	_, ok := DecodeVehicleStatus(EncodeCommandAck())
	assert.False(t, ok)
}

func TestDecodeRejects(t *testing.T) {
	controller := newController(t)
	vehicle := newVehicle(t)

	t.Run("message for another controller", func(t *testing.T) {
		raw, err := vehicle.Encode(domain.Envelope{
			From:      domain.DomainVCSEC,
			ToAddress: NewAddress(),
			Kind:      domain.EnvelopePayload,
		})
		require.NoError(t, err)
		_, err = controller.Decode(raw)
		assert.ErrorIs(t, err, domain.ErrWrongEndpoint)
		assert.ErrorIs(t, err, domain.ErrProtocol)
	})

	t.Run("request uuid of wrong length", func(t *testing.T) {
		raw := AppendBytes(nil, fieldToDestination, destination(domain.DomainVCSEC, nil))
		raw = AppendBytes(raw, fieldFromDestination, destination(0, controller.Address()))
		raw = AppendBytes(raw, fieldRequestUUID, []byte{1, 2, 3})
		_, err := vehicle.Decode(raw)
		assert.ErrorIs(t, err, domain.ErrDecode)
	})

	t.Run("missing destination", func(t *testing.T) {
		raw := AppendBytes(nil, fieldPayload, []byte{1})
		_, err := vehicle.Decode(raw)
		assert.ErrorIs(t, err, domain.ErrDecode)
	})

	t.Run("truncated bytes", func(t *testing.T) {
		_, err := controller.Decode([]byte{0x32, 0x10, 0x01})
		assert.ErrorIs(t, err, domain.ErrDecode)
	})
}

func TestEncodeRejectsBadRequestID(t *testing.T) {
	_, err := newController(t).Encode(domain.Envelope{
		To:        domain.DomainVCSEC,
		RequestID: []byte{1},
	})
	assert.Error(t, err)
}

func TestPayloadsRoundTripEveryAction(t *testing.T) {
	var enc Payloads
	for _, spec := range domain.Actions {
		p := domain.Payload{Action: spec.Action}
		if spec.Param != domain.ParamNone {
			p.Value = spec.Max
		}
		raw, err := enc.EncodePayload(p)
		require.NoError(t, err, spec.Name)

		again, err := enc.EncodePayload(p)
		require.NoError(t, err)
		assert.Equal(t, raw, again, "%s encoding must be deterministic", spec.Name)

		got, err := DecodePayload(spec.Domain, raw)
		require.NoError(t, err, spec.Name)
		assert.Equal(t, p, got, spec.Name)
	}
}

func TestEncodePayloadValidates(t *testing.T) {
	var enc Payloads
	_, err := enc.EncodePayload(domain.Payload{Action: domain.ActionSetChargingLimit, Value: 101})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = enc.EncodePayload(domain.Payload{Action: domain.Action(999)})
	assert.ErrorIs(t, err, domain.ErrUnknownAction)
}

func TestDecodePayloadUnknownTag(t *testing.T) {
	raw := AppendVarint(nil, fieldUnsignedRKEAction, 99)
	_, err := DecodePayload(domain.DomainVCSEC, raw)
	assert.ErrorIs(t, err, domain.ErrDecode)

	_, err = DecodePayload(domain.DomainBroadcast, raw)
	assert.ErrorIs(t, err, domain.ErrDecode)
}

func TestChargeState(t *testing.T) {
	want := ChargeState{BatteryLevel: 71, ChargeLimit: 80, ChargingAmps: 16, Charging: true}
	got, err := DecodeChargeState(EncodeChargeState(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = DecodeChargeState(EncodeCommandAck())
	assert.ErrorIs(t, err, domain.ErrDecode)
}
