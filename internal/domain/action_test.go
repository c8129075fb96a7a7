package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActions_UniqueRows(t *testing.T) {
	names := map[string]bool{}
	actions := map[Action]bool{}
	for _, spec := range Actions {
		assert.False(t, names[spec.Name], "duplicate name %s", spec.Name)
		assert.False(t, actions[spec.Action], "duplicate action %d", spec.Action)
		assert.True(t, spec.Domain.Valid(), "row %s has invalid domain", spec.Name)
		names[spec.Name] = true
		actions[spec.Action] = true
	}
}

func TestPayload_Spec(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		wantErr error
	}{
		{"amps in range", Payload{Action: ActionSetChargingAmps, Value: 16}, nil},
		{"amps upper bound", Payload{Action: ActionSetChargingAmps, Value: 80}, nil},
		{"amps too high", Payload{Action: ActionSetChargingAmps, Value: 81}, ErrInvalidPayload},
		{"limit too low", Payload{Action: ActionSetChargingLimit, Value: 49}, ErrInvalidPayload},
		{"limit in range", Payload{Action: ActionSetChargingLimit, Value: 80}, nil},
		{"bool switch", Payload{Action: ActionSetSentrySwitch, Value: 1}, nil},
		{"bool out of range", Payload{Action: ActionSetSentrySwitch, Value: 2}, ErrInvalidPayload},
		{"no param given value", Payload{Action: ActionSoundHorn, Value: 1}, ErrInvalidPayload},
		{"unknown action", Payload{Action: Action(999)}, ErrUnknownAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.payload.Spec()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLookupActionName(t *testing.T) {
	spec, ok := LookupActionName("wakeVehicle")
	require.True(t, ok)
	assert.Equal(t, ActionWakeVehicle, spec.Action)
	assert.Equal(t, DomainVCSEC, spec.Domain)
	assert.Equal(t, MessageRKEAction, spec.Kind)

	_, ok = LookupActionName("selfDestruct")
	assert.False(t, ok)
}

func TestParseDomain(t *testing.T) {
	d, err := ParseDomain(" Infotainment ")
	require.NoError(t, err)
	assert.Equal(t, DomainInfotainment, d)

	_, err = ParseDomain("powertrain")
	assert.ErrorIs(t, err, ErrUnknownDomain)
}

func TestCommandError_Is(t *testing.T) {
	err := error(&CommandError{Reason: ReasonRetryExhausted, Attempts: 6, Err: ErrExchangeTimeout})

	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.ErrorIs(t, err, ErrExchangeTimeout)
	assert.NotErrorIs(t, err, ErrCommandTimeout)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 6, cmdErr.Attempts)
}

func TestProtocolErrorFamily(t *testing.T) {
	for _, err := range []error{ErrKeyNotPaired, ErrStaleCounter, ErrBadSignature, ErrDecode} {
		assert.ErrorIs(t, err, ErrProtocol)
	}
}

func TestCommandState_AuthDomain(t *testing.T) {
	d, ok := StateWaitingForInfotainmentAuthResponse.AuthDomain()
	require.True(t, ok)
	assert.Equal(t, DomainInfotainment, d)

	_, ok = StateReady.AuthDomain()
	assert.False(t, ok)

	assert.Equal(t, StateWaitingForVCSECAuth, AuthState(DomainVCSEC))
	assert.True(t, StateWaitingForWakeResponse.AwaitingReply())
	assert.False(t, StateWaitingForWake.AwaitingReply())
}
