package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/keylink/internal/adapters/protocol"
	"github.com/bft-labs/keylink/pkg/keylink"
)

func TestActionsCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newActionsCommand()
	cmd.SetOut(&out)
	cmd.SetArgs(nil)

	require.NoError(t, cmd.Execute())

	got := out.String()
	for _, spec := range keylink.Actions() {
		assert.Contains(t, got, spec.Name)
	}
	assert.Contains(t, got, "on|off", "boolean parameters are described")
	assert.Contains(t, got, "50..100")
}

func TestPrintResponse_ChargeState(t *testing.T) {
	var out bytes.Buffer
	printResponse(&out, keylink.Envelope{
		From: keylink.DomainInfotainment,
		Body: protocol.EncodeChargeState(protocol.ChargeState{BatteryLevel: 55, ChargeLimit: 90, ChargingAmps: 32, Charging: true}),
	})

	assert.Equal(t, "  battery=55% limit=90% amps=32 charging=true\n", out.String())
}

func TestPrintResponse_VehicleStatus(t *testing.T) {
	var out bytes.Buffer
	printResponse(&out, keylink.Envelope{
		From:    keylink.DomainVCSEC,
		Vehicle: &keylink.VehicleStatus{Sleep: keylink.SleepAwake, Locked: true},
	})

	assert.Contains(t, out.String(), "sleep=awake locked=true")
}

func TestSendCommand_UnknownAction(t *testing.T) {
	c := &cli{}
	cmd := newSendCommand(c)
	cmd.SetArgs([]string{"fly"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	assert.Error(t, cmd.Execute())
}
