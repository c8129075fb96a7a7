package domain

import "fmt"

// MessageKind selects the logical message an action is carried in.
type MessageKind int

const (
	// MessageVehicleAction is an infotainment vehicle action.
	MessageVehicleAction MessageKind = iota
	// MessageGetVehicleData is an infotainment data request.
	MessageGetVehicleData
	// MessageRKEAction is a VCSEC remote keyless entry action.
	MessageRKEAction
	// MessageInformationRequest is a VCSEC status request.
	MessageInformationRequest
)

func (k MessageKind) String() string {
	switch k {
	case MessageVehicleAction:
		return "vehicle_action"
	case MessageGetVehicleData:
		return "get_vehicle_data"
	case MessageRKEAction:
		return "rke_action"
	case MessageInformationRequest:
		return "information_request"
	default:
		return "unknown"
	}
}

// ParamKind describes the parameter an action accepts.
type ParamKind int

const (
	ParamNone ParamKind = iota
	ParamBool
	ParamInt
)

// Action identifies a row in the action table.
type Action int

const (
	ActionGetChargeState Action = iota
	ActionGetClimateState
	ActionGetDriveState
	ActionGetLocationState
	ActionGetClosuresState
	ActionSetChargingSwitch
	ActionSetChargingAmps
	ActionSetChargingLimit
	ActionSetSentrySwitch
	ActionSetHVACSwitch
	ActionSetHVACSteeringHeatSwitch
	ActionOpenChargePortDoor
	ActionCloseChargePortDoor
	ActionSoundHorn
	ActionFlashLights
	ActionSetWindowsSwitch
	ActionVehicleStatus
	ActionWakeVehicle
	ActionLock
	ActionUnlock
)

// ActionSpec is one row of the action table.
type ActionSpec struct {
	Action Action
	Name   string
	Domain Domain
	Kind   MessageKind
	// FieldTag is the field number inside the logical message, or the enum
	// value for RKE actions and information requests.
	FieldTag int32
	Param    ParamKind
	Min, Max int32
}

// Actions is the static action table.
var Actions = []ActionSpec{
	{ActionGetChargeState, "getChargeState", DomainInfotainment, MessageGetVehicleData, 2, ParamNone, 0, 0},
	{ActionGetClimateState, "getClimateState", DomainInfotainment, MessageGetVehicleData, 3, ParamNone, 0, 0},
	{ActionGetDriveState, "getDriveState", DomainInfotainment, MessageGetVehicleData, 4, ParamNone, 0, 0},
	{ActionGetLocationState, "getLocationState", DomainInfotainment, MessageGetVehicleData, 7, ParamNone, 0, 0},
	{ActionGetClosuresState, "getClosuresState", DomainInfotainment, MessageGetVehicleData, 8, ParamNone, 0, 0},
	{ActionSetChargingSwitch, "setChargingSwitch", DomainInfotainment, MessageVehicleAction, 6, ParamBool, 0, 1},
	{ActionSetChargingAmps, "setChargingAmps", DomainInfotainment, MessageVehicleAction, 43, ParamInt, 0, 80},
	{ActionSetChargingLimit, "setChargingLimit", DomainInfotainment, MessageVehicleAction, 5, ParamInt, 50, 100},
	{ActionSetSentrySwitch, "setSentrySwitch", DomainInfotainment, MessageVehicleAction, 35, ParamBool, 0, 1},
	{ActionSetHVACSwitch, "setHVACSwitch", DomainInfotainment, MessageVehicleAction, 10, ParamBool, 0, 1},
	{ActionSetHVACSteeringHeatSwitch, "setHVACSteeringHeatSwitch", DomainInfotainment, MessageVehicleAction, 13, ParamBool, 0, 1},
	{ActionOpenChargePortDoor, "setOpenChargePortDoor", DomainInfotainment, MessageVehicleAction, 61, ParamNone, 0, 0},
	{ActionCloseChargePortDoor, "setCloseChargePortDoor", DomainInfotainment, MessageVehicleAction, 62, ParamNone, 0, 0},
	{ActionSoundHorn, "soundHorn", DomainInfotainment, MessageVehicleAction, 27, ParamNone, 0, 0},
	{ActionFlashLights, "flashLight", DomainInfotainment, MessageVehicleAction, 26, ParamNone, 0, 0},
	{ActionSetWindowsSwitch, "setWindowsSwitch", DomainInfotainment, MessageVehicleAction, 34, ParamBool, 0, 1},
	{ActionVehicleStatus, "getVehicleStatus", DomainVCSEC, MessageInformationRequest, 0, ParamNone, 0, 0},
	{ActionWakeVehicle, "wakeVehicle", DomainVCSEC, MessageRKEAction, 20, ParamNone, 0, 0},
	{ActionLock, "lock", DomainVCSEC, MessageRKEAction, 1, ParamNone, 0, 0},
	{ActionUnlock, "unlock", DomainVCSEC, MessageRKEAction, 0, ParamNone, 0, 0},
}

// LookupAction returns the table row for a.
func LookupAction(a Action) (ActionSpec, bool) {
	for _, spec := range Actions {
		if spec.Action == a {
			return spec, true
		}
	}
	return ActionSpec{}, false
}

// LookupActionName returns the table row whose Name equals name.
func LookupActionName(name string) (ActionSpec, bool) {
	for _, spec := range Actions {
		if spec.Name == name {
			return spec, true
		}
	}
	return ActionSpec{}, false
}

func (a Action) String() string {
	if spec, ok := LookupAction(a); ok {
		return spec.Name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Payload describes what a command carries. Encoding happens at send time
// so a retry re-encodes against the current session.
type Payload struct {
	Action Action
	Value  int32
}

// Spec returns the action table row for p, validating its parameter.
func (p Payload) Spec() (ActionSpec, error) {
	spec, ok := LookupAction(p.Action)
	if !ok {
		return ActionSpec{}, fmt.Errorf("%w: %d", ErrUnknownAction, int(p.Action))
	}
	switch spec.Param {
	case ParamNone:
		if p.Value != 0 {
			return spec, fmt.Errorf("%w: %s takes no parameter", ErrInvalidPayload, spec.Name)
		}
	case ParamBool, ParamInt:
		if p.Value < spec.Min || p.Value > spec.Max {
			return spec, fmt.Errorf("%w: %s value %d outside [%d, %d]",
				ErrInvalidPayload, spec.Name, p.Value, spec.Min, spec.Max)
		}
	}
	return spec, nil
}
