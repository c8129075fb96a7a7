package domain

// EnvelopeKind is the content carried by a routable message.
type EnvelopeKind int

const (
	// EnvelopePayload carries a signed command or a command response.
	EnvelopePayload EnvelopeKind = iota
	// EnvelopeSessionInfoRequest asks the vehicle for session info.
	EnvelopeSessionInfoRequest
	// EnvelopeSessionInfo carries the vehicle's session info.
	EnvelopeSessionInfo
)

func (k EnvelopeKind) String() string {
	switch k {
	case EnvelopePayload:
		return "payload"
	case EnvelopeSessionInfoRequest:
		return "session_info_request"
	case EnvelopeSessionInfo:
		return "session_info"
	default:
		return "unknown"
	}
}

// OperationStatus is the vehicle's verdict on a signed message.
type OperationStatus int

const (
	OperationOK OperationStatus = iota
	OperationWait
	OperationError
)

// MessageFault is the reason attached to an OperationError.
type MessageFault int

const (
	FaultNone                   MessageFault = 0
	FaultBusy                   MessageFault = 1
	FaultTimeout                MessageFault = 2
	FaultUnknownKeyID           MessageFault = 3
	FaultInactiveKey            MessageFault = 4
	FaultInvalidSignature       MessageFault = 5
	FaultInvalidTokenOrCounter  MessageFault = 6
	FaultInsufficientPrivileges MessageFault = 7
	FaultInvalidDomains         MessageFault = 8
	FaultInvalidCommand         MessageFault = 9
	FaultDecoding               MessageFault = 10
	FaultInternal               MessageFault = 11
	FaultIncorrectEpoch         MessageFault = 15
)

func (f MessageFault) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultBusy:
		return "busy"
	case FaultTimeout:
		return "timeout"
	case FaultUnknownKeyID:
		return "unknown_key_id"
	case FaultInactiveKey:
		return "inactive_key"
	case FaultInvalidSignature:
		return "invalid_signature"
	case FaultInvalidTokenOrCounter:
		return "invalid_token_or_counter"
	case FaultInsufficientPrivileges:
		return "insufficient_privileges"
	case FaultInvalidDomains:
		return "invalid_domains"
	case FaultInvalidCommand:
		return "invalid_command"
	case FaultDecoding:
		return "decoding"
	case FaultInternal:
		return "internal"
	case FaultIncorrectEpoch:
		return "incorrect_epoch"
	default:
		return "unknown"
	}
}

// InvalidatesSession reports whether the fault means our session material is
// no longer accepted by the vehicle.
func (f MessageFault) InvalidatesSession() bool {
	switch f {
	case FaultUnknownKeyID, FaultInvalidSignature, FaultInvalidTokenOrCounter, FaultIncorrectEpoch:
		return true
	}
	return false
}

// SleepStatus is the vehicle's reported power state.
type SleepStatus int

const (
	SleepUnknown SleepStatus = iota
	SleepAwake
	SleepAsleep
)

func (s SleepStatus) String() string {
	switch s {
	case SleepAwake:
		return "awake"
	case SleepAsleep:
		return "asleep"
	default:
		return "unknown"
	}
}

// VehicleStatus is the VCSEC status summary.
type VehicleStatus struct {
	Sleep       SleepStatus
	Locked      bool
	UserPresent bool
}

// Envelope is a decoded routable message, in either direction. The vehicle
// side of a message is addressed by Domain; the controller side by a
// 16-byte routing address.
type Envelope struct {
	From          Domain
	To            Domain
	FromAddress   []byte
	ToAddress     []byte
	Kind          EnvelopeKind
	RequestID     []byte
	Body          []byte
	SignatureData []byte
	SessionInfo   []byte
	PublicKey     []byte
	Status        OperationStatus
	Fault         MessageFault
	Vehicle       *VehicleStatus
}

// Unsolicited reports whether the envelope answers no request.
func (e Envelope) Unsolicited() bool {
	return len(e.RequestID) == 0
}
