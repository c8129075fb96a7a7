package ports

import "github.com/bft-labs/keylink/internal/domain"

// MessageCodec converts routable messages to and from wire bytes.
// Framing (the length prefix) is not its concern.
type MessageCodec interface {
	Encode(env domain.Envelope) ([]byte, error)

	// Decode parses wire bytes. Errors wrap domain.ErrDecode.
	Decode(b []byte) (domain.Envelope, error)
}

// PayloadEncoder turns a payload descriptor into the logical message bytes
// that get signed. It must be pure: the same descriptor yields the same bytes.
type PayloadEncoder interface {
	EncodePayload(p domain.Payload) ([]byte, error)
}

// SessionCodec owns the cryptography of domain sessions.
type SessionCodec interface {
	// BuildHandshakeRequest returns the public key to place in a session
	// info request for d.
	BuildHandshakeRequest(d domain.Domain) ([]byte, error)

	// ValidateHandshakeResponse parses and checks the vehicle's session info.
	// Errors wrap domain.ErrProtocol; a whitelist rejection wraps
	// domain.ErrKeyNotPaired.
	ValidateHandshakeResponse(d domain.Domain, sessionInfo []byte) (domain.SessionMaterial, error)

	// Restore checks that persisted material is still usable.
	Restore(d domain.Domain, m domain.SessionMaterial) error

	// Sign advances the counter in m and authenticates payload with it.
	Sign(d domain.Domain, m *domain.SessionMaterial, payload []byte) (domain.Signed, error)
}
