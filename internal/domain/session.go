package domain

import "time"

// SessionMaterial is the persisted part of a domain session. The controller's
// private key is not part of it; the session codec derives the shared key.
type SessionMaterial struct {
	Counter   uint32    `json:"counter"`
	Epoch     []byte    `json:"epoch"`
	PeerKey   []byte    `json:"peer_key"`
	ClockTime uint32    `json:"clock_time"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Empty reports whether no handshake has ever populated m.
func (m SessionMaterial) Empty() bool {
	return len(m.Epoch) == 0 && len(m.PeerKey) == 0
}

// Session is the in-memory session for one domain.
type Session struct {
	Domain   Domain
	Material SessionMaterial
	Fresh    bool
}

// Freshness is the answer of the session manager to "can I sign for this domain".
type Freshness int

const (
	Fresh Freshness = iota
	NeedsRequest
)

func (f Freshness) String() string {
	if f == Fresh {
		return "fresh"
	}
	return "needs_request"
}

// Signed is the output of signing a payload with session material.
type Signed struct {
	Body          []byte
	SignatureData []byte
}
