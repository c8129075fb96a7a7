package crypto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bft-labs/keylink/internal/adapters/protocol"
	"github.com/bft-labs/keylink/internal/domain"
)

// SessionInfoStatus is the vehicle's answer to a session info request.
type SessionInfoStatus int

const (
	SessionInfoOK SessionInfoStatus = iota
	SessionInfoKeyNotOnWhitelist
)

const (
	fieldInfoCounter   protowire.Number = 1
	fieldInfoPublicKey protowire.Number = 2
	fieldInfoEpoch     protowire.Number = 3
	fieldInfoClockTime protowire.Number = 4
	fieldInfoStatus    protowire.Number = 5

	fieldSigSigner  protowire.Number = 1
	fieldSigEpoch   protowire.Number = 2
	fieldSigNonce   protowire.Number = 3
	fieldSigCounter protowire.Number = 4
	fieldSigTag     protowire.Number = 5

	fieldAADDomain  protowire.Number = 1
	fieldAADEpoch   protowire.Number = 2
	fieldAADCounter protowire.Number = 3
)

// SessionInfo is the vehicle's session state as sent in a handshake reply.
type SessionInfo struct {
	Counter   uint32
	PublicKey []byte
	Epoch     []byte
	ClockTime uint32
	Status    SessionInfoStatus
}

// EncodeSessionInfo serializes si.
func EncodeSessionInfo(si SessionInfo) []byte {
	var b []byte
	b = protocol.AppendVarint(b, fieldInfoCounter, uint64(si.Counter))
	b = protocol.AppendBytes(b, fieldInfoPublicKey, si.PublicKey)
	b = protocol.AppendBytes(b, fieldInfoEpoch, si.Epoch)
	b = protocol.AppendFixed32(b, fieldInfoClockTime, si.ClockTime)
	if si.Status != SessionInfoOK {
		b = protocol.AppendVarint(b, fieldInfoStatus, uint64(si.Status))
	}
	return b
}

// DecodeSessionInfo parses session info. Errors wrap domain.ErrDecode.
func DecodeSessionInfo(b []byte) (SessionInfo, error) {
	var si SessionInfo
	err := protocol.Walk(b, func(f protocol.Field) error {
		switch f.Num {
		case fieldInfoCounter:
			si.Counter = uint32(f.Value)
		case fieldInfoPublicKey:
			si.PublicKey = append([]byte(nil), f.Bytes...)
		case fieldInfoEpoch:
			si.Epoch = append([]byte(nil), f.Bytes...)
		case fieldInfoClockTime:
			si.ClockTime = uint32(f.Value)
		case fieldInfoStatus:
			si.Status = SessionInfoStatus(f.Value)
		}
		return nil
	})
	if err != nil {
		return SessionInfo{}, fmt.Errorf("session info: %w", err)
	}
	return si, nil
}

// Signature is the signature data attached to a signed command.
type Signature struct {
	Signer  []byte
	Epoch   []byte
	Nonce   []byte
	Counter uint32
	Tag     []byte
}

// EncodeSignature serializes s.
func EncodeSignature(s Signature) []byte {
	var b []byte
	b = protocol.AppendBytes(b, fieldSigSigner, s.Signer)
	b = protocol.AppendBytes(b, fieldSigEpoch, s.Epoch)
	b = protocol.AppendBytes(b, fieldSigNonce, s.Nonce)
	b = protocol.AppendVarint(b, fieldSigCounter, uint64(s.Counter))
	b = protocol.AppendBytes(b, fieldSigTag, s.Tag)
	return b
}

// DecodeSignature parses signature data. Errors wrap domain.ErrDecode.
func DecodeSignature(b []byte) (Signature, error) {
	var s Signature
	err := protocol.Walk(b, func(f protocol.Field) error {
		switch f.Num {
		case fieldSigSigner:
			s.Signer = append([]byte(nil), f.Bytes...)
		case fieldSigEpoch:
			s.Epoch = append([]byte(nil), f.Bytes...)
		case fieldSigNonce:
			s.Nonce = append([]byte(nil), f.Bytes...)
		case fieldSigCounter:
			s.Counter = uint32(f.Value)
		case fieldSigTag:
			s.Tag = append([]byte(nil), f.Bytes...)
		}
		return nil
	})
	if err != nil {
		return Signature{}, fmt.Errorf("signature data: %w", err)
	}
	return s, nil
}

// additionalData binds a ciphertext to its domain, epoch and counter.
func additionalData(d domain.Domain, epoch []byte, counter uint32) []byte {
	var b []byte
	b = protocol.AppendVarint(b, fieldAADDomain, uint64(d))
	b = protocol.AppendBytes(b, fieldAADEpoch, epoch)
	b = protocol.AppendVarint(b, fieldAADCounter, uint64(counter))
	return b
}
