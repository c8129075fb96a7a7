package protocol

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bft-labs/keylink/internal/domain"
)

const (
	fieldToDestination      protowire.Number = 6
	fieldFromDestination    protowire.Number = 7
	fieldPayload            protowire.Number = 10
	fieldStatus             protowire.Number = 12
	fieldSignatureData      protowire.Number = 13
	fieldSessionInfoRequest protowire.Number = 14
	fieldSessionInfo        protowire.Number = 15
	fieldRequestUUID        protowire.Number = 50

	fieldDestDomain  protowire.Number = 1
	fieldDestAddress protowire.Number = 2

	fieldStatusOperation protowire.Number = 1
	fieldStatusFault     protowire.Number = 2

	fieldRequestPublicKey protowire.Number = 1
)

// AddressLen is the length of a controller routing address.
const AddressLen = 16

// RequestIDLen is the length of a request UUID.
const RequestIDLen = 16

// NewAddress returns a random routing address.
func NewAddress() []byte {
	id := uuid.New()
	return id[:]
}

// Codec is a ports.MessageCodec for one endpoint. A controller codec fills
// in its routing address as the sender and refuses messages addressed to
// another controller. A codec without an address (the vehicle side) does
// neither.
type Codec struct {
	address []byte
}

// NewCodec creates a codec for the controller at address. A nil address
// creates a vehicle-side codec.
func NewCodec(address []byte) (*Codec, error) {
	if address != nil && len(address) != AddressLen {
		return nil, fmt.Errorf("routing address must be %d bytes, got %d", AddressLen, len(address))
	}
	return &Codec{address: append([]byte(nil), address...)}, nil
}

// Address returns the codec's routing address.
func (c *Codec) Address() []byte {
	return append([]byte(nil), c.address...)
}

// Encode serializes env.
func (c *Codec) Encode(env domain.Envelope) ([]byte, error) {
	if n := len(env.RequestID); n != 0 && n != RequestIDLen {
		return nil, fmt.Errorf("request id must be %d bytes, got %d", RequestIDLen, n)
	}
	from := env.FromAddress
	if len(from) == 0 && env.From == domain.DomainBroadcast {
		from = c.address
	}
	if len(from) != 0 && len(from) != AddressLen {
		return nil, fmt.Errorf("from address must be %d bytes, got %d", AddressLen, len(from))
	}
	if n := len(env.ToAddress); n != 0 && n != AddressLen {
		return nil, fmt.Errorf("to address must be %d bytes, got %d", AddressLen, n)
	}

	var b []byte
	b = AppendBytes(b, fieldToDestination, destination(env.To, env.ToAddress))
	b = AppendBytes(b, fieldFromDestination, destination(env.From, from))

	switch env.Kind {
	case domain.EnvelopePayload:
		b = AppendBytes(b, fieldPayload, env.Body)
	case domain.EnvelopeSessionInfoRequest:
		b = AppendBytes(b, fieldSessionInfoRequest, AppendBytes(nil, fieldRequestPublicKey, env.PublicKey))
	case domain.EnvelopeSessionInfo:
		b = AppendBytes(b, fieldSessionInfo, env.SessionInfo)
	default:
		return nil, fmt.Errorf("unknown envelope kind %d", env.Kind)
	}

	if env.Status != domain.OperationOK || env.Fault != domain.FaultNone {
		var st []byte
		st = AppendVarint(st, fieldStatusOperation, uint64(env.Status))
		st = AppendVarint(st, fieldStatusFault, uint64(env.Fault))
		b = AppendBytes(b, fieldStatus, st)
	}
	if len(env.SignatureData) > 0 {
		b = AppendBytes(b, fieldSignatureData, env.SignatureData)
	}
	if len(env.RequestID) > 0 {
		b = AppendBytes(b, fieldRequestUUID, env.RequestID)
	}
	return b, nil
}

func destination(d domain.Domain, address []byte) []byte {
	if len(address) > 0 {
		return AppendBytes(nil, fieldDestAddress, address)
	}
	return AppendVarint(nil, fieldDestDomain, uint64(d))
}

// Decode parses a routable message. A message from VCSEC whose body is a
// vehicle status report has Vehicle set.
func (c *Codec) Decode(b []byte) (domain.Envelope, error) {
	var (
		env         domain.Envelope
		haveTo      bool
		haveFrom    bool
		haveInfo    bool
		haveInfoReq bool
	)
	err := Walk(b, func(f Field) error {
		var err error
		switch f.Num {
		case fieldToDestination:
			haveTo = true
			env.To, env.ToAddress, err = parseDestination(f.Bytes)
		case fieldFromDestination:
			haveFrom = true
			env.From, env.FromAddress, err = parseDestination(f.Bytes)
		case fieldPayload:
			env.Body = clone(f.Bytes)
		case fieldStatus:
			err = Walk(f.Bytes, func(sf Field) error {
				switch sf.Num {
				case fieldStatusOperation:
					env.Status = domain.OperationStatus(sf.Value)
				case fieldStatusFault:
					env.Fault = domain.MessageFault(sf.Value)
				}
				return nil
			})
		case fieldSignatureData:
			env.SignatureData = clone(f.Bytes)
		case fieldSessionInfoRequest:
			haveInfoReq = true
			err = Walk(f.Bytes, func(rf Field) error {
				if rf.Num == fieldRequestPublicKey {
					env.PublicKey = clone(rf.Bytes)
				}
				return nil
			})
		case fieldSessionInfo:
			haveInfo = true
			env.SessionInfo = clone(f.Bytes)
		case fieldRequestUUID:
			env.RequestID = clone(f.Bytes)
		}
		return err
	})
	if err != nil {
		return domain.Envelope{}, err
	}

	if !haveTo || !haveFrom {
		return domain.Envelope{}, fmt.Errorf("%w: missing destination", domain.ErrDecode)
	}
	if n := len(env.RequestID); n != 0 && n != RequestIDLen {
		return domain.Envelope{}, fmt.Errorf("%w: request uuid is %d bytes", domain.ErrDecode, n)
	}
	if len(c.address) > 0 && len(env.ToAddress) > 0 && !bytes.Equal(env.ToAddress, c.address) {
		return domain.Envelope{}, fmt.Errorf("%w: addressed to %x", domain.ErrWrongEndpoint, env.ToAddress)
	}

	switch {
	case haveInfo:
		env.Kind = domain.EnvelopeSessionInfo
	case haveInfoReq:
		env.Kind = domain.EnvelopeSessionInfoRequest
	default:
		env.Kind = domain.EnvelopePayload
	}

	if env.Kind == domain.EnvelopePayload && len(env.FromAddress) == 0 &&
		env.From == domain.DomainVCSEC && len(env.Body) > 0 {
		if vs, ok := DecodeVehicleStatus(env.Body); ok {
			env.Vehicle = &vs
		}
	}
	return env, nil
}

func parseDestination(b []byte) (domain.Domain, []byte, error) {
	var (
		d       domain.Domain
		address []byte
	)
	err := Walk(b, func(f Field) error {
		switch f.Num {
		case fieldDestDomain:
			d = domain.Domain(f.Value)
		case fieldDestAddress:
			address = clone(f.Bytes)
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	if address != nil && len(address) != AddressLen {
		return 0, nil, fmt.Errorf("%w: routing address is %d bytes", domain.ErrDecode, len(address))
	}
	return d, address, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
