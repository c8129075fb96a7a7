package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bft-labs/keylink/internal/domain"
)

const (
	// Infotainment Action.
	fieldActionVehicleAction protowire.Number = 2
	// VehicleAction.getVehicleData.
	fieldVehicleActionGetData protowire.Number = 1
	// Parameter inside a vehicle action sub-message.
	fieldActionValue protowire.Number = 1

	// VCSEC UnsignedMessage.
	fieldUnsignedInformationRequest protowire.Number = 1
	fieldUnsignedRKEAction          protowire.Number = 2
	fieldInformationRequestType     protowire.Number = 1
)

// Payloads is the ports.PayloadEncoder driven by domain.Actions.
type Payloads struct{}

// EncodePayload builds the logical message for p.
func (Payloads) EncodePayload(p domain.Payload) ([]byte, error) {
	spec, err := p.Spec()
	if err != nil {
		return nil, err
	}
	tag := protowire.Number(spec.FieldTag)

	switch spec.Kind {
	case domain.MessageGetVehicleData:
		data := AppendBytes(nil, tag, nil)
		action := AppendBytes(nil, fieldVehicleActionGetData, data)
		return AppendBytes(nil, fieldActionVehicleAction, action), nil

	case domain.MessageVehicleAction:
		var param []byte
		switch spec.Param {
		case domain.ParamBool:
			param = AppendVarint(param, fieldActionValue, protowire.EncodeBool(p.Value != 0))
		case domain.ParamInt:
			param = AppendVarint(param, fieldActionValue, uint64(int64(p.Value)))
		}
		action := AppendBytes(nil, tag, param)
		return AppendBytes(nil, fieldActionVehicleAction, action), nil

	case domain.MessageRKEAction:
		return AppendVarint(nil, fieldUnsignedRKEAction, uint64(spec.FieldTag)), nil

	case domain.MessageInformationRequest:
		req := AppendVarint(nil, fieldInformationRequestType, uint64(spec.FieldTag))
		return AppendBytes(nil, fieldUnsignedInformationRequest, req), nil
	}
	return nil, fmt.Errorf("%w: %s has unknown message kind", domain.ErrInvalidPayload, spec.Name)
}

// DecodePayload is the inverse of EncodePayload for messages addressed to d.
func DecodePayload(d domain.Domain, b []byte) (domain.Payload, error) {
	var (
		p     domain.Payload
		found bool
	)
	match := func(kind domain.MessageKind, tag int32) error {
		for _, spec := range domain.Actions {
			if spec.Domain == d && spec.Kind == kind && spec.FieldTag == tag {
				p.Action = spec.Action
				found = true
				return nil
			}
		}
		return fmt.Errorf("%w: no %s action with tag %d", domain.ErrDecode, kind, tag)
	}

	var err error
	switch d {
	case domain.DomainVCSEC:
		err = Walk(b, func(f Field) error {
			switch f.Num {
			case fieldUnsignedRKEAction:
				return match(domain.MessageRKEAction, int32(f.Value))
			case fieldUnsignedInformationRequest:
				var typ int32
				if err := Walk(f.Bytes, func(rf Field) error {
					if rf.Num == fieldInformationRequestType {
						typ = int32(rf.Value)
					}
					return nil
				}); err != nil {
					return err
				}
				return match(domain.MessageInformationRequest, typ)
			}
			return nil
		})

	case domain.DomainInfotainment:
		err = Walk(b, func(f Field) error {
			if f.Num != fieldActionVehicleAction {
				return nil
			}
			return Walk(f.Bytes, func(af Field) error {
				if af.Num == fieldVehicleActionGetData {
					return Walk(af.Bytes, func(gf Field) error {
						return match(domain.MessageGetVehicleData, int32(gf.Num))
					})
				}
				if err := match(domain.MessageVehicleAction, int32(af.Num)); err != nil {
					return err
				}
				return Walk(af.Bytes, func(pf Field) error {
					if pf.Num == fieldActionValue {
						p.Value = int32(int64(pf.Value))
					}
					return nil
				})
			})
		})

	default:
		return domain.Payload{}, fmt.Errorf("%w: %s carries no payloads", domain.ErrDecode, d)
	}
	if err != nil {
		return domain.Payload{}, err
	}
	if !found {
		return domain.Payload{}, fmt.Errorf("%w: empty payload", domain.ErrDecode)
	}
	return p, nil
}
