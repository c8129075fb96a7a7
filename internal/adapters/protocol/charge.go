package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bft-labs/keylink/internal/domain"
)

const (
	fieldResponseVehicleData protowire.Number = 1
	fieldVehicleDataCharge   protowire.Number = 3

	fieldChargeBatteryLevel protowire.Number = 1
	fieldChargeLimit        protowire.Number = 2
	fieldChargeAmps         protowire.Number = 3
	fieldChargeCharging     protowire.Number = 4
)

// ChargeState is the charge section of an infotainment data response.
type ChargeState struct {
	BatteryLevel int32
	ChargeLimit  int32
	ChargingAmps int32
	Charging     bool
}

// EncodeChargeState builds an infotainment response carrying cs.
func EncodeChargeState(cs ChargeState) []byte {
	var body []byte
	body = AppendVarint(body, fieldChargeBatteryLevel, uint64(cs.BatteryLevel))
	body = AppendVarint(body, fieldChargeLimit, uint64(cs.ChargeLimit))
	body = AppendVarint(body, fieldChargeAmps, uint64(cs.ChargingAmps))
	body = AppendVarint(body, fieldChargeCharging, protowire.EncodeBool(cs.Charging))
	data := AppendBytes(nil, fieldVehicleDataCharge, body)
	return AppendBytes(nil, fieldResponseVehicleData, data)
}

// DecodeChargeState extracts the charge section of an infotainment response.
func DecodeChargeState(b []byte) (ChargeState, error) {
	var (
		cs    ChargeState
		found bool
	)
	err := Walk(b, func(f Field) error {
		if f.Num != fieldResponseVehicleData {
			return nil
		}
		return Walk(f.Bytes, func(df Field) error {
			if df.Num != fieldVehicleDataCharge {
				return nil
			}
			found = true
			return Walk(df.Bytes, func(cf Field) error {
				switch cf.Num {
				case fieldChargeBatteryLevel:
					cs.BatteryLevel = int32(cf.Value)
				case fieldChargeLimit:
					cs.ChargeLimit = int32(cf.Value)
				case fieldChargeAmps:
					cs.ChargingAmps = int32(cf.Value)
				case fieldChargeCharging:
					cs.Charging = protowire.DecodeBool(cf.Value)
				}
				return nil
			})
		})
	})
	if err != nil {
		return ChargeState{}, err
	}
	if !found {
		return ChargeState{}, fmt.Errorf("%w: no charge state", domain.ErrDecode)
	}
	return cs, nil
}
