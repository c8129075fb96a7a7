package protocol

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bft-labs/keylink/internal/domain"
)

// FromVCSEC message fields.
const (
	fieldVCSECVehicleStatus protowire.Number = 1
	fieldVCSECCommandStatus protowire.Number = 2

	fieldStatusLock        protowire.Number = 1
	fieldStatusSleep       protowire.Number = 2
	fieldStatusUserPresent protowire.Number = 3

	fieldCommandOperation protowire.Number = 1
)

// Wire values of the VCSEC status enums.
const (
	lockUnlocked = 0
	lockLocked   = 1

	sleepUnknown = 0
	sleepAwake   = 1
	sleepAsleep  = 2

	presenceUnknown    = 0
	presenceNotPresent = 1
	presencePresent    = 2
)

// EncodeVehicleStatus builds a FromVCSEC message carrying a status report.
func EncodeVehicleStatus(vs domain.VehicleStatus) []byte {
	lock := uint64(lockUnlocked)
	if vs.Locked {
		lock = lockLocked
	}
	sleep := uint64(sleepUnknown)
	switch vs.Sleep {
	case domain.SleepAwake:
		sleep = sleepAwake
	case domain.SleepAsleep:
		sleep = sleepAsleep
	}
	presence := uint64(presenceNotPresent)
	if vs.UserPresent {
		presence = presencePresent
	}

	var body []byte
	body = AppendVarint(body, fieldStatusLock, lock)
	body = AppendVarint(body, fieldStatusSleep, sleep)
	body = AppendVarint(body, fieldStatusUserPresent, presence)
	return AppendBytes(nil, fieldVCSECVehicleStatus, body)
}

// DecodeVehicleStatus extracts a status report from a FromVCSEC message. It
// reports false when b carries no status report.
func DecodeVehicleStatus(b []byte) (domain.VehicleStatus, bool) {
	var (
		vs    domain.VehicleStatus
		found bool
	)
	err := Walk(b, func(f Field) error {
		if f.Num != fieldVCSECVehicleStatus || f.Type != protowire.BytesType {
			return nil
		}
		found = true
		return Walk(f.Bytes, func(sf Field) error {
			switch sf.Num {
			case fieldStatusLock:
				vs.Locked = sf.Value == lockLocked
			case fieldStatusSleep:
				switch sf.Value {
				case sleepAwake:
					vs.Sleep = domain.SleepAwake
				case sleepAsleep:
					vs.Sleep = domain.SleepAsleep
				default:
					vs.Sleep = domain.SleepUnknown
				}
			case fieldStatusUserPresent:
				vs.UserPresent = sf.Value == presencePresent
			}
			return nil
		})
	})
	if err != nil || !found {
		return domain.VehicleStatus{}, false
	}
	return vs, true
}

// EncodeCommandAck builds a FromVCSEC message acknowledging an RKE action.
func EncodeCommandAck() []byte {
	return AppendBytes(nil, fieldVCSECCommandStatus, AppendVarint(nil, fieldCommandOperation, 0))
}
