package ports

import (
	"time"

	"github.com/bft-labs/keylink/internal/domain"
)

// Link is the physical half-duplex channel to the vehicle.
// WriteUnit must not block; its outcome arrives later as a domain.LinkEvent
// (LinkWriteConfirmed or LinkWriteFailed) and inbound fragments arrive as
// LinkUnitReceived.
type Link interface {
	WriteUnit(data []byte, ackRequired bool) error
}

// LinkEventSink receives events reported by a Link.
type LinkEventSink interface {
	Deliver(ev domain.LinkEvent)
}

// Clock is a monotonic time source. Tests inject a fake.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock, which carries a monotonic reading.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// StatusSink receives unsolicited vehicle state pushes.
type StatusSink interface {
	OnStatus(d domain.Domain, status *domain.VehicleStatus, raw []byte)
}
