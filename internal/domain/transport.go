package domain

import "time"

// TxUnit is one outbound transport fragment.
type TxUnit struct {
	Data       []byte
	Ack        bool
	SentAt     time.Time
	RetryCount int
}

// RxUnit is one inbound transport fragment.
type RxUnit struct {
	Data       []byte
	ReceivedAt time.Time
}

// Message is a complete reassembled inbound message, length prefix removed.
type Message struct {
	Bytes      []byte
	ReceivedAt time.Time
}

// LinkEventKind enumerates the events a link reports.
type LinkEventKind int

const (
	LinkWriteConfirmed LinkEventKind = iota
	LinkWriteFailed
	LinkUnitReceived
)

func (k LinkEventKind) String() string {
	switch k {
	case LinkWriteConfirmed:
		return "write_confirmed"
	case LinkWriteFailed:
		return "write_failed"
	case LinkUnitReceived:
		return "unit_received"
	default:
		return "unknown"
	}
}

// LinkEvent is reported by the physical link and consumed on a later tick.
type LinkEvent struct {
	Kind LinkEventKind
	Data []byte
	Err  error
}
