package chunk

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/bft-labs/keylink/internal/domain"
)

// Reassembler accumulates inbound units into one message at a time.
type Reassembler struct {
	maxSize int
	buf     []byte
	lastRx  time.Time
}

// NewReassembler creates a reassembler bounded by maxSize framed bytes.
func NewReassembler(maxSize int) *Reassembler {
	return &Reassembler{maxSize: maxSize}
}

// Push appends a unit. It returns the message once the declared length has
// arrived. A length the buffer can never hold, or an overflowing buffer,
// discards everything accumulated and returns an error wrapping
// domain.ErrFraming.
func (r *Reassembler) Push(u domain.RxUnit) (domain.Message, bool, error) {
	if len(r.buf)+len(u.Data) > r.maxSize {
		size := len(r.buf) + len(u.Data)
		r.Reset()
		return domain.Message{}, false, fmt.Errorf("%w: buffer overflow at %d bytes", domain.ErrFraming, size)
	}
	r.buf = append(r.buf, u.Data...)
	r.lastRx = u.ReceivedAt

	if len(r.buf) < PrefixLen {
		return domain.Message{}, false, nil
	}
	n := int(binary.BigEndian.Uint16(r.buf))
	if n > r.maxSize-PrefixLen {
		r.Reset()
		return domain.Message{}, false, fmt.Errorf("%w: declared length %d exceeds %d", domain.ErrFraming, n, r.maxSize-PrefixLen)
	}
	if len(r.buf) < PrefixLen+n {
		return domain.Message{}, false, nil
	}

	body := make([]byte, n)
	copy(body, r.buf[PrefixLen:PrefixLen+n])
	r.Reset()
	return domain.Message{Bytes: body, ReceivedAt: u.ReceivedAt}, true, nil
}

// Pending reports whether a partial message is buffered.
func (r *Reassembler) Pending() bool {
	return len(r.buf) > 0
}

// Buffered returns the number of bytes accumulated so far.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Expired reports whether a partial message has been idle longer than timeout.
func (r *Reassembler) Expired(now time.Time, timeout time.Duration) bool {
	return r.Pending() && now.Sub(r.lastRx) > timeout
}

// Reset discards the buffer.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.lastRx = time.Time{}
}
