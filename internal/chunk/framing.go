package chunk

import (
	"encoding/binary"
	"fmt"

	"github.com/bft-labs/keylink/internal/domain"
)

// PrefixLen is the size of the big-endian body length prefix.
const PrefixLen = 2

// Frame prepends the length prefix to body.
func Frame(body []byte, maxMessageSize int) ([]byte, error) {
	if len(body) > maxMessageSize-PrefixLen {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", domain.ErrMessageTooLarge, len(body), maxMessageSize-PrefixLen)
	}
	framed := make([]byte, PrefixLen+len(body))
	binary.BigEndian.PutUint16(framed, uint16(len(body)))
	copy(framed[PrefixLen:], body)
	return framed, nil
}

// Split cuts framed into units of at most unitSize bytes. The last unit may
// be shorter.
func Split(framed []byte, unitSize int) [][]byte {
	units := make([][]byte, 0, (len(framed)+unitSize-1)/unitSize)
	for off := 0; off < len(framed); off += unitSize {
		end := off + unitSize
		if end > len(framed) {
			end = len(framed)
		}
		unit := make([]byte, end-off)
		copy(unit, framed[off:end])
		units = append(units, unit)
	}
	return units
}

// Fragment frames body and splits it into transport units.
func Fragment(body []byte, cfg Config) ([]domain.TxUnit, error) {
	framed, err := Frame(body, cfg.MaxMessageSize)
	if err != nil {
		return nil, err
	}
	parts := Split(framed, cfg.UnitSize)
	units := make([]domain.TxUnit, len(parts))
	for i, p := range parts {
		units[i] = domain.TxUnit{Data: p, Ack: cfg.AckWrites}
	}
	return units, nil
}
