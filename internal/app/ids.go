package app

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// idSource issues command IDs (ULIDs, sortable by enqueue time) and
// per-transmission request IDs (16-byte UUIDs echoed by the vehicle).
// It is used from the engine goroutine only.
type idSource struct {
	entropy io.Reader
}

func newIDSource() *idSource {
	return &idSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (s *idSource) commandID(now time.Time) string {
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		// Monotonic entropy overflows only after 2^80 IDs in one millisecond.
		return ulid.Make().String()
	}
	return id.String()
}

func (s *idSource) requestID() []byte {
	id := uuid.New()
	return id[:]
}
