package ports

import (
	"context"

	"github.com/bft-labs/keylink/internal/domain"
)

// SessionStore persists per-domain session material.
// Implementations must write atomically so a crash never leaves a torn record.
type SessionStore interface {
	// Load retrieves the material saved for d.
	// Returns found=false and a nil error if nothing was saved.
	// Returns an error only for actual read failures.
	Load(ctx context.Context, d domain.Domain) (m domain.SessionMaterial, found bool, err error)

	// Save persists the material for d, replacing any previous value.
	Save(ctx context.Context, d domain.Domain, m domain.SessionMaterial) error

	// Delete removes the material for d. Deleting a missing record is not an error.
	Delete(ctx context.Context, d domain.Domain) error
}
