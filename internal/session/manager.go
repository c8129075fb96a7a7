// Package session keeps one cryptographic session per vehicle domain and
// decides when a new handshake is needed.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/bft-labs/keylink/internal/domain"
	"github.com/bft-labs/keylink/internal/ports"
)

// Manager owns the session table. It is not safe for concurrent use; the
// engine calls it from its tick only.
type Manager struct {
	ctx      context.Context
	codec    ports.SessionCodec
	store    ports.SessionStore
	clock    ports.Clock
	logger   ports.Logger
	emitter  ports.EventEmitter
	sessions map[domain.Domain]*domain.Session
}

// NewManager creates a manager with a stale session for every
// session-bearing domain. store may be nil, in which case sessions live in
// memory only.
func NewManager(codec ports.SessionCodec, store ports.SessionStore, clock ports.Clock, logger ports.Logger, emitter ports.EventEmitter) *Manager {
	if emitter == nil {
		emitter = ports.NoopEmitter{}
	}
	m := &Manager{
		ctx:      context.Background(),
		codec:    codec,
		store:    store,
		clock:    clock,
		logger:   logger,
		emitter:  emitter,
		sessions: make(map[domain.Domain]*domain.Session, len(domain.SessionDomains)),
	}
	for _, d := range domain.SessionDomains {
		m.sessions[d] = &domain.Session{Domain: d}
	}
	return m
}

// Load restores persisted sessions. Material that cannot be read or that the
// codec rejects leaves the session stale; only context cancellation is
// returned as an error. ctx is kept for the counter writes made by Sign.
func (m *Manager) Load(ctx context.Context) error {
	m.ctx = ctx
	if m.store == nil {
		return nil
	}
	for _, d := range domain.SessionDomains {
		if err := ctx.Err(); err != nil {
			return err
		}
		mat, found, err := m.store.Load(ctx, d)
		if err != nil {
			m.logger.Warn("session load failed, will handshake",
				ports.Stringer("domain", d), ports.Err(err))
			continue
		}
		if !found {
			m.logger.Debug("no persisted session", ports.Stringer("domain", d))
			continue
		}
		if err := m.codec.Restore(d, mat); err != nil {
			m.logger.Warn("persisted session rejected, will handshake",
				ports.Stringer("domain", d), ports.Err(err))
			continue
		}
		s := m.sessions[d]
		s.Material = mat
		s.Fresh = true
		m.logger.Info("session restored",
			ports.Stringer("domain", d),
			ports.Uint64("counter", uint64(mat.Counter)),
		)
	}
	return nil
}

// EnsureFresh reports whether d can be signed for right now. Domains without
// sessions are always fresh.
func (m *Manager) EnsureFresh(d domain.Domain) domain.Freshness {
	if !d.RequiresSession() {
		return domain.Fresh
	}
	if s, ok := m.sessions[d]; ok && s.Fresh {
		return domain.Fresh
	}
	return domain.NeedsRequest
}

// RequestHandshake returns the public key for a session info request to d.
func (m *Manager) RequestHandshake(d domain.Domain) ([]byte, error) {
	if !d.RequiresSession() {
		return nil, fmt.Errorf("%w: %s has no session", domain.ErrUnknownDomain, d)
	}
	return m.codec.BuildHandshakeRequest(d)
}

// HandleSessionResponse validates session info from the vehicle and, on
// success, makes the session fresh and persists it. A persistence failure is
// logged and does not affect freshness. A validation failure invalidates the
// session and is returned.
func (m *Manager) HandleSessionResponse(ctx context.Context, d domain.Domain, info []byte) error {
	s, ok := m.sessions[d]
	if !ok {
		return fmt.Errorf("%w: session info for %s", domain.ErrUnknownDomain, d)
	}
	mat, err := m.codec.ValidateHandshakeResponse(d, info)
	if err != nil {
		m.Invalidate(ctx, d, err.Error())
		return err
	}
	mat.UpdatedAt = m.clock.Now()
	s.Material = mat
	s.Fresh = true
	m.emitter.OnSessionRefreshed(d)
	m.logger.Info("session established",
		ports.Stringer("domain", d),
		ports.Uint64("counter", uint64(mat.Counter)),
		ports.Hex("epoch", mat.Epoch),
	)

	if m.store != nil {
		if err := m.store.Save(ctx, d, mat); err != nil {
			m.logger.Warn("session persist failed, continuing in memory",
				ports.Stringer("domain", d), ports.Err(err))
		}
	}
	return nil
}

// Invalidate marks d stale and erases its persisted copy, best effort.
func (m *Manager) Invalidate(ctx context.Context, d domain.Domain, reason string) {
	s, ok := m.sessions[d]
	if !ok {
		return
	}
	wasFresh := s.Fresh
	s.Fresh = false
	s.Material = domain.SessionMaterial{}
	if wasFresh {
		m.emitter.OnSessionInvalidated(d)
	}
	m.logger.Warn("session invalidated",
		ports.Stringer("domain", d), ports.String("reason", reason))

	if m.store != nil {
		if err := m.store.Delete(ctx, d); err != nil {
			m.logger.Warn("session erase failed", ports.Stringer("domain", d), ports.Err(err))
		}
	}
}

// Sign authenticates payload with the session for d, advancing its counter.
// Signing against a stale session fails with domain.ErrSessionStale and
// never touches the codec.
func (m *Manager) Sign(d domain.Domain, payload []byte) (domain.Signed, error) {
	if !d.RequiresSession() {
		return domain.Signed{Body: payload}, nil
	}
	s, ok := m.sessions[d]
	if !ok || !s.Fresh {
		return domain.Signed{}, fmt.Errorf("sign for %s: %w", d, domain.ErrSessionStale)
	}
	signed, err := m.codec.Sign(d, &s.Material, payload)
	if err != nil {
		return domain.Signed{}, fmt.Errorf("sign for %s: %w", d, err)
	}

	// A restart must not reuse a counter the vehicle has already seen.
	if m.store != nil {
		s.Material.UpdatedAt = m.clock.Now()
		if err := m.store.Save(m.ctx, d, s.Material); err != nil {
			m.logger.Warn("session counter persist failed",
				ports.Stringer("domain", d), ports.Err(err))
		}
	}
	return signed, nil
}

// Session returns a copy of the session for d.
func (m *Manager) Session(d domain.Domain) (domain.Session, bool) {
	s, ok := m.sessions[d]
	if !ok {
		return domain.Session{}, false
	}
	cp := *s
	cp.Material.Epoch = append([]byte(nil), s.Material.Epoch...)
	cp.Material.PeerKey = append([]byte(nil), s.Material.PeerKey...)
	return cp, true
}

// Sessions returns copies of all sessions in load order.
func (m *Manager) Sessions() []domain.Session {
	out := make([]domain.Session, 0, len(domain.SessionDomains))
	for _, d := range domain.SessionDomains {
		s, _ := m.Session(d)
		out = append(out, s)
	}
	return out
}

// IsAuthRejection reports whether err means the vehicle does not know our key.
func IsAuthRejection(err error) bool {
	return errors.Is(err, domain.ErrKeyNotPaired)
}
