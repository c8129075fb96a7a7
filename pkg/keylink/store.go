package keylink

import (
	"context"
	"path/filepath"
	"time"

	"github.com/bft-labs/keylink/internal/adapters/badgerstore"
	"github.com/bft-labs/keylink/internal/adapters/fs"
	"github.com/bft-labs/keylink/internal/domain"
	"github.com/bft-labs/keylink/internal/ports"
)

// StoredSession is a session as persisted in the state dir.
type StoredSession struct {
	Domain  Domain
	Counter uint32
	Epoch   []byte
	Updated time.Time
}

func badgerDir(stateDir string) string {
	return filepath.Join(stateDir, "sessions.db")
}

// openConfiguredStore opens the store named by cfg outside of a Client.
// A Badger store is locked while a Client using it runs.
func openConfiguredStore(cfg Config) (ports.SessionStore, func() error, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	switch cfg.SessionStore {
	case StoreFile:
		return fs.NewSessionFileStore(cfg.StateDir), func() error { return nil }, nil
	case StoreBadger:
		db, err := badgerstore.Open(badgerstore.Config{Dir: badgerDir(cfg.StateDir)}, nil)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	}
	return nil, func() error { return nil }, nil
}

// StoredSessions lists the sessions persisted for cfg.
func StoredSessions(ctx context.Context, cfg Config) ([]StoredSession, error) {
	store, closeStore, err := openConfiguredStore(cfg)
	if err != nil {
		return nil, err
	}
	defer closeStore()
	if store == nil {
		return nil, nil
	}

	var out []StoredSession
	for _, d := range domain.SessionDomains {
		m, found, err := store.Load(ctx, d)
		if err != nil {
			return out, err
		}
		if !found {
			continue
		}
		out = append(out, StoredSession{
			Domain:  d,
			Counter: m.Counter,
			Epoch:   m.Epoch,
			Updated: m.UpdatedAt,
		})
	}
	return out, nil
}

// ForgetSessions deletes every session persisted for cfg, forcing a
// handshake on the next command of each domain.
func ForgetSessions(ctx context.Context, cfg Config) error {
	store, closeStore, err := openConfiguredStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	if store == nil {
		return nil
	}
	for _, d := range domain.SessionDomains {
		if err := store.Delete(ctx, d); err != nil {
			return err
		}
	}
	return nil
}
