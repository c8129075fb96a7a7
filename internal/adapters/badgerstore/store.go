// Package badgerstore implements ports.SessionStore on an embedded Badger
// database.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"github.com/bft-labs/keylink/internal/adapters/log"
	"github.com/bft-labs/keylink/internal/domain"
	"github.com/bft-labs/keylink/internal/ports"
)

const keyPrefix = "session/"

// Config configures the store.
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps the database in memory only.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool
}

// Store is a Badger-backed session store.
type Store struct {
	db     *badger.DB
	logger ports.Logger
}

// Open opens or creates the database described by cfg.
func Open(cfg Config, logger ports.Logger) (*Store, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = &badgerLogger{logger: logger}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Load reads the session saved for d.
func (s *Store) Load(ctx context.Context, d domain.Domain) (domain.SessionMaterial, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionMaterial{}, false, err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(d))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.SessionMaterial{}, false, nil
	}
	if err != nil {
		return domain.SessionMaterial{}, false, fmt.Errorf("badger: get %s: %w", d, err)
	}

	var m domain.SessionMaterial
	if err := json.Unmarshal(value, &m); err != nil {
		return domain.SessionMaterial{}, false, fmt.Errorf("badger: decode %s: %w", d, err)
	}
	return m, true, nil
}

// Save stores the session for d in a single transaction.
func (s *Store) Save(ctx context.Context, d domain.Domain, m domain.SessionMaterial) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(d), value)
	})
}

// Delete removes the session for d.
func (s *Store) Delete(ctx context.Context, d domain.Domain) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(d))
	})
}

// Domains lists the domains with a stored session.
func (s *Store) Domains() ([]domain.Domain, error) {
	var out []domain.Domain
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			name := string(it.Item().Key()[len(keyPrefix):])
			d, err := domain.ParseDomain(name)
			if err != nil {
				s.logger.Warn("unknown session key in store", ports.String("key", name))
				continue
			}
			out = append(out, d)
		}
		return nil
	})
	return out, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(d domain.Domain) []byte {
	return []byte(keyPrefix + d.String())
}

// badgerLogger adapts ports.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger ports.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
