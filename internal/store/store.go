// Package store is the durable, versioned claim repository backed by BadgerDB.
//
// Writes are serialized per claim id through keyed locks and checked
// optimistically against revision numbers; reads never lock. Every committed
// change is announced to subscribers as an Event.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ppiankov/claimledger/internal/logging"
	"github.com/ppiankov/claimledger/internal/model"
	"go.uber.org/zap"
)

// maxConflictRetries bounds retries of transactions badger aborted on conflict
const maxConflictRetries = 3

// Store is the single source of truth for claims and their edges
type Store struct {
	db     *badger.DB
	locks  *keyLocks
	events *broker
	gc     *gcRunner
	logger *zap.Logger
	now    func() time.Time
}

// Option customizes a Store
type Option func(*Store)

// WithClock overrides the clock used to stamp revisions
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (or creates) the store described by cfg
func Open(cfg model.StoreConfig, logger *zap.Logger, opts ...Option) (*Store, error) {
	logger = logging.OrNop(logger).Named("store")

	db, err := openBadger(cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:     db,
		locks:  newKeyLocks(),
		events: newBroker(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, logger)
		s.gc.start()
	}

	logger.Debug("store opened", zap.String("path", cfg.Path), zap.Bool("in_memory", cfg.InMemory))
	return s, nil
}

// OpenInMemory opens a throwaway store for tests
func OpenInMemory(opts ...Option) (*Store, error) {
	return Open(model.StoreConfig{InMemory: true}, nil, opts...)
}

// Close stops background work and closes the database
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// Subscribe registers fn for every committed event and returns the unsubscribe func
func (s *Store) Subscribe(fn func(Event)) func() {
	return s.events.subscribe(fn)
}

// Tx runs fn in one read-write transaction holding the write locks of ids
// fn must confine its writes to those ids and must be safe to re-run: it is
// retried when badger reports a commit conflict.
func (s *Store) Tx(ctx context.Context, ids []model.ClaimID, fn func(tx *Tx) error) error {
	unlock, err := s.locks.Lock(ctx, ids...)
	if err != nil {
		return fmt.Errorf("acquire claim locks: %w", err)
	}
	defer unlock()

	var events []Event
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		events, err = s.runTx(ids, fn)
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			s.logger.Debug("transaction conflict, retrying", zap.Int("attempt", attempt+1))
			continue
		}
		break
	}
	if errors.Is(err, badger.ErrConflict) {
		return model.Errorf(model.ErrStaleRevision, "concurrent write conflict, re-read and retry")
	}
	if err != nil {
		return err
	}

	s.events.publish(events)
	return nil
}

func (s *Store) runTx(ids []model.ClaimID, fn func(tx *Tx) error) ([]Event, error) {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	tx := newTx(txn, s.now(), ids)
	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}
	return tx.events, nil
}

// View runs fn against a read-only view of the latest committed state
func (s *Store) View(fn func(v View) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		return fn(reader{txn: txn})
	})
}

// Put stores a new claim and returns its id
func (s *Store) Put(ctx context.Context, c *model.Claim) (model.ClaimID, error) {
	err := s.Tx(ctx, []model.ClaimID{c.ID}, func(tx *Tx) error {
		return tx.Insert(c, "created")
	})
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// Get returns a copy of the stored claim
func (s *Store) Get(ctx context.Context, id model.ClaimID) (*model.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var c *model.Claim
	err := s.View(func(v View) error {
		var err error
		c, err = v.Get(id)
		return err
	})
	return c, err
}

// AppendEvidence appends one evidence item and returns the new revision of the claim
func (s *Store) AppendEvidence(ctx context.Context, id model.ClaimID, ifRevision uint64, item model.EvidenceItem) (*model.Claim, error) {
	var c *model.Claim
	err := s.Tx(ctx, []model.ClaimID{id}, func(tx *Tx) error {
		var err error
		c, err = tx.AppendEvidence(id, ifRevision, item)
		return err
	})
	return c, err
}

// Snapshot opens a point-in-time read view; the caller must Close it
func (s *Store) Snapshot() *Snapshot {
	return &Snapshot{
		reader: reader{txn: s.db.NewTransaction(false)},
		at:     s.now(),
	}
}
