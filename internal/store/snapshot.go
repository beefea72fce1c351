package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ppiankov/claimledger/internal/model"
)

// ctxCheckEvery is how many records a scan reads between cancellation checks
const ctxCheckEvery = 256

// Snapshot is a point-in-time, read-only view of the whole ledger
// Writes committed after the snapshot was taken are invisible to it.
type Snapshot struct {
	reader
	at time.Time
}

// At returns when the snapshot was taken
func (s *Snapshot) At() time.Time {
	return s.at
}

// Close releases the snapshot
func (s *Snapshot) Close() {
	s.txn.Discard()
}

// Claims loads every claim in the snapshot keyed by id
func (s *Snapshot) Claims(ctx context.Context) (map[model.ClaimID]*model.Claim, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = claimPrefix

	it := s.txn.NewIterator(opts)
	defer it.Close()

	claims := make(map[model.ClaimID]*model.Claim)
	n := 0
	for it.Seek(claimPrefix); it.ValidForPrefix(claimPrefix); it.Next() {
		if n++; n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		var c model.Claim
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &c)
		}); err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		claims[c.ID] = &c
	}
	return claims, ctx.Err()
}

// Edges loads every stored edge from the source-keyed index
func (s *Snapshot) Edges(ctx context.Context) ([]model.Relation, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = outPrefix

	it := s.txn.NewIterator(opts)
	defer it.Close()

	var edges []model.Relation
	n := 0
	for it.Seek(outPrefix); it.ValidForPrefix(outPrefix); it.Next() {
		if n++; n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		rel, err := decodeEdge(it.Item().KeyCopy(nil))
		if err != nil {
			return nil, err
		}
		edges = append(edges, rel)
	}
	return edges, ctx.Err()
}
