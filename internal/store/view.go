package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/ppiankov/claimledger/internal/model"
)

// View is a consistent read-only view of the ledger
// Transactions and snapshots both satisfy it.
type View interface {
	// Get returns a private copy of the claim or ErrNotFound
	Get(id model.ClaimID) (*model.Claim, error)
	// Exists reports whether the claim is stored
	Exists(id model.ClaimID) (bool, error)
	// Outgoing lists edges whose source is id; typ "" means every type
	Outgoing(id model.ClaimID, typ model.RelationType) ([]model.Relation, error)
	// Incoming lists edges whose target is id; typ "" means every type
	Incoming(id model.ClaimID, typ model.RelationType) ([]model.Relation, error)
	// HasEdge reports whether exactly this directed edge is stored
	HasEdge(r model.Relation) (bool, error)
	// ScopeMembers lists the ids of every claim in scope, sorted
	ScopeMembers(scope string) ([]model.ClaimID, error)
}

// reader implements View on top of a badger transaction
type reader struct {
	txn *badger.Txn
}

func (r reader) Get(id model.ClaimID) (*model.Claim, error) {
	item, err := r.txn.Get(claimKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, model.Errorf(model.ErrNotFound, "%s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("read claim %s: %w", id, err)
	}

	var c model.Claim
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &c)
	}); err != nil {
		return nil, fmt.Errorf("decode claim %s: %w", id, err)
	}
	return &c, nil
}

func (r reader) Exists(id model.ClaimID) (bool, error) {
	_, err := r.txn.Get(claimKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read claim %s: %w", id, err)
	}
	return true, nil
}

func (r reader) Outgoing(id model.ClaimID, typ model.RelationType) ([]model.Relation, error) {
	return r.edges(adjacencyPrefix(outPrefix, id, typ))
}

func (r reader) Incoming(id model.ClaimID, typ model.RelationType) ([]model.Relation, error) {
	return r.edges(adjacencyPrefix(inPrefix, id, typ))
}

func (r reader) HasEdge(rel model.Relation) (bool, error) {
	_, err := r.txn.Get(outKey(rel))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read edge %s: %w", rel, err)
	}
	return true, nil
}

func (r reader) ScopeMembers(scope string) ([]model.ClaimID, error) {
	prefix := scopeMembersPrefix(scope)
	keys := r.keys(prefix)

	ids := make([]model.ClaimID, len(keys))
	for i, k := range keys {
		ids[i] = model.ClaimID(k[len(prefix):])
	}
	return ids, nil
}

func (r reader) edges(prefix []byte) ([]model.Relation, error) {
	keys := r.keys(prefix)

	out := make([]model.Relation, 0, len(keys))
	for _, k := range keys {
		rel, err := decodeEdge(k)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, nil
}

// keys collects every key under prefix in key order
// The iterator is closed before returning: read-write transactions allow only one at a time.
func (r reader) keys(prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := r.txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	sort.Slice(keys, func(i, j int) bool { return string(keys[i]) < string(keys[j]) })
	return keys
}
