package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ppiankov/claimledger/internal/model"
)

// Tx is a read-write ledger transaction
// Everything written through a Tx commits together or not at all.
type Tx struct {
	reader
	now    time.Time
	locked map[model.ClaimID]bool
	events []Event
}

// Now returns the timestamp stamped on every write of this transaction
func (tx *Tx) Now() time.Time {
	return tx.now
}

// Insert stores a new claim at revision 1
func (tx *Tx) Insert(c *model.Claim, reason string) error {
	if !validKeyPart(string(c.ID)) {
		return model.Errorf(model.ErrValidation, "invalid claim id %q", c.ID)
	}
	if !validKeyPart(c.Scope) {
		return model.Errorf(model.ErrValidation, "invalid scope %q for %s", c.Scope, c.ID)
	}
	if err := tx.requireLock(c.ID); err != nil {
		return err
	}

	exists, err := tx.Exists(c.ID)
	if err != nil {
		return err
	}
	if exists {
		return model.Errorf(model.ErrDuplicateID, "%s", c.ID)
	}

	c.Revision = 1
	c.CreatedAt = tx.now
	c.RevisedAt = tx.now
	c.History = []model.HistoryEntry{{
		Revision:      1,
		Status:        c.Status,
		Tier:          c.Tier,
		StopCondition: c.StopCondition,
		Timestamp:     tx.now,
		Reason:        reason,
	}}
	for i := range c.Evidence {
		if c.Evidence[i].AddedAt.IsZero() {
			c.Evidence[i].AddedAt = tx.now
		}
	}

	if err := tx.write(c); err != nil {
		return err
	}
	if err := tx.txn.Set(scopeKey(c.Scope, c.ID), nil); err != nil {
		return fmt.Errorf("index scope of %s: %w", c.ID, err)
	}

	tx.events = append(tx.events, newEvent(EventClaimCreated, c.ID, c.Revision, nil, tx.now))
	return nil
}

// Update replaces a stored claim with c and bumps its revision
// ifRevision, when non-zero, must match the stored revision. The record's
// identity, scope, creation time and stop condition cannot be rolled back.
func (tx *Tx) Update(c *model.Claim, ifRevision uint64, reason string) error {
	if err := tx.requireLock(c.ID); err != nil {
		return err
	}

	stored, err := tx.Get(c.ID)
	if err != nil {
		return err
	}
	if ifRevision != 0 && stored.Revision != ifRevision {
		return model.Errorf(model.ErrStaleRevision, "%s is at revision %d, write cites %d", c.ID, stored.Revision, ifRevision)
	}
	if stored.StopCondition && !c.StopCondition {
		return model.Errorf(model.ErrImmutable, "%s: stop_condition cannot be cleared", c.ID)
	}
	if stored.Scope != c.Scope {
		return model.Errorf(model.ErrImmutable, "%s: scope cannot change", c.ID)
	}
	if len(c.Evidence) < len(stored.Evidence) {
		return model.Errorf(model.ErrImmutable, "%s: evidence is append-only", c.ID)
	}

	c.Revision = stored.Revision + 1
	c.CreatedAt = stored.CreatedAt
	c.RevisedAt = tx.now
	c.History = append(stored.History, model.HistoryEntry{
		Revision:      c.Revision,
		Status:        c.Status,
		Tier:          c.Tier,
		StopCondition: c.StopCondition,
		Timestamp:     tx.now,
		Reason:        reason,
	})

	if err := tx.write(c); err != nil {
		return err
	}

	tx.events = append(tx.events, newEvent(EventClaimRevised, c.ID, c.Revision, nil, tx.now))
	return nil
}

// AppendEvidence adds one evidence item to a mutable claim
func (tx *Tx) AppendEvidence(id model.ClaimID, ifRevision uint64, item model.EvidenceItem) (*model.Claim, error) {
	c, err := tx.Get(id)
	if err != nil {
		return nil, err
	}
	if !c.Status.AcceptsEvidence() {
		return nil, model.Errorf(model.ErrImmutable, "%s is %s", id, c.Status)
	}

	if item.AddedAt.IsZero() {
		item.AddedAt = tx.now
	}
	c.Evidence = append(c.Evidence, item)

	if err := tx.Update(c, ifRevision, fmt.Sprintf("evidence appended (%s)", item.Kind)); err != nil {
		return nil, err
	}
	return c, nil
}

// AddEdge indexes a directed edge under both endpoints
// Relation-level rules are enforced by the graph builder, not here.
func (tx *Tx) AddEdge(r model.Relation) error {
	if err := tx.requireLock(r.Target); err != nil {
		return err
	}
	if err := tx.txn.Set(outKey(r), nil); err != nil {
		return fmt.Errorf("index edge %s: %w", r, err)
	}
	if err := tx.txn.Set(inKey(r), nil); err != nil {
		return fmt.Errorf("index edge %s: %w", r, err)
	}

	edge := r
	tx.events = append(tx.events, newEvent(EventEdgeAdded, r.Source, 0, &edge, tx.now))
	return nil
}

// RemoveEdge drops a directed edge from both indexes
func (tx *Tx) RemoveEdge(r model.Relation) error {
	if err := tx.requireLock(r.Target); err != nil {
		return err
	}
	if err := tx.txn.Delete(outKey(r)); err != nil {
		return fmt.Errorf("drop edge %s: %w", r, err)
	}
	if err := tx.txn.Delete(inKey(r)); err != nil {
		return fmt.Errorf("drop edge %s: %w", r, err)
	}

	edge := r
	tx.events = append(tx.events, newEvent(EventEdgeRemoved, r.Source, 0, &edge, tx.now))
	return nil
}

func (tx *Tx) write(c *model.Claim) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode claim %s: %w", c.ID, err)
	}
	if err := tx.txn.Set(claimKey(c.ID), data); err != nil {
		return fmt.Errorf("write claim %s: %w", c.ID, err)
	}
	return nil
}

// requireLock rejects writes to claims the transaction did not lock
func (tx *Tx) requireLock(id model.ClaimID) error {
	if !tx.locked[id] {
		return fmt.Errorf("write to %s outside its lock scope", id)
	}
	return nil
}

func newTx(txn *badger.Txn, now time.Time, ids []model.ClaimID) *Tx {
	locked := make(map[model.ClaimID]bool, len(ids))
	for _, id := range ids {
		locked[id] = true
	}
	return &Tx{reader: reader{txn: txn}, now: now, locked: locked}
}
