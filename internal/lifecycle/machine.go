// Package lifecycle owns the status and tier rules of a claim.
//
// The transition table below is the only place lifecycle rules are declared.
// Every status change in the ledger, forced or requested, is checked against
// it inside the store transaction that writes the change.
package lifecycle

import (
	"fmt"

	"github.com/ppiankov/claimledger/internal/graph"
	"github.com/ppiankov/claimledger/internal/logging"
	"github.com/ppiankov/claimledger/internal/model"
	"github.com/ppiankov/claimledger/internal/store"
	"go.uber.org/zap"
)

// Options carries what a transition request needs besides the target status
type Options struct {
	RefutedBy    model.ClaimID // Refuting claim, required for REFUTED
	SupersededBy model.ClaimID // Successor, set only by forced supersession
	Forced       bool          // Supersession triggered by a supersedes edge
	IfRevision   uint64        // Expected revision; 0 skips the check
	Reason       string        // Recorded in the history entry
}

// guard decides whether a declared transition may fire for c
type guard func(v store.View, c *model.Claim, opts Options) error

type transition struct {
	from   model.Status
	to     model.Status
	forced bool
	guard  guard
}

var table = []transition{
	{from: model.StatusOpen, to: model.StatusValidated, guard: requireEvidence},
	{from: model.StatusValidated, to: model.StatusClosed, guard: requireNoLiveContradiction},
	{from: model.StatusValidated, to: model.StatusOpen},
	{from: model.StatusClosed, to: model.StatusOpen},
	{from: model.StatusClosed, to: model.StatusFrozen, guard: requireTierZero},

	{from: model.StatusOpen, to: model.StatusSuperseded, forced: true, guard: requireSuccessor},
	{from: model.StatusValidated, to: model.StatusSuperseded, forced: true, guard: requireSuccessor},
	{from: model.StatusClosed, to: model.StatusSuperseded, forced: true, guard: requireSuccessor},

	{from: model.StatusOpen, to: model.StatusRefuted, guard: requireRefuter},
	{from: model.StatusValidated, to: model.StatusRefuted, guard: requireRefuter},
	{from: model.StatusClosed, to: model.StatusRefuted, guard: requireRefuter},
	{from: model.StatusFrozen, to: model.StatusRefuted, guard: requireRefuter},
	{from: model.StatusSuperseded, to: model.StatusRefuted, guard: requireRefuter},
}

func lookup(from, to model.Status) (transition, bool) {
	for _, t := range table {
		if t.from == from && t.to == to {
			return t, true
		}
	}
	return transition{}, false
}

// Next lists the statuses a claim in from may request, in table order
// Forced transitions are not requestable and are left out.
func Next(from model.Status) []model.Status {
	var next []model.Status
	for _, t := range table {
		if t.from == from && !t.forced {
			next = append(next, t.to)
		}
	}
	return next
}

// Machine applies lifecycle transitions inside store transactions
type Machine struct {
	logger *zap.Logger
}

// New creates a new lifecycle state machine
func New(logger *zap.Logger) *Machine {
	return &Machine{logger: logging.OrNop(logger).Named("lifecycle")}
}

// Check validates moving c to status to without writing anything
func (m *Machine) Check(v store.View, c *model.Claim, to model.Status, opts Options) error {
	t, ok := lookup(c.Status, to)
	if !ok {
		return model.Errorf(model.ErrIllegalTransition, "%s: %s -> %s is not a declared transition", c.ID, c.Status, to)
	}
	if t.forced && !opts.Forced {
		return model.Errorf(model.ErrIllegalTransition, "%s: %s is forced by a supersedes edge and cannot be requested", c.ID, to)
	}

	if t.guard != nil {
		if err := t.guard(v, c, opts); err != nil {
			return err
		}
	}

	if to.IsActive() {
		return requireNoActiveContradiction(v, c)
	}
	return nil
}

// Apply checks and writes a status transition, returning the new revision
func (m *Machine) Apply(tx *store.Tx, id model.ClaimID, to model.Status, opts Options) (*model.Claim, error) {
	c, err := tx.Get(id)
	if err != nil {
		return nil, err
	}
	if err := m.Check(tx, c, to, opts); err != nil {
		return nil, err
	}

	from := c.Status
	c.Status = to
	switch to {
	case model.StatusSuperseded:
		c.SupersededBy = opts.SupersededBy
	case model.StatusRefuted:
		c.RefutedBy = opts.RefutedBy
	}

	reason := opts.Reason
	if reason == "" {
		reason = fmt.Sprintf("status %s -> %s", from, to)
	}
	if err := tx.Update(c, opts.IfRevision, reason); err != nil {
		return nil, err
	}

	m.logger.Debug("status changed",
		zap.String("claim", string(id)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Uint64("revision", c.Revision))
	return c, nil
}

// ForceSupersede records that successor supersedes id
// A REFUTED predecessor keeps its terminal status and only gains the
// successor pointer: the two outcomes coexist on the record.
func (m *Machine) ForceSupersede(tx *store.Tx, id, successor model.ClaimID, reason string) (*model.Claim, error) {
	c, err := tx.Get(id)
	if err != nil {
		return nil, err
	}
	if c.SupersededBy != "" {
		return nil, model.Errorf(model.ErrAlreadySuperseded, "%s is already superseded by %s", id, c.SupersededBy)
	}

	if c.Status == model.StatusRefuted {
		c.SupersededBy = successor
		if err := tx.Update(c, 0, reason); err != nil {
			return nil, err
		}
		return c, nil
	}

	return m.Apply(tx, id, model.StatusSuperseded, Options{
		SupersededBy: successor,
		Forced:       true,
		Reason:       reason,
	})
}

// CheckTier validates a tier change; increases require viaGate
// Decreases are legal in every status and regardless of stop_condition, except
// that a FROZEN claim stays at tier 0.
func CheckTier(c *model.Claim, newTier model.Tier, viaGate bool) error {
	if !newTier.Valid() {
		return model.Errorf(model.ErrValidation, "tier %d outside %d..%d", newTier, model.MinTier, model.MaxTier)
	}
	if newTier == c.Tier {
		return model.Errorf(model.ErrIllegalTransition, "%s is already at %s", c.ID, c.Tier)
	}
	if c.Status == model.StatusFrozen && newTier != model.TierFoundational {
		return model.Errorf(model.ErrIllegalTransition, "%s is FROZEN and must stay at %s", c.ID, model.TierFoundational)
	}
	if newTier > c.Tier && !viaGate {
		return model.Errorf(model.ErrIllegalTransition, "%s: raising %s -> %s requires the promotion gate", c.ID, c.Tier, newTier)
	}
	return nil
}

// SetTier checks and writes a tier change, returning the new revision
func (m *Machine) SetTier(tx *store.Tx, id model.ClaimID, newTier model.Tier, viaGate bool, opts Options) (*model.Claim, error) {
	c, err := tx.Get(id)
	if err != nil {
		return nil, err
	}
	if err := CheckTier(c, newTier, viaGate); err != nil {
		return nil, err
	}

	from := c.Tier
	c.Tier = newTier

	reason := opts.Reason
	if reason == "" {
		reason = fmt.Sprintf("tier %d -> %d", from, newTier)
	}
	if err := tx.Update(c, opts.IfRevision, reason); err != nil {
		return nil, err
	}

	m.logger.Debug("tier changed",
		zap.String("claim", string(id)),
		zap.Int("from", int(from)),
		zap.Int("to", int(newTier)),
		zap.Bool("promotion", viaGate))
	return c, nil
}

func requireEvidence(_ store.View, c *model.Claim, _ Options) error {
	if len(c.Evidence) == 0 {
		return model.Errorf(model.ErrIllegalTransition, "%s: VALIDATED requires at least one evidence item", c.ID)
	}
	return nil
}

func requireTierZero(_ store.View, c *model.Claim, _ Options) error {
	if c.Tier != model.TierFoundational {
		return model.Errorf(model.ErrIllegalTransition, "%s: FROZEN requires %s, claim is at %s", c.ID, model.TierFoundational, c.Tier)
	}
	return nil
}

func requireSuccessor(_ store.View, c *model.Claim, opts Options) error {
	if opts.SupersededBy == "" {
		return model.Errorf(model.ErrIllegalTransition, "%s: supersession needs a successor", c.ID)
	}
	return nil
}

// requireNoLiveContradiction rejects closing a claim with a live contradicts neighbor
func requireNoLiveContradiction(v store.View, c *model.Claim, _ Options) error {
	others, err := graph.ContradictingClaims(v, c.ID)
	if err != nil {
		return err
	}
	for _, o := range others {
		if o.Status.IsLive() {
			return model.Errorf(model.ErrIllegalTransition, "%s: unresolved contradiction with %s (%s)", c.ID, o.ID, o.Status)
		}
	}
	return nil
}

// requireNoActiveContradiction keeps contradicting claims from both being asserted
func requireNoActiveContradiction(v store.View, c *model.Claim) error {
	others, err := graph.ContradictingClaims(v, c.ID)
	if err != nil {
		return err
	}
	for _, o := range others {
		if o.Status.IsActive() {
			return model.Blocked(c.ID, model.ReasonContradiction,
				fmt.Sprintf("contradicts %s which is %s", o.ID, o.Status))
		}
	}
	return nil
}

// requireRefuter checks the refuting claim: it must exist, be live, sit at an
// equal or more certain tier, and share a contradicts edge with c
func requireRefuter(v store.View, c *model.Claim, opts Options) error {
	if opts.RefutedBy == "" {
		return model.Errorf(model.ErrIllegalTransition, "%s: REFUTED requires a refuting claim", c.ID)
	}
	if opts.RefutedBy == c.ID {
		return model.Errorf(model.ErrIllegalTransition, "%s cannot refute itself", c.ID)
	}

	r, err := v.Get(opts.RefutedBy)
	if model.IsNotFound(err) {
		return model.Errorf(model.ErrUnknownTarget, "refuting claim %s", opts.RefutedBy)
	}
	if err != nil {
		return err
	}

	if !r.Status.IsLive() {
		return model.Errorf(model.ErrIllegalTransition, "%s: refuting claim %s is %s", c.ID, r.ID, r.Status)
	}
	if r.Tier > c.Tier {
		return model.Errorf(model.ErrIllegalTransition, "%s: refuting claim %s is at %s, above %s", c.ID, r.ID, r.Tier, c.Tier)
	}

	edges, err := graph.Contradictions(v, c.ID)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if e.Other(c.ID) == r.ID {
			return nil
		}
	}
	return model.Errorf(model.ErrIllegalTransition, "%s: %s carries no contradicts edge to it", c.ID, r.ID)
}
