package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/claimledger/internal/graph"
	"github.com/ppiankov/claimledger/internal/lifecycle"
	"github.com/ppiankov/claimledger/internal/model"
	"github.com/ppiankov/claimledger/internal/store"
	"go.uber.org/zap"
)

// MutationOptions are the optional parts of a mutating request
type MutationOptions struct {
	IfRevision uint64        // Expected current revision; 0 skips the check
	RefutedBy  model.ClaimID // Refuting claim for REFUTED transitions
	Report     string        // Consistency report the mutation repairs
	Note       string        // Free-form reason recorded in history
}

func (o MutationOptions) reason(base string) string {
	parts := []string{base}
	if o.Note != "" {
		parts = append(parts, o.Note)
	}
	if o.Report != "" {
		parts = append(parts, "report "+o.Report)
	}
	return strings.Join(parts, "; ")
}

// Ingest stores a new claim, links its relations and forces supersession of
// its predecessor, all in one transaction
// The claim is created OPEN whatever status the caller set.
func (l *Ledger) Ingest(ctx context.Context, c *model.Claim) (out *model.Claim, err error) {
	defer l.observe("ingest", &err)

	if err := validateClaim(c); err != nil {
		return nil, err
	}

	claim := c.Clone()
	claim.Status = model.StatusOpen
	claim.SupersededBy = ""
	claim.RefutedBy = ""

	locks := []model.ClaimID{claim.ID}
	for _, r := range claim.Relations {
		locks = append(locks, r.Target)
	}

	err = l.store.Tx(ctx, locks, func(tx *store.Tx) error {
		// Relations are recorded on the claim itself; Link only adds the edges
		fresh := claim.Clone()
		if err := checkCitations(tx, fresh.Evidence); err != nil {
			return err
		}

		// 1. Write the claim
		if err := tx.Insert(fresh, "ingested"); err != nil {
			return err
		}

		// 2. Link every relation
		touched := []model.ClaimID{fresh.ID}
		for _, r := range fresh.Relations {
			rel := model.Relation{Source: fresh.ID, Target: r.Target, Type: r.Type}
			if err := l.builder.Link(tx, rel, "ingested"); err != nil {
				return err
			}
			touched = append(touched, r.Target)

			// 3. A supersedes edge retires its predecessor
			if r.Type == model.RelationSupersedes {
				reason := fmt.Sprintf("superseded by %s", fresh.ID)
				if _, err := l.machine.ForceSupersede(tx, r.Target, fresh.ID, reason); err != nil {
					return err
				}
			}
		}

		// 4. Synchronous consistency checks
		if err := l.checker.CheckClaims(tx, touched...); err != nil {
			return err
		}

		out, err = tx.Get(fresh.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("claim ingested",
		zap.String("claim", string(out.ID)),
		zap.String("scope", out.Scope),
		zap.Int("tier", int(out.Tier)),
		zap.Int("relations", len(out.Relations)))
	return out, nil
}

// AppendEvidence adds one evidence item to a mutable claim
func (l *Ledger) AppendEvidence(ctx context.Context, id model.ClaimID, item model.EvidenceItem, opts MutationOptions) (out *model.Claim, err error) {
	defer l.observe("append_evidence", &err)

	if err := validateEvidence(id, 0, item); err != nil {
		return nil, err
	}

	err = l.store.Tx(ctx, []model.ClaimID{id}, func(tx *store.Tx) error {
		if err := checkCitations(tx, []model.EvidenceItem{item}); err != nil {
			return err
		}
		var err error
		out, err = tx.AppendEvidence(id, opts.IfRevision, item)
		if err != nil {
			return err
		}
		return l.checker.CheckClaim(tx, id)
	})
	return out, err
}

// Transition requests a status change through the lifecycle machine
func (l *Ledger) Transition(ctx context.Context, id model.ClaimID, to model.Status, opts MutationOptions) (out *model.Claim, err error) {
	defer l.observe("transition", &err)

	err = l.store.Tx(ctx, []model.ClaimID{id}, func(tx *store.Tx) error {
		var err error
		out, err = l.machine.Apply(tx, id, to, lifecycle.Options{
			RefutedBy:  opts.RefutedBy,
			IfRevision: opts.IfRevision,
			Reason:     opts.reason(fmt.Sprintf("status -> %s", to)),
		})
		if err != nil {
			return err
		}
		return l.checker.CheckClaim(tx, id)
	})
	return out, err
}

// RequestPromotion raises a claim's tier through the promotion gate
// A refusal is a *model.BlockedError carrying the gate's reason.
func (l *Ledger) RequestPromotion(ctx context.Context, id model.ClaimID, tier model.Tier, opts MutationOptions) (out *model.Claim, err error) {
	defer l.observe("promote", &err)

	err = l.store.Tx(ctx, []model.ClaimID{id}, func(tx *store.Tx) error {
		var err error
		out, err = l.gate.RequestPromotion(tx, id, tier, lifecycle.Options{
			IfRevision: opts.IfRevision,
			Reason:     opts.reason(fmt.Sprintf("promoted to tier %d", tier)),
		})
		if err != nil {
			return err
		}
		return l.checker.CheckClaim(tx, id)
	})
	return out, err
}

// Demote lowers a claim's tier; it is legal in every status
func (l *Ledger) Demote(ctx context.Context, id model.ClaimID, tier model.Tier, opts MutationOptions) (out *model.Claim, err error) {
	defer l.observe("demote", &err)

	err = l.store.Tx(ctx, []model.ClaimID{id}, func(tx *store.Tx) error {
		var err error
		out, err = l.machine.SetTier(tx, id, tier, false, lifecycle.Options{
			IfRevision: opts.IfRevision,
			Reason:     opts.reason(fmt.Sprintf("demoted to tier %d", tier)),
		})
		if err != nil {
			return err
		}
		return l.checker.CheckClaim(tx, id)
	})
	return out, err
}

// Link records a new relation between two existing claims
func (l *Ledger) Link(ctx context.Context, rel model.Relation, opts MutationOptions) (err error) {
	defer l.observe("link", &err)

	return l.store.Tx(ctx, []model.ClaimID{rel.Source, rel.Target}, func(tx *store.Tx) error {
		if err := l.builder.Link(tx, rel, opts.reason(fmt.Sprintf("linked %s %s", rel.Type, rel.Target))); err != nil {
			return err
		}
		if rel.Type == model.RelationSupersedes {
			if _, err := l.machine.ForceSupersede(tx, rel.Target, rel.Source, fmt.Sprintf("superseded by %s", rel.Source)); err != nil {
				return err
			}
		}
		return l.checker.CheckClaims(tx, rel.Source, rel.Target)
	})
}

// Unlink removes a relation as an explicit human resolution
func (l *Ledger) Unlink(ctx context.Context, rel model.Relation, opts MutationOptions) (err error) {
	defer l.observe("unlink", &err)

	return l.store.Tx(ctx, []model.ClaimID{rel.Source, rel.Target}, func(tx *store.Tx) error {
		return l.builder.Unlink(tx, rel, opts.reason(fmt.Sprintf("unlinked %s %s", rel.Type, rel.Target)))
	})
}

// Retarget moves an edge that points at a superseded claim onto that claim's
// canonical successor and returns the new edge
func (l *Ledger) Retarget(ctx context.Context, rel model.Relation, opts MutationOptions) (moved model.Relation, err error) {
	defer l.observe("retarget", &err)

	if rel.Type == model.RelationSupersedes {
		return model.Relation{}, model.Errorf(model.ErrImmutable, "supersedes edges are permanent lineage: %s", rel)
	}

	var tip model.ClaimID
	err = l.store.View(func(v store.View) error {
		var err error
		tip, err = graph.Tip(v, rel.Target)
		return err
	})
	if err != nil {
		return model.Relation{}, err
	}
	if tip == rel.Target {
		return model.Relation{}, model.Errorf(model.ErrValidation, "%s is not superseded; nothing to retarget", rel.Target)
	}

	moved = model.Relation{Source: rel.Source, Target: tip, Type: rel.Type}
	err = l.store.Tx(ctx, []model.ClaimID{rel.Source, rel.Target, tip}, func(tx *store.Tx) error {
		// The chain may have grown since it was read outside the locks
		current, err := graph.Tip(tx, rel.Target)
		if err != nil {
			return err
		}
		if current != tip {
			return model.Errorf(model.ErrStaleRevision, "%s was superseded again by %s, retry", tip, current)
		}

		reason := opts.reason(fmt.Sprintf("retargeted %s %s -> %s", rel.Type, rel.Target, tip))
		if err := l.builder.Unlink(tx, rel, reason); err != nil {
			return err
		}
		if err := l.builder.Link(tx, moved, reason); err != nil {
			return err
		}
		return l.checker.CheckClaims(tx, rel.Source, tip)
	})
	if err != nil {
		return model.Relation{}, err
	}
	return moved, nil
}

// MarkStopCondition sets the permanent stop condition on a claim
func (l *Ledger) MarkStopCondition(ctx context.Context, id model.ClaimID, opts MutationOptions) (out *model.Claim, err error) {
	defer l.observe("stop_condition", &err)

	err = l.store.Tx(ctx, []model.ClaimID{id}, func(tx *store.Tx) error {
		c, err := tx.Get(id)
		if err != nil {
			return err
		}
		if c.StopCondition {
			out = c
			return nil
		}
		c.StopCondition = true
		if err := tx.Update(c, opts.IfRevision, opts.reason("stop condition set")); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// checkCitations requires every cross-claim citation to resolve
func checkCitations(v store.View, evidence []model.EvidenceItem) error {
	for _, ev := range evidence {
		if ev.Citation == "" {
			continue
		}
		ok, err := v.Exists(ev.Citation)
		if err != nil {
			return err
		}
		if !ok {
			return model.Errorf(model.ErrUnknownTarget, "evidence cites unknown claim %s", ev.Citation)
		}
	}
	return nil
}
