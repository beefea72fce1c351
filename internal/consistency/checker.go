// Package consistency verifies the ledger invariants.
//
// CheckClaim is the cheap synchronous subset run inside every mutating
// transaction. Sweep re-verifies the whole corpus from a snapshot and only
// ever reports: repairs are separate ledger mutations that cite the report.
package consistency

import (
	"fmt"
	"time"

	"github.com/ppiankov/claimledger/internal/graph"
	"github.com/ppiankov/claimledger/internal/logging"
	"github.com/ppiankov/claimledger/internal/model"
	"github.com/ppiankov/claimledger/internal/store"
	"go.uber.org/zap"
)

// Checker runs consistency checks
type Checker struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewChecker creates a new consistency checker
func NewChecker(logger *zap.Logger) *Checker {
	return &Checker{
		logger: logging.OrNop(logger).Named("consistency"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CheckClaim verifies the invariants local to one claim as seen by v
func (c *Checker) CheckClaim(v store.View, id model.ClaimID) error {
	cl, err := v.Get(id)
	if err != nil {
		return err
	}

	if cl.Status == model.StatusFrozen && cl.Tier != model.TierFoundational {
		return model.Errorf(model.ErrIllegalTransition, "%s is FROZEN at %s", id, cl.Tier)
	}

	out, err := v.Outgoing(id, model.RelationSupersedes)
	if err != nil {
		return err
	}
	if len(out) > 1 {
		return model.Errorf(model.ErrDuplicateEdge, "%s supersedes %d claims", id, len(out))
	}
	in, err := v.Incoming(id, model.RelationSupersedes)
	if err != nil {
		return err
	}
	if len(in) > 1 {
		return model.Errorf(model.ErrAlreadySuperseded, "%s is superseded by %d claims", id, len(in))
	}

	if !cl.Status.IsActive() {
		return nil
	}
	others, err := graph.ContradictingClaims(v, id)
	if err != nil {
		return err
	}
	for _, o := range others {
		if o.Status.IsActive() {
			return model.Blocked(id, model.ReasonContradiction,
				fmt.Sprintf("%s (%s) contradicts %s (%s)", id, cl.Status, o.ID, o.Status))
		}
	}
	return nil
}

// CheckClaims runs CheckClaim for each id, stopping at the first failure
func (c *Checker) CheckClaims(v store.View, ids ...model.ClaimID) error {
	for _, id := range ids {
		if err := c.CheckClaim(v, id); err != nil {
			return err
		}
	}
	return nil
}
