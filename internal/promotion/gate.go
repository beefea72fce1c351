// Package promotion decides whether a claim may advance to a higher tier.
package promotion

import (
	"fmt"

	"github.com/ppiankov/claimledger/internal/graph"
	"github.com/ppiankov/claimledger/internal/lifecycle"
	"github.com/ppiankov/claimledger/internal/logging"
	"github.com/ppiankov/claimledger/internal/model"
	"github.com/ppiankov/claimledger/internal/store"
	"go.uber.org/zap"
)

// Gate evaluates promotion requests
type Gate struct {
	alpha   float64
	machine *lifecycle.Machine
	logger  *zap.Logger
}

// NewGate creates a gate that hands accepted promotions to machine
func NewGate(cfg model.PromotionConfig, machine *lifecycle.Machine, logger *zap.Logger) *Gate {
	return &Gate{
		alpha:   cfg.Alpha,
		machine: machine,
		logger:  logging.OrNop(logger).Named("promotion"),
	}
}

// Evaluate applies the gate rules in order and returns the first refusal
// neighbors are the claims joined to c by contradicts.
func (g *Gate) Evaluate(c *model.Claim, newTier model.Tier, neighbors []*model.Claim) error {
	// 1. Permanent stop condition, lifted only by external evidence
	if c.StopCondition && !c.HasExternalValidation() {
		return model.Blocked(c.ID, model.ReasonStopCondition,
			"stop condition set and no external_validation evidence present")
	}

	// 2. Demotions go straight to the state machine
	if newTier <= c.Tier {
		return model.Blocked(c.ID, model.ReasonNotAPromotion,
			fmt.Sprintf("%s -> %s does not raise the tier", c.Tier, newTier))
	}

	// 3. An asserted contradicting claim at the same or a higher tier
	for _, n := range neighbors {
		if n.Status.IsActive() && n.Tier >= newTier {
			return model.Blocked(c.ID, model.ReasonContradiction,
				fmt.Sprintf("contradicted by %s (%s, %s)", n.ID, n.Status, n.Tier))
		}
	}

	// 4. Reported significance must clear alpha somewhere
	if g.alpha > 0 {
		if reported, best := bestPValue(c.Evidence); reported && best > g.alpha {
			return model.Blocked(c.ID, model.ReasonInsufficientSignificance,
				fmt.Sprintf("best reported p=%g above alpha=%g", best, g.alpha))
		}
	}

	// 5. Superseded, refuted and frozen claims do not move up
	switch c.Status {
	case model.StatusSuperseded, model.StatusRefuted, model.StatusFrozen:
		return model.Blocked(c.ID, model.ReasonInactive, fmt.Sprintf("claim is %s", c.Status))
	}

	return nil
}

// RequestPromotion evaluates the gate inside tx and, when accepted, applies
// the tier change through the lifecycle machine
func (g *Gate) RequestPromotion(tx *store.Tx, id model.ClaimID, newTier model.Tier, opts lifecycle.Options) (*model.Claim, error) {
	c, err := tx.Get(id)
	if err != nil {
		return nil, err
	}
	if !newTier.Valid() {
		return nil, model.Errorf(model.ErrValidation, "tier %d outside %d..%d", newTier, model.MinTier, model.MaxTier)
	}

	neighbors, err := graph.ContradictingClaims(tx, id)
	if err != nil {
		return nil, err
	}

	if err := g.Evaluate(c, newTier, neighbors); err != nil {
		g.logger.Debug("promotion blocked", zap.String("claim", string(id)), zap.Error(err))
		return nil, err
	}

	if opts.Reason == "" {
		opts.Reason = fmt.Sprintf("promoted tier %d -> %d", c.Tier, newTier)
	}
	return g.machine.SetTier(tx, id, newTier, true, opts)
}

// bestPValue returns whether any evidence reports a p-value, and the smallest one
func bestPValue(evidence []model.EvidenceItem) (bool, float64) {
	reported := false
	best := 1.0
	for _, ev := range evidence {
		if ev.Significance == nil || ev.Significance.PValue == nil {
			continue
		}
		reported = true
		if p := *ev.Significance.PValue; p < best {
			best = p
		}
	}
	return reported, best
}
