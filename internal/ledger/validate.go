package ledger

import (
	"strings"

	"github.com/ppiankov/claimledger/internal/model"
)

// validateClaim checks the structural rules of a claim submitted for ingestion
func validateClaim(c *model.Claim) error {
	if c == nil {
		return model.Errorf(model.ErrValidation, "nil claim")
	}
	if strings.TrimSpace(string(c.ID)) == "" {
		return model.Errorf(model.ErrValidation, "claim id is required")
	}
	if strings.TrimSpace(c.Scope) == "" {
		return model.Errorf(model.ErrValidation, "%s: scope is required", c.ID)
	}
	if strings.TrimSpace(c.Statement) == "" {
		return model.Errorf(model.ErrValidation, "%s: statement is required", c.ID)
	}
	if !c.Tier.Valid() {
		return model.Errorf(model.ErrValidation, "%s: tier %d outside %d..%d", c.ID, c.Tier, model.MinTier, model.MaxTier)
	}

	for i, ev := range c.Evidence {
		if err := validateEvidence(c.ID, i, ev); err != nil {
			return err
		}
		if ev.Citation == c.ID {
			return model.Errorf(model.ErrValidation, "%s: evidence %d cites the claim itself", c.ID, i)
		}
	}

	seen := make(map[model.RelationRef]bool, len(c.Relations))
	supersedes := 0
	for _, r := range c.Relations {
		if !r.Type.Valid() {
			return model.Errorf(model.ErrValidation, "%s: unknown relation type %q", c.ID, r.Type)
		}
		if r.Target == "" {
			return model.Errorf(model.ErrValidation, "%s: %s relation without target", c.ID, r.Type)
		}
		if seen[r] {
			return model.Errorf(model.ErrDuplicateEdge, "%s -[%s]-> %s listed twice", c.ID, r.Type, r.Target)
		}
		seen[r] = true
		if r.Type == model.RelationSupersedes {
			supersedes++
		}
	}
	if supersedes > 1 {
		return model.Errorf(model.ErrDuplicateEdge, "%s supersedes %d claims, at most one allowed", c.ID, supersedes)
	}
	return nil
}

func validateEvidence(id model.ClaimID, i int, ev model.EvidenceItem) error {
	if !ev.Kind.Valid() {
		return model.Errorf(model.ErrValidation, "%s: evidence %d has unknown kind %q", id, i, ev.Kind)
	}
	if ev.Kind == model.EvidenceCitation && ev.Citation == "" {
		return model.Errorf(model.ErrValidation, "%s: citation evidence %d names no claim", id, i)
	}
	if sig := ev.Significance; sig != nil {
		if sig.PValue != nil && (*sig.PValue < 0 || *sig.PValue > 1) {
			return model.Errorf(model.ErrValidation, "%s: evidence %d p-value %g outside [0,1]", id, i, *sig.PValue)
		}
		if sig.SampleSize < 0 {
			return model.Errorf(model.ErrValidation, "%s: evidence %d has negative sample size", id, i)
		}
	}
	return nil
}
