// Package graph maintains the typed relation graph between claims.
//
// Edges live in the store's dual adjacency index (keyed by source and by
// target), so the builder holds no state of its own. Every check runs inside
// the caller's store transaction, which holds the write locks of both
// endpoints: two concurrent supersedes edges onto one predecessor cannot both
// pass the checks.
package graph

import (
	"fmt"
	"strings"

	"github.com/ppiankov/claimledger/internal/logging"
	"github.com/ppiankov/claimledger/internal/model"
	"github.com/ppiankov/claimledger/internal/store"
	"go.uber.org/zap"
)

// Builder validates and records relations
type Builder struct {
	logger *zap.Logger
}

// NewBuilder creates a new relation graph builder
func NewBuilder(logger *zap.Logger) *Builder {
	return &Builder{logger: logging.OrNop(logger).Named("graph")}
}

// Link validates rel and records it inside tx
// The source claim's persisted relation list is updated when it does not
// already carry the edge (claims ingested with their relations already do).
func (b *Builder) Link(tx *store.Tx, rel model.Relation, reason string) error {
	if err := b.CheckLink(tx, rel); err != nil {
		return err
	}

	if err := tx.AddEdge(rel); err != nil {
		return err
	}

	src, err := tx.Get(rel.Source)
	if err != nil {
		return err
	}
	if !src.HasRelation(rel.Target, rel.Type) {
		src.Relations = append(src.Relations, model.RelationRef{Target: rel.Target, Type: rel.Type})
		if err := tx.Update(src, 0, reason); err != nil {
			return err
		}
	}

	b.logger.Debug("edge linked",
		zap.String("source", string(rel.Source)),
		zap.String("type", string(rel.Type)),
		zap.String("target", string(rel.Target)))
	return nil
}

// CheckLink runs every integrity check for rel without writing anything
func (b *Builder) CheckLink(v store.View, rel model.Relation) error {
	if !rel.Type.Valid() {
		return model.Errorf(model.ErrValidation, "unknown relation type %q", rel.Type)
	}
	if rel.Source == rel.Target {
		if rel.Type == model.RelationSupersedes {
			return model.Errorf(model.ErrWouldCreateCycle, "%s cannot supersede itself", rel.Source)
		}
		return model.Errorf(model.ErrValidation, "self-loop: %s", rel)
	}

	// 1. Both endpoints must exist
	src, err := v.Get(rel.Source)
	if err != nil {
		return err
	}
	dst, err := v.Get(rel.Target)
	if model.IsNotFound(err) {
		return model.Errorf(model.ErrUnknownTarget, "%s references %s", rel.Source, rel.Target)
	}
	if err != nil {
		return err
	}

	// 2. Unique per (source, target, type); contradicts in either direction
	dup, err := v.HasEdge(rel)
	if err != nil {
		return err
	}
	if !dup && rel.Type.Symmetric() {
		dup, err = v.HasEdge(model.Relation{Source: rel.Target, Target: rel.Source, Type: rel.Type})
		if err != nil {
			return err
		}
	}
	if dup {
		return model.Errorf(model.ErrDuplicateEdge, "%s", rel)
	}

	// 3. Type-specific rules
	switch rel.Type {
	case model.RelationSupersedes:
		return b.checkSupersedes(v, rel)
	case model.RelationContradicts:
		if src.Status.IsActive() && dst.Status.IsActive() {
			return model.Blocked(rel.Source, model.ReasonContradiction,
				fmt.Sprintf("%s and %s are both asserted (%s, %s)", rel.Source, rel.Target, src.Status, dst.Status))
		}
	}
	return nil
}

// checkSupersedes enforces the chain shape of supersession
func (b *Builder) checkSupersedes(v store.View, rel model.Relation) error {
	out, err := v.Outgoing(rel.Source, model.RelationSupersedes)
	if err != nil {
		return err
	}
	if len(out) > 0 {
		return model.Errorf(model.ErrDuplicateEdge, "%s already supersedes %s", rel.Source, out[0].Target)
	}

	in, err := v.Incoming(rel.Target, model.RelationSupersedes)
	if err != nil {
		return err
	}
	if len(in) > 0 {
		return model.Errorf(model.ErrAlreadySuperseded, "%s is already superseded by %s", rel.Target, in[0].Source)
	}

	// Walk the chain from target towards older revisions: reaching source means a loop
	path := []string{string(rel.Source), string(rel.Target)}
	visited := map[model.ClaimID]bool{rel.Target: true}
	cur := rel.Target
	for {
		next, ok, err := Predecessor(v, cur)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		path = append(path, string(next))
		if next == rel.Source {
			return model.Errorf(model.ErrWouldCreateCycle, "%s", strings.Join(path, " -> "))
		}
		if visited[next] {
			// Pre-existing loop; the sweep reports it
			return model.Errorf(model.ErrWouldCreateCycle, "existing loop: %s", strings.Join(path, " -> "))
		}
		visited[next] = true
		cur = next
	}
}

// Unlink removes rel as an explicit, audited human resolution
// Supersession is lineage and is never unlinked.
func (b *Builder) Unlink(tx *store.Tx, rel model.Relation, reason string) error {
	if rel.Type == model.RelationSupersedes {
		return model.Errorf(model.ErrImmutable, "supersedes edges are permanent lineage: %s", rel)
	}

	stored := rel
	ok, err := tx.HasEdge(stored)
	if err != nil {
		return err
	}
	if !ok && rel.Type.Symmetric() {
		stored = model.Relation{Source: rel.Target, Target: rel.Source, Type: rel.Type}
		ok, err = tx.HasEdge(stored)
		if err != nil {
			return err
		}
	}
	if !ok {
		return model.Errorf(model.ErrNotFound, "edge %s", rel)
	}

	if err := tx.RemoveEdge(stored); err != nil {
		return err
	}

	src, err := tx.Get(stored.Source)
	if err != nil {
		return err
	}
	kept := src.Relations[:0]
	for _, r := range src.Relations {
		if r.Target == stored.Target && r.Type == stored.Type {
			continue
		}
		kept = append(kept, r)
	}
	src.Relations = kept
	return tx.Update(src, 0, reason)
}

// ParseRef parses a "type:target" cross-reference into a relation ref
func ParseRef(s string) (model.RelationRef, error) {
	typ, target, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || strings.TrimSpace(target) == "" {
		return model.RelationRef{}, model.Errorf(model.ErrValidation, "malformed reference %q, want type:target", s)
	}
	rt, err := model.ParseRelationType(strings.TrimSpace(typ))
	if err != nil {
		return model.RelationRef{}, err
	}
	return model.RelationRef{Target: model.ClaimID(strings.TrimSpace(target)), Type: rt}, nil
}
