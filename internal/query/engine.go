// Package query answers read-side questions about the ledger: which claim is
// canonical for a topic, who supports or contradicts a claim, and its lineage.
package query

import (
	"context"
	"sort"

	"github.com/ppiankov/claimledger/internal/cache"
	"github.com/ppiankov/claimledger/internal/graph"
	"github.com/ppiankov/claimledger/internal/logging"
	"github.com/ppiankov/claimledger/internal/model"
	"github.com/ppiankov/claimledger/internal/store"
	"go.uber.org/zap"
)

// Engine resolves canonical claims and provenance over committed state
type Engine struct {
	store       *store.Store
	cache       cache.Cache
	unsubscribe func()
	logger      *zap.Logger
}

// NewEngine creates a query engine; c may be nil to disable caching
// The cache is invalidated synchronously on every committed store change.
func NewEngine(s *store.Store, c cache.Cache, logger *zap.Logger) *Engine {
	if c == nil {
		c = cache.Nop{}
	}
	e := &Engine{
		store:  s,
		cache:  c,
		logger: logging.OrNop(logger).Named("query"),
	}
	e.unsubscribe = s.Subscribe(func(store.Event) { c.Invalidate() })
	return e
}

// Close detaches the engine from store events
func (e *Engine) Close() {
	e.unsubscribe()
}

// ResolveCanonical returns the canonical claim for a claim id or a scope
// A claim id resolves to the tip of its supersession chain. A scope resolves to
// its single live tip; several tips are reported as *model.AmbiguousError and
// never guessed between.
func (e *Engine) ResolveCanonical(ctx context.Context, topicOrID string) (*model.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := cache.Key("resolve", topicOrID)
	generation := e.cache.Generation()

	if id, ok := e.cache.Get(key); ok {
		c, err := e.store.Get(ctx, id)
		if err == nil {
			return c, nil
		}
		e.logger.Debug("cached resolution unreadable", zap.String("claim", string(id)), zap.Error(err))
	}

	var resolved *model.Claim
	err := e.store.View(func(v store.View) error {
		var err error
		resolved, err = resolve(v, topicOrID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.cache.Put(generation, key, resolved.ID)
	return resolved, nil
}

func resolve(v store.View, topicOrID string) (*model.Claim, error) {
	id := model.ClaimID(topicOrID)
	exists, err := v.Exists(id)
	if err != nil {
		return nil, err
	}
	if exists {
		return resolveClaim(v, id)
	}
	return resolveScope(v, topicOrID)
}

func resolveClaim(v store.View, id model.ClaimID) (*model.Claim, error) {
	tipID, err := graph.Tip(v, id)
	if err != nil {
		return nil, err
	}
	tip, err := v.Get(tipID)
	if err != nil {
		return nil, err
	}
	if !tip.IsCanonicalCandidate() {
		return nil, model.Errorf(model.ErrNoCanonical, "lineage of %s ends at %s which is %s", id, tip.ID, tip.Status)
	}
	return tip, nil
}

func resolveScope(v store.View, scope string) (*model.Claim, error) {
	members, err := v.ScopeMembers(scope)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, model.Errorf(model.ErrNotFound, "no claim or scope named %q", scope)
	}

	seen := make(map[model.ClaimID]bool)
	var candidates []*model.Claim
	for _, m := range members {
		tipID, err := graph.Tip(v, m)
		if err != nil {
			return nil, err
		}
		if seen[tipID] {
			continue
		}
		seen[tipID] = true

		tip, err := v.Get(tipID)
		if err != nil {
			return nil, err
		}
		if tip.IsCanonicalCandidate() {
			candidates = append(candidates, tip)
		}
	}

	switch len(candidates) {
	case 0:
		return nil, model.Errorf(model.ErrNoCanonical, "every claim in scope %q is superseded or refuted", scope)
	case 1:
		return candidates[0], nil
	}

	ids := make([]model.ClaimID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return nil, &model.AmbiguousError{Topic: scope, Candidates: ids}
}

// Supporters lists the claims that confirm, extend or refine id
func (e *Engine) Supporters(ctx context.Context, id model.ClaimID) ([]model.ClaimID, error) {
	return e.neighbors(ctx, id, graph.Supporters)
}

// Detractors lists the claims joined to id by contradicts
func (e *Engine) Detractors(ctx context.Context, id model.ClaimID) ([]model.ClaimID, error) {
	return e.neighbors(ctx, id, graph.Detractors)
}

func (e *Engine) neighbors(ctx context.Context, id model.ClaimID, fn func(store.View, model.ClaimID) ([]model.ClaimID, error)) ([]model.ClaimID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ids []model.ClaimID
	err := e.store.View(func(v store.View) error {
		if _, err := v.Get(id); err != nil {
			return err
		}
		var err error
		ids, err = fn(v, id)
		return err
	})
	return ids, err
}

// DerivationChain returns the full supersession lineage through id, oldest first
func (e *Engine) DerivationChain(ctx context.Context, id model.ClaimID) ([]*model.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var chain []*model.Claim
	err := e.store.View(func(v store.View) error {
		ids, err := graph.Lineage(v, id)
		if err != nil {
			return err
		}
		chain = make([]*model.Claim, 0, len(ids))
		for _, cid := range ids {
			c, err := v.Get(cid)
			if err != nil {
				return err
			}
			chain = append(chain, c)
		}
		return nil
	})
	return chain, err
}
