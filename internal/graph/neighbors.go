package graph

import (
	"sort"

	"github.com/ppiankov/claimledger/internal/model"
	"github.com/ppiankov/claimledger/internal/store"
)

// Successor returns the claim that supersedes id, if any
func Successor(v store.View, id model.ClaimID) (model.ClaimID, bool, error) {
	in, err := v.Incoming(id, model.RelationSupersedes)
	if err != nil || len(in) == 0 {
		return "", false, err
	}
	return in[0].Source, true, nil
}

// Predecessor returns the claim that id supersedes, if any
func Predecessor(v store.View, id model.ClaimID) (model.ClaimID, bool, error) {
	out, err := v.Outgoing(id, model.RelationSupersedes)
	if err != nil || len(out) == 0 {
		return "", false, err
	}
	return out[0].Target, true, nil
}

// Contradictions lists every contradicts edge touching id, in either direction
func Contradictions(v store.View, id model.ClaimID) ([]model.Relation, error) {
	out, err := v.Outgoing(id, model.RelationContradicts)
	if err != nil {
		return nil, err
	}
	in, err := v.Incoming(id, model.RelationContradicts)
	if err != nil {
		return nil, err
	}
	return append(out, in...), nil
}

// ContradictingClaims loads the claims on the other end of id's contradicts edges
func ContradictingClaims(v store.View, id model.ClaimID) ([]*model.Claim, error) {
	edges, err := Contradictions(v, id)
	if err != nil {
		return nil, err
	}

	claims := make([]*model.Claim, 0, len(edges))
	for _, e := range edges {
		c, err := v.Get(e.Other(id))
		if model.IsNotFound(err) {
			continue // orphan; reported by the sweep
		}
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, nil
}

// Supporters lists the sources of incoming confirms, extends and refines edges
func Supporters(v store.View, id model.ClaimID) ([]model.ClaimID, error) {
	in, err := v.Incoming(id, "")
	if err != nil {
		return nil, err
	}

	var ids []model.ClaimID
	for _, e := range in {
		if e.Type.Supporting() {
			ids = append(ids, e.Source)
		}
	}
	return sortedUnique(ids), nil
}

// Detractors lists the claims joined to id by contradicts
func Detractors(v store.View, id model.ClaimID) ([]model.ClaimID, error) {
	edges, err := Contradictions(v, id)
	if err != nil {
		return nil, err
	}

	ids := make([]model.ClaimID, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.Other(id))
	}
	return sortedUnique(ids), nil
}

// Lineage returns the supersession chain through id, oldest first
func Lineage(v store.View, id model.ClaimID) ([]model.ClaimID, error) {
	if _, err := v.Get(id); err != nil {
		return nil, err
	}

	seen := map[model.ClaimID]bool{id: true}

	var older []model.ClaimID
	for cur := id; ; {
		prev, ok, err := Predecessor(v, cur)
		if err != nil {
			return nil, err
		}
		if !ok || seen[prev] {
			break
		}
		seen[prev] = true
		older = append(older, prev)
		cur = prev
	}

	chain := make([]model.ClaimID, 0, len(older)+1)
	for i := len(older) - 1; i >= 0; i-- {
		chain = append(chain, older[i])
	}
	chain = append(chain, id)

	for cur := id; ; {
		next, ok, err := Successor(v, cur)
		if err != nil {
			return nil, err
		}
		if !ok || seen[next] {
			break
		}
		seen[next] = true
		chain = append(chain, next)
		cur = next
	}
	return chain, nil
}

// Tip follows successors from id to the most recent revision
func Tip(v store.View, id model.ClaimID) (model.ClaimID, error) {
	seen := map[model.ClaimID]bool{id: true}
	cur := id
	for {
		next, ok, err := Successor(v, cur)
		if err != nil {
			return "", err
		}
		if !ok || seen[next] {
			return cur, nil
		}
		seen[next] = true
		cur = next
	}
}

func sortedUnique(ids []model.ClaimID) []model.ClaimID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:0]
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}
