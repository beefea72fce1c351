package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ppiankov/claimledger/internal/cache"
	"github.com/ppiankov/claimledger/internal/graph"
	"github.com/ppiankov/claimledger/internal/model"
	"github.com/ppiankov/claimledger/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	t       *testing.T
	store   *store.Store
	cache   *cache.MemoryCache
	engine  *Engine
	builder *graph.Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.OpenInMemory()
	require.NoError(t, err)
	c := cache.NewMemoryCache(time.Minute, time.Minute)
	e := NewEngine(s, c, zap.NewNop())
	t.Cleanup(func() {
		e.Close()
		_ = s.Close()
	})
	return &fixture{t: t, store: s, cache: c, engine: e, builder: graph.NewBuilder(zap.NewNop())}
}

func (f *fixture) put(id, scope string, status model.Status) {
	f.t.Helper()
	_, err := f.store.Put(context.Background(), &model.Claim{ID: model.ClaimID(id), Tier: 2, Status: status, Scope: scope})
	require.NoError(f.t, err)
}

func (f *fixture) link(src, dst string, typ model.RelationType) {
	f.t.Helper()
	rel := model.Relation{Source: model.ClaimID(src), Target: model.ClaimID(dst), Type: typ}
	err := f.store.Tx(context.Background(), []model.ClaimID{rel.Source, rel.Target}, func(tx *store.Tx) error {
		return f.builder.Link(tx, rel, "test")
	})
	require.NoError(f.t, err)
}

func TestResolveCanonical_ByScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put("X", "line-initial", model.StatusSuperseded)
	f.put("Y", "line-initial", model.StatusOpen)
	f.link("Y", "X", model.RelationSupersedes)

	got, err := f.engine.ResolveCanonical(ctx, "line-initial")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimID("Y"), got.ID)

	_, err = f.engine.ResolveCanonical(ctx, "no-such-topic")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestResolveCanonical_Ambiguous(t *testing.T) {
	f := newFixture(t)
	f.put("C2", "gallows", model.StatusValidated)
	f.put("C1", "gallows", model.StatusOpen)

	_, err := f.engine.ResolveCanonical(context.Background(), "gallows")
	require.ErrorIs(t, err, model.ErrAmbiguous)

	var amb *model.AmbiguousError
	require.True(t, errors.As(err, &amb))
	assert.Equal(t, "gallows", amb.Topic)
	assert.Equal(t, []model.ClaimID{"C1", "C2"}, amb.Candidates)
}

func TestResolveCanonical_ByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put("V1", "labels", model.StatusOpen)
	f.put("V2", "labels", model.StatusOpen)
	f.put("V3", "labels", model.StatusOpen)
	f.link("V2", "V1", model.RelationSupersedes)
	f.link("V3", "V2", model.RelationSupersedes)

	for _, id := range []string{"V1", "V2", "V3"} {
		got, err := f.engine.ResolveCanonical(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.ClaimID("V3"), got.ID, "from %s", id)
	}
}

func TestResolveCanonical_RefutedTip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put("OLD", "labels", model.StatusOpen)
	f.put("DEAD", "labels", model.StatusRefuted)
	f.link("DEAD", "OLD", model.RelationSupersedes)

	_, err := f.engine.ResolveCanonical(ctx, "OLD")
	assert.ErrorIs(t, err, model.ErrNoCanonical)

	_, err = f.engine.ResolveCanonical(ctx, "labels")
	assert.ErrorIs(t, err, model.ErrNoCanonical)
}

func TestResolveCanonical_IdempotentAndFresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put("A", "quires", model.StatusOpen)

	first, err := f.engine.ResolveCanonical(ctx, "quires")
	require.NoError(t, err)
	second, err := f.engine.ResolveCanonical(ctx, "quires")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	hits, _ := f.cache.Stats()
	assert.Equal(t, uint64(1), hits)

	// A new claim in the scope invalidates the cached answer
	f.put("B", "quires", model.StatusOpen)
	_, err = f.engine.ResolveCanonical(ctx, "quires")
	assert.ErrorIs(t, err, model.ErrAmbiguous)
}

func TestSupportersDetractors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"T", "S1", "S2", "D1", "D2", "DEP"} {
		f.put(id, "hands", model.StatusOpen)
	}
	f.link("S1", "T", model.RelationConfirms)
	f.link("S2", "T", model.RelationExtends)
	f.link("DEP", "T", model.RelationDependsOn)
	f.link("T", "D1", model.RelationContradicts)
	f.link("D2", "T", model.RelationContradicts)

	sup, err := f.engine.Supporters(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, []model.ClaimID{"S1", "S2"}, sup)

	det, err := f.engine.Detractors(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, []model.ClaimID{"D1", "D2"}, det)

	_, err = f.engine.Supporters(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDerivationChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put("R1", "folio-order", model.StatusOpen)
	f.put("R2", "folio-order", model.StatusOpen)
	f.put("R3", "folio-order", model.StatusOpen)
	f.link("R2", "R1", model.RelationSupersedes)
	f.link("R3", "R2", model.RelationSupersedes)

	chain, err := f.engine.DerivationChain(ctx, "R2")
	require.NoError(t, err)
	ids := make([]model.ClaimID, len(chain))
	for i, c := range chain {
		ids[i] = c.ID
	}
	assert.Equal(t, []model.ClaimID{"R1", "R2", "R3"}, ids)

	single, err := f.engine.DerivationChain(ctx, "R1")
	require.NoError(t, err)
	assert.Len(t, single, 3)
}
