package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/claimledger/internal/metrics"
	"github.com/ppiankov/claimledger/internal/model"
	"github.com/ppiankov/claimledger/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLedger(t *testing.T) (*Ledger, *metrics.Metrics) {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)

	m := metrics.New()
	l := New(model.DefaultConfig(), st, m, zap.NewNop())
	t.Cleanup(func() {
		require.NoError(t, l.Close())
		require.NoError(t, st.Close())
	})
	return l, m
}

func stat(p float64) model.EvidenceItem {
	return model.EvidenceItem{
		Kind:         model.EvidenceStatistic,
		Source:       "bigram-chi2",
		Significance: &model.Significance{PValue: &p, SampleSize: 1200},
	}
}

func claim(id, scope string, tier model.Tier, rels ...model.RelationRef) *model.Claim {
	return &model.Claim{
		ID:        model.ClaimID(id),
		Scope:     scope,
		Tier:      tier,
		Statement: "statement of " + id,
		Evidence:  []model.EvidenceItem{stat(0.01)},
		Relations: rels,
	}
}

func ref(typ model.RelationType, target string) model.RelationRef {
	return model.RelationRef{Type: typ, Target: model.ClaimID(target)}
}

func TestScenario_SupersessionMovesCanonical(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	x, err := l.Ingest(ctx, claim("X", "line-initial", 2))
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, x.Status)

	_, err = l.Transition(ctx, "X", model.StatusValidated, MutationOptions{})
	require.NoError(t, err)

	got, err := l.ResolveCanonical(ctx, "line-initial")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimID("X"), got.ID)

	_, err = l.Ingest(ctx, claim("Y", "line-initial", 2, ref(model.RelationSupersedes, "X")))
	require.NoError(t, err)

	x, err = l.Get(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuperseded, x.Status)
	assert.Equal(t, model.ClaimID("Y"), x.SupersededBy)

	got, err = l.ResolveCanonical(ctx, "line-initial")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimID("Y"), got.ID)

	chain, err := l.DerivationChain(ctx, "Y")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, model.ClaimID("X"), chain[0].ID)
}

func TestScenario_StopConditionLifted(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.Ingest(ctx, claim("X", "scribe-count", 3))
	require.NoError(t, err)
	_, err = l.MarkStopCondition(ctx, "X", MutationOptions{})
	require.NoError(t, err)

	_, err = l.RequestPromotion(ctx, "X", 4, MutationOptions{})
	require.ErrorIs(t, err, model.ErrBlocked)
	reason, ok := model.BlockedReason(err)
	require.True(t, ok)
	assert.Equal(t, model.ReasonStopCondition, reason)

	_, err = l.AppendEvidence(ctx, "X", model.EvidenceItem{
		Kind:   model.EvidenceExternalValidation,
		Source: "paleography-review",
	}, MutationOptions{})
	require.NoError(t, err)

	x, err := l.RequestPromotion(ctx, "X", 4, MutationOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.Tier(4), x.Tier)
	assert.True(t, x.StopCondition)
}

func TestScenario_ContradictionBlocksValidation(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.Ingest(ctx, claim("B", "gallows", 2))
	require.NoError(t, err)
	_, err = l.Transition(ctx, "B", model.StatusValidated, MutationOptions{})
	require.NoError(t, err)
	_, err = l.Ingest(ctx, claim("A", "gallows", 2, ref(model.RelationContradicts, "B")))
	require.NoError(t, err)

	_, err = l.Transition(ctx, "A", model.StatusValidated, MutationOptions{})
	require.ErrorIs(t, err, model.ErrBlocked)

	a, err := l.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, a.Status, "blocked transition must leave no trace")

	_, err = l.Transition(ctx, "B", model.StatusOpen, MutationOptions{Note: "re-examining"})
	require.NoError(t, err)
	a, err = l.Transition(ctx, "A", model.StatusValidated, MutationOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusValidated, a.Status)

	det, err := l.Detractors(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, []model.ClaimID{"A"}, det)
}

func TestScenario_AmbiguousScope(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.Ingest(ctx, claim("C2", "quire-order", 2))
	require.NoError(t, err)
	_, err = l.Ingest(ctx, claim("C1", "quire-order", 2))
	require.NoError(t, err)

	_, err = l.ResolveCanonical(ctx, "quire-order")
	var amb *model.AmbiguousError
	require.True(t, errors.As(err, &amb))
	assert.Equal(t, []model.ClaimID{"C1", "C2"}, amb.Candidates)
}

func TestIngest_Validation(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.Ingest(ctx, claim("P", "labels", 1))
	require.NoError(t, err)

	tests := []struct {
		name  string
		claim *model.Claim
		want  error
	}{
		{"missing statement", &model.Claim{ID: "Q", Scope: "labels", Tier: 1}, model.ErrValidation},
		{"tier out of range", claim("Q", "labels", 7), model.ErrValidation},
		{"duplicate id", claim("P", "labels", 1), model.ErrDuplicateID},
		{"unknown relation target", claim("Q", "labels", 1, ref(model.RelationExtends, "NOPE")), model.ErrUnknownTarget},
		{"self supersession", claim("Q", "labels", 1, ref(model.RelationSupersedes, "Q")), model.ErrWouldCreateCycle},
		{"two supersedes", claim("Q", "labels", 1, ref(model.RelationSupersedes, "P"), ref(model.RelationSupersedes, "R")), model.ErrDuplicateEdge},
		{"citation without target", &model.Claim{ID: "Q", Scope: "labels", Tier: 1, Statement: "s",
			Evidence: []model.EvidenceItem{{Kind: model.EvidenceCitation}}}, model.ErrValidation},
		{"citation of unknown claim", &model.Claim{ID: "Q", Scope: "labels", Tier: 1, Statement: "s",
			Evidence: []model.EvidenceItem{{Kind: model.EvidenceCitation, Citation: "NOPE"}}}, model.ErrUnknownTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Ingest(ctx, tt.claim)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = l.Get(ctx, "Q")
	assert.ErrorIs(t, err, model.ErrNotFound, "rejected ingests must leave no trace")
}

func TestIngest_ForcesOpenStatus(t *testing.T) {
	l, _ := newLedger(t)
	c := claim("F", "hands", 0)
	c.Status = model.StatusFrozen

	got, err := l.Ingest(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, got.Status)
	assert.Equal(t, model.StatusFrozen, c.Status, "caller's claim is not mutated")
}

func TestIngest_ConcurrentSupersedesOneWinner(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	_, err := l.Ingest(ctx, claim("BASE", "labels", 2))
	require.NoError(t, err)

	ids := []string{"R1", "R2", "R3", "R4", "R5", "R6"}
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = l.Ingest(ctx, claim(id, "labels", 2, ref(model.RelationSupersedes, "BASE")))
		}()
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, model.ErrAlreadySuperseded)
	}
	assert.Equal(t, 1, won)

	base, err := l.Get(ctx, "BASE")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuperseded, base.Status)
}

func TestRetarget(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.Ingest(ctx, claim("OLD", "labels", 2))
	require.NoError(t, err)
	_, err = l.Ingest(ctx, claim("DEP", "labels", 3, ref(model.RelationDependsOn, "OLD")))
	require.NoError(t, err)

	_, err = l.Retarget(ctx, model.Relation{Source: "DEP", Target: "OLD", Type: model.RelationDependsOn}, MutationOptions{})
	assert.ErrorIs(t, err, model.ErrValidation, "nothing to retarget before supersession")

	_, err = l.Ingest(ctx, claim("NEW", "labels", 2, ref(model.RelationSupersedes, "OLD")))
	require.NoError(t, err)

	moved, err := l.Retarget(ctx, model.Relation{Source: "DEP", Target: "OLD", Type: model.RelationDependsOn},
		MutationOptions{Report: "r-1"})
	require.NoError(t, err)
	assert.Equal(t, model.ClaimID("NEW"), moved.Target)

	dep, err := l.Get(ctx, "DEP")
	require.NoError(t, err)
	assert.Equal(t, []model.RelationRef{ref(model.RelationDependsOn, "NEW")}, dep.Relations)
	assert.Contains(t, dep.History[len(dep.History)-1].Reason, "report r-1")

	_, err = l.Retarget(ctx, model.Relation{Source: "NEW", Target: "OLD", Type: model.RelationSupersedes}, MutationOptions{})
	assert.ErrorIs(t, err, model.ErrImmutable)
}

func TestLinkUnlink(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	_, err := l.Ingest(ctx, claim("A", "hands", 2))
	require.NoError(t, err)
	_, err = l.Ingest(ctx, claim("B", "hands", 2))
	require.NoError(t, err)

	rel := model.Relation{Source: "A", Target: "B", Type: model.RelationConfirms}
	require.NoError(t, l.Link(ctx, rel, MutationOptions{}))
	assert.ErrorIs(t, l.Link(ctx, rel, MutationOptions{}), model.ErrDuplicateEdge)

	sup, err := l.Supporters(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, []model.ClaimID{"A"}, sup)

	require.NoError(t, l.Unlink(ctx, rel, MutationOptions{Report: "r-2"}))
	assert.ErrorIs(t, l.Unlink(ctx, rel, MutationOptions{}), model.ErrNotFound)

	require.NoError(t, l.Link(ctx, model.Relation{Source: "B", Target: "A", Type: model.RelationSupersedes}, MutationOptions{}))
	a, err := l.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuperseded, a.Status)
}

func TestDemoteAndStaleRevision(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	c, err := l.Ingest(ctx, claim("D", "hands", 3))
	require.NoError(t, err)

	_, err = l.Demote(ctx, "D", 1, MutationOptions{IfRevision: c.Revision + 5})
	assert.ErrorIs(t, err, model.ErrStaleRevision)

	d, err := l.Demote(ctx, "D", 1, MutationOptions{IfRevision: c.Revision})
	require.NoError(t, err)
	assert.Equal(t, model.Tier(1), d.Tier)

	_, err = l.Demote(ctx, "D", 2, MutationOptions{})
	assert.ErrorIs(t, err, model.ErrIllegalTransition, "raising the tier needs the gate")
}

func TestMetricsAndSweep(t *testing.T) {
	l, m := newLedger(t)
	ctx := context.Background()

	_, err := l.Ingest(ctx, claim("A", "hands", 2))
	require.NoError(t, err)
	_, err = l.Ingest(ctx, claim("A", "hands", 2))
	require.ErrorIs(t, err, model.ErrDuplicateID)

	count, err := testutil.GatherAndCount(m.Registry(), "claimledger_ledger_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per outcome")

	report, err := l.Sweep(ctx)
	require.NoError(t, err)
	assert.True(t, report.Complete)
	assert.Empty(t, report.Violations)

	sweeper := l.NewSweeper()
	sweeper.Start(ctx)
	defer sweeper.Stop()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	once, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, once.Complete)
}
