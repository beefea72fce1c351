package consistency

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ppiankov/claimledger/internal/model"
	"github.com/ppiankov/claimledger/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenInMemory(store.WithClock(testClock()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seed writes claims and raw edges without going through the graph rules,
// the way a damaged or hand-edited ledger could look
func seed(t *testing.T, s *store.Store, claims []*model.Claim, edges []model.Relation) {
	t.Helper()
	ctx := context.Background()
	for _, c := range claims {
		if c.Scope == "" {
			c.Scope = "folios"
		}
		_, err := s.Put(ctx, c)
		require.NoError(t, err)
	}
	for _, e := range edges {
		err := s.Tx(ctx, []model.ClaimID{e.Source, e.Target}, func(tx *store.Tx) error {
			return tx.AddEdge(e)
		})
		require.NoError(t, err)
	}
}

func sweep(t *testing.T, s *store.Store) *model.Report {
	t.Helper()
	snap := s.Snapshot()
	defer snap.Close()
	report, err := NewChecker(zap.NewNop()).Sweep(context.Background(), snap)
	require.NoError(t, err)
	return report
}

func rel(src, typ, dst string) model.Relation {
	return model.Relation{Source: model.ClaimID(src), Target: model.ClaimID(dst), Type: model.RelationType(typ)}
}

func TestCheckClaim(t *testing.T) {
	s := openStore(t)
	seed(t, s, []*model.Claim{
		{ID: "ICE", Tier: 2, Status: model.StatusFrozen},
		{ID: "A", Tier: 1, Status: model.StatusValidated},
		{ID: "B", Tier: 1, Status: model.StatusValidated},
		{ID: "C", Tier: 1, Status: model.StatusOpen},
		{ID: "OLD", Tier: 2, Status: model.StatusOpen},
		{ID: "N1", Tier: 2, Status: model.StatusOpen},
		{ID: "N2", Tier: 2, Status: model.StatusOpen},
	}, []model.Relation{
		rel("A", "contradicts", "B"),
		rel("C", "contradicts", "A"),
		rel("N1", "supersedes", "OLD"),
		rel("N2", "supersedes", "OLD"),
	})

	c := NewChecker(zap.NewNop())
	err := s.View(func(v store.View) error {
		assert.ErrorIs(t, c.CheckClaim(v, "ICE"), model.ErrIllegalTransition)
		assert.ErrorIs(t, c.CheckClaim(v, "A"), model.ErrBlocked)
		assert.NoError(t, c.CheckClaim(v, "C"))
		assert.ErrorIs(t, c.CheckClaim(v, "OLD"), model.ErrAlreadySuperseded)
		assert.NoError(t, c.CheckClaims(v, "C", "N1"))
		assert.ErrorIs(t, c.CheckClaims(v, "C", "missing"), model.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestSweep_CleanLedger(t *testing.T) {
	s := openStore(t)
	seed(t, s, []*model.Claim{
		{ID: "F", Tier: 0, Status: model.StatusFrozen},
		{ID: "D", Tier: 0, Status: model.StatusValidated},
		{ID: "X", Tier: 2, Status: model.StatusSuperseded, SupersededBy: "Y"},
		{ID: "Y", Tier: 2, Status: model.StatusOpen},
	}, []model.Relation{
		rel("D", "depends_on", "F"),
		rel("Y", "supersedes", "X"),
		rel("Y", "contradicts", "F"),
	})

	report := sweep(t, s)
	assert.True(t, report.Complete)
	assert.True(t, report.Clean(), "unexpected violations: %+v", report.Violations)
	assert.Equal(t, 4, report.Claims)
	assert.Equal(t, 3, report.Edges)
	assert.NotEmpty(t, report.ID)
}

func TestSweep_ReportsEveryKind(t *testing.T) {
	s := openStore(t)
	seed(t, s, []*model.Claim{
		{ID: "A", Tier: 1, Status: model.StatusValidated},
		{ID: "B", Tier: 2, Status: model.StatusFrozen},
		{ID: "DEP", Tier: 3, Status: model.StatusOpen},
		{ID: "BASE", Tier: 1, Status: model.StatusOpen},
		{ID: "OLD", Tier: 2, Status: model.StatusSuperseded, SupersededBy: "NEW"},
		{ID: "NEW", Tier: 2, Status: model.StatusOpen},
		{ID: "NEWER", Tier: 2, Status: model.StatusOpen},
		{ID: "CITER", Tier: 2, Status: model.StatusOpen},
		{ID: "P", Tier: 2, Status: model.StatusOpen},
		{ID: "Q", Tier: 2, Status: model.StatusOpen},
	}, []model.Relation{
		rel("A", "contradicts", "B"),
		rel("DEP", "depends_on", "BASE"),
		rel("NEW", "supersedes", "OLD"),
		rel("NEWER", "supersedes", "OLD"),
		rel("CITER", "confirms", "OLD"),
		rel("CITER", "extends", "GHOST"),
		rel("P", "supersedes", "Q"),
		rel("Q", "supersedes", "P"),
	})

	report := sweep(t, s)
	require.True(t, report.Complete)

	want := map[model.ViolationKind]int{
		model.ViolationContradiction:     1,
		model.ViolationOrphanEdge:        2,
		model.ViolationStaleTier:         1,
		model.ViolationSupersessionFanIn: 1,
		model.ViolationSupersessionCycle: 1,
		model.ViolationFrozenTier:        1,
	}
	if diff := cmp.Diff(want, report.CountByKind()); diff != "" {
		t.Errorf("violation counts mismatch (-want +got):\n%s", diff)
	}

	for _, v := range report.Violations {
		switch v.Kind {
		case model.ViolationSupersessionCycle:
			assert.Equal(t, []model.ClaimID{"P", "Q"}, v.Claims)
		case model.ViolationOrphanEdge:
			if v.Edge.Target == "OLD" {
				assert.Equal(t, model.SeverityWarning, v.Severity)
				assert.Equal(t, "NEW", v.Data["canonical_successor"])
				assert.Contains(t, v.Suggestion, report.ID)
			} else {
				assert.Equal(t, model.ClaimID("GHOST"), v.Edge.Target)
				assert.Equal(t, model.SeverityCritical, v.Severity)
			}
		case model.ViolationContradiction:
			assert.Contains(t, v.Suggestion, "transition A OPEN")
		}
	}
}

func TestSweep_StopConditionBreach(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	seed(t, s, []*model.Claim{
		{ID: "CAPPED", Tier: 1, Status: model.StatusOpen, StopCondition: true},
		{ID: "LIFTED", Tier: 1, Status: model.StatusOpen, StopCondition: true},
		{ID: "LATE", Tier: 1, Status: model.StatusOpen},
	}, nil)

	_, err := s.AppendEvidence(ctx, "LIFTED", 0, model.EvidenceItem{Kind: model.EvidenceExternalValidation})
	require.NoError(t, err)

	raise := func(id model.ClaimID, tier model.Tier, stop bool) {
		err := s.Tx(ctx, []model.ClaimID{id}, func(tx *store.Tx) error {
			c, err := tx.Get(id)
			if err != nil {
				return err
			}
			c.Tier = tier
			c.StopCondition = c.StopCondition || stop
			return tx.Update(c, 0, "raw write")
		})
		require.NoError(t, err)
	}
	raise("CAPPED", 3, false)
	raise("LIFTED", 3, false)
	// Raised before the flag was set: not a breach
	raise("LATE", 2, false)
	raise("LATE", 2, true)

	report := sweep(t, s)
	require.Len(t, report.Violations, 1)
	v := report.Violations[0]
	assert.Equal(t, model.ViolationStopConditionBreach, v.Kind)
	assert.Equal(t, []model.ClaimID{"CAPPED"}, v.Claims)
	assert.Equal(t, 1, v.Data["from_tier"])
	assert.Equal(t, 3, v.Data["to_tier"])
}

func TestSweep_Idempotent(t *testing.T) {
	s := openStore(t)
	seed(t, s, []*model.Claim{
		{ID: "A", Tier: 1, Status: model.StatusValidated},
		{ID: "B", Tier: 1, Status: model.StatusValidated},
		{ID: "C", Tier: 4, Status: model.StatusOpen},
	}, []model.Relation{
		rel("A", "contradicts", "B"),
		rel("C", "depends_on", "A"),
	})

	first, second := sweep(t, s), sweep(t, s)
	assert.NotEqual(t, first.ID, second.ID)

	if diff := cmp.Diff(normalize(first), normalize(second)); diff != "" {
		t.Errorf("sweep is not idempotent (-first +second):\n%s", diff)
	}

	// Sweeping never writes
	a, err := s.Get(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a.Revision)
}

func normalize(r *model.Report) []model.Violation {
	out := make([]model.Violation, len(r.Violations))
	for i, v := range r.Violations {
		v.Suggestion = strings.ReplaceAll(v.Suggestion, r.ID, "<report>")
		out[i] = v
	}
	return out
}

func TestSweep_Cancelled(t *testing.T) {
	s := openStore(t)
	seed(t, s, []*model.Claim{{ID: "A", Tier: 1, Status: model.StatusOpen}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap := s.Snapshot()
	defer snap.Close()
	report, err := NewChecker(zap.NewNop()).Sweep(ctx, snap)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.False(t, report.Complete)
	assert.False(t, report.Clean())
}

func TestSweeper_RunsInBackground(t *testing.T) {
	s := openStore(t)
	seed(t, s, []*model.Claim{
		{ID: "A", Tier: 1, Status: model.StatusValidated},
		{ID: "B", Tier: 1, Status: model.StatusValidated},
	}, []model.Relation{rel("A", "contradicts", "B")})

	reports := make(chan *model.Report, 16)
	sw := NewSweeper(NewChecker(zap.NewNop()), s,
		model.SweepConfig{Interval: 10 * time.Millisecond, Timeout: time.Second},
		func(r *model.Report, _ time.Duration) {
			select {
			case reports <- r:
			default:
			}
		})
	sw.Start(context.Background())

	select {
	case r := <-reports:
		assert.Len(t, r.Violations, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("no sweep report")
	}
	sw.Stop()

	require.NotNil(t, sw.Last())
	assert.Equal(t, model.ViolationContradiction, sw.Last().Violations[0].Kind)
}
