package consistency

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/claimledger/internal/model"
	"github.com/ppiankov/claimledger/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ctxCheckEvery is how many items a check family visits between cancellation checks
const ctxCheckEvery = 128

// corpus is the in-memory picture of one snapshot shared read-only by every check family
type corpus struct {
	reportID string
	claims   map[model.ClaimID]*model.Claim
	ids      []model.ClaimID
	edges    []model.Relation

	successors   map[model.ClaimID][]model.ClaimID // incoming supersedes
	predecessors map[model.ClaimID][]model.ClaimID // outgoing supersedes
}

func newCorpus(reportID string, claims map[model.ClaimID]*model.Claim, edges []model.Relation) *corpus {
	c := &corpus{
		reportID:     reportID,
		claims:       claims,
		edges:        edges,
		successors:   make(map[model.ClaimID][]model.ClaimID),
		predecessors: make(map[model.ClaimID][]model.ClaimID),
	}

	c.ids = make([]model.ClaimID, 0, len(claims))
	for id := range claims {
		c.ids = append(c.ids, id)
	}
	sort.Slice(c.ids, func(i, j int) bool { return c.ids[i] < c.ids[j] })

	for _, e := range edges {
		if e.Type != model.RelationSupersedes {
			continue
		}
		c.predecessors[e.Source] = append(c.predecessors[e.Source], e.Target)
		c.successors[e.Target] = append(c.successors[e.Target], e.Source)
	}
	return c
}

// tip follows successors from id to the most recent revision, stopping on loops
func (c *corpus) tip(id model.ClaimID) model.ClaimID {
	seen := map[model.ClaimID]bool{id: true}
	for {
		next := c.successors[id]
		if len(next) == 0 || seen[next[0]] {
			return id
		}
		id = next[0]
		seen[id] = true
	}
}

// family is one independent group of checks over the corpus
// It returns whatever it found before ctx was cancelled together with ctx's error.
type family struct {
	name string
	run  func(ctx context.Context, c *corpus) ([]model.Violation, error)
}

var families = []family{
	{name: "contradiction", run: checkContradictions},
	{name: "orphan_edge", run: checkOrphanEdges},
	{name: "stale_tier", run: checkStaleTiers},
	{name: "supersession", run: checkSupersession},
	{name: "stop_condition", run: checkStopConditions},
	{name: "frozen_tier", run: checkFrozenTiers},
}

// Sweep re-verifies every invariant over snap
// It never writes. On cancellation it returns the violations found so far in a
// report flagged incomplete, together with the context error.
func (c *Checker) Sweep(ctx context.Context, snap *store.Snapshot) (*model.Report, error) {
	report := &model.Report{
		ID:         uuid.NewString(),
		SnapshotAt: snap.At(),
		Violations: []model.Violation{},
	}
	start := time.Now()

	claims, err := snap.Claims(ctx)
	if err != nil {
		report.FinishedAt = c.now()
		return report, fmt.Errorf("load claims: %w", err)
	}
	edges, err := snap.Edges(ctx)
	if err != nil {
		report.FinishedAt = c.now()
		return report, fmt.Errorf("load edges: %w", err)
	}

	cor := newCorpus(report.ID, claims, edges)
	report.Claims = len(claims)
	report.Edges = len(edges)

	results := make([][]model.Violation, len(families))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range families {
		g.Go(func() error {
			found, err := f.run(gctx, cor)
			results[i] = found
			if err != nil {
				return fmt.Errorf("%s checks: %w", f.name, err)
			}
			return nil
		})
	}
	err = g.Wait()

	for _, found := range results {
		report.Violations = append(report.Violations, found...)
	}
	report.Complete = err == nil
	report.FinishedAt = c.now()

	c.logger.Debug("sweep finished",
		zap.String("report", report.ID),
		zap.Int("claims", report.Claims),
		zap.Int("edges", report.Edges),
		zap.Int("violations", len(report.Violations)),
		zap.Bool("complete", report.Complete),
		zap.Duration("took", time.Since(start)))
	return report, err
}

func checkContradictions(ctx context.Context, c *corpus) ([]model.Violation, error) {
	var out []model.Violation
	for i, e := range c.edges {
		if i%ctxCheckEvery == 0 && ctx.Err() != nil {
			return out, ctx.Err()
		}
		if e.Type != model.RelationContradicts {
			continue
		}
		a, b := c.claims[e.Source], c.claims[e.Target]
		if a == nil || b == nil || !a.Status.IsActive() || !b.Status.IsActive() {
			continue
		}

		edge := e
		out = append(out, model.Violation{
			Kind:        model.ViolationContradiction,
			Severity:    model.SeverityCritical,
			Claims:      []model.ClaimID{a.ID, b.ID},
			Edge:        &edge,
			Description: fmt.Sprintf("%s (%s, %s) and %s (%s, %s) are both asserted but contradict", a.ID, a.Status, a.Tier, b.ID, b.Status, b.Tier),
			Suggestion:  fmt.Sprintf("claimledger transition %s OPEN --report %s, or claimledger unlink %s contradicts %s --report %s", weaker(a, b).ID, c.reportID, a.ID, b.ID, c.reportID),
			Data: map[string]interface{}{
				"source_status": string(a.Status),
				"target_status": string(b.Status),
				"source_tier":   int(a.Tier),
				"target_tier":   int(b.Tier),
			},
		})
	}
	return out, nil
}

// weaker picks the side to downgrade: VALIDATED before FROZEN, then the higher tier, then the later id
func weaker(a, b *model.Claim) *model.Claim {
	if (a.Status == model.StatusFrozen) != (b.Status == model.StatusFrozen) {
		if a.Status == model.StatusFrozen {
			return b
		}
		return a
	}
	if a.Tier != b.Tier {
		if a.Tier > b.Tier {
			return a
		}
		return b
	}
	if a.ID > b.ID {
		return a
	}
	return b
}

func checkOrphanEdges(ctx context.Context, c *corpus) ([]model.Violation, error) {
	var out []model.Violation
	for i, e := range c.edges {
		if i%ctxCheckEvery == 0 && ctx.Err() != nil {
			return out, ctx.Err()
		}

		src := c.claims[e.Source]
		if src != nil && !src.Status.IsLive() {
			continue
		}
		dst := c.claims[e.Target]
		edge := e

		switch {
		case src == nil:
			out = append(out, model.Violation{
				Kind:        model.ViolationOrphanEdge,
				Severity:    model.SeverityCritical,
				Claims:      []model.ClaimID{e.Source},
				Edge:        &edge,
				Description: fmt.Sprintf("edge %s has no source claim", e),
			})
		case dst == nil:
			out = append(out, model.Violation{
				Kind:        model.ViolationOrphanEdge,
				Severity:    model.SeverityCritical,
				Claims:      []model.ClaimID{e.Source, e.Target},
				Edge:        &edge,
				Description: fmt.Sprintf("edge %s points at a missing claim", e),
				Suggestion:  fmt.Sprintf("claimledger unlink %s %s %s --report %s", e.Source, e.Type, e.Target, c.reportID),
			})
		case e.Type != model.RelationSupersedes && (dst.Status == model.StatusSuperseded || dst.SupersededBy != ""):
			canonical := c.tip(dst.ID)
			out = append(out, model.Violation{
				Kind:        model.ViolationOrphanEdge,
				Severity:    model.SeverityWarning,
				Claims:      []model.ClaimID{e.Source, e.Target},
				Edge:        &edge,
				Description: fmt.Sprintf("edge %s points at a superseded claim", e),
				Suggestion:  fmt.Sprintf("claimledger retarget %s %s %s --report %s (moves the edge onto %s)", e.Source, e.Type, e.Target, c.reportID, canonical),
				Data: map[string]interface{}{
					"canonical_successor": string(canonical),
				},
			})
		}
	}
	return out, nil
}

// checkStaleTiers flags dependents that outrank the claim they depend on
func checkStaleTiers(ctx context.Context, c *corpus) ([]model.Violation, error) {
	var out []model.Violation
	for i, e := range c.edges {
		if i%ctxCheckEvery == 0 && ctx.Err() != nil {
			return out, ctx.Err()
		}
		if e.Type != model.RelationDependsOn {
			continue
		}
		src, dst := c.claims[e.Source], c.claims[e.Target]
		if src == nil || dst == nil || !src.Status.IsLive() || src.Tier <= dst.Tier {
			continue
		}

		edge := e
		out = append(out, model.Violation{
			Kind:        model.ViolationStaleTier,
			Severity:    model.SeverityWarning,
			Claims:      []model.ClaimID{src.ID, dst.ID},
			Edge:        &edge,
			Description: fmt.Sprintf("%s at %s depends on %s at %s", src.ID, src.Tier, dst.ID, dst.Tier),
			Suggestion:  fmt.Sprintf("claimledger demote %s %d --report %s", src.ID, int(dst.Tier), c.reportID),
			Data: map[string]interface{}{
				"dependent_tier":  int(src.Tier),
				"foundation_tier": int(dst.Tier),
			},
		})
	}
	return out, nil
}

// checkSupersession re-verifies that supersedes edges form disjoint chains
func checkSupersession(ctx context.Context, c *corpus) ([]model.Violation, error) {
	var out []model.Violation

	for i, id := range c.ids {
		if i%ctxCheckEvery == 0 && ctx.Err() != nil {
			return out, ctx.Err()
		}
		if succ := c.successors[id]; len(succ) > 1 {
			claims := append([]model.ClaimID{id}, succ...)
			out = append(out, model.Violation{
				Kind:        model.ViolationSupersessionFanIn,
				Severity:    model.SeverityCritical,
				Claims:      claims,
				Description: fmt.Sprintf("%s is superseded by %d claims", id, len(succ)),
				Data:        map[string]interface{}{"successors": len(succ)},
			})
		}
	}

	// Depth-first search; a grey node reached again closes a cycle
	const (
		white = iota
		grey
		black
	)
	color := make(map[model.ClaimID]int)
	reported := make(map[string]bool)
	var stack []model.ClaimID

	var visit func(id model.ClaimID)
	visit = func(id model.ClaimID) {
		color[id] = grey
		stack = append(stack, id)
		for _, next := range c.predecessors[id] {
			switch color[next] {
			case white:
				visit(next)
			case grey:
				cycle := cycleFrom(stack, next)
				key := cycleKey(cycle)
				if reported[key] {
					continue
				}
				reported[key] = true
				parts := make([]string, len(cycle))
				for i, cid := range cycle {
					parts[i] = string(cid)
				}
				out = append(out, model.Violation{
					Kind:        model.ViolationSupersessionCycle,
					Severity:    model.SeverityCritical,
					Claims:      cycle,
					Description: fmt.Sprintf("supersedes cycle: %s -> %s", strings.Join(parts, " -> "), cycle[0]),
				})
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	roots := make([]model.ClaimID, 0, len(c.predecessors))
	for id := range c.predecessors {
		roots = append(roots, id)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	for i, id := range roots {
		if i%ctxCheckEvery == 0 && ctx.Err() != nil {
			return out, ctx.Err()
		}
		if color[id] == white {
			visit(id)
		}
	}
	return out, nil
}

// cycleFrom returns the part of stack starting at start, rotated to begin at its smallest id
func cycleFrom(stack []model.ClaimID, start model.ClaimID) []model.ClaimID {
	i := len(stack) - 1
	for i > 0 && stack[i] != start {
		i--
	}
	cycle := append([]model.ClaimID(nil), stack[i:]...)

	lo := 0
	for j := range cycle {
		if cycle[j] < cycle[lo] {
			lo = j
		}
	}
	return append(cycle[lo:], cycle[:lo]...)
}

func cycleKey(cycle []model.ClaimID) string {
	parts := make([]string, len(cycle))
	for i, id := range cycle {
		parts[i] = string(id)
	}
	return strings.Join(parts, "\x00")
}

// checkStopConditions flags tier increases made while a stop condition held
// and before any external_validation evidence had been recorded
func checkStopConditions(ctx context.Context, c *corpus) ([]model.Violation, error) {
	var out []model.Violation
	for i, id := range c.ids {
		if i%ctxCheckEvery == 0 && ctx.Err() != nil {
			return out, ctx.Err()
		}

		cl := c.claims[id]
		if !cl.StopCondition {
			continue
		}
		for j := 1; j < len(cl.History); j++ {
			prev, cur := cl.History[j-1], cl.History[j]
			if !prev.StopCondition || cur.Tier <= prev.Tier || externalBefore(cl, cur.Timestamp) {
				continue
			}
			out = append(out, model.Violation{
				Kind:        model.ViolationStopConditionBreach,
				Severity:    model.SeverityCritical,
				Claims:      []model.ClaimID{id},
				Description: fmt.Sprintf("%s rose %s -> %s at revision %d under a stop condition without external validation", id, prev.Tier, cur.Tier, cur.Revision),
				Suggestion:  fmt.Sprintf("claimledger demote %s %d --report %s", id, int(prev.Tier), c.reportID),
				Data: map[string]interface{}{
					"revision":  cur.Revision,
					"from_tier": int(prev.Tier),
					"to_tier":   int(cur.Tier),
				},
			})
			break
		}
	}
	return out, nil
}

func externalBefore(c *model.Claim, at time.Time) bool {
	for _, ev := range c.Evidence {
		if ev.Kind == model.EvidenceExternalValidation && !ev.AddedAt.After(at) {
			return true
		}
	}
	return false
}

func checkFrozenTiers(ctx context.Context, c *corpus) ([]model.Violation, error) {
	var out []model.Violation
	for i, id := range c.ids {
		if i%ctxCheckEvery == 0 && ctx.Err() != nil {
			return out, ctx.Err()
		}
		cl := c.claims[id]
		if cl.Status != model.StatusFrozen || cl.Tier == model.TierFoundational {
			continue
		}
		out = append(out, model.Violation{
			Kind:        model.ViolationFrozenTier,
			Severity:    model.SeverityCritical,
			Claims:      []model.ClaimID{id},
			Description: fmt.Sprintf("%s is FROZEN at %s", id, cl.Tier),
			Suggestion:  fmt.Sprintf("claimledger demote %s 0 --report %s", id, c.reportID),
		})
	}
	return out, nil
}
