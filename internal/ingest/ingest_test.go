package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ppiankov/claimledger/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const sample = `
id: LI-1
tier: 2
scope: line-initial
statement: Line-initial glyphs differ in distribution from line-medial glyphs
producer: glyph-stats
evidence:
  - kind: statistic
    p_value: 0.003
    sample_size: 4120
    payload:
      test: chi2
  - kind: citation
    citation: BASE-1
relations:
  - type: extends
    target: BASE-1
refs:
  - "contradicts: LI-0"
`

func TestDecode_SingleDocument(t *testing.T) {
	drafts, err := Decode(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, drafts, 1)

	c, err := drafts[0].ToClaim()
	require.NoError(t, err)

	p := 0.003
	want := &model.Claim{
		ID:        "LI-1",
		Tier:      2,
		Status:    model.StatusOpen,
		Scope:     "line-initial",
		Statement: "Line-initial glyphs differ in distribution from line-medial glyphs",
		Evidence: []model.EvidenceItem{
			{
				Kind:         model.EvidenceStatistic,
				Source:       "glyph-stats",
				Payload:      map[string]any{"test": "chi2"},
				Significance: &model.Significance{PValue: &p, SampleSize: 4120},
			},
			{Kind: model.EvidenceCitation, Source: "glyph-stats", Citation: "BASE-1"},
		},
		Relations: []model.RelationRef{
			{Target: "BASE-1", Type: model.RelationExtends},
			{Target: "LI-0", Type: model.RelationContradicts},
		},
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("claim mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []string{"BASE-1", "LI-0", "BASE-1"}, drafts[0].References())
}

func TestDecode_SequencesAndStreams(t *testing.T) {
	doc := `
- {id: A, tier: 1, scope: s, statement: a}
- {id: B, tier: 1, scope: s, statement: b}
---
{"id": "C", "tier": 0, "scope": "s", "statement": "c"}
---
`
	drafts, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)

	var ids []string
	for _, d := range drafts {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"A", "B", "C"}, ids)

	_, err = Decode(strings.NewReader("just a string"))
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestDraft_Validate(t *testing.T) {
	tier := func(n int) *int { return &n }

	tests := []struct {
		name  string
		draft Draft
		want  string
	}{
		{"missing id", Draft{Tier: tier(1), Scope: "s", Statement: "x"}, "id is required"},
		{"missing tier", Draft{ID: "A", Scope: "s", Statement: "x"}, "tier is required"},
		{"tier above range", Draft{ID: "A", Tier: tier(5), Scope: "s", Statement: "x"}, "tier failed max=4"},
		{"slash in id", Draft{ID: "a/b", Tier: tier(1), Scope: "s", Statement: "x"}, "id must not contain path separators"},
		{"unknown evidence kind", Draft{ID: "A", Tier: tier(1), Scope: "s", Statement: "x",
			Evidence: []EvidenceDraft{{Kind: "hunch"}}}, "evidence[0].kind must be one of"},
		{"citation without target", Draft{ID: "A", Tier: tier(1), Scope: "s", Statement: "x",
			Evidence: []EvidenceDraft{{Kind: "citation"}}}, "evidence[0].citation is required"},
		{"bad relation type", Draft{ID: "A", Tier: tier(1), Scope: "s", Statement: "x",
			Relations: []RelationDraft{{Type: "likes", Target: "B"}}}, "relations[0].type must be one of"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.draft.Validate()
			require.ErrorIs(t, err, model.ErrValidation)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	bad := Draft{ID: "A", Tier: tier(1), Scope: "s", Statement: "x", Refs: []string{"nonsense"}}
	_, err := bad.ToClaim()
	assert.ErrorIs(t, err, model.ErrValidation)
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestExpand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "")
	writeFile(t, filepath.Join(dir, "nested", "b.yml"), "")
	writeFile(t, filepath.Join(dir, "nested", "deep", "c.json"), "")
	writeFile(t, filepath.Join(dir, "notes.txt"), "")

	all, err := Expand([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yaml"),
		filepath.Join(dir, "nested", "b.yml"),
		filepath.Join(dir, "nested", "deep", "c.json"),
	}, all)

	globbed, err := Expand([]string{filepath.Join(dir, "**", "*.yml"), filepath.Join(dir, "a.yaml"), filepath.Join(dir, "a.yaml")})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "nested", "b.yml")}, globbed)

	_, err = Expand([]string{filepath.Join(dir, "*.toml")})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.yaml")
	writeFile(t, path, "- {id: A, tier: 1, scope: s, statement: a}\n- {id: B, tier: 1, scope: s, statement: b}\n")

	records, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, path+"#2", records[1].Source)
	assert.Equal(t, "B", records[1].Draft.ID)
}

func TestLoadEvidence(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "evidence.yaml")
	writeFile(t, path, "- {kind: statistic, p_value: 0.02, sample_size: 80, source: rerun}\n- {kind: citation, citation: BASE-1}\n")
	items, err := LoadEvidence(path)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.NotNil(t, items[0].Significance)
	assert.Equal(t, 80, items[0].Significance.SampleSize)
	assert.Equal(t, "rerun", items[0].Source)
	assert.Equal(t, model.ClaimID("BASE-1"), items[1].Citation)

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "- {kind: citation}\n")
	_, err = LoadEvidence(bad)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestWatcher_HandlesSettledFiles(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var handled []string
	done := make(chan struct{}, 4)
	w := NewWatcher(dir, 40*time.Millisecond, func(_ context.Context, path string) error {
		mu.Lock()
		handled = append(handled, filepath.Base(path))
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- w.Run(ctx) }()

	// Give the watch time to register before writing
	time.Sleep(50 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "ignored.txt"), "x")
	path := filepath.Join(dir, "drop.yaml")
	writeFile(t, path, "id: A\n")
	writeFile(t, path, "id: A\ntier: 1\n")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("draft file never handled")
	}

	cancel()
	require.NoError(t, <-stopped)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"drop.yaml"}, handled)
}
