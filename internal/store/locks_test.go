package store

import (
	"context"
	"testing"
	"time"

	"github.com/ppiankov/claimledger/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyLocks_Exclusive(t *testing.T) {
	locks := newKeyLocks()
	ctx := context.Background()

	unlock, err := locks.Lock(ctx, "A", "B")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := locks.Lock(ctx, "B")
		if err == nil {
			close(acquired)
			u()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired B while it was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("B never became available")
	}
}

func TestKeyLocks_DisjointDoNotBlock(t *testing.T) {
	locks := newKeyLocks()
	ctx := context.Background()

	unlockA, err := locks.Lock(ctx, "A")
	require.NoError(t, err)
	defer unlockA()

	ctxB, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := locks.Lock(ctxB, "B")
	require.NoError(t, err)
	unlockB()
}

func TestKeyLocks_CancelWhileWaiting(t *testing.T) {
	locks := newKeyLocks()

	unlock, err := locks.Lock(context.Background(), "A")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, "B", "A")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Equal(t, 0, locks.size())
}

func TestKeyLocks_UnlockIdempotent(t *testing.T) {
	locks := newKeyLocks()

	unlock, err := locks.Lock(context.Background(), "A", "A")
	require.NoError(t, err)
	unlock()
	unlock()
	assert.Equal(t, 0, locks.size())
}

func TestUniqueSorted(t *testing.T) {
	got := uniqueSorted([]model.ClaimID{"C", "", "A", "C", "B"})
	assert.Equal(t, []model.ClaimID{"A", "B", "C"}, got)
}

func TestDecodeEdge(t *testing.T) {
	r := model.Relation{Source: "X", Target: "Y", Type: model.RelationSupersedes}

	got, err := decodeEdge(outKey(r))
	require.NoError(t, err)
	assert.Equal(t, r, got)

	got, err = decodeEdge(inKey(r))
	require.NoError(t, err)
	assert.Equal(t, r, got)

	_, err = decodeEdge([]byte("claim/X"))
	assert.Error(t, err)
}
