package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ppiankov/claimledger/internal/model"
)

// keyLocks hands out one exclusive lock per claim id
// Entries are reference counted and dropped when nobody holds or waits on them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[model.ClaimID]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[model.ClaimID]*keyLock)}
}

// Lock acquires the locks for ids in sorted order and returns the release func
// Waiting honours ctx; on cancellation every lock taken so far is released.
func (k *keyLocks) Lock(ctx context.Context, ids ...model.ClaimID) (func(), error) {
	ordered := uniqueSorted(ids)

	held := make([]model.ClaimID, 0, len(ordered))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			k.unlock(held[i])
		}
	}

	for _, id := range ordered {
		l := k.ref(id)
		select {
		case l.ch <- struct{}{}:
			held = append(held, id)
		case <-ctx.Done():
			k.unref(id)
			release()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (k *keyLocks) ref(id model.ClaimID) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.locks[id]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[id] = l
	}
	l.refs++
	return l
}

func (k *keyLocks) unref(id model.ClaimID) {
	k.mu.Lock()
	defer k.mu.Unlock()

	l := k.locks[id]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, id)
	}
}

func (k *keyLocks) unlock(id model.ClaimID) {
	k.mu.Lock()
	l := k.locks[id]
	k.mu.Unlock()

	<-l.ch
	k.unref(id)
}

// size returns the number of tracked lock entries
func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func uniqueSorted(ids []model.ClaimID) []model.ClaimID {
	seen := make(map[model.ClaimID]bool, len(ids))
	out := make([]model.ClaimID, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
