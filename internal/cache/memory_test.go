package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/claimledger/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestMemoryCache_GetPut(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)

	_, ok := c.Get("k")
	assert.False(t, ok)

	assert.True(t, c.Put(c.Generation(), "k", "C-1"))
	id, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, model.ClaimID("C-1"), id)

	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestMemoryCache_StalePutRejected(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	gen := c.Generation()
	assert.True(t, c.Put(gen, "k", "C-1"))

	c.Invalidate()
	_, ok := c.Get("k")
	assert.False(t, ok)

	// A result computed before the invalidation must not land after it
	assert.False(t, c.Put(gen, "k", "C-1"))
	_, ok = c.Get("k")
	assert.False(t, ok)

	assert.True(t, c.Put(c.Generation(), "k", "C-2"))
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(10*time.Millisecond, time.Minute)
	c.Put(c.Generation(), "k", "C-1")

	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestKey(t *testing.T) {
	a := Key("resolve", "bigrams")
	assert.True(t, strings.HasPrefix(a, "claimledger:v1:resolve:"))
	assert.Equal(t, a, Key("resolve", "bigrams"))
	assert.NotEqual(t, a, Key("resolve", "trigrams"))
	assert.NotEqual(t, a, Key("chain", "bigrams"))
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	assert.False(t, c.Put(c.Generation(), "k", "C-1"))
	_, ok := c.Get("k")
	assert.False(t, ok)
	c.Invalidate()
}
