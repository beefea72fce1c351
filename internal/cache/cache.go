package cache

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/ppiankov/claimledger/internal/model"
)

// Cache holds resolved canonical claim ids until the ledger changes
// Writers capture Generation before reading the store and pass it to Put, so a
// result computed before an invalidation is never stored after it.
type Cache interface {
	Get(key string) (model.ClaimID, bool)
	Put(generation uint64, key string, id model.ClaimID) bool
	Generation() uint64
	Invalidate()
}

// Key generates a cache key for a query and its argument
func Key(query, arg string) string {
	hash := sha256.Sum256([]byte(arg))
	return "claimledger:v1:" + query + ":" + hex.EncodeToString(hash[:])
}

// Nop is a cache that never holds anything
type Nop struct{}

func (Nop) Get(string) (model.ClaimID, bool)       { return "", false }
func (Nop) Put(uint64, string, model.ClaimID) bool { return false }
func (Nop) Generation() uint64                     { return 0 }
func (Nop) Invalidate()                            {}
