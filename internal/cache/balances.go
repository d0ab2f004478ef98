package cache

import (
	"time"

	"tripledger/internal/core"
)

// BalanceSnapshot is a cached view of one trip's derived state.
type BalanceSnapshot struct {
	Balances   []core.BalanceSummary
	ComputedAt time.Time
}

// BalanceCache caches per-trip balance snapshots. Every ledger write
// to a trip must invalidate the trip's entry so reads never serve a
// stale position after a mutation.
type BalanceCache struct {
	inner *LRUCache[BalanceSnapshot]
}

func NewBalanceCache(maxTrips int, ttl time.Duration) *BalanceCache {
	return &BalanceCache{inner: NewLRUCache[BalanceSnapshot](maxTrips, ttl)}
}

func (c *BalanceCache) Get(tripID string) (BalanceSnapshot, bool) {
	return c.inner.Get(tripID)
}

func (c *BalanceCache) Set(tripID string, balances []core.BalanceSummary) {
	c.inner.Set(tripID, BalanceSnapshot{Balances: balances, ComputedAt: time.Now()})
}

// Invalidate drops the trip's snapshot after a ledger mutation.
func (c *BalanceCache) Invalidate(tripID string) {
	c.inner.Delete(tripID)
}

func (c *BalanceCache) CleanExpired() int {
	return c.inner.CleanExpired()
}

func (c *BalanceCache) Size() int {
	return c.inner.Size()
}
