// Package cache persists month activity verdicts with a freshness window.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/84hero/evm-activity/pkg/chain"
	"github.com/84hero/evm-activity/pkg/metrics"
	"github.com/84hero/evm-activity/pkg/storage"
	"github.com/ethereum/go-ethereum/log"
)

const (
	// KeyPrefix namespaces every key written by the cache.
	KeyPrefix = "activity_"

	// DefaultTTL is how long a verdict stays fresh.
	DefaultTTL = time.Hour
)

// Entry is the persisted form of a verdict.
type Entry struct {
	HasActivity bool  `json:"hasActivity"`
	Timestamp   int64 `json:"timestamp"` // Unix milliseconds
}

// MonthLister lists the configured months of a chain.
type MonthLister interface {
	Months(slug string) []chain.MonthWindow
}

// Cache maps (address, chain, month) to a boolean verdict.
// Distinct triples never share a key, so no locking is needed beyond the store's own.
type Cache struct {
	store  storage.Store
	months MonthLister
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Cache)

// WithTTL overrides the freshness window.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func New(store storage.Store, months MonthLister, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		months: months,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives the storage key; the address is lower-cased.
func Key(address, chainSlug string, month chain.Month) string {
	return KeyPrefix + chainSlug + "_" + strings.ToLower(address) + "_" + string(month)
}

// Get returns the cached verdict. ok is false for missing, stale or unreadable entries.
func (c *Cache) Get(ctx context.Context, address, chainSlug string, month chain.Month) (hasActivity bool, ok bool) {
	key := Key(address, chainSlug, month)
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		log.Warn("Cache read failed, treating as miss", "key", key, "err", err)
	}
	if err != nil || !found {
		metrics.ObserveCacheLookup(chainSlug, false)
		return false, false
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		log.Warn("Cache entry unreadable, treating as miss", "key", key, "err", err)
		metrics.ObserveCacheLookup(chainSlug, false)
		return false, false
	}

	if c.now().UnixMilli()-e.Timestamp >= c.ttl.Milliseconds() {
		metrics.ObserveCacheLookup(chainSlug, false)
		return false, false
	}

	metrics.ObserveCacheLookup(chainSlug, true)
	return e.HasActivity, true
}

// Put records a verdict stamped with the current time, overwriting any previous entry.
func (c *Cache) Put(ctx context.Context, address, chainSlug string, month chain.Month, hasActivity bool) error {
	data, err := json.Marshal(Entry{
		HasActivity: hasActivity,
		Timestamp:   c.now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return c.store.Set(ctx, Key(address, chainSlug, month), data)
}

// Invalidate clears the entries of one address on one chain across all of the chain's months.
// When either argument is empty every entry carrying KeyPrefix is cleared.
func (c *Cache) Invalidate(ctx context.Context, address, chainSlug string) error {
	if address != "" && chainSlug != "" {
		windows := c.months.Months(chainSlug)
		keys := make([]string, 0, len(windows))
		for _, w := range windows {
			keys = append(keys, Key(address, chainSlug, w.Name))
		}
		log.Debug("Invalidating cached verdicts", "chain", chainSlug, "address", address, "keys", len(keys))
		return c.store.Delete(ctx, keys...)
	}

	keys, err := c.store.Keys(ctx, KeyPrefix)
	if err != nil {
		return err
	}
	log.Debug("Clearing activity cache", "keys", len(keys))
	return c.store.Delete(ctx, keys...)
}
