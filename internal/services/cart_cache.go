package services

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	domain "github.com/boltlink/api/internal/domain"
)

// DefaultCartCacheTTL bounds how long an issued token may be replayed for an
// unchanged cart.
const DefaultCartCacheTTL = time.Hour

// OrderTokenCache replays checkout tokens for carts whose content has not
// changed since the token was issued.
type OrderTokenCache interface {
	Get(key string, now time.Time) (OrderTokenResult, bool)
	Put(key string, result OrderTokenResult, now time.Time)
}

// CartCacheKey derives the cache key for a cart payload. The display id and
// order reference are excluded: they change with every immutable clone while
// the purchasable content stays identical, and a key that shifted with them
// would never hit.
func CartCacheKey(quoteID string, cart domain.CartPayload) string {
	cart.DisplayID = ""
	cart.OrderReference = ""
	encoded, err := json.Marshal(cart)
	if err != nil {
		// Marshalling a plain payload struct cannot fail; guard anyway.
		encoded = []byte(cart.String())
	}
	sum := md5.Sum(encoded)
	return strings.TrimSpace(quoteID) + "_" + hex.EncodeToString(sum[:])
}

type tokenCacheEntry struct {
	result   OrderTokenResult
	storedAt time.Time
}

// MemoryTokenCache is an in-process OrderTokenCache with a fixed TTL.
type MemoryTokenCache struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]tokenCacheEntry
}

// NewMemoryTokenCache constructs a cache with the given TTL.
func NewMemoryTokenCache(ttl time.Duration) *MemoryTokenCache {
	if ttl <= 0 {
		ttl = DefaultCartCacheTTL
	}
	return &MemoryTokenCache{
		ttl:     ttl,
		entries: make(map[string]tokenCacheEntry),
	}
}

// Get returns a cached token when present and not expired.
func (c *MemoryTokenCache) Get(key string, now time.Time) (OrderTokenResult, bool) {
	if c == nil {
		return OrderTokenResult{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return OrderTokenResult{}, false
	}
	if now.Sub(entry.storedAt) > c.ttl {
		delete(c.entries, key)
		return OrderTokenResult{}, false
	}
	return entry.result, true
}

// Put stores a token result under the key.
func (c *MemoryTokenCache) Put(key string, result OrderTokenResult, now time.Time) {
	if c == nil || strings.TrimSpace(key) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = tokenCacheEntry{result: result, storedAt: now}
}
