package store

import (
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/keelworks/convene/core"
)

// Presence is the lookup outcome of the conversation cache. The cache is
// tri-state: a hit, a cached "this key has no conversation" answer, or no
// information at all.
type Presence int

const (
	// PresenceUnknown means the cache holds nothing for the key; the
	// caller must consult the backing store.
	PresenceUnknown Presence = iota

	// PresenceAbsent means the backing store was recently consulted and
	// had no value for the key.
	PresenceAbsent

	// PresenceCached means the cache holds the conversation.
	PresenceCached
)

// absentSentinel marks keys confirmed missing in the backing store.
type absentSentinel struct{}

// Cache is a TTL-bounded cache of loaded conversation objects. Cached
// values are shared pointers: each conversation identifier is owned by one
// in-flight turn at a time, so no copy is taken.
type Cache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCache creates a cache sized for maxEntries conversations, each held
// for at most ttl.
func NewCache(maxEntries int64, ttl time.Duration) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		// Each entry costs exactly 1, so MaxCost counts conversations.
		// Without this, ristretto also charges its per-item bookkeeping
		// against MaxCost and evicts far below maxEntries.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{cache: c, ttl: ttl}, nil
}

// Get looks up a conversation by thread identifier.
func (c *Cache) Get(threadID string) (*core.Conversation, Presence) {
	v, ok := c.cache.Get(threadID)
	if !ok {
		return nil, PresenceUnknown
	}
	if _, absent := v.(absentSentinel); absent {
		return nil, PresenceAbsent
	}
	return v.(*core.Conversation), PresenceCached
}

// Put stores a loaded conversation.
func (c *Cache) Put(threadID string, conv *core.Conversation) {
	c.cache.SetWithTTL(threadID, conv, 1, c.ttl)
}

// PutAbsent records that the backing store has no conversation for the
// key, so repeated lookups of dead threads skip the store.
func (c *Cache) PutAbsent(threadID string) {
	c.cache.SetWithTTL(threadID, absentSentinel{}, 1, c.ttl)
}

// Forget drops any cached state for the key.
func (c *Cache) Forget(threadID string) {
	c.cache.Del(threadID)
}

// Wait blocks until pending writes are applied. Ristretto admits entries
// asynchronously; only tests need this.
func (c *Cache) Wait() {
	c.cache.Wait()
}
