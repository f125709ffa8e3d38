package core

import (
	"container/list"
	"fmt"
)

// IdempotencyChecker implements tiered deduplication: an in-memory LRU in
// front of zero or more durable stores (Postgres, Redis).
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: durable lookups, consulted in order
	tiers []namedTier

	onTierError func(tier string, err error)
}

// DBIdempotencyChecker is the interface for a durable dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

type namedTier struct {
	name    string
	checker DBIdempotencyChecker
}

func NewIdempotencyChecker(capacity int) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru: NewIdempotencyLRU(capacity),
	}
}

// OnTierError registers fn to hear about durable lookups that failed.
func (ic *IdempotencyChecker) OnTierError(fn func(tier string, err error)) {
	ic.onTierError = fn
}

// AddTier appends a durable lookup. Nil checkers are ignored.
func (ic *IdempotencyChecker) AddTier(name string, checker DBIdempotencyChecker) {
	if checker == nil {
		return
	}
	ic.tiers = append(ic.tiers, namedTier{name: name, checker: checker})
}

// CompositeKey namespaces a request id by event type.
func CompositeKey(eventType, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", eventType, idempotencyKey)
}

// IsDuplicate checks if event has been processed. Returns the tier that
// answered ("lru", or a tier name) when it is a duplicate.
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) (bool, string) {
	compositeKey := CompositeKey(eventType, idempotencyKey)

	// Tier 1: LRU check (hot path)
	if ic.lru.Contains(compositeKey) {
		return true, "lru"
	}

	for _, tier := range ic.tiers {
		isDup, err := tier.checker.IsDuplicate(eventType, idempotencyKey)
		if err != nil {
			// A store outage must not block processing.
			if ic.onTierError != nil {
				ic.onTierError(tier.name, err)
			}
			continue
		}
		if isDup {
			ic.lru.Add(compositeKey)
			return true, tier.name
		}
	}

	return false, ""
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.lru.Add(CompositeKey(eventType, idempotencyKey))
}

// Keys returns the cached composite keys, most recent first.
func (ic *IdempotencyChecker) Keys() []string {
	return ic.lru.Keys()
}

// Warm preloads composite keys, e.g. from a snapshot or the events table.
func (ic *IdempotencyChecker) Warm(keys []string) {
	ic.lru.WarmFromKeys(keys)
}

func (ic *IdempotencyChecker) Size() int {
	return ic.lru.Size()
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for idempotency keys.
// Not thread-safe; callers hold the core lock.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List
}

type lruEntry struct {
	key string
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(&lruEntry{key: key})
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
	}
}

// WarmFromKeys loads keys given oldest first, so the newest end up at the front.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// Keys lists entries from most to least recently used.
func (lru *IdempotencyLRU) Keys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for e := lru.lruList.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*lruEntry).key)
	}
	return keys
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

