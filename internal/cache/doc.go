/*
Package cache provides the byte-budgeted LRU store for decoded images.

The store maps a file path to a decoded image handle and the number of bytes
that image occupies. Navigation and background prefetch share one store, so
every operation is safe for concurrent use.

# Store Layout

Two structures are kept in step under a single mutex:

	┌──────────────────────────┐      ┌──────────────────────────────────┐
	│  index                   │      │  slot arena (recency list)       │
	│  folded key → slot index │ ───▶ │  [head] ⇄ [ ] ⇄ [ ] ⇄ [tail]    │
	└──────────────────────────┘      │   MRU                    LRU     │
	                                  │  free slots chained via next     │
	                                  └──────────────────────────────────┘

Slots link to each other by int32 index rather than pointer. Removed slots go
on a free list and are reused by later inserts.

# Keys

Paths are compared case-insensitively, rune by rune with simple case folding
(the strings.EqualFold equivalence). Multi-rune expansions such as "ß" to
"ss" are not applied. No other normalization is applied; callers supply
consistent paths. Keys() reports the path as last stored.

# Ownership

A handle passed to Put belongs to the store. The store calls Release exactly
once when the entry is replaced, removed, evicted or cleared, and always
before the entry leaves the index. Get returns a borrowed handle; callers that
keep it across a possible eviction use Acquire, which takes an additional
reference (Retainer) inside the critical section.

# Eviction

After an insert, least recently used entries are evicted until the total
fits the budget. The entry just inserted is never chosen, so a single image
larger than the whole budget is admitted once everything else is gone.

	store := cache.NewStore(&cache.Config{MaxBytes: 1000})
	_ = store.Put("a.png", a, 400)
	_ = store.Put("b.png", b, 400)
	_ = store.Put("c.png", c, 400) // evicts a.png

	stats := store.Stats()
	fmt.Printf("%d entries, %d bytes, hit rate %.2f\n",
		stats.Count, stats.CurrentBytes, stats.HitRate)

Evict(bytes) and Resize(maxBytes) free memory from the same LRU end and are
used by the memory monitor under pressure.
*/
package cache
