package cache

import (
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	lerrors "github.com/lumaview/lumaview/pkg/errors"
	"github.com/lumaview/lumaview/pkg/utils"
)

// DefaultMaxBytes is the default byte budget (512MiB).
const DefaultMaxBytes int64 = 512 << 20

const nilSlot int32 = -1

// Handle is a decoded image owned by the store. Release is called exactly once
// when the entry is replaced, removed, evicted or cleared.
type Handle interface {
	Release()
}

// Retainer is implemented by handles that support an additional reference.
// Acquire uses it to extend a handle's lifetime past eviction.
type Retainer interface {
	Retain()
}

// Config represents cache configuration
type Config struct {
	MaxBytes int64 `yaml:"max_bytes"`

	// OnEvict is called after an entry is evicted to satisfy the budget. It
	// runs outside the store's lock.
	OnEvict func(key string, footprint int64)

	Logger *utils.StructuredLogger `yaml:"-"`
}

// slot is one node of the recency list. Slots live in a flat arena and link
// to each other by index; unused slots are chained through next.
type slot struct {
	key       string
	folded    string
	handle    Handle
	footprint int64
	prev      int32
	next      int32
	used      bool
}

// Store is a byte-budgeted LRU map from case-insensitive path keys to decoded
// image handles. It is safe for concurrent use; every logical operation runs
// under one critical section so the index and the recency list never diverge.
type Store struct {
	mu       sync.Mutex
	index    map[string]int32
	slots    []slot
	head     int32 // most recently used
	tail     int32 // least recently used
	free     int32
	current  int64
	maxBytes int64

	onEvict func(key string, footprint int64)
	logger  *utils.StructuredLogger

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type evicted struct {
	key       string
	footprint int64
}

// NewStore creates a new store
func NewStore(config *Config) *Store {
	if config == nil {
		config = &Config{MaxBytes: DefaultMaxBytes}
	}
	maxBytes := config.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	logger := config.Logger
	if logger == nil {
		logger = utils.NewDefaultLogger()
	}

	return &Store{
		index:    make(map[string]int32),
		head:     nilSlot,
		tail:     nilSlot,
		free:     nilSlot,
		maxBytes: maxBytes,
		onEvict:  config.OnEvict,
		logger:   logger.WithComponent("cache"),
	}
}

// foldKey returns the comparison form of a path. Each rune is folded on its
// own with simple case mapping, the equivalence strings.EqualFold uses, so
// "ß" and "ss" stay distinct.
func foldKey(key string) string {
	return strings.Map(unicode.ToLower, strings.Map(unicode.ToUpper, key))
}

// sameHandle reports whether a and b are the same handle. Handles of
// uncomparable types are never the same.
func sameHandle(a, b Handle) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// Get returns the handle for key and marks it most recently used. The handle
// remains owned by the store; callers that keep it past a possible eviction
// must use Acquire instead.
func (s *Store) Get(key string) (Handle, bool) {
	return s.lookup(key, false)
}

// Acquire is Get plus an extra reference taken inside the critical section
// when the handle implements Retainer. The caller must Release it.
func (s *Store) Acquire(key string) (Handle, bool) {
	return s.lookup(key, true)
}

func (s *Store) lookup(key string, retain bool) (Handle, bool) {
	folded := foldKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[folded]
	if !ok {
		s.misses.Add(1)
		return nil, false
	}

	s.moveToFront(idx)
	s.hits.Add(1)

	handle := s.slots[idx].handle
	if retain {
		if r, ok := handle.(Retainer); ok {
			r.Retain()
		}
	}
	return handle, true
}

// Contains reports whether key is present without touching recency or the
// hit/miss counters.
func (s *Store) Contains(key string) bool {
	folded := foldKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.index[folded]
	return ok
}

// Put stores handle under key. An existing entry is released and replaced.
// Least recently used entries other than the new one are then evicted until
// the total fits the budget; a single entry larger than the budget is kept.
func (s *Store) Put(key string, handle Handle, footprint int64) error {
	if handle == nil {
		return lerrors.NewError(lerrors.ErrCodeInvalidArgument, "nil handle").
			WithComponent("cache").WithOperation("put").WithContext("key", key)
	}
	if footprint < 0 {
		return lerrors.NewError(lerrors.ErrCodeInvalidArgument, "negative footprint").
			WithComponent("cache").WithOperation("put").WithContext("key", key)
	}

	folded := foldKey(key)

	s.mu.Lock()

	idx, exists := s.index[folded]
	if exists {
		entry := &s.slots[idx]
		if !sameHandle(entry.handle, handle) {
			entry.handle.Release()
		}
		s.current -= entry.footprint
		entry.key = key
		entry.handle = handle
		entry.footprint = footprint
		s.moveToFront(idx)
	} else {
		idx = s.allocSlot()
		s.slots[idx] = slot{
			key:       key,
			folded:    folded,
			handle:    handle,
			footprint: footprint,
			prev:      nilSlot,
			next:      nilSlot,
			used:      true,
		}
		s.pushFront(idx)
		s.index[folded] = idx
	}
	s.current += footprint

	var victims []evicted
	for s.current > s.maxBytes && s.tail != nilSlot && s.tail != idx {
		v, err := s.removeSlot(s.tail)
		if err != nil {
			// the caller keeps ownership of handle
			s.detachSlot(idx)
			s.mu.Unlock()
			s.notifyEvicted(victims)
			return err
		}
		victims = append(victims, v)
	}
	s.mu.Unlock()

	s.notifyEvicted(victims)
	return nil
}

// Remove deletes key and releases its handle. It reports whether an entry was
// present.
func (s *Store) Remove(key string) bool {
	folded := foldKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[folded]
	if !ok {
		return false
	}
	if _, err := s.removeSlot(idx); err != nil {
		s.logger.Error("Remove failed", map[string]interface{}{"key": key, "error": err})
		return false
	}
	return true
}

// Clear releases every handle and empties the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for idx := s.head; idx != nilSlot; idx = s.slots[idx].next {
		s.slots[idx].handle.Release()
	}
	s.index = make(map[string]int32)
	s.slots = nil
	s.head, s.tail, s.free = nilSlot, nilSlot, nilSlot
	s.current = 0
}

// Resize changes the budget and evicts down to it.
func (s *Store) Resize(maxBytes int64) error {
	if maxBytes <= 0 {
		return lerrors.NewError(lerrors.ErrCodeInvalidArgument, "cache budget must be positive").
			WithComponent("cache").WithOperation("resize").WithDetail("max_bytes", maxBytes)
	}

	s.mu.Lock()
	s.maxBytes = maxBytes
	victims, err := s.evictLocked(s.current - maxBytes)
	s.mu.Unlock()

	s.notifyEvicted(victims)
	return err
}

// Evict frees at least bytes from the least recently used end, or everything
// if the store holds less. It returns the bytes freed.
func (s *Store) Evict(bytes int64) int64 {
	s.mu.Lock()
	victims, err := s.evictLocked(bytes)
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Eviction failed", map[string]interface{}{"error": err})
	}
	s.notifyEvicted(victims)

	var freed int64
	for _, v := range victims {
		freed += v.footprint
	}
	return freed
}

func (s *Store) evictLocked(bytes int64) ([]evicted, error) {
	var victims []evicted
	var freed int64
	for freed < bytes && s.tail != nilSlot {
		v, err := s.removeSlot(s.tail)
		if err != nil {
			return victims, err
		}
		freed += v.footprint
		victims = append(victims, v)
	}
	return victims, nil
}

// Keys returns the keys from most to least recently used.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.index))
	for idx := s.head; idx != nilSlot; idx = s.slots[idx].next {
		keys = append(keys, s.slots[idx].key)
	}
	return keys
}

// Stats represents cache statistics
type Stats struct {
	Count        int     `json:"count"`
	CurrentBytes int64   `json:"current_bytes"`
	MaxBytes     int64   `json:"max_bytes"`
	Hits         uint64  `json:"hits"`
	Misses       uint64  `json:"misses"`
	HitRate      float64 `json:"hit_rate"`
	Evictions    uint64  `json:"evictions"`
	Utilization  float64 `json:"utilization"`
}

// Stats returns a snapshot of the store's counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	stats := Stats{
		Count:        len(s.index),
		CurrentBytes: s.current,
		MaxBytes:     s.maxBytes,
	}
	s.mu.Unlock()

	stats.Hits = s.hits.Load()
	stats.Misses = s.misses.Load()
	stats.Evictions = s.evictions.Load()
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	if stats.MaxBytes > 0 {
		stats.Utilization = float64(stats.CurrentBytes) / float64(stats.MaxBytes)
	}
	return stats
}

// removeSlot releases the entry's handle, then drops it from the index and
// the recency list. Caller holds s.mu.
func (s *Store) removeSlot(idx int32) (evicted, error) {
	if idx < 0 || int(idx) >= len(s.slots) || !s.slots[idx].used {
		return evicted{}, lerrors.Violation(lerrors.ErrUnknownSlot, "cache", "remove")
	}

	s.slots[idx].handle.Release()
	return s.detachSlot(idx), nil
}

// detachSlot unlinks idx and frees the slot without releasing its handle.
func (s *Store) detachSlot(idx int32) evicted {
	entry := &s.slots[idx]
	v := evicted{key: entry.key, footprint: entry.footprint}
	delete(s.index, entry.folded)
	s.unlink(idx)
	s.current -= entry.footprint

	*entry = slot{prev: nilSlot, next: s.free}
	s.free = idx
	return v
}

func (s *Store) allocSlot() int32 {
	if s.free != nilSlot {
		idx := s.free
		s.free = s.slots[idx].next
		return idx
	}
	s.slots = append(s.slots, slot{})
	return int32(len(s.slots) - 1)
}

func (s *Store) pushFront(idx int32) {
	entry := &s.slots[idx]
	entry.prev = nilSlot
	entry.next = s.head
	if s.head != nilSlot {
		s.slots[s.head].prev = idx
	}
	s.head = idx
	if s.tail == nilSlot {
		s.tail = idx
	}
}

func (s *Store) unlink(idx int32) {
	entry := &s.slots[idx]
	if entry.prev != nilSlot {
		s.slots[entry.prev].next = entry.next
	} else {
		s.head = entry.next
	}
	if entry.next != nilSlot {
		s.slots[entry.next].prev = entry.prev
	} else {
		s.tail = entry.prev
	}
	entry.prev, entry.next = nilSlot, nilSlot
}

func (s *Store) moveToFront(idx int32) {
	if s.head == idx {
		return
	}
	s.unlink(idx)
	s.pushFront(idx)
}

func (s *Store) notifyEvicted(victims []evicted) {
	for _, v := range victims {
		s.evictions.Add(1)
		s.logger.Debug("Evicted entry", map[string]interface{}{
			"key":       v.key,
			"footprint": v.footprint,
		})
		if s.onEvict != nil {
			s.onEvict(v.key, v.footprint)
		}
	}
}
