package cache

import (
	"sync"
	"time"

	"github.com/BaSui01/depflow/types"
)

// ErrEntryTooLarge is returned by Set when a single entry exceeds the byte budget.
var ErrEntryTooLarge = types.NewError(types.ErrCacheEntryTooLarge, "cache entry exceeds byte budget")

// Sizer reports the accounted size in bytes of an entry.
type Sizer[K comparable, V any] func(key K, value V) int64

// Config configures a BoundedCache.
type Config struct {
	// MaxBytes is the byte budget. The sum of entry sizes never exceeds it.
	MaxBytes int64 `yaml:"max_bytes" env:"MAX_BYTES" json:"max_bytes"`

	// TTL expires entries this long after they were set. Zero disables expiry.
	TTL time.Duration `yaml:"ttl" env:"TTL" json:"ttl"`
}

// DefaultConfig returns a 16 MiB cache without expiry.
func DefaultConfig() Config {
	return Config{MaxBytes: 16 << 20}
}

// Statistics is a snapshot of cache counters.
type Statistics struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
	Entries     int     `json:"entries"`
	CurrentSize int64   `json:"current_size"`
	MaxBytes    int64   `json:"max_bytes"`
	Utilization float64 `json:"utilization"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Statistics) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// BoundedCache is a byte-bounded LRU cache.
//
// Recency is the position in a doubly linked list: Get and Set move an entry to
// the head, eviction takes from the tail. Two entries can never share a recency
// rank, so eviction order is fully determined by the sequence of operations.
type BoundedCache[K comparable, V any] struct {
	mu       sync.Mutex
	maxBytes int64
	ttl      time.Duration
	sizer    Sizer[K, V]
	now      func() time.Time

	items map[K]*lruNode[K, V]
	head  *lruNode[K, V] // most recently used
	tail  *lruNode[K, V] // least recently used
	size  int64

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
}

type lruNode[K comparable, V any] struct {
	key       K
	value     V
	size      int64
	expiresAt time.Time
	prev      *lruNode[K, V]
	next      *lruNode[K, V]
}

// New creates a cache with the given budget and sizer.
func New[K comparable, V any](cfg Config, sizer Sizer[K, V]) (*BoundedCache[K, V], error) {
	if cfg.MaxBytes <= 0 {
		return nil, types.Errorf(types.ErrInvalidRequest, "cache max bytes must be positive, got %d", cfg.MaxBytes)
	}
	if sizer == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "cache sizer is required")
	}
	if cfg.TTL < 0 {
		cfg.TTL = 0
	}
	return &BoundedCache[K, V]{
		maxBytes: cfg.MaxBytes,
		ttl:      cfg.TTL,
		sizer:    sizer,
		now:      time.Now,
		items:    make(map[K]*lruNode[K, V]),
	}, nil
}

// WithClock replaces the clock used for TTL expiry. It must be called before
// the cache is shared.
func (c *BoundedCache[K, V]) WithClock(now func() time.Time) *BoundedCache[K, V] {
	c.now = now
	return c
}

// Get returns the value for key and marks it most recently used.
func (c *BoundedCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}

	if c.expired(node) {
		c.unlink(node)
		c.expirations++
		c.misses++
		var zero V
		return zero, false
	}

	c.moveToHead(node)
	c.hits++
	return node.value, true
}

// Set inserts or replaces the value for key, then evicts least recently used
// entries until the cache is within budget. A value whose size alone exceeds
// the budget is rejected with ErrEntryTooLarge and the cache is left unchanged.
func (c *BoundedCache[K, V]) Set(key K, value V) error {
	size := c.sizer(key, value)
	if size < 0 {
		size = 0
	}
	if size > c.maxBytes {
		return types.Errorf(types.ErrCacheEntryTooLarge,
			"cache entry of %d bytes exceeds budget of %d bytes", size, c.maxBytes)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}

	if node, ok := c.items[key]; ok {
		c.size += size - node.size
		node.value = value
		node.size = size
		node.expiresAt = expiresAt
		c.moveToHead(node)
	} else {
		node := &lruNode[K, V]{key: key, value: value, size: size, expiresAt: expiresAt}
		c.items[key] = node
		c.addToHead(node)
		c.size += size
	}

	for c.size > c.maxBytes && c.tail != c.head {
		c.unlink(c.tail)
		c.evictions++
	}
	return nil
}

// Delete removes key. It reports whether the key was present.
func (c *BoundedCache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		return false
	}
	c.unlink(node)
	return true
}

// Clear removes every entry. Statistics counters are kept.
func (c *BoundedCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*lruNode[K, V])
	c.head = nil
	c.tail = nil
	c.size = 0
}

// Len returns the number of entries, including expired ones not yet collected.
func (c *BoundedCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Statistics returns a snapshot of the cache counters.
func (c *BoundedCache[K, V]) Statistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Statistics{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Entries:     len(c.items),
		CurrentSize: c.size,
		MaxBytes:    c.maxBytes,
		Utilization: float64(c.size) / float64(c.maxBytes),
	}
}

// ResetStatistics zeroes hit, miss, eviction and expiration counters.
func (c *BoundedCache[K, V]) ResetStatistics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hits = 0
	c.misses = 0
	c.evictions = 0
	c.expirations = 0
}

// Keys returns keys from most to least recently used.
func (c *BoundedCache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.items))
	for n := c.head; n != nil; n = n.next {
		keys = append(keys, n.key)
	}
	return keys
}

func (c *BoundedCache[K, V]) expired(node *lruNode[K, V]) bool {
	return !node.expiresAt.IsZero() && !c.now().Before(node.expiresAt)
}

// unlink removes node from both the list and the index.
func (c *BoundedCache[K, V]) unlink(node *lruNode[K, V]) {
	c.removeNode(node)
	delete(c.items, node.key)
	c.size -= node.size
}

func (c *BoundedCache[K, V]) addToHead(node *lruNode[K, V]) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *BoundedCache[K, V]) removeNode(node *lruNode[K, V]) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
	node.prev = nil
	node.next = nil
}

func (c *BoundedCache[K, V]) moveToHead(node *lruNode[K, V]) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}
