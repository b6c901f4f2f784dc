// Package resultcache remembers recent predictions by upload digest so an
// identical image is answered without another forward pass.
package resultcache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"

	"github.com/okian/fundus/internal/domain/variant"
)

const defaultMaxSize = 128

// Cache stores formatted results keyed by upload digest.
type Cache interface {
	// Get returns the result stored under key, if any.
	Get(key string) (variant.Result, bool)

	// Put stores r under key, evicting the oldest entry when full. Storing
	// an existing key replaces its result without changing its age.
	Put(key string, r variant.Result)

	Size() int64
}

// Key returns the hex SHA-256 digest of an upload.
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// node is one entry in the insertion-ordered list.
type node struct {
	key    string
	result variant.Result
	next   *node
}

func (n *node) reset() {
	n.key = ""
	n.result = variant.Result{}
	n.next = nil
}

// inMemoryCache keeps at most maxSize entries in a FIFO list: head is the
// oldest entry, tail the newest.
type inMemoryCache struct {
	mu       sync.Mutex
	entries  map[string]*node
	head     *node
	tail     *node
	maxSize  int
	size     atomic.Int64
	nodePool sync.Pool
}

// New creates a bounded in-memory cache.
func New(opts ...Option) Cache {
	c := &inMemoryCache{
		maxSize: defaultMaxSize,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.entries = make(map[string]*node, c.maxSize)
	c.nodePool = sync.Pool{
		New: func() interface{} {
			return &node{}
		},
	}

	return c
}

func (c *inMemoryCache) Get(key string) (variant.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.entries[key]
	if !ok {
		return variant.Result{}, false
	}
	return cloneResult(n.result), true
}

func (c *inMemoryCache) Put(key string, r variant.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.entries[key]; ok {
		n.result = cloneResult(r)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	n := c.nodePool.Get().(*node)
	n.key = key
	n.result = cloneResult(r)
	if c.tail == nil {
		c.head = n
	} else {
		c.tail.next = n
	}
	c.tail = n
	c.entries[key] = n
	c.size.Add(1)
}

// evictOldest drops the head entry. Must be called with c.mu held.
func (c *inMemoryCache) evictOldest() {
	n := c.head
	if n == nil {
		return
	}
	c.head = n.next
	if c.head == nil {
		c.tail = nil
	}
	delete(c.entries, n.key)
	n.reset()
	c.nodePool.Put(n)
	c.size.Add(-1)
}

func (c *inMemoryCache) Size() int64 {
	return c.size.Load()
}

// cloneResult copies the Risk pointer so callers cannot mutate cached state.
func cloneResult(r variant.Result) variant.Result {
	if r.Risk != nil {
		risk := *r.Risk
		r.Risk = &risk
	}
	return r
}
