package cache

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

const defaultMaxEntries = 256

type memoryEntry struct {
	counts    domain.StatusCounts
	expiresAt time.Time
}

// MemoryStatusCountCache: TTL-кэш в памяти процесса.
type MemoryStatusCountCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	entries    map[string]memoryEntry
}

// MemoryOption настраивает кэш.
type MemoryOption func(*MemoryStatusCountCache)

// WithClock подменяет часы (тесты).
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryStatusCountCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMaxEntries ограничивает размер кэша.
func WithMaxEntries(n int) MemoryOption {
	return func(c *MemoryStatusCountCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// NewMemoryStatusCountCache создаёт кэш. ttl <= 0 — записи не устаревают.
func NewMemoryStatusCountCache(ttl time.Duration, opts ...MemoryOption) *MemoryStatusCountCache {
	c := &MemoryStatusCountCache{
		ttl:        ttl,
		maxEntries: defaultMaxEntries,
		now:        time.Now,
		entries:    make(map[string]memoryEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryStatusCountCache) Get(_ context.Context, key string) (domain.StatusCounts, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.counts.Clone(), true
}

func (c *MemoryStatusCountCache) Set(_ context.Context, key string, counts domain.StatusCounts) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}

	entry := memoryEntry{counts: counts.Clone()}
	if c.ttl > 0 {
		entry.expiresAt = now.Add(c.ttl)
	}
	c.entries[key] = entry
}

func (c *MemoryStatusCountCache) Invalidate(context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
}

// Len: число ключей (включая ещё не вычищенные просроченные).
func (c *MemoryStatusCountCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked удаляет просроченные записи, а если их нет — запись с ближайшим сроком.
func (c *MemoryStatusCountCache) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for key, entry := range c.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			continue
		}
		if oldestKey == "" || entry.expiresAt.Before(oldestAt) {
			oldestKey, oldestAt = key, entry.expiresAt
		}
	}
	if len(c.entries) >= c.maxEntries && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

var _ StatusCountCache = (*MemoryStatusCountCache)(nil)
