package cache

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

func TestMemoryStatusCountCacheExpires(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryStatusCountCache(time.Minute, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	c.Set(ctx, "k", domain.StatusCounts{domain.RecordStatusPending: 3})
	got, ok := c.Get(ctx, "k")
	if !ok || got[domain.RecordStatusPending] != 3 {
		t.Fatalf("expected cached counts, got %v ok=%v", got, ok)
	}

	now = now.Add(time.Minute)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected entry to expire")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry removed, len=%d", c.Len())
	}
}

func TestMemoryStatusCountCacheReturnsCopies(t *testing.T) {
	c := NewMemoryStatusCountCache(0)
	ctx := context.Background()

	src := domain.StatusCounts{domain.RecordStatusCompleted: 1}
	c.Set(ctx, "k", src)
	src[domain.RecordStatusCompleted] = 99

	got, _ := c.Get(ctx, "k")
	got[domain.RecordStatusCompleted] = 42

	again, _ := c.Get(ctx, "k")
	if again[domain.RecordStatusCompleted] != 1 {
		t.Fatalf("cache must not share maps with callers, got %v", again)
	}
}

func TestMemoryStatusCountCacheInvalidate(t *testing.T) {
	c := NewMemoryStatusCountCache(time.Hour)
	ctx := context.Background()
	c.Set(ctx, "a", domain.NewStatusCounts())
	c.Set(ctx, "b", domain.NewStatusCounts())

	c.Invalidate(ctx)

	if _, ok := c.Get(ctx, "a"); ok {
		t.Fatal("expected miss after invalidate")
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, len=%d", c.Len())
	}
}

func TestMemoryStatusCountCacheEvicts(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryStatusCountCache(time.Minute, WithMaxEntries(2), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	c.Set(ctx, "first", domain.NewStatusCounts())
	now = now.Add(time.Second)
	c.Set(ctx, "second", domain.NewStatusCounts())
	now = now.Add(time.Second)
	c.Set(ctx, "third", domain.NewStatusCounts())

	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	if _, ok := c.Get(ctx, "first"); ok {
		t.Fatal("expected oldest entry evicted")
	}
	if _, ok := c.Get(ctx, "third"); !ok {
		t.Fatal("expected newest entry kept")
	}
}
