package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

func TestOutboxRepository_EnqueueAndPull(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	first, err := repo.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.RecordAuditAggregate,
		AggregateID:   "rec-1",
		EventType:     domain.EventRecordCreated,
		Payload:       []byte(`{"action":"created"}`),
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if first.ID == "" {
		t.Fatal("expected generated id")
	}
	second, err := repo.Enqueue(ctx, domain.OutboxMessage{AggregateID: "rec-1", EventType: domain.EventRecordDelivered})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	pending, err := repo.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != first.ID || pending[1].ID != second.ID {
		t.Fatalf("expected messages in enqueue order, got %+v", pending)
	}

	limited, _ := repo.PullPending(ctx, 1)
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 2 || !stats.OldestPendingAt.Equal(first.CreatedAt) {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestOutboxRepository_MarkSentAndFailed(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	saved, err := repo.Enqueue(ctx, domain.OutboxMessage{AggregateType: domain.RecordAuditAggregate})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if err := repo.MarkSent(ctx, saved.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	if len(repo.AllPending()) != 0 {
		t.Fatal("sent message must leave pending set")
	}

	if err := repo.MarkFailed(ctx, saved.ID); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("settled message must not change status again, got %v", err)
	}

	other, err := repo.Enqueue(ctx, domain.OutboxMessage{AggregateType: domain.RecordAuditAggregate, AggregateID: "rec-9"})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := repo.MarkFailed(ctx, other.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	stats, _ := repo.Stats(ctx)
	if stats.FailedCount != 1 || stats.PendingCount != 0 {
		t.Fatalf("unexpected stats after marks: %+v", stats)
	}

	if err := repo.MarkFailed(ctx, "missing"); err == nil {
		t.Fatal("expected error for missing record")
	}
}

func TestOutboxRepository_SameRecordVersionEnqueuedOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	msg := domain.OutboxMessage{
		AggregateType:    domain.RecordAuditAggregate,
		AggregateID:      "rec-1",
		AggregateVersion: 2,
		EventType:        domain.EventRecordDelivered,
		Payload:          []byte(`{"quantity":3}`),
	}
	first, err := repo.Enqueue(ctx, msg)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	again, err := repo.Enqueue(ctx, msg)
	if err != nil {
		t.Fatalf("repeat enqueue failed: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("repeat must return stored message %s, got %s", first.ID, again.ID)
	}

	next := msg
	next.AggregateVersion = 3
	if _, err := repo.Enqueue(ctx, next); err != nil {
		t.Fatalf("enqueue next version failed: %v", err)
	}
	if pending := repo.AllPending(); len(pending) != 2 {
		t.Fatalf("expected one message per version, got %d", len(pending))
	}
}
