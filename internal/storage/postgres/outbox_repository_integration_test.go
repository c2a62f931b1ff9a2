package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

func recordEvent(recordID string, version int64, eventType string) domain.OutboxMessage {
	return domain.OutboxMessage{
		AggregateType:    domain.RecordAuditAggregate,
		AggregateID:      recordID,
		AggregateVersion: version,
		EventType:        eventType,
		Payload:          []byte(`{"record_id":"` + recordID + `"}`),
	}
}

func TestOutboxRepository_PostgresFlow(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository(openMigratedStore(t))

	created, err := repo.Enqueue(ctx, recordEvent("rec-1", 0, domain.EventRecordCreated))
	if err != nil {
		t.Fatalf("enqueue created: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id for outbox message")
	}

	time.Sleep(5 * time.Millisecond)

	delivered := recordEvent("rec-1", 1, domain.EventRecordDelivered)
	delivered.ID = "outbox-fixed-id"
	delivered, err = repo.Enqueue(ctx, delivered)
	if err != nil {
		t.Fatalf("enqueue delivered: %v", err)
	}
	if delivered.ID != "outbox-fixed-id" {
		t.Fatalf("expected fixed id, got %q", delivered.ID)
	}

	pending, err := repo.PullPending(ctx, 0)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != created.ID || pending[1].AggregateVersion != 1 {
		t.Fatalf("expected both versions of rec-1 in order, got %+v", pending)
	}

	if err := repo.MarkSent(ctx, created.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := repo.MarkFailed(ctx, delivered.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats after marks: %v", err)
	}
	if stats.PendingCount != 0 || !stats.OldestPendingAt.IsZero() || stats.FailedCount != 1 {
		t.Fatalf("unexpected stats after marks: %+v", stats)
	}
}

func TestOutboxRepository_PostgresSameRecordVersionEnqueuedOnce(t *testing.T) {
	ctx := context.Background()
	store := openMigratedStore(t)
	repo := NewOutboxRepository(store)

	first, err := repo.Enqueue(ctx, recordEvent("rec-7", 3, domain.EventRecordReturned))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	again, err := repo.Enqueue(ctx, recordEvent("rec-7", 3, domain.EventRecordReturned))
	if err != nil {
		t.Fatalf("enqueue repeat: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("repeat must resolve to stored message %s, got %s", first.ID, again.ID)
	}
	if n := countRows(t, store, `SELECT count(*) FROM outbox_messages WHERE aggregate_id = $1`, "rec-7"); n != 1 {
		t.Fatalf("expected a single row for rec-7 v3, got %d", n)
	}
}

func TestOutboxRepository_PostgresSettleOnlyPending(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository(openMigratedStore(t))

	if err := repo.MarkSent(ctx, "missing-outbox"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish on mark sent missing id, got %v", err)
	}
	if err := repo.MarkFailed(ctx, "missing-outbox"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish on mark failed missing id, got %v", err)
	}

	msg, err := repo.Enqueue(ctx, recordEvent("rec-2", 0, domain.EventRecordCreated))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := repo.MarkSent(ctx, msg.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := repo.MarkFailed(ctx, msg.ID); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("sent message must not move to failed, got %v", err)
	}
}
