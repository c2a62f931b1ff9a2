package domain

import (
	"context"
	"time"
)

// Clock отдаёт текущее время; в тестах подменяется.
type Clock interface {
	Now() time.Time
}

// ClockFunc адаптирует функцию к Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock возвращает время в UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// IDGenerator выдаёт непрозрачные идентификаторы новых записей.
type IDGenerator interface {
	NewID() string
}

// IDGeneratorFunc адаптирует функцию к IDGenerator.
type IDGeneratorFunc func() string

func (f IDGeneratorFunc) NewID() string { return f() }

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит захваты idempotency-key в области оператора.
type IdempotencyRepository interface {
	// Claim занимает ключ. Занятый ключ возвращается вместе с ErrIdempotencyKeyAlreadyExists,
	// а при другой мутации или другом теле с ErrIdempotencyHashMismatch.
	// Ключ с истёкшим сроком на момент ClaimedAt занимается заново.
	Claim(ctx context.Context, claim MutationClaim) (IdempotencyRecord, error)
	Get(ctx context.Context, scope IdempotencyScope) (IdempotencyRecord, error)
	// Resolve фиксирует итог; переводит только ключи в processing.
	Resolve(ctx context.Context, scope IdempotencyScope, outcome MutationOutcome) error
	Purge(ctx context.Context, policy PurgePolicy) (PurgeResult, error)
}

// OutboxMessage хранит данные для публикуемого события.
// AggregateVersion: версия записи после мутации; вместе с агрегатом и типом
// события однозначно определяет сообщение.
type OutboxMessage struct {
	ID               string
	AggregateType    string
	AggregateID      string
	AggregateVersion int64
	EventType        string
	Payload          []byte
	CreatedAt        time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
	FailedCount     int
}
