package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxEntry хранит сообщение и служебные поля для in-memory реализации.
type outboxEntry struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	seq        uint64
	updatedAt  time.Time
}

// eventKey: событие конкретной версии записи.
type eventKey struct {
	aggregateType string
	aggregateID   string
	version       int64
	eventType     string
}

func keyOf(msg domain.OutboxMessage) eventKey {
	return eventKey{msg.AggregateType, msg.AggregateID, msg.AggregateVersion, msg.EventType}
}

// OutboxRepository: in-memory хранилище transactional outbox.
type OutboxRepository struct {
	mu      sync.RWMutex
	seq     uint64
	entries map[string]*outboxEntry
	byEvent map[eventKey]string
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		entries: make(map[string]*outboxEntry),
		byEvent: make(map[eventKey]string),
	}
}

// Enqueue сохраняет событие со статусом pending. Повтор события той же версии
// записи возвращает уже сохранённое сообщение.
func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byEvent[keyOf(msg)]; ok {
		stored := r.entries[id].msg
		stored.Payload = append([]byte(nil), stored.Payload...)
		return stored, nil
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	r.seq++
	r.entries[msg.ID] = &outboxEntry{
		msg:       msg,
		status:    outboxStatusPending,
		seq:       r.seq,
		updatedAt: now,
	}
	r.byEvent[keyOf(msg)] = msg.ID
	return msg, nil
}

// PullPending возвращает до limit pending-сообщений в порядке постановки.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	pending := r.pending()
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// Stats возвращает размер backlog, возраст самого старого сообщения и число неотправленных.
func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	pending := r.pending()
	stats := domain.OutboxStats{PendingCount: len(pending)}
	if len(pending) > 0 {
		stats.OldestPendingAt = pending[0].CreatedAt
	}

	r.mu.RLock()
	for _, e := range r.entries {
		if e.status == outboxStatusFailed {
			stats.FailedCount++
		}
	}
	r.mu.RUnlock()
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.mark(id, outboxStatusSent)
}

// MarkFailed фиксирует окончательную ошибку публикации.
func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.mark(id, outboxStatusFailed)
}

// AllPending возвращает копию всех pending-сообщений (используется в тестах).
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	return r.pending()
}

func (r *OutboxRepository) mark(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok || entry.status != outboxStatusPending {
		return domain.ErrOutboxPublish
	}
	entry.status = status
	entry.attemptCnt++
	entry.updatedAt = time.Now().UTC()
	return nil
}

func (r *OutboxRepository) pending() []domain.OutboxMessage {
	r.mu.RLock()
	entries := make([]*outboxEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.status == outboxStatusPending {
			entries = append(entries, e)
		}
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	result := make([]domain.OutboxMessage, 0, len(entries))
	for _, e := range entries {
		msg := e.msg
		msg.Payload = append([]byte(nil), e.msg.Payload...)
		result = append(result, msg)
	}
	return result
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
