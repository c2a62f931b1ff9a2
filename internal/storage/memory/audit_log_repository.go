package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

// auditLogRepositoryInMemory хранит журнал изменений записей в памяти (для разработки/тестов).
type auditLogRepositoryInMemory struct {
	mu     sync.RWMutex
	events map[string][]domain.AuditEvent
}

// NewAuditLogRepository создаёт in-memory реализацию AuditLogRepository.
func NewAuditLogRepository() domain.AuditLogRepository {
	return &auditLogRepositoryInMemory{events: make(map[string][]domain.AuditEvent)}
}

// Append добавляет событие, сохраняя хронологический порядок.
func (r *auditLogRepositoryInMemory) Append(_ context.Context, event domain.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := append(r.events[event.RecordID], event)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	r.events[event.RecordID] = events
	return nil
}

// List возвращает события записи в хронологическом порядке.
func (r *auditLogRepositoryInMemory) List(_ context.Context, recordID string) ([]domain.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[recordID]
	result := make([]domain.AuditEvent, len(events))
	copy(result, events)
	return result, nil
}

var _ domain.AuditLogRepository = (*auditLogRepositoryInMemory)(nil)
