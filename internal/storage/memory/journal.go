package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

// Journal: in-memory RecordJournal. Коммиты сериализуются, поэтому порядок
// сообщений outbox совпадает с порядком версий записи.
type Journal struct {
	mu      sync.Mutex
	records domain.RecordRepository
	audit   domain.AuditLogRepository
	outbox  domain.OutboxRepository
}

// NewJournal связывает хранилища записей, аудита и outbox.
func NewJournal(records domain.RecordRepository, audit domain.AuditLogRepository, outbox domain.OutboxRepository) *Journal {
	return &Journal{records: records, audit: audit, outbox: outbox}
}

func (j *Journal) CommitCreate(ctx context.Context, change domain.RecordChange) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.records.Create(ctx, change.Record); err != nil {
		return err
	}
	return j.effects(ctx, change)
}

func (j *Journal) CommitSave(ctx context.Context, change domain.RecordChange) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.records.Save(ctx, change.Record); err != nil {
		return err
	}
	return j.effects(ctx, change)
}

// effects в памяти не отказывают: аудит и outbox здесь не возвращают ошибок хранения.
func (j *Journal) effects(ctx context.Context, change domain.RecordChange) error {
	if err := j.audit.Append(ctx, change.Audit); err != nil {
		return err
	}
	_, err := j.outbox.Enqueue(ctx, change.Outbox)
	return err
}

var _ domain.RecordJournal = (*Journal)(nil)
