package domain

import "context"

// RecordQuerier: контракт выборок по критериям. Страница возвращается целиком или не возвращается.
type RecordQuerier interface {
	// Count возвращает число подходящих записей без учёта пагинации.
	Count(ctx context.Context, criteria FilterCriteria) (int, error)
	// CountByStatus за один проход считает записи по всем статусам при тех же нестатусных фильтрах.
	CountByStatus(ctx context.Context, criteria FilterCriteria) (StatusCounts, error)
	// Fetch возвращает одну страницу, отсортированную по дате запроса с разрешением равенства по id.
	Fetch(ctx context.Context, criteria FilterCriteria) (Page, error)
}

// RecordRepository описывает требования к хранилищу записей о нехватке.
type RecordRepository interface {
	RecordQuerier
	// Create сохраняет новую запись. Повторный ID — ErrRecordVersionConflict.
	Create(ctx context.Context, record Record) error
	// Get возвращает запись или NotFoundError.
	Get(ctx context.Context, id string) (Record, error)
	// Save применяет изменения с учётом optimistic locking: record.Version — ожидаемая версия.
	Save(ctx context.Context, record Record) error
}

// CustomerRepository: справочник клиентов.
type CustomerRepository interface {
	Create(ctx context.Context, customer Customer) error
	Get(ctx context.Context, id string) (Customer, error)
	List(ctx context.Context) ([]Customer, error)
}

// ProductRepository: справочник товаров.
type ProductRepository interface {
	Create(ctx context.Context, product Product) error
	Get(ctx context.Context, id string) (Product, error)
	List(ctx context.Context) ([]Product, error)
}

// RecordChange: сохранение записи вместе с её событием аудита и сообщением outbox.
// Для сохранения Record несёт версию до изменения.
type RecordChange struct {
	Record Record
	Audit  AuditEvent
	Outbox OutboxMessage
}

// RecordJournal фиксирует запись, аудит и outbox одной транзакцией.
// Ошибки те же, что у RecordRepository.Create и Save.
type RecordJournal interface {
	CommitCreate(ctx context.Context, change RecordChange) error
	CommitSave(ctx context.Context, change RecordChange) error
}

// AuditLogRepository хранит журнал изменений записи.
type AuditLogRepository interface {
	Append(ctx context.Context, event AuditEvent) error
	List(ctx context.Context, recordID string) ([]AuditEvent, error)
}
