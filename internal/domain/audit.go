package domain

import "time"

// AuditAction: вид изменения записи для внешнего аудита.
type AuditAction string

const (
	AuditActionCreated   AuditAction = "created"
	AuditActionDelivered AuditAction = "delivered"
	AuditActionReturned  AuditAction = "returned"
)

// AuditEvent описывает успешную мутацию записи. Сам сервис аудит не ведёт,
// событие передаётся журналу и через outbox во внешнюю систему.
type AuditEvent struct {
	RecordID   string
	Action     AuditAction
	Quantity   int
	Notes      string
	OperatorID string
	Timestamp  time.Time
}

// RecordAuditAggregate: тип агрегата в outbox для событий аудита.
const RecordAuditAggregate = "out_of_stock_record"

// Типы событий outbox.
const (
	EventRecordCreated   = "backorder.record.created"
	EventRecordDelivered = "backorder.record.delivered"
	EventRecordReturned  = "backorder.record.returned"
)

// EventType возвращает тип события outbox для действия.
func (a AuditAction) EventType() string {
	switch a {
	case AuditActionDelivered:
		return EventRecordDelivered
	case AuditActionReturned:
		return EventRecordReturned
	default:
		return EventRecordCreated
	}
}
