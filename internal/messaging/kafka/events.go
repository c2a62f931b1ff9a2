package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
	"github.com/vladislavdragonenkov/backorders/internal/notify"
)

// Topics для Kafka
const (
	TopicAuditEvents     = "backorders.audit.events"
	TopicDeadLetterQueue = "backorders.dlq"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// HeaderAggregateVersion: версия записи, после которой возникло событие.
const HeaderAggregateVersion = "x-aggregate-version"

// AuditEnvelope: обёртка outbox-сообщения в топике аудита.
type AuditEnvelope struct {
	ID               string          `json:"id"`
	AggregateType    string          `json:"aggregate_type"`
	AggregateID      string          `json:"aggregate_id"`
	AggregateVersion int64           `json:"aggregate_version"`
	EventType        string          `json:"event_type"`
	Payload          json.RawMessage `json:"payload"`
	PublishedAt      time.Time       `json:"published_at"`
}

// NewAuditEnvelope заворачивает outbox-сообщение.
func NewAuditEnvelope(msg domain.OutboxMessage, publishedAt time.Time) AuditEnvelope {
	return AuditEnvelope{
		ID:               msg.ID,
		AggregateType:    msg.AggregateType,
		AggregateID:      msg.AggregateID,
		AggregateVersion: msg.AggregateVersion,
		EventType:        msg.EventType,
		Payload:          json.RawMessage(msg.Payload),
		PublishedAt:      publishedAt.UTC(),
	}
}

// Key: ключ партиционирования: все события одной записи попадают в одну партицию.
func (e AuditEnvelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// RecordEvent: тело события аудита записи.
type RecordEvent struct {
	RecordID          string    `json:"record_id"`
	Version           int64     `json:"version"`
	Action            string    `json:"action"`
	Quantity          int       `json:"quantity"`
	Notes             string    `json:"notes,omitempty"`
	OperatorID        string    `json:"operator_id,omitempty"`
	Status            string    `json:"status"`
	RequestedQuantity int       `json:"requested_quantity"`
	DeliveredQuantity int       `json:"delivered_quantity"`
	ReturnedQuantity  int       `json:"returned_quantity"`
	Timestamp         time.Time `json:"timestamp"`
}

// Change переводит событие в уведомление для локальных подписчиков.
func (e RecordEvent) Change() notify.Change {
	return notify.Change{
		RecordID:  e.RecordID,
		Action:    domain.AuditAction(e.Action),
		Status:    domain.RecordStatus(e.Status),
		Timestamp: e.Timestamp,
	}
}

// ParseEnvelope парсит AuditEnvelope из сообщения
func ParseEnvelope(message *sarama.ConsumerMessage) (*AuditEnvelope, error) {
	var envelope AuditEnvelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audit envelope: %w", err)
	}
	return &envelope, nil
}

// ParseRecordEvent парсит событие записи вместе с обёрткой.
func ParseRecordEvent(message *sarama.ConsumerMessage) (*RecordEvent, error) {
	envelope, err := ParseEnvelope(message)
	if err != nil {
		return nil, err
	}
	if envelope.AggregateType != domain.RecordAuditAggregate {
		return nil, fmt.Errorf("unexpected aggregate type %q", envelope.AggregateType)
	}

	var event RecordEvent
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record event: %w", err)
	}
	if event.RecordID == "" {
		event.RecordID = envelope.AggregateID
	}
	if event.Version == 0 {
		event.Version = envelope.AggregateVersion
	}
	return &event, nil
}
