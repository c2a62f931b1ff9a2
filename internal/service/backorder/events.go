package backorder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
	"github.com/vladislavdragonenkov/backorders/internal/notify"
)

// auditPayload: тело события аудита в outbox.
type auditPayload struct {
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

// commit сохраняет запись и её событие. С журналом запись, аудит и outbox
// фиксируются одной транзакцией. Без журнала аудит и outbox пишутся после
// сохранения, и их ошибки только логируются. Возвращает запись с новой версией.
func (s *Service) commit(ctx context.Context, record domain.Record, event domain.AuditEvent, created bool) (domain.Record, error) {
	saved := record
	if !created {
		saved.Version++
	}
	fields := log.Fields{"record_id": record.ID, "action": event.Action}

	if s.journal != nil {
		msg, err := outboxMessage(saved, event)
		if err != nil {
			return domain.Record{}, err
		}
		change := domain.RecordChange{Record: record, Audit: event, Outbox: msg}
		if created {
			err = s.journal.CommitCreate(ctx, change)
		} else {
			err = s.journal.CommitSave(ctx, change)
		}
		if err != nil {
			return domain.Record{}, err
		}
		s.metrics.RecordAuditEvent()
		s.metrics.RecordOutboxEvent()
	} else {
		var err error
		if created {
			err = s.records.Create(ctx, record)
		} else {
			err = s.records.Save(ctx, record)
		}
		if err != nil {
			return domain.Record{}, err
		}
		s.appendAudit(ctx, event, fields)
		s.enqueue(ctx, saved, event, fields)
	}

	if s.changes != nil {
		s.changes.Publish(notify.Change{
			RecordID:  saved.ID,
			Action:    event.Action,
			Status:    saved.Status,
			Timestamp: event.Timestamp,
		})
	}
	return saved, nil
}

func (s *Service) appendAudit(ctx context.Context, event domain.AuditEvent, fields log.Fields) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(fields).Error("append audit event failed")
		return
	}
	s.metrics.RecordAuditEvent()
}

func (s *Service) enqueue(ctx context.Context, record domain.Record, event domain.AuditEvent, fields log.Fields) {
	if s.outbox == nil {
		return
	}
	msg, err := outboxMessage(record, event)
	if err != nil {
		s.logger.WithError(err).WithFields(fields).Error("marshal audit event failed")
		return
	}
	if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
		s.logger.WithError(err).WithFields(fields).Error("enqueue audit event failed")
		return
	}
	s.metrics.RecordOutboxEvent()
}

// outboxMessage: событие аудита для версии записи record.
func outboxMessage(record domain.Record, event domain.AuditEvent) (domain.OutboxMessage, error) {
	data, err := json.Marshal(auditPayload{
		RecordID:          record.ID,
		Version:           record.Version,
		Action:            string(event.Action),
		Quantity:          event.Quantity,
		Notes:             event.Notes,
		OperatorID:        event.OperatorID,
		Status:            string(record.Status),
		RequestedQuantity: record.RequestedQuantity,
		DeliveredQuantity: record.DeliveredQuantity,
		ReturnedQuantity:  record.ReturnedQuantity,
		Timestamp:         event.Timestamp,
	})
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal audit event: %w", err)
	}
	return domain.OutboxMessage{
		AggregateType:    domain.RecordAuditAggregate,
		AggregateID:      record.ID,
		AggregateVersion: record.Version,
		EventType:        event.Action.EventType(),
		Payload:          data,
		CreatedAt:        event.Timestamp,
	}, nil
}
