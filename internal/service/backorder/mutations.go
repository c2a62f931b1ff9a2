package backorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

const (
	actionCreate  = "create"
	actionDeliver = "deliver"
	actionReturn  = "return"
)

// CreateRecord создаёт запись в статусе pending. Клиент и товар должны существовать.
func (s *Service) CreateRecord(ctx context.Context, input CreateInput) (domain.Record, error) {
	start := time.Now()
	if err := s.checkInput(input); err != nil {
		s.reject(actionCreate, "", err)
		return domain.Record{}, err
	}
	if _, err := s.customers.Get(ctx, input.CustomerID); err != nil {
		s.reject(actionCreate, "", err)
		return domain.Record{}, err
	}
	if _, err := s.products.Get(ctx, input.ProductID); err != nil {
		s.reject(actionCreate, "", err)
		return domain.Record{}, err
	}

	record, err := domain.NewRecord(s.ids.NewID(), input.CustomerID, input.ProductID, input.VariantID, input.Quantity, input.Notes, s.clock.Now())
	if err != nil {
		s.reject(actionCreate, "", err)
		return domain.Record{}, err
	}
	saved, err := s.commit(ctx, record, domain.AuditEvent{
		RecordID:   record.ID,
		Action:     domain.AuditActionCreated,
		Quantity:   record.RequestedQuantity,
		Notes:      record.Notes,
		OperatorID: input.OperatorID,
		Timestamp:  record.RequestDate,
	}, true)
	if err != nil {
		s.reject(actionCreate, record.ID, err)
		return domain.Record{}, fmt.Errorf("create record: %w", err)
	}
	s.metrics.RecordMutation(actionCreate, time.Since(start))
	return saved, nil
}

// ProcessDelivery выдаёт клиенту quantity единиц. Отклонённый вызов запись не меняет.
func (s *Service) ProcessDelivery(ctx context.Context, input QuantityInput) (domain.Record, error) {
	if err := s.checkInput(input); err != nil {
		s.reject(actionDeliver, input.RecordID, err)
		return domain.Record{}, err
	}
	return s.mutate(ctx, actionDeliver, input, func(r *domain.Record, now time.Time) error {
		return r.ProcessDelivery(input.Quantity, input.Notes, now)
	})
}

// ProcessReturn закрывает запись возвратом quantity единиц.
func (s *Service) ProcessReturn(ctx context.Context, input QuantityInput) (domain.Record, error) {
	if err := s.checkInput(input); err != nil {
		s.reject(actionReturn, input.RecordID, err)
		return domain.Record{}, err
	}
	return s.mutate(ctx, actionReturn, input, func(r *domain.Record, now time.Time) error {
		return r.ProcessReturn(input.Quantity, input.Notes, now)
	})
}

// ProcessReturnBatch применяет возвраты последовательно. Ошибка строки не откатывает уже применённые.
func (s *Service) ProcessReturnBatch(ctx context.Context, batch BatchInput) BatchResult {
	return s.runBatch(ctx, batch, s.ProcessReturn)
}

// ProcessDeliveryBatch применяет выдачи последовательно, с теми же правилами, что и возвраты.
func (s *Service) ProcessDeliveryBatch(ctx context.Context, batch BatchInput) BatchResult {
	return s.runBatch(ctx, batch, s.ProcessDelivery)
}

func (s *Service) runBatch(ctx context.Context, batch BatchInput, apply func(context.Context, QuantityInput) (domain.Record, error)) BatchResult {
	result := BatchResult{Items: make([]ItemResult, 0, len(batch.Items))}
	for _, item := range batch.Items {
		var (
			record domain.Record
			err    error
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		} else {
			record, err = apply(ctx, QuantityInput{
				RecordID:   item.RecordID,
				Quantity:   item.Quantity,
				Notes:      item.Notes,
				OperatorID: batch.OperatorID,
			})
		}

		result.Items = append(result.Items, ItemResult{RecordID: item.RecordID, Record: record, Err: err})
		if err != nil {
			result.Failed++
		} else {
			result.Succeeded++
		}
	}

	s.logger.WithFields(log.Fields{
		"operator_id": batch.OperatorID,
		"succeeded":   result.Succeeded,
		"failed":      result.Failed,
	}).Info("batch processed")
	return result
}

// GetRecord возвращает запись с отображаемыми именами и журналом.
func (s *Service) GetRecord(ctx context.Context, id string) (RecordDetails, error) {
	if id == "" {
		return RecordDetails{}, domain.NewValidationError("record_id", domain.ErrRecordIDRequired, "")
	}
	record, err := s.records.Get(ctx, id)
	if err != nil {
		return RecordDetails{}, err
	}

	details := RecordDetails{View: domain.RecordView{Record: record}}
	details.View.RecordNames = s.resolveNames(ctx, record)

	if s.audit != nil {
		events, err := s.audit.List(ctx, id)
		if err != nil {
			return RecordDetails{}, fmt.Errorf("list audit events: %w", err)
		}
		details.Audit = events
	}
	return details, nil
}

func (s *Service) resolveNames(ctx context.Context, record domain.Record) domain.RecordNames {
	names := domain.RecordNames{
		CustomerName: domain.PlaceholderCustomerName,
		ProductName:  domain.PlaceholderProductName,
	}
	if customer, err := s.customers.Get(ctx, record.CustomerID); err == nil {
		names.CustomerName = domain.CustomerDisplayName(&customer)
		names.CustomerAddress = customer.Address
	}
	if product, err := s.products.Get(ctx, record.ProductID); err == nil {
		names.ProductName = domain.ProductDisplayName(&product)
	}
	return names
}

// mutate загружает запись, применяет apply и сохраняет с проверкой версии.
// При конфликте версии запись перечитывается и проверки выполняются заново.
func (s *Service) mutate(ctx context.Context, action string, input QuantityInput, apply func(*domain.Record, time.Time) error) (domain.Record, error) {
	start := time.Now()
	unlock := s.locks.Lock(input.RecordID)
	defer unlock()

	delay := s.retry.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		record, err := s.records.Get(ctx, input.RecordID)
		if err != nil {
			s.reject(action, input.RecordID, err)
			return domain.Record{}, err
		}

		now := s.clock.Now()
		if err := apply(&record, now); err != nil {
			s.reject(action, input.RecordID, err)
			return domain.Record{}, err
		}

		saved, err := s.commit(ctx, record, domain.AuditEvent{
			RecordID:   record.ID,
			Action:     auditAction(action),
			Quantity:   input.Quantity,
			Notes:      input.Notes,
			OperatorID: input.OperatorID,
			Timestamp:  now,
		}, false)
		if err == nil {
			s.metrics.RecordMutation(action, time.Since(start))
			return saved, nil
		}
		if !domain.IsVersionConflict(err) {
			s.reject(action, input.RecordID, err)
			return domain.Record{}, fmt.Errorf("save record: %w", err)
		}

		lastErr = err
		if attempt == s.retry.MaxAttempts {
			break
		}
		s.metrics.RecordVersionRetry()
		s.logger.WithFields(log.Fields{
			"record_id": input.RecordID,
			"action":    action,
			"attempt":   attempt,
		}).Warn("version conflict, reloading record")

		if err := sleepCtx(ctx, delay); err != nil {
			return domain.Record{}, err
		}
		delay = time.Duration(float64(delay) * s.retry.BackoffFactor)
		if s.retry.MaxDelay > 0 && delay > s.retry.MaxDelay {
			delay = s.retry.MaxDelay
		}
	}

	s.reject(action, input.RecordID, lastErr)
	return domain.Record{}, fmt.Errorf("save record after %d attempts: %w", s.retry.MaxAttempts, lastErr)
}

func auditAction(action string) domain.AuditAction {
	if action == actionReturn {
		return domain.AuditActionReturned
	}
	return domain.AuditActionDelivered
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Service) reject(action, recordID string, err error) {
	reason := rejectionReason(err)
	s.metrics.RecordRejection(action, reason)

	entry := s.logger.WithError(err).WithFields(log.Fields{"action": action, "reason": reason})
	if recordID != "" {
		entry = entry.WithField("record_id", recordID)
	}
	if domain.IsValidation(err) || domain.IsNotFound(err) {
		entry.Debug("mutation rejected")
		return
	}
	entry.Warn("mutation failed")
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrQuantityInvalid):
		return "quantity_invalid"
	case errors.Is(err, domain.ErrQuantityExceedsRemaining):
		return "quantity_exceeds_remaining"
	case errors.Is(err, domain.ErrRecordNotPending):
		return "not_pending"
	case domain.IsNotFound(err):
		return "not_found"
	case domain.IsVersionConflict(err):
		return "version_conflict"
	case domain.IsValidation(err):
		return "validation"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "storage"
	}
}
