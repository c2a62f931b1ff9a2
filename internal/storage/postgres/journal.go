package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

// sqlExecutor: общее у *sql.DB и *sql.Tx, чтобы одни и те же запросы шли
// и отдельно, и внутри транзакции журнала.
type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type recordJournal struct {
	db *sql.DB
}

// NewRecordJournal создаёт журнал, который пишет запись, аудит и outbox одной транзакцией.
func NewRecordJournal(store *Store) domain.RecordJournal {
	return &recordJournal{db: store.DB()}
}

func (j *recordJournal) CommitCreate(ctx context.Context, change domain.RecordChange) error {
	return inTx(ctx, j.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := insertRecord(ctx, tx, change.Record); err != nil {
			return err
		}
		return writeRecordEffects(ctx, tx, change)
	})
}

func (j *recordJournal) CommitSave(ctx context.Context, change domain.RecordChange) error {
	if errs := change.Record.CheckInvariants(); len(errs) > 0 {
		return errors.Join(append([]error{domain.ErrInvariantViolated}, errs...)...)
	}
	return inTx(ctx, j.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := updateRecord(ctx, tx, change.Record); err != nil {
			return err
		}
		return writeRecordEffects(ctx, tx, change)
	})
}

func writeRecordEffects(ctx context.Context, tx *sql.Tx, change domain.RecordChange) error {
	if err := insertAuditEvent(ctx, tx, change.Audit); err != nil {
		return err
	}
	_, err := insertOutboxMessage(ctx, tx, change.Outbox)
	return err
}

// inTx откатывает транзакцию при любой ошибке fn.
func inTx(ctx context.Context, db *sql.DB, fn func(context.Context, *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", storageErr(err))
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", storageErr(err))
	}
	return nil
}

func insertRecord(ctx context.Context, q sqlExecutor, record domain.Record) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO out_of_stock_records (
			id, customer_id, product_id, variant_id,
			requested_quantity, delivered_quantity, returned_quantity,
			status, notes, request_date, updated_at,
			actual_completion_date, delivery_date, return_date, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		record.ID, record.CustomerID, record.ProductID, record.VariantID,
		record.RequestedQuantity, record.DeliveredQuantity, record.ReturnedQuantity,
		string(record.Status), record.Notes, record.RequestDate, record.UpdatedAt,
		nullTime(record.ActualCompletionDate), nullTime(record.DeliveryDate), nullTime(record.ReturnDate),
		record.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrRecordVersionConflict
		}
		return fmt.Errorf("insert out-of-stock record: %w", err)
	}
	return nil
}

// updateRecord сохраняет запись, если в базе та же версия, и увеличивает её.
func updateRecord(ctx context.Context, q sqlExecutor, record domain.Record) error {
	res, err := q.ExecContext(ctx, `
		UPDATE out_of_stock_records
		SET delivered_quantity = $1,
		    returned_quantity = $2,
		    status = $3,
		    notes = $4,
		    updated_at = $5,
		    actual_completion_date = $6,
		    delivery_date = $7,
		    return_date = $8,
		    version = version + 1
		WHERE id = $9
		  AND version = $10
	`,
		record.DeliveredQuantity,
		record.ReturnedQuantity,
		string(record.Status),
		record.Notes,
		record.UpdatedAt,
		nullTime(record.ActualCompletionDate),
		nullTime(record.DeliveryDate),
		nullTime(record.ReturnDate),
		record.ID,
		record.Version,
	)
	if err != nil {
		return fmt.Errorf("update out-of-stock record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	exists, err := recordExists(ctx, q, record.ID)
	if err != nil {
		return err
	}
	if !exists {
		return &domain.NotFoundError{Kind: domain.KindRecord, ID: record.ID}
	}
	return domain.ErrRecordVersionConflict
}

func insertAuditEvent(ctx context.Context, q sqlExecutor, event domain.AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO record_audit_events (record_id, action, quantity, notes, operator_id, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, event.RecordID, string(event.Action), event.Quantity, event.Notes, event.OperatorID, event.Timestamp); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// insertOutboxMessage не дублирует событие той же версии записи: повтор
// возвращает сообщение с идентификатором уже сохранённого.
func insertOutboxMessage(ctx context.Context, q sqlExecutor, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	var id string
	err := q.QueryRowContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, aggregate_version, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,'pending',0,$7,$8)
		ON CONFLICT (aggregate_type, aggregate_id, aggregate_version, event_type) DO NOTHING
		RETURNING id
	`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.AggregateVersion, msg.EventType, msg.Payload, msg.CreatedAt, now,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = q.QueryRowContext(ctx, `
			SELECT id FROM outbox_messages
			WHERE aggregate_type = $1 AND aggregate_id = $2 AND aggregate_version = $3 AND event_type = $4
		`, msg.AggregateType, msg.AggregateID, msg.AggregateVersion, msg.EventType).Scan(&id)
	}
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message: %w", err)
	}
	msg.ID = id
	return msg, nil
}

func recordExists(ctx context.Context, q sqlExecutor, id string) (bool, error) {
	var found string
	err := q.QueryRowContext(ctx, `SELECT id FROM out_of_stock_records WHERE id = $1`, id).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check record exists: %w", err)
}

var _ domain.RecordJournal = (*recordJournal)(nil)
