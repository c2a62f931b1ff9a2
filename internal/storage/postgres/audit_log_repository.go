package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

type auditLogRepository struct {
	db *sql.DB
}

// NewAuditLogRepository создаёт PostgreSQL-реализацию AuditLogRepository.
func NewAuditLogRepository(store *Store) domain.AuditLogRepository {
	return &auditLogRepository{db: store.DB()}
}

func (r *auditLogRepository) Append(ctx context.Context, event domain.AuditEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return insertAuditEvent(ctx, r.db, event)
}

func (r *auditLogRepository) List(ctx context.Context, recordID string) ([]domain.AuditEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT record_id, action, quantity, notes, operator_id, occurred_at
		FROM record_audit_events
		WHERE record_id = $1
		ORDER BY occurred_at ASC, id ASC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.AuditEvent, 0)
	for rows.Next() {
		var (
			event  domain.AuditEvent
			action string
		)
		if err := rows.Scan(&event.RecordID, &action, &event.Quantity, &event.Notes, &event.OperatorID, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Action = domain.AuditAction(action)
		event.Timestamp = event.Timestamp.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return events, nil
}

var _ domain.AuditLogRepository = (*auditLogRepository)(nil)
