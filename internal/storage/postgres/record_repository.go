package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type recordRepository struct {
	db *sql.DB
}

// NewRecordRepository создаёт PostgreSQL-реализацию RecordRepository.
func NewRecordRepository(store *Store) domain.RecordRepository {
	return &recordRepository{db: store.DB()}
}

func (r *recordRepository) Create(ctx context.Context, record domain.Record) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return insertRecord(ctx, r.db, record)
}

func (r *recordRepository) Get(ctx context.Context, id string) (domain.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	record, err := scanRecord(r.db.QueryRowContext(ctx, `SELECT`+recordColumns+`
		FROM out_of_stock_records r
		WHERE r.id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Record{}, &domain.NotFoundError{Kind: domain.KindRecord, ID: id}
		}
		return domain.Record{}, fmt.Errorf("select out-of-stock record: %w", err)
	}
	return record, nil
}

func (r *recordRepository) Save(ctx context.Context, record domain.Record) error {
	if errs := record.CheckInvariants(); len(errs) > 0 {
		return errors.Join(append([]error{domain.ErrInvariantViolated}, errs...)...)
	}
	return inTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		return updateRecord(ctx, tx, record)
	})
}

func (r *recordRepository) Count(ctx context.Context, criteria domain.FilterCriteria) (int, error) {
	if err := criteria.Validate(); err != nil {
		return 0, domain.NewQueryError("count", criteria, err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query, args := buildCountQuery(criteria)
	var total int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, domain.NewQueryError("count", criteria, storageErr(err))
	}
	return total, nil
}

func (r *recordRepository) CountByStatus(ctx context.Context, criteria domain.FilterCriteria) (domain.StatusCounts, error) {
	if err := criteria.Validate(); err != nil {
		return nil, domain.NewQueryError("count_by_status", criteria, err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query, args := buildCountByStatusQuery(criteria)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.NewQueryError("count_by_status", criteria, storageErr(err))
	}
	defer rows.Close()

	counts := domain.NewStatusCounts()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.NewQueryError("count_by_status", criteria, fmt.Errorf("scan status count: %w", err))
		}
		counts[domain.RecordStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewQueryError("count_by_status", criteria, storageErr(err))
	}
	return counts, nil
}

// Fetch выполняет подсчёт и выборку страницы в одной read-only транзакции с одним снимком данных.
func (r *recordRepository) Fetch(ctx context.Context, criteria domain.FilterCriteria) (domain.Page, error) {
	if err := criteria.Validate(); err != nil {
		return domain.Page{}, domain.NewQueryError("fetch", criteria, err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return domain.Page{}, domain.NewQueryError("fetch", criteria, storageErr(err))
	}
	defer func() { _ = tx.Rollback() }()

	countQuery, countArgs := buildCountQuery(criteria)
	var page domain.Page
	if err := tx.QueryRowContext(ctx, countQuery, countArgs...).Scan(&page.TotalCount); err != nil {
		return domain.Page{}, domain.NewQueryError("fetch", criteria, storageErr(err))
	}

	query, args := buildFetchQuery(criteria)
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.Page{}, domain.NewQueryError("fetch", criteria, storageErr(err))
	}
	defer rows.Close()

	page.Items = make([]domain.RecordView, 0, criteria.PageSize)
	for rows.Next() {
		view, err := scanRecordView(rows)
		if err != nil {
			return domain.Page{}, domain.NewQueryError("fetch", criteria, fmt.Errorf("scan record row: %w", err))
		}
		page.Items = append(page.Items, view)
	}
	if err := rows.Err(); err != nil {
		return domain.Page{}, domain.NewQueryError("fetch", criteria, storageErr(err))
	}

	return page, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func recordScanTargets(record *domain.Record, status *string, completed, delivered, returned *sql.NullTime) []any {
	return []any{
		&record.ID, &record.CustomerID, &record.ProductID, &record.VariantID,
		&record.RequestedQuantity, &record.DeliveredQuantity, &record.ReturnedQuantity,
		status, &record.Notes, &record.RequestDate, &record.UpdatedAt,
		completed, delivered, returned, &record.Version,
	}
}

func scanRecord(row rowScanner) (domain.Record, error) {
	var (
		record                         domain.Record
		status                         string
		completed, delivered, returned sql.NullTime
	)
	if err := row.Scan(recordScanTargets(&record, &status, &completed, &delivered, &returned)...); err != nil {
		return domain.Record{}, err
	}
	fillRecord(&record, status, completed, delivered, returned)
	return record, nil
}

func scanRecordView(row rowScanner) (domain.RecordView, error) {
	var (
		view                           domain.RecordView
		status                         string
		completed, delivered, returned sql.NullTime
	)
	targets := recordScanTargets(&view.Record, &status, &completed, &delivered, &returned)
	targets = append(targets, &view.CustomerName, &view.CustomerAddress, &view.ProductName)
	if err := row.Scan(targets...); err != nil {
		return domain.RecordView{}, err
	}
	fillRecord(&view.Record, status, completed, delivered, returned)
	return view, nil
}

func fillRecord(record *domain.Record, status string, completed, delivered, returned sql.NullTime) {
	record.Status = domain.RecordStatus(status)
	record.RequestDate = record.RequestDate.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	record.ActualCompletionDate = timePtr(completed)
	record.DeliveryDate = timePtr(delivered)
	record.ReturnDate = timePtr(returned)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// storageErr помечает ошибку драйвера как недоступность хранилища.
func storageErr(err error) error {
	return errors.Join(domain.ErrStorageUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.RecordRepository = (*recordRepository)(nil)
