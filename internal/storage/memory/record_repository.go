package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

// recordRepositoryInMemory: in-memory реализация RecordRepository.
// Имена клиента и товара для поиска берутся из справочников при каждом запросе.
type recordRepositoryInMemory struct {
	mu        sync.RWMutex
	items     map[string]domain.Record
	customers domain.CustomerRepository
	products  domain.ProductRepository
}

// NewRecordRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewRecordRepository(customers domain.CustomerRepository, products domain.ProductRepository) domain.RecordRepository {
	return &recordRepositoryInMemory{
		items:     make(map[string]domain.Record),
		customers: customers,
		products:  products,
	}
}

// Create сохраняет новую запись, если ID ещё не занят.
func (r *recordRepositoryInMemory) Create(_ context.Context, record domain.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[record.ID]; exists {
		return domain.ErrRecordVersionConflict
	}
	r.items[record.ID] = record.Clone()
	return nil
}

// Get возвращает запись или NotFoundError.
func (r *recordRepositoryInMemory) Get(_ context.Context, id string) (domain.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.items[id]
	if !ok {
		return domain.Record{}, &domain.NotFoundError{Kind: domain.KindRecord, ID: id}
	}
	return record.Clone(), nil
}

// Save перезаписывает запись, проверяя версию (optimistic locking).
func (r *recordRepositoryInMemory) Save(_ context.Context, record domain.Record) error {
	if errs := record.CheckInvariants(); len(errs) > 0 {
		return errors.Join(append([]error{domain.ErrInvariantViolated}, errs...)...)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[record.ID]
	if !ok {
		return &domain.NotFoundError{Kind: domain.KindRecord, ID: record.ID}
	}
	if current.Version != record.Version {
		return domain.ErrRecordVersionConflict
	}
	record.Version++
	r.items[record.ID] = record.Clone()
	return nil
}

// Count возвращает число подходящих записей без учёта пагинации.
func (r *recordRepositoryInMemory) Count(ctx context.Context, criteria domain.FilterCriteria) (int, error) {
	matched, err := r.match(ctx, "count", criteria)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// CountByStatus считает записи по статусам за один проход, статус критериев игнорируется.
func (r *recordRepositoryInMemory) CountByStatus(ctx context.Context, criteria domain.FilterCriteria) (domain.StatusCounts, error) {
	matched, err := r.match(ctx, "count_by_status", criteria.WithStatus(""))
	if err != nil {
		return nil, err
	}

	counts := domain.NewStatusCounts()
	for _, view := range matched {
		counts[view.Status]++
	}
	return counts, nil
}

// Fetch возвращает одну отсортированную страницу.
func (r *recordRepositoryInMemory) Fetch(ctx context.Context, criteria domain.FilterCriteria) (domain.Page, error) {
	matched, err := r.match(ctx, "fetch", criteria)
	if err != nil {
		return domain.Page{}, err
	}

	sort.Slice(matched, func(i, j int) bool {
		return criteria.Less(matched[i].Record, matched[j].Record)
	})

	page := domain.Page{TotalCount: len(matched)}
	from := criteria.Offset()
	if from >= len(matched) {
		page.Items = []domain.RecordView{}
		return page, nil
	}
	to := from + criteria.PageSize
	if to > len(matched) {
		to = len(matched)
	}
	page.Items = append([]domain.RecordView(nil), matched[from:to]...)
	return page, nil
}

func (r *recordRepositoryInMemory) match(ctx context.Context, op string, criteria domain.FilterCriteria) ([]domain.RecordView, error) {
	if err := criteria.Validate(); err != nil {
		return nil, domain.NewQueryError(op, criteria, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.NewQueryError(op, criteria, err)
	}

	r.mu.RLock()
	snapshot := make([]domain.Record, 0, len(r.items))
	for _, record := range r.items {
		snapshot = append(snapshot, record.Clone())
	}
	r.mu.RUnlock()

	names, err := r.resolveNames(ctx, snapshot)
	if err != nil {
		return nil, domain.NewQueryError(op, criteria, err)
	}

	result := make([]domain.RecordView, 0, len(snapshot))
	for _, record := range snapshot {
		n := names[record.ID]
		if criteria.Matches(record, n) {
			result = append(result, domain.RecordView{Record: record, RecordNames: n})
		}
	}
	return result, nil
}

// resolveNames подставляет заглушки для неразрешённых ссылок; прочие ошибки справочников пробрасываются.
func (r *recordRepositoryInMemory) resolveNames(ctx context.Context, records []domain.Record) (map[string]domain.RecordNames, error) {
	customers := make(map[string]*domain.Customer)
	products := make(map[string]*domain.Product)
	out := make(map[string]domain.RecordNames, len(records))

	for _, record := range records {
		customer, ok := customers[record.CustomerID]
		if !ok && r.customers != nil {
			c, err := r.customers.Get(ctx, record.CustomerID)
			switch {
			case err == nil:
				customer = &c
			case !domain.IsNotFound(err):
				return nil, err
			}
			customers[record.CustomerID] = customer
		}

		product, ok := products[record.ProductID]
		if !ok && r.products != nil {
			p, err := r.products.Get(ctx, record.ProductID)
			switch {
			case err == nil:
				product = &p
			case !domain.IsNotFound(err):
				return nil, err
			}
			products[record.ProductID] = product
		}

		names := domain.RecordNames{
			CustomerName: domain.CustomerDisplayName(customer),
			ProductName:  domain.ProductDisplayName(product),
		}
		if customer != nil {
			names.CustomerAddress = customer.Address
		}
		out[record.ID] = names
	}
	return out, nil
}

var _ domain.RecordRepository = (*recordRepositoryInMemory)(nil)
