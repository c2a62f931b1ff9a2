// Package listing ведёт окно пагинации списка записей: страницы, счётчики по вкладкам
// и повторное использование уже загруженных данных.
package listing

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/backorders/internal/cache"
	"github.com/vladislavdragonenkov/backorders/internal/domain"
	"github.com/vladislavdragonenkov/backorders/internal/metrics"
)

var (
	// ErrClosed: пагинатор закрыт, результаты больше не применяются.
	ErrClosed = errors.New("paginator is closed")
	// ErrSuperseded: результат загрузки отброшен: уже запрошены другие критерии.
	ErrSuperseded = errors.New("load superseded by a newer request")
)

const defaultCountsTimeout = 10 * time.Second

// Snapshot: наблюдаемое состояние окна. Срезы и карты принадлежат вызывающему.
type Snapshot struct {
	Items      []domain.RecordView
	TotalCount int
	// Page: индекс последней загруженной страницы, -1 до первой загрузки.
	Page      int
	HasMore   bool
	IsLoading bool
	Criteria  domain.FilterCriteria
	// StatusCounts относятся к Criteria без статуса; nil, пока считаются.
	StatusCounts domain.StatusCounts
	// FromWindow: страница получена сужением уже загруженного окна.
	FromWindow bool
	// LastErr: ошибка последней загрузки; прежние данные при этом сохраняются.
	LastErr   error
	CountsErr error
	// Revision растёт при каждом изменении состояния.
	Revision uint64
}

// residentWindow: все строки для criteria загружены из хранилища.
type residentWindow struct {
	criteria domain.FilterCriteria
	items    []domain.RecordView
}

// Paginator допускает не больше одной загрузки страницы одновременно.
type Paginator struct {
	querier       domain.RecordQuerier
	customers     domain.CustomerRepository
	products      domain.ProductRepository
	counts        cache.StatusCountCache
	flight        singleflight.Group
	// cacheMu упорядочивает запись в кэш счётчиков относительно Invalidate.
	cacheMu       sync.Mutex
	metrics       *metrics.BackorderMetrics
	logger        *log.Entry
	countsTimeout time.Duration

	listenersMu  sync.RWMutex
	listeners    map[uint64]func(Snapshot)
	nextListener uint64

	mu         sync.Mutex
	state      Snapshot
	seen       map[string]struct{}
	requested  domain.FilterCriteria
	generation uint64
	window     *residentWindow
	countsKey  string
	countsSeq  uint64
	closed     bool
	bg         sync.WaitGroup
}

// Option настраивает Paginator.
type Option func(*Paginator)

// WithCountsCache задаёт кэш счётчиков по статусам.
func WithCountsCache(c cache.StatusCountCache) Option {
	return func(p *Paginator) {
		if c != nil {
			p.counts = c
		}
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.BackorderMetrics) Option {
	return func(p *Paginator) { p.metrics = m }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(p *Paginator) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithCountsTimeout ограничивает фоновый подсчёт по статусам.
func WithCountsTimeout(d time.Duration) Option {
	return func(p *Paginator) {
		if d > 0 {
			p.countsTimeout = d
		}
	}
}

// NewPaginator создаёт пагинатор.
func NewPaginator(querier domain.RecordQuerier, customers domain.CustomerRepository, products domain.ProductRepository, opts ...Option) *Paginator {
	p := &Paginator{
		querier:       querier,
		customers:     customers,
		products:      products,
		counts:        cache.Noop{},
		logger:        log.WithField("component", "listing"),
		countsTimeout: defaultCountsTimeout,
		seen:          make(map[string]struct{}),
		listeners:     make(map[uint64]func(Snapshot)),
		state:         Snapshot{Page: -1},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Snapshot возвращает копию текущего состояния.
func (p *Paginator) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// LoadFirstPage сбрасывает окно и загружает страницу 0. Счётчики по статусам
// считаются в фоне и не задерживают ответ.
func (p *Paginator) LoadFirstPage(ctx context.Context, raw domain.FilterCriteria) (Snapshot, error) {
	criteria := raw.Normalize().WithPage(0)
	if err := criteria.Validate(); err != nil {
		qerr := domain.NewQueryError("fetch", criteria, err)
		return p.fail(qerr), qerr
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	p.generation++
	gen := p.generation
	p.requested = criteria

	if items, ok := p.narrowLocked(criteria); ok {
		p.applyLocalLocked(criteria, items)
		p.refreshCountsLocked(criteria)
		snap := p.snapshotLocked()
		p.mu.Unlock()
		p.emit(snap)
		return snap, nil
	}

	p.state.IsLoading = true
	p.touchLocked()
	loading := p.snapshotLocked()
	p.mu.Unlock()
	p.emit(loading)

	page, err := p.fetch(ctx, criteria)

	p.mu.Lock()
	if stale := p.staleLocked(gen); stale != nil {
		p.mu.Unlock()
		return p.Snapshot(), stale
	}
	p.state.IsLoading = false
	if err != nil {
		// окно на экране относится к прежним критериям: догружать его нельзя до Reload
		p.state.LastErr = err
		p.state.HasMore = false
		p.touchLocked()
		snap := p.snapshotLocked()
		p.mu.Unlock()
		p.emit(snap)
		return snap, err
	}

	p.seen = make(map[string]struct{}, len(page.Items))
	items := make([]domain.RecordView, 0, len(page.Items))
	for _, item := range page.Items {
		if _, dup := p.seen[item.ID]; dup {
			continue
		}
		p.seen[item.ID] = struct{}{}
		items = append(items, item)
	}
	p.state.Items = items
	p.state.TotalCount = page.TotalCount
	p.state.Page = 0
	p.state.HasMore = hasMore(criteria, page)
	p.state.Criteria = criteria
	p.state.FromWindow = false
	p.state.LastErr = nil
	p.captureWindowLocked()
	p.refreshCountsLocked(criteria)
	p.touchLocked()
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.emit(snap)
	return snap, nil
}

// LoadNextPage догружает следующую страницу. Ничего не делает, если страниц больше нет
// или загрузка уже идёт: повторный запрос отбрасывается, а не ставится в очередь.
func (p *Paginator) LoadNextPage(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if !p.state.HasMore || p.state.IsLoading {
		snap := p.snapshotLocked()
		p.mu.Unlock()
		return snap, nil
	}
	gen := p.generation
	next := p.state.Criteria.WithPage(p.state.Page + 1)
	p.state.IsLoading = true
	p.touchLocked()
	loading := p.snapshotLocked()
	p.mu.Unlock()
	p.emit(loading)

	page, err := p.fetch(ctx, next)

	p.mu.Lock()
	if stale := p.staleLocked(gen); stale != nil {
		p.mu.Unlock()
		return p.Snapshot(), stale
	}
	p.state.IsLoading = false
	if err != nil {
		p.state.LastErr = err
		p.touchLocked()
		snap := p.snapshotLocked()
		p.mu.Unlock()
		p.emit(snap)
		return snap, err
	}

	dropped := 0
	for _, item := range page.Items {
		if _, dup := p.seen[item.ID]; dup {
			dropped++
			continue
		}
		p.seen[item.ID] = struct{}{}
		p.state.Items = append(p.state.Items, item)
	}
	if dropped > 0 {
		p.metrics.RecordDedupedRows(dropped)
		p.logger.WithFields(log.Fields{
			"page":     next.Page,
			"dropped":  dropped,
			"returned": len(page.Items),
		}).Warn("duplicate records dropped from appended page")
	}
	if page.TotalCount != p.state.TotalCount {
		p.logger.WithFields(log.Fields{
			"page":     next.Page,
			"previous": p.state.TotalCount,
			"current":  page.TotalCount,
		}).Warn("total count changed between pages")
	}

	p.state.Page = next.Page
	p.state.TotalCount = page.TotalCount
	p.state.HasMore = hasMore(next, page)
	p.state.LastErr = nil
	p.captureWindowLocked()
	p.touchLocked()
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.emit(snap)
	return snap, nil
}

// Reload сбрасывает локальные данные и заново загружает последние запрошенные критерии.
func (p *Paginator) Reload(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	criteria := p.requested
	p.window = nil
	p.resetCountsLocked()
	p.mu.Unlock()
	return p.LoadFirstPage(ctx, criteria)
}

// Invalidate забывает загруженное окно и счётчики (после изменения записей).
// Текущие элементы остаются на экране до следующей загрузки.
func (p *Paginator) Invalidate(ctx context.Context) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()

	p.mu.Lock()
	p.window = nil
	p.resetCountsLocked()
	p.mu.Unlock()
	p.counts.Invalidate(ctx)
}

// Close отбрасывает результаты всех незавершённых загрузок.
func (p *Paginator) Close() {
	p.mu.Lock()
	p.closed = true
	p.generation++
	p.countsSeq++
	p.mu.Unlock()
}

// Wait дожидается фоновых подсчётов.
func (p *Paginator) Wait() {
	p.bg.Wait()
}

// ListCustomers: справочник клиентов для фильтра.
func (p *Paginator) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return p.customers.List(ctx)
}

// ListProducts: справочник товаров для фильтра.
func (p *Paginator) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return p.products.List(ctx)
}

func (p *Paginator) fetch(ctx context.Context, criteria domain.FilterCriteria) (domain.Page, error) {
	start := time.Now()
	page, err := p.querier.Fetch(ctx, criteria)
	p.metrics.RecordQuery("fetch", time.Since(start), err)
	if err != nil {
		if !domain.IsQuery(err) {
			err = domain.NewQueryError("fetch", criteria, err)
		}
		return domain.Page{}, err
	}
	return page, nil
}

func (p *Paginator) fail(err error) Snapshot {
	p.mu.Lock()
	p.state.LastErr = err
	p.touchLocked()
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.emit(snap)
	return snap
}

func (p *Paginator) staleLocked(gen uint64) error {
	if p.closed {
		p.metrics.RecordStaleLoad()
		p.logger.Debug("load finished after close, result discarded")
		return ErrClosed
	}
	if gen != p.generation {
		p.metrics.RecordStaleLoad()
		p.logger.Debug("load superseded, result discarded")
		return ErrSuperseded
	}
	return nil
}

func hasMore(criteria domain.FilterCriteria, page domain.Page) bool {
	return len(page.Items) > 0 && (criteria.Page+1)*criteria.PageSize < page.TotalCount
}

func (p *Paginator) touchLocked() {
	p.state.Revision++
}

func (p *Paginator) snapshotLocked() Snapshot {
	snap := p.state
	snap.Items = append([]domain.RecordView(nil), p.state.Items...)
	if p.state.StatusCounts != nil {
		snap.StatusCounts = p.state.StatusCounts.Clone()
	}
	return snap
}

// Subscribe подписывает на изменения состояния и возвращает функцию отписки.
// fn вызывается вне блокировок; порядок вызовов из разных горутин не гарантирован,
// поэтому подписчик сверяет Revision.
func (p *Paginator) Subscribe(fn func(Snapshot)) func() {
	p.listenersMu.Lock()
	p.nextListener++
	id := p.nextListener
	p.listeners[id] = fn
	p.listenersMu.Unlock()

	return func() {
		p.listenersMu.Lock()
		delete(p.listeners, id)
		p.listenersMu.Unlock()
	}
}

func (p *Paginator) emit(snap Snapshot) {
	p.listenersMu.RLock()
	fns := make([]func(Snapshot), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(snap)
	}
}
