package grpcsvc

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	backorderv1 "github.com/vladislavdragonenkov/backorders/api/backorder/v1"
	"github.com/vladislavdragonenkov/backorders/internal/cache"
	"github.com/vladislavdragonenkov/backorders/internal/domain"
	"github.com/vladislavdragonenkov/backorders/internal/metrics"
	"github.com/vladislavdragonenkov/backorders/internal/service/backorder"
)

// BackorderService реализует gRPC API поверх сервиса мутаций и слоя выборок.
type BackorderService struct {
	backorderv1.UnimplementedBackorderServiceServer

	mutations *backorder.Service
	querier   domain.RecordQuerier
	customers domain.CustomerRepository
	products  domain.ProductRepository
	idemRepo  domain.IdempotencyRepository
	counts    cache.StatusCountCache
	metrics   *metrics.BackorderMetrics
	calendar  domain.Calendar
	clock     domain.Clock
	idemTTL   time.Duration
	logger    *log.Entry
}

// Option настраивает BackorderService.
type Option func(*BackorderService)

// WithIdempotency включает обязательный idempotency-key для мутаций.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(s *BackorderService) {
		s.idemRepo = repo
		if ttl > 0 {
			s.idemTTL = ttl
		}
	}
}

// WithCountsCache задаёт кэш счётчиков по статусам для CountByStatus.
func WithCountsCache(c cache.StatusCountCache) Option {
	return func(s *BackorderService) {
		if c != nil {
			s.counts = c
		}
	}
}

// WithCalendar задаёт календарь для пресетов дат.
func WithCalendar(cal domain.Calendar) Option {
	return func(s *BackorderService) { s.calendar = cal }
}

// WithClock подменяет часы.
func WithClock(clock domain.Clock) Option {
	return func(s *BackorderService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMetrics задаёт метрики запросов.
func WithMetrics(m *metrics.BackorderMetrics) Option {
	return func(s *BackorderService) { s.metrics = m }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *BackorderService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewBackorderService конструирует сервис с зависимостями.
func NewBackorderService(
	mutations *backorder.Service,
	querier domain.RecordQuerier,
	customers domain.CustomerRepository,
	products domain.ProductRepository,
	opts ...Option,
) *BackorderService {
	s := &BackorderService{
		mutations: mutations,
		querier:   querier,
		customers: customers,
		products:  products,
		counts:    cache.Noop{},
		calendar:  domain.DefaultCalendar(),
		clock:     domain.SystemClock,
		idemTTL:   defaultIdempotencyTTL,
		logger:    log.WithField("component", "grpc-backorder-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRecord создаёт запись о нехватке.
func (s *BackorderService) CreateRecord(ctx context.Context, req *backorderv1.CreateRecordRequest) (*backorderv1.RecordResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	target := mutationTarget{mutation: domain.MutationCreate, operatorID: req.OperatorID}
	return withIdempotency(s, ctx, backorderv1.BackorderService_CreateRecord_FullMethodName, target, req,
		func(ctx context.Context) (*backorderv1.RecordResponse, error) {
			record, err := s.mutations.CreateRecord(ctx, backorder.CreateInput{
				CustomerID: req.CustomerID,
				ProductID:  req.ProductID,
				VariantID:  req.VariantID,
				Quantity:   int(req.Quantity),
				Notes:      req.Notes,
				OperatorID: req.OperatorID,
			})
			if err != nil {
				return nil, s.statusError(err, "CreateRecord")
			}
			s.counts.Invalidate(ctx)
			return &backorderv1.RecordResponse{Record: s.recordWithNames(ctx, record)}, nil
		})
}

// ProcessDelivery выдаёт клиенту часть или весь остаток.
func (s *BackorderService) ProcessDelivery(ctx context.Context, req *backorderv1.QuantityRequest) (*backorderv1.RecordResponse, error) {
	if req == nil || req.RecordID == "" {
		return nil, status.Error(codes.InvalidArgument, "record_id is required")
	}
	return withIdempotency(s, ctx, backorderv1.BackorderService_ProcessDelivery_FullMethodName, recordTarget(domain.MutationDeliver, req), req,
		func(ctx context.Context) (*backorderv1.RecordResponse, error) {
			return s.applyQuantity(ctx, "ProcessDelivery", req, s.mutations.ProcessDelivery)
		})
}

// ProcessReturn закрывает запись возвратом.
func (s *BackorderService) ProcessReturn(ctx context.Context, req *backorderv1.QuantityRequest) (*backorderv1.RecordResponse, error) {
	if req == nil || req.RecordID == "" {
		return nil, status.Error(codes.InvalidArgument, "record_id is required")
	}
	return withIdempotency(s, ctx, backorderv1.BackorderService_ProcessReturn_FullMethodName, recordTarget(domain.MutationReturn, req), req,
		func(ctx context.Context) (*backorderv1.RecordResponse, error) {
			return s.applyQuantity(ctx, "ProcessReturn", req, s.mutations.ProcessReturn)
		})
}

func recordTarget(mutation domain.Mutation, req *backorderv1.QuantityRequest) mutationTarget {
	return mutationTarget{mutation: mutation, operatorID: req.OperatorID, recordIDs: []string{req.RecordID}}
}

func batchTarget(mutation domain.Mutation, req *backorderv1.BatchRequest) mutationTarget {
	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.RecordID)
	}
	return mutationTarget{mutation: mutation, operatorID: req.OperatorID, recordIDs: ids}
}

func (s *BackorderService) applyQuantity(
	ctx context.Context,
	operation string,
	req *backorderv1.QuantityRequest,
	apply func(context.Context, backorder.QuantityInput) (domain.Record, error),
) (*backorderv1.RecordResponse, error) {
	record, err := apply(ctx, backorder.QuantityInput{
		RecordID:   req.RecordID,
		Quantity:   int(req.Quantity),
		Notes:      req.Notes,
		OperatorID: req.OperatorID,
	})
	if err != nil {
		return nil, s.statusError(err, operation)
	}
	s.counts.Invalidate(ctx)
	return &backorderv1.RecordResponse{Record: s.recordWithNames(ctx, record)}, nil
}

// ProcessDeliveryBatch применяет выдачи по строкам. Ошибка строки не прерывает пакет.
func (s *BackorderService) ProcessDeliveryBatch(ctx context.Context, req *backorderv1.BatchRequest) (*backorderv1.BatchResponse, error) {
	if req == nil || len(req.Items) == 0 {
		return nil, status.Error(codes.InvalidArgument, "batch must contain at least one item")
	}
	return withIdempotency(s, ctx, backorderv1.BackorderService_ProcessDeliveryBatch_FullMethodName, batchTarget(domain.MutationDeliverBatch, req), req,
		func(ctx context.Context) (*backorderv1.BatchResponse, error) {
			return s.toBatchResponse(ctx, s.mutations.ProcessDeliveryBatch(ctx, toBatchInput(req))), nil
		})
}

// ProcessReturnBatch применяет возвраты по строкам.
func (s *BackorderService) ProcessReturnBatch(ctx context.Context, req *backorderv1.BatchRequest) (*backorderv1.BatchResponse, error) {
	if req == nil || len(req.Items) == 0 {
		return nil, status.Error(codes.InvalidArgument, "batch must contain at least one item")
	}
	return withIdempotency(s, ctx, backorderv1.BackorderService_ProcessReturnBatch_FullMethodName, batchTarget(domain.MutationReturnBatch, req), req,
		func(ctx context.Context) (*backorderv1.BatchResponse, error) {
			return s.toBatchResponse(ctx, s.mutations.ProcessReturnBatch(ctx, toBatchInput(req))), nil
		})
}

func (s *BackorderService) toBatchResponse(ctx context.Context, result backorder.BatchResult) *backorderv1.BatchResponse {
	resp := &backorderv1.BatchResponse{
		Results:   make([]backorderv1.BatchItemResult, 0, len(result.Items)),
		Succeeded: i32(result.Succeeded),
		Failed:    i32(result.Failed),
	}
	for _, item := range result.Items {
		row := backorderv1.BatchItemResult{RecordID: item.RecordID}
		if item.OK() {
			row.Record = s.recordWithNames(ctx, item.Record)
		} else {
			st := status.Convert(s.statusError(item.Err, "batch item"))
			row.Code = uint32(st.Code())
			row.Message = st.Message()
		}
		resp.Results = append(resp.Results, row)
	}
	if result.Succeeded > 0 {
		s.counts.Invalidate(ctx)
	}
	return resp
}

// GetRecord возвращает запись с журналом изменений.
func (s *BackorderService) GetRecord(ctx context.Context, req *backorderv1.GetRecordRequest) (*backorderv1.GetRecordResponse, error) {
	if req == nil || req.RecordID == "" {
		return nil, status.Error(codes.InvalidArgument, "record_id is required")
	}
	details, err := s.mutations.GetRecord(ctx, req.RecordID)
	if err != nil {
		return nil, s.statusError(err, "GetRecord")
	}

	audit := make([]*backorderv1.AuditEntry, 0, len(details.Audit))
	for _, event := range details.Audit {
		audit = append(audit, &backorderv1.AuditEntry{
			Action:     string(event.Action),
			Quantity:   i32(event.Quantity),
			Notes:      event.Notes,
			OperatorID: event.OperatorID,
			Timestamp:  event.Timestamp,
		})
	}
	return &backorderv1.GetRecordResponse{Record: toAPIRecord(details.View), Audit: audit}, nil
}

// QueryRecords возвращает одну страницу выборки.
func (s *BackorderService) QueryRecords(ctx context.Context, req *backorderv1.QueryRecordsRequest) (*backorderv1.QueryRecordsResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	criteria, err := s.toCriteria(req.Criteria)
	if err != nil {
		return nil, s.statusError(err, "QueryRecords")
	}

	start := time.Now()
	page, err := s.querier.Fetch(ctx, criteria)
	s.metrics.RecordQuery("fetch", time.Since(start), err)
	if err != nil {
		return nil, s.statusError(err, "QueryRecords")
	}

	records := make([]*backorderv1.Record, 0, len(page.Items))
	for _, item := range page.Items {
		records = append(records, toAPIRecord(item))
	}
	return &backorderv1.QueryRecordsResponse{
		Records:    records,
		TotalCount: i32(page.TotalCount),
		HasMore:    criteria.Offset()+len(page.Items) < page.TotalCount,
	}, nil
}

// CountRecords возвращает число подходящих записей без пагинации.
func (s *BackorderService) CountRecords(ctx context.Context, req *backorderv1.CountRecordsRequest) (*backorderv1.CountRecordsResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	criteria, err := s.toCriteria(req.Criteria)
	if err != nil {
		return nil, s.statusError(err, "CountRecords")
	}

	start := time.Now()
	total, err := s.querier.Count(ctx, criteria)
	s.metrics.RecordQuery("count", time.Since(start), err)
	if err != nil {
		return nil, s.statusError(err, "CountRecords")
	}
	return &backorderv1.CountRecordsResponse{Count: i32(total)}, nil
}

// CountByStatus считает записи по всем статусам; статус из критериев игнорируется.
func (s *BackorderService) CountByStatus(ctx context.Context, req *backorderv1.CountByStatusRequest) (*backorderv1.CountByStatusResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	criteria, err := s.toCriteria(req.Criteria)
	if err != nil {
		return nil, s.statusError(err, "CountByStatus")
	}
	criteria = criteria.WithStatus("")

	key := criteria.BaseKey()
	counts, hit := s.counts.Get(ctx, key)
	s.metrics.RecordCountsCache(hit)
	if !hit {
		start := time.Now()
		counts, err = s.querier.CountByStatus(ctx, criteria)
		s.metrics.RecordQuery("count_by_status", time.Since(start), err)
		if err != nil {
			return nil, s.statusError(err, "CountByStatus")
		}
		s.counts.Set(ctx, key, counts)
	}

	resp := &backorderv1.CountByStatusResponse{Counts: make(map[string]int32, len(counts))}
	for _, st := range domain.AllStatuses() {
		resp.Counts[string(st)] = i32(counts[st])
	}
	resp.Total = i32(counts.Total())
	return resp, nil
}

// ListCustomers возвращает справочник клиентов.
func (s *BackorderService) ListCustomers(ctx context.Context, _ *backorderv1.ListCustomersRequest) (*backorderv1.ListCustomersResponse, error) {
	customers, err := s.customers.List(ctx)
	if err != nil {
		return nil, s.statusError(err, "ListCustomers")
	}
	resp := &backorderv1.ListCustomersResponse{Customers: make([]*backorderv1.Customer, 0, len(customers))}
	for _, c := range customers {
		resp.Customers = append(resp.Customers, &backorderv1.Customer{ID: c.ID, Name: c.Name, Address: c.Address, Phone: c.Phone})
	}
	return resp, nil
}

// ListProducts возвращает справочник товаров.
func (s *BackorderService) ListProducts(ctx context.Context, _ *backorderv1.ListProductsRequest) (*backorderv1.ListProductsResponse, error) {
	products, err := s.products.List(ctx)
	if err != nil {
		return nil, s.statusError(err, "ListProducts")
	}
	resp := &backorderv1.ListProductsResponse{Products: make([]*backorderv1.Product, 0, len(products))}
	for _, p := range products {
		resp.Products = append(resp.Products, &backorderv1.Product{ID: p.ID, Name: p.Name, SKU: p.SKU, Sizes: p.Sizes})
	}
	return resp, nil
}

// recordWithNames дополняет свежую запись именами клиента и товара.
func (s *BackorderService) recordWithNames(ctx context.Context, record domain.Record) *backorderv1.Record {
	view := domain.RecordView{
		Record: record,
		RecordNames: domain.RecordNames{
			CustomerName: domain.PlaceholderCustomerName,
			ProductName:  domain.PlaceholderProductName,
		},
	}
	if customer, err := s.customers.Get(ctx, record.CustomerID); err == nil {
		view.CustomerName = domain.CustomerDisplayName(&customer)
		view.CustomerAddress = customer.Address
	}
	if product, err := s.products.Get(ctx, record.ProductID); err == nil {
		view.ProductName = domain.ProductDisplayName(&product)
	}
	return toAPIRecord(view)
}
