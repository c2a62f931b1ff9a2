package main

import (
	"context"
	"errors"
	"time"

	backorderv1 "github.com/vladislavdragonenkov/backorders/api/backorder/v1"
	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

var errReadOnly = errors.New("reference data is read-only over the API")

// remoteStore отдаёт выборки и справочники сервиса через gRPC,
// чтобы пагинатор и контроллер работали поверх удалённого API.
type remoteStore struct {
	client backorderv1.BackorderServiceClient
}

func toAPICriteria(c domain.FilterCriteria) backorderv1.Criteria {
	out := backorderv1.Criteria{
		CustomerID: c.CustomerID,
		ProductID:  c.ProductID,
		Status:     string(c.Status),
		Search:     c.Search,
		Address:    c.Address,
		Page:       int32(c.Page),     //nolint:gosec // номер страницы мал
		PageSize:   int32(c.PageSize), //nolint:gosec // ограничен MaxPageSize
		Sort:       string(c.Sort),
	}
	if c.DateRange != nil {
		start, end := c.DateRange.Start, c.DateRange.End
		out.StartDate = &start
		out.EndDate = &end
	}
	return out
}

func fromAPIRecord(r *backorderv1.Record) domain.RecordView {
	if r == nil {
		return domain.RecordView{}
	}
	return domain.RecordView{
		Record: domain.Record{
			ID:                   r.ID,
			CustomerID:           r.CustomerID,
			ProductID:            r.ProductID,
			VariantID:            r.VariantID,
			RequestedQuantity:    int(r.RequestedQuantity),
			DeliveredQuantity:    int(r.DeliveredQuantity),
			ReturnedQuantity:     int(r.ReturnedQuantity),
			Status:               domain.RecordStatus(r.Status),
			Notes:                r.Notes,
			RequestDate:          r.RequestDate,
			UpdatedAt:            r.UpdatedAt,
			ActualCompletionDate: r.ActualCompletionDate,
			DeliveryDate:         r.DeliveryDate,
			ReturnDate:           r.ReturnDate,
			Version:              r.Version,
		},
		RecordNames: domain.RecordNames{
			CustomerName:    r.CustomerName,
			CustomerAddress: r.CustomerAddress,
			ProductName:     r.ProductName,
		},
	}
}

func (s remoteStore) Count(ctx context.Context, criteria domain.FilterCriteria) (int, error) {
	resp, err := s.client.CountRecords(ctx, &backorderv1.CountRecordsRequest{Criteria: toAPICriteria(criteria)})
	if err != nil {
		return 0, err
	}
	return int(resp.Count), nil
}

func (s remoteStore) CountByStatus(ctx context.Context, criteria domain.FilterCriteria) (domain.StatusCounts, error) {
	resp, err := s.client.CountByStatus(ctx, &backorderv1.CountByStatusRequest{Criteria: toAPICriteria(criteria)})
	if err != nil {
		return nil, err
	}
	counts := domain.NewStatusCounts()
	for name, n := range resp.Counts {
		counts[domain.RecordStatus(name)] = int(n)
	}
	return counts, nil
}

func (s remoteStore) Fetch(ctx context.Context, criteria domain.FilterCriteria) (domain.Page, error) {
	resp, err := s.client.QueryRecords(ctx, &backorderv1.QueryRecordsRequest{Criteria: toAPICriteria(criteria)})
	if err != nil {
		return domain.Page{}, err
	}
	page := domain.Page{Items: make([]domain.RecordView, 0, len(resp.Records)), TotalCount: int(resp.TotalCount)}
	for _, r := range resp.Records {
		page.Items = append(page.Items, fromAPIRecord(r))
	}
	return page, nil
}

type remoteCustomers struct {
	client backorderv1.BackorderServiceClient
}

func (remoteCustomers) Create(context.Context, domain.Customer) error { return errReadOnly }

func (r remoteCustomers) Get(ctx context.Context, id string) (domain.Customer, error) {
	all, err := r.List(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	for _, c := range all {
		if c.ID == id {
			return c, nil
		}
	}
	return domain.Customer{}, &domain.NotFoundError{Kind: domain.KindCustomer, ID: id}
}

func (r remoteCustomers) List(ctx context.Context) ([]domain.Customer, error) {
	resp, err := r.client.ListCustomers(ctx, &backorderv1.ListCustomersRequest{})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Customer, 0, len(resp.Customers))
	for _, c := range resp.Customers {
		out = append(out, domain.Customer{ID: c.ID, Name: c.Name, Address: c.Address, Phone: c.Phone})
	}
	return out, nil
}

type remoteProducts struct {
	client backorderv1.BackorderServiceClient
}

func (remoteProducts) Create(context.Context, domain.Product) error { return errReadOnly }

func (r remoteProducts) Get(ctx context.Context, id string) (domain.Product, error) {
	all, err := r.List(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	for _, p := range all {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Product{}, &domain.NotFoundError{Kind: domain.KindProduct, ID: id}
}

func (r remoteProducts) List(ctx context.Context) ([]domain.Product, error) {
	resp, err := r.client.ListProducts(ctx, &backorderv1.ListProductsRequest{})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(resp.Products))
	for _, p := range resp.Products {
		out = append(out, domain.Product{ID: p.ID, Name: p.Name, SKU: p.SKU, Sizes: p.Sizes})
	}
	return out, nil
}

var (
	_ domain.RecordQuerier      = remoteStore{}
	_ domain.CustomerRepository = remoteCustomers{}
	_ domain.ProductRepository  = remoteProducts{}
)

// parseDay разбирает дату YYYY-MM-DD в часовом поясе календаря.
func parseDay(raw string, cal domain.Calendar) (time.Time, error) {
	loc := cal.Location
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(time.DateOnly, raw, loc)
}
