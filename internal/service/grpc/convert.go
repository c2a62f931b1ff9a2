package grpcsvc

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	backorderv1 "github.com/vladislavdragonenkov/backorders/api/backorder/v1"
	"github.com/vladislavdragonenkov/backorders/internal/domain"
	"github.com/vladislavdragonenkov/backorders/internal/service/backorder"
)

func toAPIRecord(view domain.RecordView) *backorderv1.Record {
	r := view.Record
	return &backorderv1.Record{
		ID:                   r.ID,
		CustomerID:           r.CustomerID,
		CustomerName:         view.CustomerName,
		CustomerAddress:      view.CustomerAddress,
		ProductID:            r.ProductID,
		ProductName:          view.ProductName,
		VariantID:            r.VariantID,
		RequestedQuantity:    i32(r.RequestedQuantity),
		DeliveredQuantity:    i32(r.DeliveredQuantity),
		ReturnedQuantity:     i32(r.ReturnedQuantity),
		RemainingQuantity:    i32(r.RemainingQuantity()),
		Status:               string(r.Status),
		Notes:                r.Notes,
		RequestDate:          r.RequestDate,
		UpdatedAt:            r.UpdatedAt,
		ActualCompletionDate: r.ActualCompletionDate,
		DeliveryDate:         r.DeliveryDate,
		ReturnDate:           r.ReturnDate,
		Version:              r.Version,
	}
}

// i32 переводит счётчик в поле API; значения ограничены размерами выборки и количествами записи.
func i32(n int) int32 {
	return int32(n) //nolint:gosec // значения заведомо меньше MaxInt32
}

func toBatchInput(req *backorderv1.BatchRequest) backorder.BatchInput {
	items := make([]backorder.BatchItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, backorder.BatchItem{
			RecordID: item.RecordID,
			Quantity: int(item.Quantity),
			Notes:    item.Notes,
		})
	}
	return backorder.BatchInput{Items: items, OperatorID: req.OperatorID}
}

// toCriteria переводит фильтр API в нормализованные критерии. Пресет разрешается
// относительно текущего времени сервера.
func (s *BackorderService) toCriteria(in backorderv1.Criteria) (domain.FilterCriteria, error) {
	st, err := domain.ParseStatus(in.Status)
	if err != nil {
		return domain.FilterCriteria{}, err
	}

	criteria := domain.FilterCriteria{
		CustomerID: in.CustomerID,
		ProductID:  in.ProductID,
		Status:     st,
		Search:     in.Search,
		Address:    in.Address,
		Page:       int(in.Page),
		PageSize:   int(in.PageSize),
		Sort:       domain.SortOrder(in.Sort),
	}

	switch {
	case in.DatePreset != "":
		preset, err := domain.ParseDatePreset(in.DatePreset)
		if err != nil {
			return domain.FilterCriteria{}, err
		}
		var start, end time.Time
		if in.StartDate != nil {
			start = *in.StartDate
		}
		if in.EndDate != nil {
			end = *in.EndDate
		}
		r, err := s.calendar.ResolvePreset(preset, s.clock.Now(), start, end)
		if err != nil {
			return domain.FilterCriteria{}, err
		}
		criteria.DateRange = &r
	case in.StartDate != nil && in.EndDate != nil:
		r := domain.DateRange{Start: *in.StartDate, End: *in.EndDate}
		criteria.DateRange = &r
	case in.StartDate != nil || in.EndDate != nil:
		return domain.FilterCriteria{}, domain.NewValidationError("date_range", domain.ErrCriteriaInvalid, "both start and end are required")
	}

	criteria = criteria.Normalize()
	if err := criteria.Validate(); err != nil {
		return domain.FilterCriteria{}, err
	}
	return criteria, nil
}

// statusError переводит ошибку домена или хранилища в статус gRPC.
func (s *BackorderService) statusError(err error, operation string) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codeFor(err)
	entry := s.logger.WithError(err).WithFields(log.Fields{"operation": operation, "code": code.String()})
	switch code {
	case codes.Internal, codes.Unavailable:
		entry.Error("request failed")
	default:
		entry.Debug("request rejected")
	}

	msg := err.Error()
	if code == codes.Internal {
		msg = "internal error"
	}
	return status.Error(code, msg)
}

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, domain.ErrRecordNotPending), errors.Is(err, domain.ErrQuantityExceedsRemaining):
		return codes.FailedPrecondition
	case domain.IsValidation(err):
		return codes.InvalidArgument
	case domain.IsNotFound(err):
		return codes.NotFound
	case domain.IsVersionConflict(err):
		return codes.Aborted
	case errors.Is(err, domain.ErrStorageUnavailable), domain.IsQuery(err):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
