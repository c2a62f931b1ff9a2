package resilience

import (
	"context"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

// GuardedQuerier: RecordQuerier за предохранителем. Отказ предохранителя
// возвращается как QueryError, чтобы контроллер показал прежние данные и кнопку повтора.
type GuardedQuerier struct {
	next    domain.RecordQuerier
	breaker *Breaker
}

// NewGuardedQuerier оборачивает querier.
func NewGuardedQuerier(next domain.RecordQuerier, breaker *Breaker) *GuardedQuerier {
	return &GuardedQuerier{next: next, breaker: breaker}
}

func (q *GuardedQuerier) Count(ctx context.Context, criteria domain.FilterCriteria) (int, error) {
	var total int
	err := q.breaker.Do(func() error {
		var err error
		total, err = q.next.Count(ctx, criteria)
		return err
	})
	return total, asQueryError("count", criteria, err)
}

func (q *GuardedQuerier) CountByStatus(ctx context.Context, criteria domain.FilterCriteria) (domain.StatusCounts, error) {
	var counts domain.StatusCounts
	err := q.breaker.Do(func() error {
		var err error
		counts, err = q.next.CountByStatus(ctx, criteria)
		return err
	})
	return counts, asQueryError("count_by_status", criteria, err)
}

func (q *GuardedQuerier) Fetch(ctx context.Context, criteria domain.FilterCriteria) (domain.Page, error) {
	var page domain.Page
	err := q.breaker.Do(func() error {
		var err error
		page, err = q.next.Fetch(ctx, criteria)
		return err
	})
	if err != nil {
		return domain.Page{}, asQueryError("fetch", criteria, err)
	}
	return page, nil
}

func asQueryError(op string, criteria domain.FilterCriteria, err error) error {
	if err == nil || domain.IsQuery(err) {
		return err
	}
	return domain.NewQueryError(op, criteria, err)
}

var _ domain.RecordQuerier = (*GuardedQuerier)(nil)
