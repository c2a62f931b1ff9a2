package listing

import (
	"sort"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

// captureWindowLocked запоминает окно, если все строки текущих критериев уже загружены.
func (p *Paginator) captureWindowLocked() {
	if p.state.HasMore || len(p.state.Items) != p.state.TotalCount {
		return
	}
	p.window = &residentWindow{
		criteria: p.state.Criteria,
		items:    append([]domain.RecordView(nil), p.state.Items...),
	}
}

// narrowLocked строит выборку из окна, если окно полное и покрывает criteria.
func (p *Paginator) narrowLocked(criteria domain.FilterCriteria) ([]domain.RecordView, bool) {
	if p.window == nil || !p.window.criteria.Covers(criteria) {
		return nil, false
	}

	items := make([]domain.RecordView, 0, len(p.window.items))
	for _, item := range p.window.items {
		if criteria.Matches(item.Record, item.RecordNames) {
			items = append(items, item)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return criteria.Less(items[i].Record, items[j].Record)
	})
	return items, true
}

// applyLocalLocked показывает суженную выборку целиком: она уже в памяти.
func (p *Paginator) applyLocalLocked(criteria domain.FilterCriteria, items []domain.RecordView) {
	p.seen = make(map[string]struct{}, len(items))
	for _, item := range items {
		p.seen[item.ID] = struct{}{}
	}

	lastPage := 0
	if len(items) > 0 {
		lastPage = (len(items) - 1) / criteria.PageSize
	}

	p.state.Items = items
	p.state.TotalCount = len(items)
	p.state.Page = lastPage
	p.state.HasMore = false
	p.state.IsLoading = false
	p.state.Criteria = criteria
	p.state.FromWindow = true
	p.state.LastErr = nil
	p.touchLocked()

	p.logger.WithField("criteria", criteria.String()).Debug("page served from resident window")
}
