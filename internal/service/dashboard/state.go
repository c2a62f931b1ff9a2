// Package dashboard — состояние экрана списка записей: чистый редьюсер событий
// и контроллер, исполняющий эффекты (загрузки, отложенный поиск).
package dashboard

import (
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

// Mode: режим просмотра.
type Mode int

const (
	// ModeDateNavigation: записи за один день с переходом на соседние дни.
	ModeDateNavigation Mode = iota
	// ModeFiltered: активен хотя бы один фильтр или поиск.
	ModeFiltered
)

func (m Mode) String() string {
	if m == ModeFiltered {
		return "filtered"
	}
	return "date_navigation"
}

// Filters: значения из панели фильтров. Вкладка статуса хранится отдельно.
type Filters struct {
	CustomerID string
	ProductID  string
	Status     domain.RecordStatus
	DateRange  *domain.DateRange
	Address    string
}

// Active считает заполненные фильтры.
func (f Filters) Active() int {
	n := 0
	for _, set := range []bool{f.CustomerID != "", f.ProductID != "", f.Status != "", f.DateRange != nil, strings.TrimSpace(f.Address) != ""} {
		if set {
			n++
		}
	}
	return n
}

// State: неизменяемое состояние экрана; меняется только через Reduce.
type State struct {
	Mode Mode
	// Date: выбранный день в режиме навигации по датам (полночь по календарю).
	Date    time.Time
	Filters Filters
	// SearchText: то, что введено; AppliedSearch — то, что ушло в запрос после задержки.
	SearchText    string
	AppliedSearch string
	StatusTab     domain.RecordStatus
	Sort          domain.SortOrder
	PageSize      int
}

// NewState: режим навигации по датам на текущем дне.
func NewState(now time.Time, cal domain.Calendar, pageSize int) State {
	return State{
		Mode:     ModeDateNavigation,
		Date:     cal.StartOfDay(now),
		Sort:     domain.SortNewestFirst,
		PageSize: pageSize,
	}
}

// FilterCount: активные фильтры плюс непустой поиск.
func (s State) FilterCount() int {
	n := s.Filters.Active()
	if s.AppliedSearch != "" {
		n++
	}
	return n
}

// EffectiveStatus: выбранная вкладка важнее статуса из фильтров.
func (s State) EffectiveStatus() domain.RecordStatus {
	if s.StatusTab != "" {
		return s.StatusTab
	}
	return s.Filters.Status
}

// Criteria строит критерии выборки для текущего состояния.
func (s State) Criteria(cal domain.Calendar) domain.FilterCriteria {
	c := domain.FilterCriteria{
		CustomerID: s.Filters.CustomerID,
		ProductID:  s.Filters.ProductID,
		Status:     s.EffectiveStatus(),
		Search:     s.AppliedSearch,
		Address:    s.Filters.Address,
		PageSize:   s.PageSize,
		Sort:       s.Sort,
	}
	if s.Mode == ModeDateNavigation {
		r := cal.DayRange(s.Date)
		c.DateRange = &r
	} else if s.Filters.DateRange != nil {
		r := *s.Filters.DateRange
		c.DateRange = &r
	}
	return c.Normalize()
}

// ViewMode: то, что показывает заголовок экрана.
type ViewMode struct {
	Mode        Mode
	Date        time.Time
	Summary     string
	DateRange   *domain.DateRange
	FilterCount int
}

// View собирает описание режима.
func (s State) View() ViewMode {
	if s.Mode == ModeDateNavigation {
		return ViewMode{Mode: ModeDateNavigation, Date: s.Date}
	}
	return ViewMode{
		Mode:        ModeFiltered,
		Summary:     s.summary(),
		DateRange:   s.Filters.DateRange,
		FilterCount: s.FilterCount(),
	}
}

func (s State) summary() string {
	var parts []string
	if s.Filters.CustomerID != "" {
		parts = append(parts, "customer")
	}
	if s.Filters.ProductID != "" {
		parts = append(parts, "product")
	}
	if s.Filters.Status != "" {
		parts = append(parts, "status "+string(s.Filters.Status))
	}
	if s.Filters.DateRange != nil {
		parts = append(parts, "dates")
	}
	if strings.TrimSpace(s.Filters.Address) != "" {
		parts = append(parts, "address")
	}
	if s.AppliedSearch != "" {
		parts = append(parts, strconv.Quote(s.AppliedSearch))
	}
	return strings.Join(parts, ", ")
}

func (s State) withMode() State {
	if s.FilterCount() > 0 {
		s.Mode = ModeFiltered
	} else {
		s.Mode = ModeDateNavigation
	}
	return s
}
