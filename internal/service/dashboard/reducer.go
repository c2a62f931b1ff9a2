package dashboard

import (
	"strings"
	"time"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

// Event: действие пользователя или системы.
type Event interface{ isEvent() }

type (
	// DateSelected: выбран день в календаре.
	DateSelected struct{ Date time.Time }
	PreviousDay  struct{}
	NextDay      struct{}
	// FiltersApplied заменяет фильтры целиком.
	FiltersApplied struct{ Filters Filters }
	FiltersCleared struct{}
	// StatusTabTapped: повторное нажатие на выбранную вкладку сбрасывает её.
	StatusTabTapped struct{ Status domain.RecordStatus }
	// SearchChanged: очередной ввод; запрос уйдёт после SearchSettled.
	SearchChanged struct{ Text string }
	SearchSettled struct{ Text string }
	LoadMore      struct{}
	Refresh       struct{}
	// DataChanged: записи изменились где-то ещё.
	DataChanged struct{}
)

func (DateSelected) isEvent()    {}
func (PreviousDay) isEvent()     {}
func (NextDay) isEvent()         {}
func (FiltersApplied) isEvent()  {}
func (FiltersCleared) isEvent()  {}
func (StatusTabTapped) isEvent() {}
func (SearchChanged) isEvent()   {}
func (SearchSettled) isEvent()   {}
func (LoadMore) isEvent()        {}
func (Refresh) isEvent()         {}
func (DataChanged) isEvent()     {}

// Effect: побочное действие, которое исполняет контроллер.
type Effect interface{ isEffect() }

type (
	// ReloadEffect: полная перезагрузка первой страницы.
	ReloadEffect struct {
		Criteria domain.FilterCriteria
		// Invalidate сбрасывает загруженное окно и счётчики перед запросом.
		Invalidate bool
	}
	LoadMoreEffect       struct{}
	DebounceSearchEffect struct{ Text string }
	CancelSearchEffect   struct{}
)

func (ReloadEffect) isEffect()         {}
func (LoadMoreEffect) isEffect()       {}
func (DebounceSearchEffect) isEffect() {}
func (CancelSearchEffect) isEffect()   {}

// Transition: результат Reduce. Rejected означает, что событие отклонено и состояние прежнее.
type Transition struct {
	State    State
	Effects  []Effect
	Rejected bool
}

// Reduce: чистая функция перехода. Смена вкладки, даты или фильтров всегда
// приводит к полной перезагрузке, чтобы итог и список были согласованы.
func Reduce(s State, ev Event, now time.Time, cal domain.Calendar) Transition {
	switch e := ev.(type) {
	case DateSelected:
		day := cal.StartOfDay(e.Date)
		if s.Mode != ModeDateNavigation || day.After(cal.StartOfDay(now)) {
			return rejected(s)
		}
		s.Date = day
		return reload(s, cal, false)

	case PreviousDay:
		if s.Mode != ModeDateNavigation {
			return rejected(s)
		}
		s.Date = cal.StartOfDay(s.Date.AddDate(0, 0, -1))
		return reload(s, cal, false)

	case NextDay:
		if s.Mode != ModeDateNavigation {
			return rejected(s)
		}
		next := cal.StartOfDay(s.Date.AddDate(0, 0, 1))
		if next.After(cal.StartOfDay(now)) {
			return rejected(s)
		}
		s.Date = next
		return reload(s, cal, false)

	case FiltersApplied:
		s.Filters = e.Filters
		s.Filters.Address = strings.TrimSpace(s.Filters.Address)
		s = s.withMode()
		return reload(s, cal, false)

	case FiltersCleared:
		s.Filters = Filters{}
		s.SearchText = ""
		s.AppliedSearch = ""
		s = s.withMode()
		t := reload(s, cal, false)
		t.Effects = append([]Effect{CancelSearchEffect{}}, t.Effects...)
		return t

	case StatusTabTapped:
		if e.Status != "" && !e.Status.Valid() {
			return rejected(s)
		}
		if s.StatusTab == e.Status {
			s.StatusTab = ""
		} else {
			s.StatusTab = e.Status
		}
		return reload(s, cal, false)

	case SearchChanged:
		s.SearchText = e.Text
		return Transition{State: s, Effects: []Effect{DebounceSearchEffect{Text: e.Text}}}

	case SearchSettled:
		if e.Text != s.SearchText {
			return rejected(s)
		}
		applied := strings.ToLower(strings.TrimSpace(e.Text))
		if applied == s.AppliedSearch {
			return Transition{State: s}
		}
		s.AppliedSearch = applied
		s = s.withMode()
		return reload(s, cal, false)

	case LoadMore:
		return Transition{State: s, Effects: []Effect{LoadMoreEffect{}}}

	case Refresh, DataChanged:
		return reload(s, cal, true)

	default:
		return rejected(s)
	}
}

func reload(s State, cal domain.Calendar, invalidate bool) Transition {
	return Transition{State: s, Effects: []Effect{ReloadEffect{Criteria: s.Criteria(cal), Invalidate: invalidate}}}
}

func rejected(s State) Transition {
	return Transition{State: s, Rejected: true}
}
