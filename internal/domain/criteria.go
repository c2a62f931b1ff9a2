package domain

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize: размер страницы списка по умолчанию.
	DefaultPageSize = 20
	// MaxPageSize: верхняя граница размера страницы.
	MaxPageSize = 200
)

// SortOrder задаёт порядок по дате запроса. При равенстве дат порядок по id (по возрастанию).
type SortOrder string

const (
	SortNewestFirst SortOrder = "newest_first"
	SortOldestFirst SortOrder = "oldest_first"
)

// Valid проверяет значение порядка сортировки.
func (s SortOrder) Valid() bool {
	return s == SortNewestFirst || s == SortOldestFirst
}

// FilterCriteria: нормализованное описание выборки записей. Значение неизменяемо:
// методы With* возвращают копию.
type FilterCriteria struct {
	CustomerID string
	ProductID  string
	// Status пустой означает "все статусы".
	Status    RecordStatus
	DateRange *DateRange
	Search    string
	// Address: подстрока адреса клиента.
	Address  string
	Page     int
	PageSize int
	Sort     SortOrder
}

// Normalize приводит поиск к нижнему регистру без пробелов по краям и заполняет значения по умолчанию.
func (c FilterCriteria) Normalize() FilterCriteria {
	c.CustomerID = strings.TrimSpace(c.CustomerID)
	c.ProductID = strings.TrimSpace(c.ProductID)
	c.Search = strings.ToLower(strings.TrimSpace(c.Search))
	c.Address = strings.ToLower(strings.TrimSpace(c.Address))
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PageSize > MaxPageSize {
		c.PageSize = MaxPageSize
	}
	if c.Sort == "" {
		c.Sort = SortNewestFirst
	}
	if c.DateRange != nil {
		r := *c.DateRange
		c.DateRange = &r
	}
	return c
}

// Validate проверяет критерии; ошибки оборачивают ErrCriteriaInvalid.
func (c FilterCriteria) Validate() error {
	switch {
	case c.Page < 0:
		return NewValidationError("page", ErrCriteriaInvalid, "negative page")
	case c.PageSize <= 0 || c.PageSize > MaxPageSize:
		return NewValidationError("page_size", ErrCriteriaInvalid, "page size out of range")
	case c.Status != "" && !c.Status.Valid():
		return NewValidationError("status", ErrCriteriaInvalid, "unknown status "+string(c.Status))
	case !c.Sort.Valid():
		return NewValidationError("sort", ErrCriteriaInvalid, "unknown sort "+string(c.Sort))
	case c.DateRange != nil && !c.DateRange.Valid():
		return NewValidationError("date_range", ErrCriteriaInvalid, "empty or inverted range")
	}
	return nil
}

// WithStatus возвращает копию с заданным статусом ("" — все).
func (c FilterCriteria) WithStatus(status RecordStatus) FilterCriteria {
	c.Status = status
	return c
}

// WithPage возвращает копию с номером страницы.
func (c FilterCriteria) WithPage(page int) FilterCriteria {
	c.Page = page
	return c
}

// Offset: смещение первой строки страницы.
func (c FilterCriteria) Offset() int {
	return c.Page * c.PageSize
}

// CacheKey включает все поля, влияющие на набор строк; page/pageSize не входят.
func (c FilterCriteria) CacheKey() string {
	return c.BaseKey() + "|st=" + string(c.Status)
}

// BaseKey: CacheKey без статуса: знаменатель счётчиков по вкладкам.
func (c FilterCriteria) BaseKey() string {
	var b strings.Builder
	b.WriteString("c=")
	b.WriteString(c.CustomerID)
	b.WriteString("|p=")
	b.WriteString(c.ProductID)
	b.WriteString("|d=")
	if c.DateRange != nil {
		b.WriteString(strconv.FormatInt(c.DateRange.Start.UnixNano(), 10))
		b.WriteByte('-')
		b.WriteString(strconv.FormatInt(c.DateRange.End.UnixNano(), 10))
	}
	b.WriteString("|q=")
	b.WriteString(c.Search)
	b.WriteString("|a=")
	b.WriteString(c.Address)
	b.WriteString("|o=")
	b.WriteString(string(c.Sort))
	return b.String()
}

// Matches: общий предикат фильтрации для in-memory хранилища и сужения окна.
func (c FilterCriteria) Matches(r Record, names RecordNames) bool {
	if c.CustomerID != "" && r.CustomerID != c.CustomerID {
		return false
	}
	if c.ProductID != "" && r.ProductID != c.ProductID {
		return false
	}
	if c.Status != "" && r.Status != c.Status {
		return false
	}
	if c.DateRange != nil && !c.DateRange.Contains(r.RequestDate) {
		return false
	}
	if c.Address != "" && !strings.Contains(strings.ToLower(names.CustomerAddress), c.Address) {
		return false
	}
	if c.Search != "" {
		if !strings.Contains(strings.ToLower(names.CustomerName), c.Search) &&
			!strings.Contains(strings.ToLower(names.ProductName), c.Search) &&
			!strings.Contains(strings.ToLower(r.Notes), c.Search) {
			return false
		}
	}
	return true
}

// Covers: каждая запись, подходящая под next, подходит и под c (без учёта пагинации и сортировки).
// Используется, чтобы сузить полностью загруженное окно без запроса в хранилище.
func (c FilterCriteria) Covers(next FilterCriteria) bool {
	if c.CustomerID != "" && c.CustomerID != next.CustomerID {
		return false
	}
	if c.ProductID != "" && c.ProductID != next.ProductID {
		return false
	}
	if c.Status != "" && c.Status != next.Status {
		return false
	}
	if c.DateRange != nil {
		if next.DateRange == nil {
			return false
		}
		if next.DateRange.Start.Before(c.DateRange.Start) || next.DateRange.End.After(c.DateRange.End) {
			return false
		}
	}
	if c.Search != "" && !strings.Contains(next.Search, c.Search) {
		return false
	}
	if c.Address != "" && !strings.Contains(next.Address, c.Address) {
		return false
	}
	return true
}

// Less задаёт порядок страниц: дата запроса по Sort, затем id по возрастанию.
func (c FilterCriteria) Less(a, b Record) bool {
	if !a.RequestDate.Equal(b.RequestDate) {
		if c.Sort == SortOldestFirst {
			return a.RequestDate.Before(b.RequestDate)
		}
		return a.RequestDate.After(b.RequestDate)
	}
	return a.ID < b.ID
}

// ActiveFilterCount считает активные измерения фильтра (без пагинации и сортировки).
func (c FilterCriteria) ActiveFilterCount() int {
	n := 0
	for _, set := range []bool{c.CustomerID != "", c.ProductID != "", c.Status != "", c.DateRange != nil, c.Address != "", c.Search != ""} {
		if set {
			n++
		}
	}
	return n
}

func (c FilterCriteria) String() string {
	dr := "-"
	if c.DateRange != nil {
		dr = c.DateRange.String()
	}
	return fmt.Sprintf("customer=%q product=%q status=%q range=%s search=%q address=%q page=%d size=%d sort=%s",
		c.CustomerID, c.ProductID, c.Status, dr, c.Search, c.Address, c.Page, c.PageSize, c.Sort)
}

// StatusCounts: количество записей по каждому статусу в одном срезе фильтра.
type StatusCounts map[RecordStatus]int

// NewStatusCounts создаёт карту с нулями для всех статусов.
func NewStatusCounts() StatusCounts {
	counts := make(StatusCounts, 3)
	for _, s := range AllStatuses() {
		counts[s] = 0
	}
	return counts
}

// Total: сумма по всем статусам.
func (s StatusCounts) Total() int {
	total := 0
	for _, n := range s {
		total += n
	}
	return total
}

// Clone копирует карту.
func (s StatusCounts) Clone() StatusCounts {
	out := make(StatusCounts, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Page: одна страница выборки и общее число подходящих записей.
// Имена клиента и товара уже разрешены, для отсутствующих ссылок подставлены заглушки.
type Page struct {
	Items      []RecordView
	TotalCount int
}
