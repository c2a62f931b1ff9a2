package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateRange: полуинтервал [Start, End): граница End не входит.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains проверяет попадание момента в полуинтервал.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Valid: интервал не пустой.
func (r DateRange) Valid() bool {
	return !r.Start.IsZero() && !r.End.IsZero() && r.Start.Before(r.End)
}

func (r DateRange) String() string {
	return fmt.Sprintf("[%s,%s)", r.Start.UTC().Format(time.RFC3339), r.End.UTC().Format(time.RFC3339))
}

// DatePreset: символический диапазон дат из фильтра.
type DatePreset string

const (
	PresetThisWeek  DatePreset = "this_week"
	PresetLastWeek  DatePreset = "last_week"
	PresetThisMonth DatePreset = "this_month"
	PresetLastMonth DatePreset = "last_month"
	PresetCustom    DatePreset = "custom"
)

// ParseDatePreset разбирает пресет из CLI/API.
func ParseDatePreset(raw string) (DatePreset, error) {
	preset := DatePreset(strings.ToLower(strings.TrimSpace(raw)))
	switch preset {
	case PresetThisWeek, PresetLastWeek, PresetThisMonth, PresetLastMonth, PresetCustom:
		return preset, nil
	default:
		return "", NewValidationError("date_preset", ErrCriteriaInvalid, "unknown preset "+raw)
	}
}

// Calendar задаёт часовой пояс и первый день недели для границ недель и месяцев.
type Calendar struct {
	Location     *time.Location
	FirstWeekday time.Weekday
}

// DefaultCalendar: UTC, неделя с понедельника.
func DefaultCalendar() Calendar {
	return Calendar{Location: time.UTC, FirstWeekday: time.Monday}
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// StartOfDay возвращает полночь дня t в часовом поясе календаря.
func (c Calendar) StartOfDay(t time.Time) time.Time {
	t = t.In(c.loc())
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc())
}

// DayRange: [полночь, полночь следующего дня).
func (c Calendar) DayRange(t time.Time) DateRange {
	start := c.StartOfDay(t)
	return DateRange{Start: start, End: start.AddDate(0, 0, 1)}
}

// SameDay сравнивает календарные дни.
func (c Calendar) SameDay(a, b time.Time) bool {
	return c.StartOfDay(a).Equal(c.StartOfDay(b))
}

func (c Calendar) startOfWeek(t time.Time) time.Time {
	day := c.StartOfDay(t)
	offset := (int(day.Weekday()) - int(c.FirstWeekday) + 7) % 7
	return day.AddDate(0, 0, -offset)
}

func (c Calendar) startOfMonth(t time.Time) time.Time {
	t = t.In(c.loc())
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, c.loc())
}

// ResolvePreset переводит пресет в конкретный полуинтервал относительно now.
// Для custom конец нормализуется в startOfDay(end)+1 день, чтобы выбранный день входил целиком;
// начало берётся как передано.
func (c Calendar) ResolvePreset(preset DatePreset, now, customStart, customEnd time.Time) (DateRange, error) {
	switch preset {
	case PresetThisWeek:
		start := c.startOfWeek(now)
		return DateRange{Start: start, End: start.AddDate(0, 0, 7)}, nil
	case PresetLastWeek:
		end := c.startOfWeek(now)
		return DateRange{Start: end.AddDate(0, 0, -7), End: end}, nil
	case PresetThisMonth:
		start := c.startOfMonth(now)
		return DateRange{Start: start, End: start.AddDate(0, 1, 0)}, nil
	case PresetLastMonth:
		end := c.startOfMonth(now)
		return DateRange{Start: end.AddDate(0, -1, 0), End: end}, nil
	case PresetCustom:
		if customStart.IsZero() || customEnd.IsZero() {
			return DateRange{}, NewValidationError("date_range", ErrCriteriaInvalid, "custom range needs start and end")
		}
		r := DateRange{Start: customStart, End: c.StartOfDay(customEnd).AddDate(0, 0, 1)}
		if !r.Valid() {
			return DateRange{}, NewValidationError("date_range", ErrCriteriaInvalid, "end before start")
		}
		return r, nil
	default:
		return DateRange{}, NewValidationError("date_preset", ErrCriteriaInvalid, "unknown preset "+string(preset))
	}
}
