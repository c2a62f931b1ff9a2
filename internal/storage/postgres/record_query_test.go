package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

func TestBuildFetchQuery(t *testing.T) {
	start := time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC)
	criteria := domain.FilterCriteria{
		CustomerID: "c-1",
		Status:     domain.RecordStatusPending,
		DateRange:  &domain.DateRange{Start: start, End: start.AddDate(0, 0, 3)},
		Search:     "Coat",
		Page:       2,
		PageSize:   10,
	}.Normalize()

	query, args := buildFetchQuery(criteria)

	for _, fragment := range []string{
		"r.customer_id = $1",
		"r.status = $2",
		"r.request_date >= $3",
		"r.request_date < $4",
		"strpos(lower(r.notes), $7) > 0",
		"ORDER BY r.request_date DESC, r.id ASC",
		"LIMIT $8 OFFSET $9",
	} {
		if !strings.Contains(query, fragment) {
			t.Fatalf("query misses %q:\n%s", fragment, query)
		}
	}
	if len(args) != 9 {
		t.Fatalf("expected 9 args, got %d: %v", len(args), args)
	}
	if args[4] != "coat" || args[7] != 10 || args[8] != 20 {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestBuildCountByStatusIgnoresStatus(t *testing.T) {
	query, args := buildCountByStatusQuery(domain.FilterCriteria{Status: domain.RecordStatusReturned, ProductID: "p"}.Normalize())
	if strings.Contains(query, "r.status =") {
		t.Fatalf("status filter must be dropped:\n%s", query)
	}
	if !strings.Contains(query, "GROUP BY r.status") || len(args) != 1 {
		t.Fatalf("unexpected query %s with args %v", query, args)
	}
}

func TestBuildQueriesOrderAndEmptyFilter(t *testing.T) {
	query, args := buildCountQuery(domain.FilterCriteria{}.Normalize())
	if strings.Contains(query, "WHERE") || len(args) != 0 {
		t.Fatalf("empty criteria must not produce WHERE: %s", query)
	}

	fetch, _ := buildFetchQuery(domain.FilterCriteria{Sort: domain.SortOldestFirst}.Normalize())
	if !strings.Contains(fetch, "ORDER BY r.request_date ASC, r.id ASC") {
		t.Fatalf("oldest first order missing:\n%s", fetch)
	}
}
