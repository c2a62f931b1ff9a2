package dashboard

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
	"github.com/vladislavdragonenkov/backorders/internal/notify"
	"github.com/vladislavdragonenkov/backorders/internal/service/listing"
	"github.com/vladislavdragonenkov/backorders/internal/storage/memory"
)

type fakePager struct {
	mu            sync.Mutex
	loads         []domain.FilterCriteria
	nextLoads     int
	invalidations int
	closed        bool
	revision      uint64
	listener      func(listing.Snapshot)
}

func (p *fakePager) LoadFirstPage(_ context.Context, criteria domain.FilterCriteria) (listing.Snapshot, error) {
	p.mu.Lock()
	p.loads = append(p.loads, criteria)
	p.revision++
	snap := listing.Snapshot{Criteria: criteria, Revision: p.revision, TotalCount: len(p.loads)}
	fn := p.listener
	p.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
	return snap, nil
}

func (p *fakePager) LoadNextPage(context.Context) (listing.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextLoads++
	return listing.Snapshot{}, nil
}

func (p *fakePager) Invalidate(context.Context) {
	p.mu.Lock()
	p.invalidations++
	p.mu.Unlock()
}

func (p *fakePager) Subscribe(fn func(listing.Snapshot)) func() {
	p.mu.Lock()
	p.listener = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.listener = nil
		p.mu.Unlock()
	}
}

func (p *fakePager) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePager) stats() (loads []domain.FilterCriteria, invalidations int, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.FilterCriteria(nil), p.loads...), p.invalidations, p.closed
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func newTestController(pager *fakePager, opts ...ControllerOption) *Controller {
	base := []ControllerOption{
		WithControllerClock(domain.ClockFunc(func() time.Time { return today })),
		WithSearchDelay(30 * time.Millisecond),
		WithChangeDelay(30 * time.Millisecond),
	}
	return NewController(pager, append(base, opts...)...)
}

func TestControllerDebouncesSearchIntoSingleReload(t *testing.T) {
	pager := &fakePager{}
	c := newTestController(pager)
	defer c.Close()

	c.Start()
	waitFor(t, func() bool { loads, _, _ := pager.stats(); return len(loads) == 1 })

	for _, text := range []string{"c", "co", "coa", "coat", "coat "} {
		c.Dispatch(SearchChanged{Text: text})
		time.Sleep(3 * time.Millisecond)
	}

	waitFor(t, func() bool { loads, _, _ := pager.stats(); return len(loads) == 2 })
	time.Sleep(100 * time.Millisecond)

	loads, _, _ := pager.stats()
	if len(loads) != 2 {
		t.Fatalf("expected exactly one reload for the burst, got %d", len(loads)-1)
	}
	if loads[1].Search != "coat" {
		t.Fatalf("expected final search text, got %q", loads[1].Search)
	}
	if c.State().State.Mode != ModeFiltered {
		t.Fatal("search must switch to filtered mode")
	}
}

func TestControllerRelaysSnapshots(t *testing.T) {
	pager := &fakePager{}
	c := newTestController(pager)
	defer c.Close()

	var mu sync.Mutex
	var views []ViewState
	unsubscribe := c.Subscribe(func(v ViewState) {
		mu.Lock()
		views = append(views, v)
		mu.Unlock()
	})
	defer unsubscribe()

	c.Start()
	waitFor(t, func() bool { return c.State().Listing.Revision == 1 })

	if !c.Dispatch(StatusTabTapped{Status: domain.RecordStatusCompleted}) {
		t.Fatal("tab tap rejected")
	}
	waitFor(t, func() bool { return c.State().Listing.Revision == 2 })

	view := c.State()
	if view.Listing.Criteria.Status != domain.RecordStatusCompleted || view.State.StatusTab != domain.RecordStatusCompleted {
		t.Fatalf("unexpected view %+v", view)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(views) < 3 {
		t.Fatalf("expected state and listing notifications, got %d", len(views))
	}

	if c.Dispatch(NextDay{}) {
		t.Fatal("next day past today must be rejected")
	}
}

func TestControllerReloadsOnceForChangeBurst(t *testing.T) {
	pager := &fakePager{}
	bus := notify.NewBus(nil)
	c := newTestController(pager, WithChangeBus(bus))
	defer c.Close()

	c.Start()
	waitFor(t, func() bool { loads, _, _ := pager.stats(); return len(loads) == 1 })

	for i := 0; i < 5; i++ {
		bus.Publish(notify.Change{RecordID: "r1", Action: domain.AuditActionDelivered})
	}

	waitFor(t, func() bool { loads, _, _ := pager.stats(); return len(loads) == 2 })
	time.Sleep(100 * time.Millisecond)

	loads, invalidations, _ := pager.stats()
	if len(loads) != 2 || invalidations != 1 {
		t.Fatalf("expected one invalidating reload, got loads=%d invalidations=%d", len(loads), invalidations)
	}
}

func TestControllerCloseCancelsPendingWork(t *testing.T) {
	pager := &fakePager{}
	bus := notify.NewBus(nil)
	c := newTestController(pager, WithChangeBus(bus))

	c.Start()
	waitFor(t, func() bool { loads, _, _ := pager.stats(); return len(loads) == 1 })

	c.Dispatch(SearchChanged{Text: "boots"})
	c.Close()
	c.Close()

	time.Sleep(80 * time.Millisecond)
	loads, _, closed := pager.stats()
	if len(loads) != 1 {
		t.Fatalf("pending search must not fire after close, got %d loads", len(loads))
	}
	if !closed {
		t.Fatal("pager must be closed")
	}
	if bus.Subscribers() != 0 {
		t.Fatalf("controller must unsubscribe from bus, %d left", bus.Subscribers())
	}
	if c.Dispatch(Refresh{}) {
		t.Fatal("dispatch after close must be ignored")
	}
}

func TestControllerLoadMore(t *testing.T) {
	pager := &fakePager{}
	c := newTestController(pager)
	defer c.Close()

	c.Start()
	c.Dispatch(LoadMore{})
	waitFor(t, func() bool {
		pager.mu.Lock()
		defer pager.mu.Unlock()
		return pager.nextLoads == 1
	})
}

// slowQuerier растягивает выборку, чтобы быстрые события успевали накопиться.
type slowQuerier struct {
	domain.RecordQuerier
	delay time.Duration
}

func (q slowQuerier) Fetch(ctx context.Context, c domain.FilterCriteria) (domain.Page, error) {
	time.Sleep(q.delay)
	return q.RecordQuerier.Fetch(ctx, c)
}

func newRecordsPaginator(t *testing.T) *listing.Paginator {
	t.Helper()
	ctx := context.Background()
	customers := memory.NewCustomerRepository()
	products := memory.NewProductRepository()
	records := memory.NewRecordRepository(customers, products)

	day := domain.DefaultCalendar().StartOfDay(today)
	for i := 0; i < 30; i++ {
		at := day.Add(time.Duration(i) * time.Minute)
		record, err := domain.NewRecord(fmt.Sprintf("r-%02d", i), "c1", "p1", "", 2, "", at)
		if err != nil {
			t.Fatal(err)
		}
		switch i % 3 {
		case 1:
			err = record.ProcessDelivery(2, "", at)
		case 2:
			err = record.ProcessReturn(1, "", at)
		}
		if err != nil {
			t.Fatal(err)
		}
		if err := records.Create(ctx, record); err != nil {
			t.Fatal(err)
		}
	}
	return listing.NewPaginator(slowQuerier{RecordQuerier: records, delay: 2 * time.Millisecond}, customers, products)
}

func TestControllerRapidTabTapsShowLastTab(t *testing.T) {
	for run := 0; run < 20; run++ {
		c := NewController(newRecordsPaginator(t),
			WithControllerClock(domain.ClockFunc(func() time.Time { return today })),
			WithPageSize(5),
		)

		c.Start()
		for _, tab := range []domain.RecordStatus{
			domain.RecordStatusPending,
			domain.RecordStatusCompleted,
			domain.RecordStatusReturned,
			domain.RecordStatusPending,
		} {
			if !c.Dispatch(StatusTabTapped{Status: tab}) {
				t.Fatalf("tab %s rejected", tab)
			}
		}

		waitFor(t, func() bool {
			view := c.State()
			return !view.Listing.IsLoading && view.Listing.Criteria.Status == domain.RecordStatusPending
		})
		time.Sleep(30 * time.Millisecond)

		view := c.State()
		if view.State.EffectiveStatus() != domain.RecordStatusPending {
			t.Fatalf("run %d: state tab %q", run, view.State.EffectiveStatus())
		}
		if got := view.Listing.Criteria.Status; got != view.State.EffectiveStatus() {
			t.Fatalf("run %d: listing shows %q, state shows %q", run, got, view.State.EffectiveStatus())
		}
		if view.Listing.TotalCount != 10 {
			t.Fatalf("run %d: expected 10 pending records, got %d", run, view.Listing.TotalCount)
		}
		for _, item := range view.Listing.Items {
			if item.Status != domain.RecordStatusPending {
				t.Fatalf("run %d: item %s has status %s", run, item.ID, item.Status)
			}
		}
		c.Close()
	}
}

func TestCoalesceEffectsKeepsLastReload(t *testing.T) {
	first := ReloadEffect{Criteria: domain.FilterCriteria{Status: domain.RecordStatusPending}, Invalidate: true}
	last := ReloadEffect{Criteria: domain.FilterCriteria{Status: domain.RecordStatusReturned}}

	got := coalesceEffects([]Effect{first, LoadMoreEffect{}, last, LoadMoreEffect{}})
	if len(got) != 2 {
		t.Fatalf("expected reload and trailing load more, got %d effects", len(got))
	}
	reload, ok := got[0].(ReloadEffect)
	if !ok || reload.Criteria.Status != domain.RecordStatusReturned || !reload.Invalidate {
		t.Fatalf("unexpected reload %+v", got[0])
	}
	if _, ok := got[1].(LoadMoreEffect); !ok {
		t.Fatalf("load more after the reload must be kept, got %T", got[1])
	}

	only := []Effect{LoadMoreEffect{}}
	if got := coalesceEffects(only); len(got) != 1 {
		t.Fatalf("effects without reload must pass through, got %d", len(got))
	}
}
