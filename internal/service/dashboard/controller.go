package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
	"github.com/vladislavdragonenkov/backorders/internal/notify"
	"github.com/vladislavdragonenkov/backorders/internal/service/listing"
)

// Pager: то, что контроллеру нужно от пагинатора.
type Pager interface {
	LoadFirstPage(ctx context.Context, criteria domain.FilterCriteria) (listing.Snapshot, error)
	LoadNextPage(ctx context.Context) (listing.Snapshot, error)
	Invalidate(ctx context.Context)
	Subscribe(fn func(listing.Snapshot)) func()
	Close()
}

// ViewState: всё, что нужно отрисовать экрану.
type ViewState struct {
	State   State
	View    ViewMode
	Listing listing.Snapshot
}

// Controller исполняет эффекты редьюсера и рассылает ViewState подписчикам.
type Controller struct {
	pager   Pager
	bus     *notify.Bus
	clock   domain.Clock
	cal     domain.Calendar
	logger  *log.Entry
	search  *Debouncer
	changes *Debouncer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	wake   chan struct{}

	mu        sync.Mutex
	state     State
	// queue: загрузки в порядке Dispatch; исполняет одна горутина drain.
	queue     []Effect
	started   bool
	snapshot  listing.Snapshot
	closed    bool
	listeners map[uint64]func(ViewState)
	nextID    uint64

	unsubscribePager func()
	subscription     *notify.Subscription
}

// ControllerOption настраивает Controller.
type ControllerOption func(*Controller)

// WithChangeBus подписывает контроллер на изменения записей.
func WithChangeBus(bus *notify.Bus) ControllerOption {
	return func(c *Controller) { c.bus = bus }
}

// WithControllerClock подменяет часы.
func WithControllerClock(clock domain.Clock) ControllerOption {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithCalendar задаёт границы дней.
func WithCalendar(cal domain.Calendar) ControllerOption {
	return func(c *Controller) { c.cal = cal }
}

// WithSearchDelay задаёт задержку поиска.
func WithSearchDelay(d time.Duration) ControllerOption {
	return func(c *Controller) { c.search = NewDebouncer(d) }
}

// WithChangeDelay задаёт, сколько ждать после изменения записей перед перезагрузкой.
func WithChangeDelay(d time.Duration) ControllerOption {
	return func(c *Controller) { c.changes = NewDebouncer(d) }
}

// WithPageSize задаёт размер страницы.
func WithPageSize(n int) ControllerOption {
	return func(c *Controller) { c.state.PageSize = n }
}

// WithControllerLogger задаёт logger.
func WithControllerLogger(logger *log.Entry) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewController создаёт контроллер в режиме навигации по датам на сегодня.
// Загрузка начинается после Start.
func NewController(pager Pager, opts ...ControllerOption) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		pager:     pager,
		clock:     domain.SystemClock,
		cal:       domain.DefaultCalendar(),
		logger:    log.WithField("component", "dashboard"),
		search:    NewDebouncer(DefaultSearchDelay),
		changes:   NewDebouncer(100 * time.Millisecond),
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
		listeners: make(map[uint64]func(ViewState)),
		state:     State{PageSize: domain.DefaultPageSize},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state = NewState(c.clock.Now(), c.cal, c.state.PageSize)
	return c
}

// Start подписывается на пагинатор и шину изменений и загружает первую страницу.
// Загрузки исполняются строго по очереди в порядке событий.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.closed || c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.wg.Add(1)
	c.mu.Unlock()

	c.unsubscribePager = c.pager.Subscribe(c.onSnapshot)
	go c.drain()

	if c.bus != nil {
		c.subscription = c.bus.Subscribe()
		c.wg.Add(1)
		go c.watchChanges(c.subscription)
	}

	c.mu.Lock()
	criteria := c.state.Criteria(c.cal)
	c.mu.Unlock()
	c.run(ReloadEffect{Criteria: criteria})
}

// Dispatch применяет событие. Возвращает false, если событие отклонено.
func (c *Controller) Dispatch(ev Event) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	t := Reduce(c.state, ev, c.clock.Now(), c.cal)
	if t.Rejected {
		c.mu.Unlock()
		c.logger.WithField("event", eventName(ev)).Debug("event rejected")
		return false
	}
	c.state = t.State
	view := c.viewLocked()
	c.mu.Unlock()

	c.publish(view)
	for _, effect := range t.Effects {
		c.run(effect)
	}
	return true
}

// State возвращает текущее состояние экрана.
func (c *Controller) State() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Subscribe подписывает на ViewState; возвращает функцию отписки.
func (c *Controller) Subscribe(fn func(ViewState)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Close отменяет таймеры, отписывается и закрывает пагинатор.
// Незавершённые загрузки доработают, но их результат будет отброшен.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.listeners = make(map[uint64]func(ViewState))
	c.mu.Unlock()

	c.search.Cancel()
	c.changes.Cancel()
	if c.subscription != nil {
		c.subscription.Unsubscribe()
	}
	if c.unsubscribePager != nil {
		c.unsubscribePager()
	}
	c.pager.Close()
	c.cancel()
	c.wg.Wait()
}

func (c *Controller) run(effect Effect) {
	switch e := effect.(type) {
	case ReloadEffect, LoadMoreEffect:
		c.enqueue(effect)
	case DebounceSearchEffect:
		text := e.Text
		c.search.Trigger(func() { c.Dispatch(SearchSettled{Text: text}) })
	case CancelSearchEffect:
		c.search.Cancel()
	}
}

func (c *Controller) enqueue(effect Effect) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, effect)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// drain исполняет загрузки по одной. Пока идёт загрузка, новые события копятся в очереди,
// и из накопленного исполняется только последняя перезагрузка и то, что после неё.
func (c *Controller) drain() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}
		for {
			c.mu.Lock()
			batch := c.queue
			c.queue = nil
			c.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, effect := range coalesceEffects(batch) {
				if c.ctx.Err() != nil {
					return
				}
				c.execute(effect)
			}
		}
	}
}

// coalesceEffects отбрасывает всё до последней перезагрузки: её критерии уже учитывают
// предыдущие события. Флаг Invalidate отброшенных перезагрузок сохраняется.
func coalesceEffects(effects []Effect) []Effect {
	last := -1
	invalidate := false
	for i, effect := range effects {
		if r, ok := effect.(ReloadEffect); ok {
			last = i
			invalidate = invalidate || r.Invalidate
		}
	}
	if last < 0 {
		return effects
	}
	reload := effects[last].(ReloadEffect)
	reload.Invalidate = invalidate
	return append([]Effect{reload}, effects[last+1:]...)
}

func (c *Controller) execute(effect Effect) {
	var err error
	switch e := effect.(type) {
	case ReloadEffect:
		if e.Invalidate {
			c.pager.Invalidate(c.ctx)
		}
		_, err = c.pager.LoadFirstPage(c.ctx, e.Criteria)
	case LoadMoreEffect:
		_, err = c.pager.LoadNextPage(c.ctx)
	}

	switch {
	case err == nil:
	case errors.Is(err, listing.ErrSuperseded), errors.Is(err, listing.ErrClosed), errors.Is(err, context.Canceled):
		c.logger.WithError(err).Debug("load discarded")
	default:
		c.logger.WithError(err).Warn("load failed")
	}
}

func (c *Controller) watchChanges(sub *notify.Subscription) {
	defer c.wg.Done()
	for range sub.C() {
		c.changes.Trigger(func() { c.Dispatch(DataChanged{}) })
	}
}

func (c *Controller) onSnapshot(snap listing.Snapshot) {
	c.mu.Lock()
	if c.closed || snap.Revision < c.snapshot.Revision {
		c.mu.Unlock()
		return
	}
	c.snapshot = snap
	view := c.viewLocked()
	c.mu.Unlock()
	c.publish(view)
}

func (c *Controller) viewLocked() ViewState {
	return ViewState{State: c.state, View: c.state.View(), Listing: c.snapshot}
}

func (c *Controller) publish(view ViewState) {
	c.mu.Lock()
	fns := make([]func(ViewState), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(view)
	}
}

func eventName(ev Event) string {
	switch ev.(type) {
	case DateSelected:
		return "date_selected"
	case PreviousDay:
		return "previous_day"
	case NextDay:
		return "next_day"
	case FiltersApplied:
		return "filters_applied"
	case FiltersCleared:
		return "filters_cleared"
	case StatusTabTapped:
		return "status_tab_tapped"
	case SearchChanged:
		return "search_changed"
	case SearchSettled:
		return "search_settled"
	case LoadMore:
		return "load_more"
	case Refresh:
		return "refresh"
	case DataChanged:
		return "data_changed"
	default:
		return "unknown"
	}
}
