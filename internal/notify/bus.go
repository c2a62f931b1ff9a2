// Package notify — шина изменений записей внутри процесса. Подписка явная:
// каждый подписчик получает свой канал и обязан отписаться.
package notify

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

const defaultBuffer = 16

// Change: запись была создана или изменена.
type Change struct {
	RecordID  string
	Action    domain.AuditAction
	Status    domain.RecordStatus
	Timestamp time.Time
}

// Publisher отправляет изменения подписчикам.
type Publisher interface {
	Publish(change Change)
}

// Subscription: активная подписка.
type Subscription struct {
	id  uint64
	ch  chan Change
	bus *Bus
}

// C: канал изменений. Закрывается после Unsubscribe или Close шины.
func (s *Subscription) C() <-chan Change { return s.ch }

// Unsubscribe снимает подписку; повторный вызов безопасен.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

// Bus рассылает изменения. Медленный подписчик не блокирует публикацию:
// при полном буфере изменение для него отбрасывается, достаточно одного сигнала на перезагрузку.
type Bus struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]chan Change
	closed  bool
	buffer  int
	dropped uint64
	logger  *log.Entry
}

// NewBus создаёт шину.
func NewBus(logger *log.Entry) *Bus {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Bus{
		subs:   make(map[uint64]chan Change),
		buffer: defaultBuffer,
		logger: logger.WithField("component", "notify_bus"),
	}
}

// Subscribe регистрирует подписчика.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Change, b.buffer)
	if b.closed {
		close(ch)
		return &Subscription{ch: ch, bus: b}
	}
	b.nextID++
	b.subs[b.nextID] = ch
	return &Subscription{id: b.nextID, ch: ch, bus: b}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(ch)
}

// Publish рассылает изменение всем подписчикам.
func (b *Bus) Publish(change Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- change:
		default:
			b.dropped++
			b.logger.WithFields(log.Fields{"subscriber": id, "record_id": change.RecordID}).Debug("subscriber buffer full, change dropped")
		}
	}
}

// Subscribers: число активных подписок.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped: сколько изменений не доставлено из-за полного буфера.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Close закрывает все подписки.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

var _ Publisher = (*Bus)(nil)
