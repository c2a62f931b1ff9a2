// Package backorder — мутации записей о нехватке: создание, выдача, возврат и их пакетные формы.
package backorder

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
	"github.com/vladislavdragonenkov/backorders/internal/metrics"
	"github.com/vladislavdragonenkov/backorders/internal/notify"
)

// RetryConfig: повторы мутации при конфликте версий.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      200 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

// Service выполняет мутации. Изменения одной записи сериализуются мьютексом внутри процесса
// и версией записи между процессами.
type Service struct {
	records   domain.RecordRepository
	customers domain.CustomerRepository
	products  domain.ProductRepository
	audit     domain.AuditLogRepository
	outbox    domain.OutboxRepository
	journal   domain.RecordJournal
	changes   notify.Publisher
	metrics   *metrics.BackorderMetrics
	clock     domain.Clock
	ids       domain.IDGenerator
	retry     RetryConfig
	logger    *log.Entry
	validate  *validator.Validate
	locks     *keyedMutex
}

// Option настраивает Service.
type Option func(*Service)

// WithOutbox включает публикацию событий аудита через outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(s *Service) { s.outbox = outbox }
}

// WithJournal сохраняет запись, аудит и outbox одной транзакцией журнала.
// Репозитории записей и аудита тогда используются только для чтения.
func WithJournal(journal domain.RecordJournal) Option {
	return func(s *Service) { s.journal = journal }
}

// WithChanges задаёт шину уведомлений об изменениях.
func WithChanges(changes notify.Publisher) Option {
	return func(s *Service) { s.changes = changes }
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.BackorderMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет часы.
func WithClock(clock domain.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов.
func WithIDGenerator(ids domain.IDGenerator) Option {
	return func(s *Service) {
		if ids != nil {
			s.ids = ids
		}
	}
}

// WithRetry задаёт повторы при конфликте версий.
func WithRetry(cfg RetryConfig) Option {
	return func(s *Service) { s.retry = cfg }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New создаёт сервис мутаций.
func New(
	records domain.RecordRepository,
	customers domain.CustomerRepository,
	products domain.ProductRepository,
	audit domain.AuditLogRepository,
	opts ...Option,
) *Service {
	s := &Service{
		records:   records,
		customers: customers,
		products:  products,
		audit:     audit,
		clock:     domain.SystemClock,
		ids:       domain.IDGeneratorFunc(func() string { return uuid.NewString() }),
		retry:     DefaultRetryConfig(),
		logger:    log.WithField("component", "backorder-service"),
		validate:  validator.New(),
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retry.MaxAttempts <= 0 {
		s.retry.MaxAttempts = 1
	}
	return s
}
