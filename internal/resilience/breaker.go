package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

// ErrCircuitOpen: хранилище временно отключено предохранителем.
var ErrCircuitOpen = errors.New("circuit breaker is open")

const (
	DefaultMaxRequests      uint32 = 3
	DefaultInterval                = time.Minute
	DefaultTimeout                 = 15 * time.Second
	DefaultFailureThreshold uint32 = 5
)

// BreakerConfig: настройки предохранителя запросов к хранилищу.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig возвращает настройки по умолчанию.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      DefaultMaxRequests,
		Interval:         DefaultInterval,
		Timeout:          DefaultTimeout,
		FailureThreshold: DefaultFailureThreshold,
	}
}

// StateListener получает переходы состояния предохранителя (метрики).
type StateListener func(name string, from, to gobreaker.State)

// Breaker оборачивает gobreaker. Ошибки вызывающей стороны (валидация, not found,
// отмена контекста) не считаются отказом хранилища.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *log.Entry
}

// NewBreaker создаёт предохранитель.
func NewBreaker(cfg BreakerConfig, logger *log.Entry, listeners ...StateListener) *Breaker {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	logger = logger.WithField("breaker", cfg.Name)

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{"from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
			for _, l := range listeners {
				l(name, from, to)
			}
		},
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings), name: cfg.Name, logger: logger}
}

// Do выполняет fn через предохранитель.
func (b *Breaker) Do(fn func() error) error {
	var callerErr error
	_, err := b.cb.Execute(func() (interface{}, error) {
		err := fn()
		if err != nil && !countsAsFailure(err) {
			callerErr = err
			return nil, nil
		}
		return nil, err
	})
	if callerErr != nil {
		return callerErr
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.Debug("request rejected by circuit breaker")
		return fmt.Errorf("%w: %s: %w", ErrCircuitOpen, b.name, domain.ErrStorageUnavailable)
	}
	return err
}

// State возвращает текущее состояние.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func countsAsFailure(err error) bool {
	switch {
	case domain.IsValidation(err), domain.IsNotFound(err):
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, domain.ErrCriteriaInvalid):
		return false
	default:
		return true
	}
}
