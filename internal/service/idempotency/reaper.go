// Package idempotency освобождает idempotency-key мутаций записей:
// истёкшие ответы и захваты, брошенные упавшим процессом.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

const (
	defaultReapInterval = 10 * time.Minute
	defaultReapBatch    = 500
	// Мутация записи укладывается в секунды; захват старше часа уже никто не завершит.
	defaultAbandonLease = time.Hour
)

var (
	reapRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backorders_mutation_claims_reap_runs_total",
		Help: "Mutation claim reaper runs grouped by result.",
	}, []string{"result"})
	reapedClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backorders_mutation_claims_reaped_total",
		Help: "Mutation claims released grouped by reason.",
	}, []string{"reason"})
)

// Options задаёт параметры ClaimReaper.
type Options struct {
	Logger   *log.Entry
	Clock    domain.Clock
	Interval time.Duration
	Batch    int
	Lease    time.Duration
}

// Option настраивает ClaimReaper.
type Option func(*Options)

func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

func WithClock(clock domain.Clock) Option {
	return func(opts *Options) { opts.Clock = clock }
}

func WithInterval(interval time.Duration) Option {
	return func(opts *Options) { opts.Interval = interval }
}

// WithBatchSize ограничивает число ключей за одно обращение к хранилищу.
func WithBatchSize(batch int) Option {
	return func(opts *Options) { opts.Batch = batch }
}

// WithAbandonLease задаёт, сколько захват может висеть в processing.
// Отрицательное значение отключает освобождение брошенных захватов.
func WithAbandonLease(lease time.Duration) Option {
	return func(opts *Options) { opts.Lease = lease }
}

// ClaimReaper периодически освобождает ключи, под которыми больше не будет
// ни повтора, ни завершения мутации.
type ClaimReaper struct {
	claims   domain.IdempotencyRepository
	clock    domain.Clock
	logger   *log.Entry
	interval time.Duration
	batch    int
	lease    time.Duration
}

func NewClaimReaper(claims domain.IdempotencyRepository, options ...Option) *ClaimReaper {
	opts := Options{Interval: defaultReapInterval, Batch: defaultReapBatch, Lease: defaultAbandonLease}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "mutation-claim-reaper")
	}
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultReapInterval
	}
	if opts.Batch <= 0 {
		opts.Batch = defaultReapBatch
	}
	if opts.Lease == 0 {
		opts.Lease = defaultAbandonLease
	}

	return &ClaimReaper{
		claims:   claims,
		clock:    opts.Clock,
		logger:   opts.Logger,
		interval: opts.Interval,
		batch:    opts.Batch,
		lease:    opts.Lease,
	}
}

// Run освобождает ключи до отмены ctx.
func (r *ClaimReaper) Run(ctx context.Context) {
	if r.claims == nil {
		r.logger.Warn("mutation claim reaper is disabled: repo is nil")
		return
	}

	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *ClaimReaper) tick(ctx context.Context) {
	result, err := r.Reap(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		reapRuns.WithLabelValues("error").Inc()
		r.logger.WithError(err).Warn("mutation claim reap failed")
		return
	}

	reapRuns.WithLabelValues("ok").Inc()
	if result.Total() > 0 {
		r.logger.WithFields(log.Fields{
			"expired":   result.Expired,
			"abandoned": result.Abandoned,
		}).Info("mutation claims released")
	}
}

// Policy строит правило очистки на момент now.
func (r *ClaimReaper) Policy(now time.Time) domain.PurgePolicy {
	policy := domain.PurgePolicy{ExpiredBefore: now, Limit: r.batch}
	if r.lease > 0 {
		policy.AbandonedBefore = now.Add(-r.lease)
	}
	return policy
}

// Reap вызывает Purge порциями, пока хранилище отдаёт полные пачки.
func (r *ClaimReaper) Reap(ctx context.Context) (domain.PurgeResult, error) {
	policy := r.Policy(r.clock.Now())

	var total domain.PurgeResult
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		result, err := r.claims.Purge(ctx, policy)
		if err != nil {
			return total, err
		}
		total.Expired += result.Expired
		total.Abandoned += result.Abandoned
		reapedClaims.WithLabelValues("expired").Add(float64(result.Expired))
		reapedClaims.WithLabelValues("abandoned").Add(float64(result.Abandoned))
		if result.Total() < r.batch {
			return total, nil
		}
	}
}
