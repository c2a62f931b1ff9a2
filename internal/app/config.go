package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
	"github.com/vladislavdragonenkov/backorders/internal/resilience"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// EnvPrefix: префикс переменных окружения сервиса.
const EnvPrefix = "BACKORDERS_"

// Config описывает настройки запуска приложения.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
	// IdempotencyAbandonLease: через сколько захват в processing считается брошенным.
	IdempotencyAbandonLease     time.Duration

	KafkaBrokers       []string
	KafkaAuditTopic    string
	KafkaDLQTopic      string
	KafkaConsumerGroup string
	// KafkaChangeFeed: читать топик аудита, чтобы сбрасывать кэш счётчиков при изменениях на других репликах.
	KafkaChangeFeed bool

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	CountsCacheTTL time.Duration

	BreakerFailureThreshold uint32
	BreakerTimeout          time.Duration

	Timezone     string
	FirstWeekday time.Weekday
}

// DefaultConfig возвращает настройки для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresMaxConns:    20,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
		IdempotencyAbandonLease:     time.Hour,

		KafkaAuditTopic:    "backorders.audit.events",
		KafkaDLQTopic:      "backorders.dlq",
		KafkaConsumerGroup: "backorders-change-feed",

		CountsCacheTTL: 30 * time.Second,

		BreakerFailureThreshold: resilience.DefaultFailureThreshold,
		BreakerTimeout:          resilience.DefaultTimeout,

		Timezone:     "UTC",
		FirstWeekday: time.Monday,
	}
}

// ConfigFromEnv накладывает переменные BACKORDERS_* на DefaultConfig.
// getenv обычно os.Getenv; пустое значение означает "не задано".
func ConfigFromEnv(getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()
	r := envReader{getenv: getenv}

	r.str("GRPC_ADDR", &cfg.GRPCAddr)
	r.str("METRICS_ADDR", &cfg.MetricsAddr)

	r.str("STORAGE_DRIVER", &cfg.StorageDriver)
	r.str("POSTGRES_DSN", &cfg.PostgresDSN)
	r.boolean("POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	r.integer("POSTGRES_MAX_CONNS", &cfg.PostgresMaxConns)

	r.duration("OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	r.integer("OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	r.integer("OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	r.duration("OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)

	r.duration("IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	r.duration("IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	r.integer("IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)
	r.duration("IDEMPOTENCY_ABANDON_LEASE", &cfg.IdempotencyAbandonLease)

	if v := r.get("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	r.str("KAFKA_AUDIT_TOPIC", &cfg.KafkaAuditTopic)
	r.str("KAFKA_DLQ_TOPIC", &cfg.KafkaDLQTopic)
	r.str("KAFKA_CONSUMER_GROUP", &cfg.KafkaConsumerGroup)
	r.boolean("KAFKA_CHANGE_FEED", &cfg.KafkaChangeFeed)

	r.str("REDIS_ADDR", &cfg.RedisAddr)
	r.str("REDIS_PASSWORD", &cfg.RedisPassword)
	r.integer("REDIS_DB", &cfg.RedisDB)
	r.duration("COUNTS_CACHE_TTL", &cfg.CountsCacheTTL)

	var threshold int
	if r.integer("BREAKER_FAILURE_THRESHOLD", &threshold) && threshold > 0 {
		cfg.BreakerFailureThreshold = uint32(threshold) //nolint:gosec // проверено > 0
	}
	r.duration("BREAKER_TIMEOUT", &cfg.BreakerTimeout)

	r.str("TIMEZONE", &cfg.Timezone)
	if v := r.get("FIRST_WEEKDAY"); v != "" {
		day, err := parseWeekday(v)
		if err != nil {
			r.fail("FIRST_WEEKDAY", err)
		} else {
			cfg.FirstWeekday = day
		}
	}

	if r.err != nil {
		return Config{}, r.err
	}
	return cfg, cfg.Validate()
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("%sPOSTGRES_DSN is required for storage driver %q", EnvPrefix, c.StorageDriver)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	if c.KafkaChangeFeed && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("%sKAFKA_CHANGE_FEED requires %sKAFKA_BROKERS", EnvPrefix, EnvPrefix)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Calendar строит календарь пресетов дат.
func (c Config) Calendar() domain.Calendar {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return domain.Calendar{Location: loc, FirstWeekday: c.FirstWeekday}
}

// BreakerConfig строит настройки предохранителя запросов.
func (c Config) BreakerConfig() resilience.BreakerConfig {
	cfg := resilience.DefaultBreakerConfig("record-queries")
	if c.BreakerFailureThreshold > 0 {
		cfg.FailureThreshold = c.BreakerFailureThreshold
	}
	if c.BreakerTimeout > 0 {
		cfg.Timeout = c.BreakerTimeout
	}
	return cfg
}

type envReader struct {
	getenv func(string) string
	err    error
}

func (r *envReader) get(name string) string {
	return strings.TrimSpace(r.getenv(EnvPrefix + name))
}

func (r *envReader) fail(name string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
}

func (r *envReader) str(name string, dst *string) {
	if v := r.get(name); v != "" {
		*dst = v
	}
}

func (r *envReader) integer(name string, dst *int) bool {
	v := r.get(name)
	if v == "" {
		return false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(name, err)
		return false
	}
	*dst = n
	return true
}

func (r *envReader) boolean(name string, dst *bool) {
	v := r.get(name)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(name, err)
		return
	}
	*dst = b
}

func (r *envReader) duration(name string, dst *time.Duration) {
	v := r.get(name)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(name, err)
		return
	}
	*dst = d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseWeekday(raw string) (time.Weekday, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if raw == name || raw == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", raw)
}
