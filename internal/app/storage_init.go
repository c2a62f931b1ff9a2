package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/backorders/internal/health"
	"github.com/vladislavdragonenkov/backorders/internal/domain"
	"github.com/vladislavdragonenkov/backorders/internal/storage/memory"
	"github.com/vladislavdragonenkov/backorders/internal/storage/postgres"
)

// runtimeDeps: репозитории выбранного хранилища.
type runtimeDeps struct {
	records         domain.RecordRepository
	customers       domain.CustomerRepository
	products        domain.ProductRepository
	audit           domain.AuditLogRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	// journal пишет запись, аудит и outbox одним коммитом.
	journal         domain.RecordJournal
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDeps, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		customers := memory.NewCustomerRepository()
		products := memory.NewProductRepository()
		records := memory.NewRecordRepository(customers, products)
		audit := memory.NewAuditLogRepository()
		outboxRepo := memory.NewOutboxRepository()
		logger.Info("using in-memory storage")
		return &runtimeDeps{
			records:         records,
			customers:       customers,
			products:        products,
			audit:           audit,
			outboxRepo:      outboxRepo,
			idempotencyRepo: memory.NewMutationClaims(nil),
			journal:         memory.NewJournal(records, audit, outboxRepo),
			storageChecker:  healthcheck.NewCritical("storage", func(context.Context) error { return nil }),
		}, nil
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres dsn is required for storage driver %q", cfg.StorageDriver)
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithPool(postgres.PoolOptions{MaxOpenConns: cfg.PostgresMaxConns}))
		if err != nil {
			return nil, fmt.Errorf("init postgres storage: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}
		logger.Info("using postgres storage")
		return &runtimeDeps{
			records:         postgres.NewRecordRepository(store),
			customers:       postgres.NewCustomerRepository(store),
			products:        postgres.NewProductRepository(store),
			audit:           postgres.NewAuditLogRepository(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			idempotencyRepo: postgres.NewMutationClaimRepository(store, nil),
			journal:         postgres.NewRecordJournal(store),
			storageChecker:  healthcheck.NewCritical("storage", store.Ready),
			closeFn:         store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func (d *runtimeDeps) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
