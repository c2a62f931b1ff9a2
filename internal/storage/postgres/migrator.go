package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Схема записей о нехватке хранит checksum up-скрипта, чтобы замечать
// правку уже применённой миграции.
const (
	migrationLockKey = int64(41520830)
	schemaLedgerDDL  = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    checksum TEXT NOT NULL DEFAULT '',
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT ''`
)

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	migrationFileName = regexp.MustCompile(`^(\d+)_(\w+)\.(up|down)\.sql$`)

	// ErrMigrationDrift: текст применённой миграции отличается от встроенного.
	ErrMigrationDrift = errors.New("applied migration differs from embedded script")
	// ErrSchemaIncomplete: в базе нет таблиц, с которыми работают репозитории.
	ErrSchemaIncomplete = errors.New("backorder schema is incomplete")
)

// schemaTables: таблицы, которыми пользуются репозитории, ссылающиеся раньше.
var schemaTables = []string{
	"mutation_claims",
	"outbox_messages",
	"record_audit_events",
	"out_of_stock_records",
	"products",
	"customers",
}

type migration struct {
	Version  int64
	Name     string
	Up       string
	Down     string
	Checksum string
}

// MigrationStep: одна миграция плана.
type MigrationStep struct {
	Version int64
	Name    string
	Up      bool
}

func (s MigrationStep) String() string {
	direction := "down"
	if s.Up {
		direction = "up"
	}
	return fmt.Sprintf("%s %04d_%s", direction, s.Version, s.Name)
}

// MigrationState описывает схему: последняя версия, число применённых и встроенных,
// версии, чей текст разошёлся со встроенным.
type MigrationState struct {
	Version   int64
	Applied   int
	Available int
	Drifted   []int64
}

// Pending: сколько встроенных миграций ещё не применено.
func (m MigrationState) Pending() int {
	if m.Available <= m.Applied {
		return 0
	}
	return m.Available - m.Applied
}

// MigrateUp применяет up-миграции; steps=0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	_, err := s.migrate(ctx, true, steps, false)
	return err
}

// MigrateDown откатывает steps миграций, минимум одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	_, err := s.migrate(ctx, false, steps, false)
	return err
}

// PlanMigrations возвращает шаги, которые выполнил бы MigrateUp или MigrateDown.
func (s *Store) PlanMigrations(ctx context.Context, up bool, steps int) ([]MigrationStep, error) {
	return s.migrate(ctx, up, steps, true)
}

// MigrationStatus возвращает состояние схемы.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, fmt.Errorf("postgres store is not initialized")
	}
	all, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return MigrationState{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaLedgerDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := appliedChecksums(ctx, s.db)
	if err != nil {
		return MigrationState{}, err
	}

	state := MigrationState{Applied: len(applied), Available: len(all), Drifted: driftedVersions(all, applied)}
	for version := range applied {
		if version > state.Version {
			state.Version = version
		}
	}
	return state, nil
}

// VerifySchema проверяет, что все таблицы схемы существуют.
func (s *Store) VerifySchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var missing []string
	for _, table := range schemaTables {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&exists); err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if !exists {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrSchemaIncomplete, strings.Join(missing, ", "))
	}
	return nil
}

// Ready: база отвечает и схема применена.
func (s *Store) Ready(ctx context.Context) error {
	if err := s.Ping(ctx); err != nil {
		return err
	}
	return s.VerifySchema(ctx)
}

func (s *Store) migrate(ctx context.Context, up bool, steps int, dryRun bool) ([]MigrationStep, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("postgres store is not initialized")
	}
	all, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return nil, err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, schemaLedgerDDL); err != nil {
		return nil, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := appliedChecksums(ctx, conn)
	if err != nil {
		return nil, err
	}
	if drifted := driftedVersions(all, applied); up && len(drifted) > 0 {
		return nil, fmt.Errorf("%w: versions %v", ErrMigrationDrift, drifted)
	}

	plan, err := planMigrations(all, applied, up, steps)
	if err != nil {
		return nil, err
	}
	result := make([]MigrationStep, 0, len(plan))
	for _, m := range plan {
		step := MigrationStep{Version: m.Version, Name: m.Name, Up: up}
		if !dryRun {
			if err := runMigration(ctx, conn, m, up); err != nil {
				return result, err
			}
		}
		result = append(result, step)
	}
	return result, nil
}

// planMigrations: вверх идут неприменённые по возрастанию, вниз применённые по убыванию.
// Для up steps<=0 означает все, для down минимум один шаг.
func planMigrations(all []migration, applied map[int64]string, up bool, steps int) ([]migration, error) {
	var plan []migration
	if up {
		for _, m := range all {
			if _, done := applied[m.Version]; !done {
				plan = append(plan, m)
			}
		}
		if steps > 0 && len(plan) > steps {
			plan = plan[:steps]
		}
		return plan, nil
	}

	if steps <= 0 {
		steps = 1
	}
	byVersion := make(map[int64]migration, len(all))
	for _, m := range all {
		byVersion[m.Version] = m
	}
	versions := make([]int64, 0, len(applied))
	for version := range applied {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
	for _, version := range versions {
		if len(plan) == steps {
			break
		}
		m, ok := byVersion[version]
		if !ok {
			return nil, fmt.Errorf("cannot rollback unknown migration version %d", version)
		}
		plan = append(plan, m)
	}
	return plan, nil
}

// driftedVersions: применённые версии, у которых записан checksum, отличный от встроенного.
// Пустой checksum оставили записи до появления колонки, их не проверяем.
func driftedVersions(all []migration, applied map[int64]string) []int64 {
	var drifted []int64
	for _, m := range all {
		sum, ok := applied[m.Version]
		if ok && sum != "" && sum != m.Checksum {
			drifted = append(drifted, m.Version)
		}
	}
	return drifted
}

func runMigration(ctx context.Context, conn *sql.Conn, m migration, up bool) error {
	script, ledger, args := m.Down, `DELETE FROM schema_migrations WHERE version = $1`, []any{m.Version}
	label := fmt.Sprintf("down %04d_%s", m.Version, m.Name)
	if up {
		script = m.Up
		ledger = `INSERT INTO schema_migrations (version, name, checksum, applied_at) VALUES ($1, $2, $3, NOW())`
		args = []any{m.Version, m.Name, m.Checksum}
		label = fmt.Sprintf("up %04d_%s", m.Version, m.Name)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", label, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("execute migration %s: %w", label, err)
	}
	if _, err := tx.ExecContext(ctx, ledger, args...); err != nil {
		return fmt.Errorf("record migration %s: %w", label, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", label, err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func appliedChecksums(ctx context.Context, q queryer) (map[int64]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]string)
	for rows.Next() {
		var (
			version int64
			sum     string
		)
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, "sql/migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration)
	for _, file := range files {
		base := path.Base(file)
		parts := migrationFileName.FindStringSubmatch(base)
		if parts == nil {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", base, err)
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version, Name: parts[2]}
			byVersion[version] = m
		}
		if m.Name != parts[2] {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, parts[2])
		}
		target := &m.Down
		if parts[3] == "up" {
			target = &m.Up
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", parts[3], version)
		}
		*target = body
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %d_%s must have both up and down files", m.Version, m.Name)
		}
		sum := sha256.Sum256([]byte(m.Up))
		m.Checksum = hex.EncodeToString(sum[:])
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}
