package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

// Ключ, чей срок истёк к моменту захвата, занимается заново тем же INSERT.
// Пустой RETURNING означает живой чужой захват.
const claimSQL = `
	INSERT INTO mutation_claims (
		operator_id, key, mutation, record_ids, request_hash, status, expires_at, created_at, updated_at
	) VALUES ($1, $2, $3, string_to_array($4, chr(31)), $5, 'processing', $6, $7, $7)
	ON CONFLICT (operator_id, key) DO UPDATE
	SET mutation = EXCLUDED.mutation,
	    record_ids = EXCLUDED.record_ids,
	    request_hash = EXCLUDED.request_hash,
	    status = EXCLUDED.status,
	    response = NULL,
	    code = NULL,
	    expires_at = EXCLUDED.expires_at,
	    created_at = EXCLUDED.created_at,
	    updated_at = EXCLUDED.updated_at
	WHERE mutation_claims.expires_at <= EXCLUDED.created_at
	RETURNING created_at`

const claimColumns = `
	operator_id, key, mutation, array_to_string(record_ids, chr(31)), request_hash,
	status, response, code, expires_at, created_at, updated_at`

// LIMIT NULL в PostgreSQL снимает ограничение.
const (
	purgeExpiredSQL = `
		DELETE FROM mutation_claims
		WHERE (operator_id, key) IN (
			SELECT operator_id, key FROM mutation_claims
			WHERE expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
		)`
	purgeAbandonedSQL = `
		DELETE FROM mutation_claims
		WHERE (operator_id, key) IN (
			SELECT operator_id, key FROM mutation_claims
			WHERE status = 'processing' AND updated_at <= $1
			ORDER BY updated_at
			LIMIT $2
		)`
)

type mutationClaimRepository struct {
	db    *sql.DB
	clock domain.Clock
}

// NewMutationClaimRepository создаёт хранилище захватов idempotency-key в PostgreSQL.
func NewMutationClaimRepository(store *Store, clock domain.Clock) domain.IdempotencyRepository {
	if clock == nil {
		clock = domain.SystemClock
	}
	return &mutationClaimRepository{db: store.DB(), clock: clock}
}

func (r *mutationClaimRepository) Claim(ctx context.Context, claim domain.MutationClaim) (domain.IdempotencyRecord, error) {
	if err := claim.Validate(); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	scope := claim.Scope.Normalize()
	now := claim.ClaimedAt
	if now.IsZero() {
		now = r.clock.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var createdAt sql.NullTime
	err := r.db.QueryRowContext(ctx, claimSQL,
		scope.OperatorID, scope.Key, string(claim.Mutation), joinRecordIDs(claim.RecordIDs),
		claim.RequestHash, claim.ExpiresAt, now,
	).Scan(&createdAt)
	switch {
	case err == nil:
		return domain.IdempotencyRecord{
			Scope:       scope,
			Mutation:    claim.Mutation,
			RecordIDs:   append([]string(nil), claim.RecordIDs...),
			RequestHash: claim.RequestHash,
			Status:      domain.IdempotencyStatusProcessing,
			ExpiresAt:   claim.ExpiresAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}, nil
	case errors.Is(err, sql.ErrNoRows):
		held, getErr := r.Get(ctx, scope)
		if getErr != nil {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
		}
		if !held.Replays(claim) {
			return held, domain.ErrIdempotencyHashMismatch
		}
		return held, domain.ErrIdempotencyKeyAlreadyExists
	default:
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key %s: %w", scope, storageErr(err))
	}
}

func (r *mutationClaimRepository) Get(ctx context.Context, scope domain.IdempotencyScope) (domain.IdempotencyRecord, error) {
	scope = scope.Normalize()
	if scope.Key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rec, err := scanClaim(r.db.QueryRowContext(ctx, `SELECT`+claimColumns+`
		FROM mutation_claims
		WHERE operator_id = $1 AND key = $2`, scope.OperatorID, scope.Key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key %s: %w", scope, err)
	}
	return rec, nil
}

func (r *mutationClaimRepository) Resolve(ctx context.Context, scope domain.IdempotencyScope, outcome domain.MutationOutcome) error {
	scope = scope.Normalize()
	if scope.Key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	if err := outcome.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// пустой список записей не затирает заявленные при захвате
	res, err := r.db.ExecContext(ctx, `
		UPDATE mutation_claims
		SET status = $3,
		    response = $4,
		    code = $5,
		    record_ids = CASE WHEN $6::text = '' THEN record_ids ELSE string_to_array($6::text, chr(31)) END,
		    updated_at = $7
		WHERE operator_id = $1 AND key = $2 AND status = 'processing'`,
		scope.OperatorID, scope.Key, string(outcome.Status), outcome.Response, outcome.Code,
		joinRecordIDs(outcome.RecordIDs), r.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("resolve idempotency key %s: %w", scope, storageErr(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve idempotency key %s: %w", scope, err)
	}
	if affected == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func (r *mutationClaimRepository) Purge(ctx context.Context, policy domain.PurgePolicy) (domain.PurgeResult, error) {
	if policy.ExpiredBefore.IsZero() {
		policy.ExpiredBefore = r.clock.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var result domain.PurgeResult
	expired, err := r.purge(ctx, purgeExpiredSQL, policy.ExpiredBefore, policy.Limit)
	if err != nil {
		return result, fmt.Errorf("purge expired idempotency keys: %w", err)
	}
	result.Expired = expired

	if policy.AbandonedBefore.IsZero() {
		return result, nil
	}
	remaining := 0
	if policy.Limit > 0 {
		remaining = policy.Limit - expired
		if remaining <= 0 {
			return result, nil
		}
	}
	abandoned, err := r.purge(ctx, purgeAbandonedSQL, policy.AbandonedBefore, remaining)
	if err != nil {
		return result, fmt.Errorf("purge abandoned idempotency claims: %w", err)
	}
	result.Abandoned = abandoned
	return result, nil
}

func (r *mutationClaimRepository) purge(ctx context.Context, query string, cutoff any, limit int) (int, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	res, err := r.db.ExecContext(ctx, query, cutoff, limitArg)
	if err != nil {
		return 0, storageErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func scanClaim(row rowScanner) (domain.IdempotencyRecord, error) {
	var (
		rec       domain.IdempotencyRecord
		mutation  string
		recordIDs string
		status    string
		code      sql.NullInt64
	)
	err := row.Scan(
		&rec.Scope.OperatorID, &rec.Scope.Key, &mutation, &recordIDs, &rec.RequestHash,
		&status, &rec.Response, &code, &rec.ExpiresAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	rec.Mutation = domain.Mutation(mutation)
	rec.Status = domain.IdempotencyStatus(status)
	if !rec.Status.Valid() || !rec.Mutation.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("corrupt idempotency claim %s: status %q mutation %q", rec.Scope, status, mutation)
	}
	if recordIDs != "" {
		rec.RecordIDs = strings.Split(recordIDs, recordIDSeparator)
	}
	if code.Valid {
		rec.Code = int(code.Int64)
	}
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

// recordIDSeparator: chr(31) в SQL, в идентификаторах записей не встречается.
const recordIDSeparator = "\x1f"

func joinRecordIDs(ids []string) string {
	return strings.Join(ids, recordIDSeparator)
}

var _ domain.IdempotencyRepository = (*mutationClaimRepository)(nil)
