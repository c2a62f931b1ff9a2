package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

// MutationClaims хранит захваты idempotency-key по операторам.
// Ключи разных операторов не пересекаются.
type MutationClaims struct {
	mu      sync.Mutex
	clock   domain.Clock
	byScope map[domain.IdempotencyScope]*domain.IdempotencyRecord
}

// NewMutationClaims создаёт хранилище; nil clock означает системные часы.
func NewMutationClaims(clock domain.Clock) *MutationClaims {
	if clock == nil {
		clock = domain.SystemClock
	}
	return &MutationClaims{
		clock:   clock,
		byScope: make(map[domain.IdempotencyScope]*domain.IdempotencyRecord),
	}
}

func (s *MutationClaims) Claim(_ context.Context, claim domain.MutationClaim) (domain.IdempotencyRecord, error) {
	if err := claim.Validate(); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	scope := claim.Scope.Normalize()
	now := claim.ClaimedAt
	if now.IsZero() {
		now = s.clock.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.byScope[scope]; ok && !held.Expired(now) {
		if !held.Replays(claim) {
			return copyClaim(held), domain.ErrIdempotencyHashMismatch
		}
		return copyClaim(held), domain.ErrIdempotencyKeyAlreadyExists
	}

	rec := &domain.IdempotencyRecord{
		Scope:       scope,
		Mutation:    claim.Mutation,
		RecordIDs:   append([]string(nil), claim.RecordIDs...),
		RequestHash: claim.RequestHash,
		Status:      domain.IdempotencyStatusProcessing,
		ExpiresAt:   claim.ExpiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.byScope[scope] = rec
	return copyClaim(rec), nil
}

func (s *MutationClaims) Get(_ context.Context, scope domain.IdempotencyScope) (domain.IdempotencyRecord, error) {
	scope = scope.Normalize()
	if scope.Key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byScope[scope]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyClaim(rec), nil
}

func (s *MutationClaims) Resolve(_ context.Context, scope domain.IdempotencyScope, outcome domain.MutationOutcome) error {
	scope = scope.Normalize()
	if scope.Key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	if err := outcome.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byScope[scope]
	if !ok || rec.Status != domain.IdempotencyStatusProcessing {
		return domain.ErrIdempotencyKeyNotFound
	}
	rec.Status = outcome.Status
	rec.Response = append([]byte(nil), outcome.Response...)
	rec.Code = outcome.Code
	if len(outcome.RecordIDs) > 0 {
		rec.RecordIDs = append([]string(nil), outcome.RecordIDs...)
	}
	rec.UpdatedAt = s.clock.Now()
	return nil
}

// Purge удаляет сначала истёкшие ключи, затем брошенные захваты, старые раньше.
func (s *MutationClaims) Purge(_ context.Context, policy domain.PurgePolicy) (domain.PurgeResult, error) {
	if policy.ExpiredBefore.IsZero() {
		policy.ExpiredBefore = s.clock.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired, abandoned []*domain.IdempotencyRecord
	for _, rec := range s.byScope {
		switch {
		case rec.Expired(policy.ExpiredBefore):
			expired = append(expired, rec)
		case rec.AbandonedSince(policy.AbandonedBefore):
			abandoned = append(abandoned, rec)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	sort.Slice(abandoned, func(i, j int) bool { return abandoned[i].UpdatedAt.Before(abandoned[j].UpdatedAt) })

	var result domain.PurgeResult
	room := func() bool { return policy.Limit <= 0 || result.Total() < policy.Limit }
	for _, rec := range expired {
		if !room() {
			break
		}
		delete(s.byScope, rec.Scope)
		result.Expired++
	}
	for _, rec := range abandoned {
		if !room() {
			break
		}
		delete(s.byScope, rec.Scope)
		result.Abandoned++
	}
	return result, nil
}

func copyClaim(src *domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := *src
	dst.RecordIDs = append([]string(nil), src.RecordIDs...)
	dst.Response = append([]byte(nil), src.Response...)
	return dst
}

var _ domain.IdempotencyRepository = (*MutationClaims)(nil)
