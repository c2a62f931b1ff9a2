package domain

import (
	"strings"
	"time"
)

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing: запрос принят и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone: мутация применена, ответ сохранён для повторов.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed: мутация отклонена; повтор вернёт ту же ошибку.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Mutation называет изменение записей, под которое занят ключ.
type Mutation string

const (
	MutationCreate       Mutation = "create"
	MutationDeliver      Mutation = "deliver"
	MutationReturn       Mutation = "return"
	MutationDeliverBatch Mutation = "deliver_batch"
	MutationReturnBatch  Mutation = "return_batch"
)

// Valid проверяет вид мутации.
func (m Mutation) Valid() bool {
	switch m {
	case MutationCreate, MutationDeliver, MutationReturn, MutationDeliverBatch, MutationReturnBatch:
		return true
	default:
		return false
	}
}

// IdempotencyScope: ключ уникален в пределах оператора.
// Вызовы без оператора делят общую область с пустым OperatorID.
type IdempotencyScope struct {
	OperatorID string
	Key        string
}

// Normalize обрезает пробелы.
func (s IdempotencyScope) Normalize() IdempotencyScope {
	return IdempotencyScope{
		OperatorID: strings.TrimSpace(s.OperatorID),
		Key:        strings.TrimSpace(s.Key),
	}
}

func (s IdempotencyScope) String() string {
	if s.OperatorID == "" {
		return s.Key
	}
	return s.OperatorID + "/" + s.Key
}

// MutationClaim занимает ключ под одну мутацию.
type MutationClaim struct {
	Scope    IdempotencyScope
	Mutation Mutation
	// RecordIDs: записи, которых касается мутация. У create пусто до завершения.
	RecordIDs   []string
	RequestHash string
	// ClaimedAt: момент захвата; по нему проверяется срок прежнего владельца ключа.
	ClaimedAt time.Time
	ExpiresAt time.Time
}

// Validate проверяет обязательные поля захвата.
func (c MutationClaim) Validate() error {
	switch {
	case strings.TrimSpace(c.Scope.Key) == "":
		return ErrIdempotencyKeyRequired
	case strings.TrimSpace(c.RequestHash) == "":
		return ErrIdempotencyRequestHashRequired
	case !c.Mutation.Valid():
		return ErrIdempotencyMutationInvalid
	}
	return nil
}

// MutationOutcome: итог мутации, который получат повторы.
// Code: код gRPC, с которым завершился исходный вызов.
type MutationOutcome struct {
	Status    IdempotencyStatus
	RecordIDs []string
	Response  []byte
	Code      int
}

// Validate: итог бывает только done или failed.
func (o MutationOutcome) Validate() error {
	if o.Status != IdempotencyStatusDone && o.Status != IdempotencyStatusFailed {
		return ErrIdempotencyOutcomeInvalid
	}
	return nil
}

// IdempotencyRecord хранит захват ключа и результат мутации.
type IdempotencyRecord struct {
	Scope       IdempotencyScope
	Mutation    Mutation
	RecordIDs   []string
	RequestHash string
	Response    []byte
	Code        int
	Status      IdempotencyStatus
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Expired: срок хранения ответа истёк.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// AbandonedSince: захват висит в processing без обновлений с cutoff,
// процесс упал посреди мутации. Нулевой cutoff ничего не считает брошенным.
func (r IdempotencyRecord) AbandonedSince(cutoff time.Time) bool {
	return r.Status == IdempotencyStatusProcessing && !cutoff.IsZero() && !r.UpdatedAt.After(cutoff)
}

// Replays: повтор той же мутации с тем же телом.
func (r IdempotencyRecord) Replays(c MutationClaim) bool {
	return r.Mutation == c.Mutation && r.RequestHash == c.RequestHash
}

// PurgePolicy задаёт, что удаляет очистка ключей.
type PurgePolicy struct {
	// ExpiredBefore: ключи с ExpiresAt не позже этого момента.
	ExpiredBefore time.Time
	// AbandonedBefore: захваты в processing без обновлений с этого момента. Ноль отключает.
	AbandonedBefore time.Time
	Limit           int
}

// PurgeResult: сколько ключей удалено по каждой причине.
type PurgeResult struct {
	Expired   int
	Abandoned int
}

// Total возвращает общее число удалённых ключей.
func (r PurgeResult) Total() int {
	return r.Expired + r.Abandoned
}
