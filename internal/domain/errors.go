package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductRequired = errors.New("product_id is required")
	// ErrRecordIDRequired: не передан идентификатор записи.
	ErrRecordIDRequired = errors.New("record_id is required")
	// ErrNotesTooLong: комментарий длиннее допустимого.
	ErrNotesTooLong = errors.New("notes are too long")
	// ErrQuantityInvalid: количество должно быть больше нуля.
	ErrQuantityInvalid = errors.New("quantity must be greater than zero")
	// ErrQuantityExceedsRemaining: количество больше остатка к выдаче.
	ErrQuantityExceedsRemaining = errors.New("quantity exceeds remaining quantity")
	// ErrRecordNotPending: запись уже в конечном статусе, изменения количества запрещены.
	ErrRecordNotPending = errors.New("record is not pending")
	// ErrRecordNotFound возвращается, если запись не найдена в репозитории.
	ErrRecordNotFound = errors.New("out-of-stock record not found")
	// ErrCustomerNotFound возвращается, если клиент не найден.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrRecordVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrRecordVersionConflict = errors.New("record version conflict")
	// ErrInvariantViolated: сохранённое состояние нарушает инварианты записи.
	ErrInvariantViolated = errors.New("record invariant violated")
	// ErrCriteriaInvalid: критерии выборки не прошли проверку.
	ErrCriteriaInvalid = errors.New("filter criteria are invalid")
	// ErrStorageUnavailable: хранилище временно недоступно.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	ErrIdempotencyMutationInvalid     = errors.New("idempotency mutation is invalid")
	ErrIdempotencyOutcomeInvalid      = errors.New("idempotency outcome must be done or failed")
)

// ValidationError: вызывающая сторона передала недопустимые данные
// или запись не находится в статусе pending. Состояние не изменяется.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

// NewValidationError собирает ValidationError вокруг sentinel-ошибки.
func NewValidationError(field string, err error, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Err: err}
}

func (e *ValidationError) Error() string {
	msg := "validation failed"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// QueryError: ошибка выполнения запроса к хранилищу. Критерии сохраняются для диагностики.
type QueryError struct {
	Op       string
	Criteria FilterCriteria
	Err      error
}

// NewQueryError оборачивает ошибку хранилища.
func NewQueryError(op string, criteria FilterCriteria, err error) *QueryError {
	return &QueryError{Op: op, Criteria: criteria, Err: err}
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s failed (criteria %s): %v", e.Op, e.Criteria.String(), e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// NotFoundError: ссылка на клиента, товар или запись не разрешилась.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Unwrap сопоставляет вид сущности с sentinel-ошибкой, чтобы работал errors.Is.
func (e *NotFoundError) Unwrap() error {
	switch e.Kind {
	case KindCustomer:
		return ErrCustomerNotFound
	case KindProduct:
		return ErrProductNotFound
	default:
		return ErrRecordNotFound
	}
}

const (
	KindRecord   = "record"
	KindCustomer = "customer"
	KindProduct  = "product"
)

// IsValidation проверяет, что ошибка относится к ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsQuery проверяет, что ошибка относится к QueryError.
func IsQuery(err error) bool {
	var target *QueryError
	return errors.As(err, &target)
}

// IsNotFound проверяет, что ошибка относится к NotFoundError или одному из sentinel not-found.
func IsNotFound(err error) bool {
	var target *NotFoundError
	if errors.As(err, &target) {
		return true
	}
	return errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrProductNotFound)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrRecordVersionConflict)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
