package domain

import (
	"strings"
	"time"
)

// RecordStatus описывает жизненный цикл записи о нехватке товара.
type RecordStatus string

const (
	// RecordStatusPending: товар ещё не выдан клиенту полностью.
	RecordStatusPending RecordStatus = "pending"
	// RecordStatusCompleted: всё запрошенное количество выдано.
	RecordStatusCompleted RecordStatus = "completed"
	// RecordStatusReturned: клиент отказался от остатка, запись закрыта.
	RecordStatusReturned RecordStatus = "returned"
)

// AllStatuses возвращает статусы в порядке отображения вкладок.
func AllStatuses() []RecordStatus {
	return []RecordStatus{RecordStatusPending, RecordStatusCompleted, RecordStatusReturned}
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s RecordStatus) Valid() bool {
	switch s {
	case RecordStatusPending, RecordStatusCompleted, RecordStatusReturned:
		return true
	default:
		return false
	}
}

// IsTerminal: из completed и returned переходов нет.
func (s RecordStatus) IsTerminal() bool {
	return s == RecordStatusCompleted || s == RecordStatusReturned
}

// ParseStatus разбирает статус из пользовательского ввода; пустая строка означает "все".
func ParseStatus(raw string) (RecordStatus, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" || raw == "all" {
		return "", nil
	}
	status := RecordStatus(raw)
	if !status.Valid() {
		return "", NewValidationError("status", ErrCriteriaInvalid, "unknown status "+raw)
	}
	return status, nil
}

// Record: запись о нехватке товара у клиента (одна позиция back-order).
type Record struct {
	ID         string
	CustomerID string
	ProductID  string
	// VariantID: необязательный размер/вариант товара.
	VariantID string

	RequestedQuantity int
	DeliveredQuantity int
	ReturnedQuantity  int

	Status RecordStatus
	Notes  string

	RequestDate          time.Time
	UpdatedAt            time.Time
	ActualCompletionDate *time.Time
	DeliveryDate         *time.Time
	ReturnDate           *time.Time

	Version int64
}

// NewRecord создаёт запись в статусе pending.
func NewRecord(id, customerID, productID, variantID string, quantity int, notes string, now time.Time) (Record, error) {
	switch {
	case strings.TrimSpace(customerID) == "":
		return Record{}, NewValidationError("customer_id", ErrCustomerRequired, "")
	case strings.TrimSpace(productID) == "":
		return Record{}, NewValidationError("product_id", ErrProductRequired, "")
	case quantity <= 0:
		return Record{}, NewValidationError("quantity", ErrQuantityInvalid, "")
	}

	return Record{
		ID:                id,
		CustomerID:        customerID,
		ProductID:         productID,
		VariantID:         variantID,
		RequestedQuantity: quantity,
		Status:            RecordStatusPending,
		Notes:             notes,
		RequestDate:       now,
		UpdatedAt:         now,
	}, nil
}

// RemainingQuantity = max(0, requested - delivered).
func (r Record) RemainingQuantity() int {
	remaining := r.RequestedQuantity - r.DeliveredQuantity
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HasPartialDelivery: выдана часть, но не всё.
func (r Record) HasPartialDelivery() bool {
	return r.DeliveredQuantity > 0 && r.DeliveredQuantity < r.RequestedQuantity
}

// IsFullyDelivered: выдано всё запрошенное.
func (r Record) IsFullyDelivered() bool {
	return r.DeliveredQuantity >= r.RequestedQuantity
}

// ProcessDelivery фиксирует выдачу quantity единиц. При ошибке запись не меняется.
func (r *Record) ProcessDelivery(quantity int, notes string, now time.Time) error {
	if err := r.checkQuantity(quantity); err != nil {
		return err
	}

	r.DeliveredQuantity += quantity
	if notes != "" {
		r.Notes = notes
	}
	delivered := now
	r.DeliveryDate = &delivered
	r.UpdatedAt = now

	if r.DeliveredQuantity == r.RequestedQuantity {
		completed := now
		r.Status = RecordStatusCompleted
		r.ActualCompletionDate = &completed
	}
	return nil
}

// ProcessReturn закрывает запись как возврат. Остаток сверх quantity считается брошенным.
func (r *Record) ProcessReturn(quantity int, notes string, now time.Time) error {
	if err := r.checkQuantity(quantity); err != nil {
		return err
	}

	r.ReturnedQuantity = quantity
	r.Status = RecordStatusReturned
	if notes != "" {
		r.Notes = notes
	}
	returned := now
	r.ReturnDate = &returned
	r.UpdatedAt = now
	return nil
}

func (r *Record) checkQuantity(quantity int) error {
	if r.Status != RecordStatusPending {
		return NewValidationError("status", ErrRecordNotPending, string(r.Status))
	}
	if quantity <= 0 {
		return NewValidationError("quantity", ErrQuantityInvalid, "")
	}
	if quantity > r.RemainingQuantity() {
		return NewValidationError("quantity", ErrQuantityExceedsRemaining, "")
	}
	return nil
}

// CheckInvariants проверяет инварианты записи и возвращает список нарушений.
func (r *Record) CheckInvariants() []error {
	var errs []error

	if r.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if r.ProductID == "" {
		errs = append(errs, ErrProductRequired)
	}
	if r.RequestedQuantity <= 0 {
		errs = append(errs, ErrQuantityInvalid)
	}
	if r.DeliveredQuantity < 0 || r.DeliveredQuantity > r.RequestedQuantity || r.ReturnedQuantity < 0 {
		errs = append(errs, ErrInvariantViolated)
	}

	switch r.Status {
	case RecordStatusPending:
		if r.DeliveredQuantity >= r.RequestedQuantity {
			errs = append(errs, ErrInvariantViolated)
		}
	case RecordStatusCompleted:
		if r.DeliveredQuantity != r.RequestedQuantity {
			errs = append(errs, ErrInvariantViolated)
		}
	case RecordStatusReturned:
		if r.ReturnedQuantity <= 0 {
			errs = append(errs, ErrInvariantViolated)
		}
	default:
		errs = append(errs, ErrInvariantViolated)
	}

	return errs
}

// Clone возвращает копию без общих указателей на даты.
func (r Record) Clone() Record {
	out := r
	out.ActualCompletionDate = cloneTime(r.ActualCompletionDate)
	out.DeliveryDate = cloneTime(r.DeliveryDate)
	out.ReturnDate = cloneTime(r.ReturnDate)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
