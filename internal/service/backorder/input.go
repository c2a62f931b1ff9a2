package backorder

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

// MaxNotesLength: ограничение длины комментария.
const MaxNotesLength = 2000

// CreateInput: новая запись о нехватке.
type CreateInput struct {
	CustomerID string `validate:"required"`
	ProductID  string `validate:"required"`
	VariantID  string
	Quantity   int    `validate:"gt=0"`
	Notes      string `validate:"max=2000"`
	OperatorID string
}

// QuantityInput: выдача или возврат по одной записи.
type QuantityInput struct {
	RecordID   string `validate:"required"`
	Quantity   int    `validate:"gt=0"`
	Notes      string `validate:"max=2000"`
	OperatorID string
}

// BatchItem: строка пакетной операции.
type BatchItem struct {
	RecordID string
	Quantity int
	Notes    string
}

// BatchInput: пакет выдач или возвратов одного оператора.
type BatchInput struct {
	Items      []BatchItem
	OperatorID string
}

// ItemResult: итог обработки одной строки пакета.
type ItemResult struct {
	RecordID string
	Record   domain.Record
	Err      error
}

// OK: строка применена.
func (r ItemResult) OK() bool { return r.Err == nil }

// BatchResult: итоги по строкам в порядке входа.
type BatchResult struct {
	Items     []ItemResult
	Succeeded int
	Failed    int
}

// RecordDetails: запись с именами и журналом изменений.
type RecordDetails struct {
	View  domain.RecordView
	Audit []domain.AuditEvent
}

var fieldSentinels = map[string]error{
	"CustomerID": domain.ErrCustomerRequired,
	"ProductID":  domain.ErrProductRequired,
	"RecordID":   domain.ErrRecordIDRequired,
	"Quantity":   domain.ErrQuantityInvalid,
	"Notes":      domain.ErrNotesTooLong,
}

var fieldNames = map[string]string{
	"CustomerID": "customer_id",
	"ProductID":  "product_id",
	"RecordID":   "record_id",
	"Quantity":   "quantity",
	"Notes":      "notes",
}

// checkInput прогоняет validator и переводит первую ошибку поля в ValidationError.
func (s *Service) checkInput(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return domain.NewValidationError("", err, "")
	}

	fe := fieldErrs[0]
	sentinel, ok := fieldSentinels[fe.Field()]
	if !ok {
		sentinel = errors.New(fe.Error())
	}
	name := fieldNames[fe.Field()]
	if name == "" {
		name = fe.Field()
	}
	return domain.NewValidationError(name, sentinel, fe.Tag())
}
