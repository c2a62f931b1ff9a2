// Package backorderv1 — контракт gRPC API сервиса записей о нехватке товара.
// Сообщения передаются в JSON (см. codec.go).
package backorderv1

import "time"

// Record: запись с отображаемыми именами клиента и товара.
type Record struct {
	ID                   string     `json:"id"`
	CustomerID           string     `json:"customer_id"`
	CustomerName         string     `json:"customer_name"`
	CustomerAddress      string     `json:"customer_address,omitempty"`
	ProductID            string     `json:"product_id"`
	ProductName          string     `json:"product_name"`
	VariantID            string     `json:"variant_id,omitempty"`
	RequestedQuantity    int32      `json:"requested_quantity"`
	DeliveredQuantity    int32      `json:"delivered_quantity"`
	ReturnedQuantity     int32      `json:"returned_quantity"`
	RemainingQuantity    int32      `json:"remaining_quantity"`
	Status               string     `json:"status"`
	Notes                string     `json:"notes,omitempty"`
	RequestDate          time.Time  `json:"request_date"`
	UpdatedAt            time.Time  `json:"updated_at"`
	ActualCompletionDate *time.Time `json:"actual_completion_date,omitempty"`
	DeliveryDate         *time.Time `json:"delivery_date,omitempty"`
	ReturnDate           *time.Time `json:"return_date,omitempty"`
	Version              int64      `json:"version"`
}

// AuditEntry: одна строка журнала изменений записи.
type AuditEntry struct {
	Action     string    `json:"action"`
	Quantity   int32     `json:"quantity"`
	Notes      string    `json:"notes,omitempty"`
	OperatorID string    `json:"operator_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Criteria: фильтр выборки. DatePreset имеет приоритет над StartDate/EndDate,
// кроме пресета custom, который их использует.
type Criteria struct {
	CustomerID string     `json:"customer_id,omitempty"`
	ProductID  string     `json:"product_id,omitempty"`
	Status     string     `json:"status,omitempty"`
	DatePreset string     `json:"date_preset,omitempty"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
	Search     string     `json:"search,omitempty"`
	Address    string     `json:"address,omitempty"`
	Page       int32      `json:"page,omitempty"`
	PageSize   int32      `json:"page_size,omitempty"`
	Sort       string     `json:"sort,omitempty"`
}

type CreateRecordRequest struct {
	CustomerID string `json:"customer_id"`
	ProductID  string `json:"product_id"`
	VariantID  string `json:"variant_id,omitempty"`
	Quantity   int32  `json:"quantity"`
	Notes      string `json:"notes,omitempty"`
	OperatorID string `json:"operator_id,omitempty"`
}

// QuantityRequest: выдача или возврат по одной записи.
type QuantityRequest struct {
	RecordID   string `json:"record_id"`
	Quantity   int32  `json:"quantity"`
	Notes      string `json:"notes,omitempty"`
	OperatorID string `json:"operator_id,omitempty"`
}

type RecordResponse struct {
	Record *Record `json:"record"`
}

type BatchItem struct {
	RecordID string `json:"record_id"`
	Quantity int32  `json:"quantity"`
	Notes    string `json:"notes,omitempty"`
}

type BatchRequest struct {
	Items      []BatchItem `json:"items"`
	OperatorID string      `json:"operator_id,omitempty"`
}

// BatchItemResult: итог строки пакета. Code — код gRPC (0 — успех).
type BatchItemResult struct {
	RecordID string  `json:"record_id"`
	Record   *Record `json:"record,omitempty"`
	Code     uint32  `json:"code"`
	Message  string  `json:"message,omitempty"`
}

type BatchResponse struct {
	Results   []BatchItemResult `json:"results"`
	Succeeded int32             `json:"succeeded"`
	Failed    int32             `json:"failed"`
}

type GetRecordRequest struct {
	RecordID string `json:"record_id"`
}

type GetRecordResponse struct {
	Record *Record       `json:"record"`
	Audit  []*AuditEntry `json:"audit"`
}

type QueryRecordsRequest struct {
	Criteria Criteria `json:"criteria"`
}

type QueryRecordsResponse struct {
	Records    []*Record `json:"records"`
	TotalCount int32     `json:"total_count"`
	HasMore    bool      `json:"has_more"`
}

type CountRecordsRequest struct {
	Criteria Criteria `json:"criteria"`
}

type CountRecordsResponse struct {
	Count int32 `json:"count"`
}

type CountByStatusRequest struct {
	Criteria Criteria `json:"criteria"`
}

// CountByStatusResponse: счётчики по всем статусам при тех же нестатусных фильтрах.
type CountByStatusResponse struct {
	Counts map[string]int32 `json:"counts"`
	Total  int32            `json:"total"`
}

type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

type Product struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	SKU   string   `json:"sku,omitempty"`
	Sizes []string `json:"sizes,omitempty"`
}

type ListCustomersRequest struct{}

type ListCustomersResponse struct {
	Customers []*Customer `json:"customers"`
}

type ListProductsRequest struct{}

type ListProductsResponse struct {
	Products []*Product `json:"products"`
}
