package domain

import "time"

const (
	// PlaceholderCustomerName отображается, если клиент не найден.
	PlaceholderCustomerName = "Unknown customer"
	// PlaceholderProductName отображается, если товар не найден.
	PlaceholderProductName = "Unknown product"
)

// Customer: клиент магазина. Жизненным циклом управляет внешний модуль.
type Customer struct {
	ID        string
	Name      string
	Address   string
	Phone     string
	CreatedAt time.Time
}

// Product: товар каталога.
type Product struct {
	ID        string
	Name      string
	SKU       string
	Sizes     []string
	CreatedAt time.Time
}

// RecordNames содержит отображаемые данные связанных сущностей, нужные для поиска.
type RecordNames struct {
	CustomerName    string
	CustomerAddress string
	ProductName     string
}

// RecordView: запись вместе с отображаемыми именами.
type RecordView struct {
	Record
	RecordNames
}

// CustomerDisplayName возвращает имя или заглушку, если клиент не разрешился.
func CustomerDisplayName(c *Customer) string {
	if c == nil || c.Name == "" {
		return PlaceholderCustomerName
	}
	return c.Name
}

// ProductDisplayName возвращает имя или заглушку, если товар не разрешился.
func ProductDisplayName(p *Product) string {
	if p == nil || p.Name == "" {
		return PlaceholderProductName
	}
	return p.Name
}
