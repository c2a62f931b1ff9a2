package postgres

import (
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

// recordFromClause соединяет записи со справочниками; отсутствующие ссылки дают заглушки в именах.
const recordFromClause = `
	FROM out_of_stock_records r
	LEFT JOIN customers c ON c.id = r.customer_id
	LEFT JOIN products p ON p.id = r.product_id`

const recordColumns = `
	r.id, r.customer_id, r.product_id, r.variant_id,
	r.requested_quantity, r.delivered_quantity, r.returned_quantity,
	r.status, r.notes, r.request_date, r.updated_at,
	r.actual_completion_date, r.delivery_date, r.return_date, r.version`

// Имена для поиска и отображения: пустое или отсутствующее имя заменяется заглушкой,
// как в in-memory реализации.
var (
	customerNameExpr    = `COALESCE(NULLIF(c.name, ''), '` + domain.PlaceholderCustomerName + `')`
	productNameExpr     = `COALESCE(NULLIF(p.name, ''), '` + domain.PlaceholderProductName + `')`
	customerAddressExpr = `COALESCE(c.address, '')`
)

// recordFilter собирает WHERE по критериям. Поиск через strpos, чтобы не экранировать шаблоны LIKE.
type recordFilter struct {
	conds []string
	args  []any
}

func newRecordFilter(criteria domain.FilterCriteria) recordFilter {
	var f recordFilter

	if criteria.CustomerID != "" {
		f.add("r.customer_id = ?", criteria.CustomerID)
	}
	if criteria.ProductID != "" {
		f.add("r.product_id = ?", criteria.ProductID)
	}
	if criteria.Status != "" {
		f.add("r.status = ?", string(criteria.Status))
	}
	if criteria.DateRange != nil {
		f.add("r.request_date >= ?", criteria.DateRange.Start)
		f.add("r.request_date < ?", criteria.DateRange.End)
	}
	if criteria.Address != "" {
		f.add("strpos(lower("+customerAddressExpr+"), ?) > 0", criteria.Address)
	}
	if criteria.Search != "" {
		f.add("(strpos(lower("+customerNameExpr+"), ?) > 0"+
			" OR strpos(lower("+productNameExpr+"), ?) > 0"+
			" OR strpos(lower(r.notes), ?) > 0)",
			criteria.Search, criteria.Search, criteria.Search)
	}
	return f
}

// add заменяет каждый '?' очередным позиционным параметром $N.
func (f *recordFilter) add(cond string, args ...any) {
	var b strings.Builder
	next := 0
	for _, ch := range cond {
		if ch == '?' && next < len(args) {
			f.args = append(f.args, args[next])
			next++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(len(f.args)))
			continue
		}
		b.WriteRune(ch)
	}
	f.conds = append(f.conds, b.String())
}

func (f recordFilter) where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}

// orderBy: дата запроса по порядку сортировки, равенство дат — по id по возрастанию.
func orderBy(sort domain.SortOrder) string {
	if sort == domain.SortOldestFirst {
		return " ORDER BY r.request_date ASC, r.id ASC"
	}
	return " ORDER BY r.request_date DESC, r.id ASC"
}

func buildCountQuery(criteria domain.FilterCriteria) (string, []any) {
	f := newRecordFilter(criteria)
	return "SELECT COUNT(*)" + recordFromClause + f.where(), f.args
}

func buildCountByStatusQuery(criteria domain.FilterCriteria) (string, []any) {
	f := newRecordFilter(criteria.WithStatus(""))
	return "SELECT r.status, COUNT(*)" + recordFromClause + f.where() + " GROUP BY r.status", f.args
}

func buildFetchQuery(criteria domain.FilterCriteria) (string, []any) {
	f := newRecordFilter(criteria)
	args := append(f.args, criteria.PageSize, criteria.Offset())
	query := "SELECT" + recordColumns + ",\n\t" +
		customerNameExpr + ", " + customerAddressExpr + ", " + productNameExpr +
		recordFromClause + f.where() + orderBy(criteria.Sort) +
		" LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))
	return query, args
}
