package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	backorderv1 "github.com/vladislavdragonenkov/backorders/api/backorder/v1"
	"github.com/vladislavdragonenkov/backorders/internal/cache"
	"github.com/vladislavdragonenkov/backorders/internal/domain"
	"github.com/vladislavdragonenkov/backorders/internal/service/backorder"
	grpcsvc "github.com/vladislavdragonenkov/backorders/internal/service/grpc"
	"github.com/vladislavdragonenkov/backorders/internal/storage/memory"
)

func startServer(t *testing.T) dialFunc {
	t.Helper()

	ctx := context.Background()
	logger := logrus.New().WithField("component", "backorderctl-test")
	customers := memory.NewCustomerRepository()
	products := memory.NewProductRepository()
	require.NoError(t, customers.Create(ctx, domain.Customer{ID: "c1", Name: "Alice", Address: "Main st 1"}))
	require.NoError(t, customers.Create(ctx, domain.Customer{ID: "c2", Name: "Bob", Address: "Side st 2"}))
	require.NoError(t, products.Create(ctx, domain.Product{ID: "p1", Name: "Winter coat", SKU: "WC-1", Sizes: []string{"M", "L"}}))

	records := memory.NewRecordRepository(customers, products)
	mutations := backorder.New(records, customers, products, memory.NewAuditLogRepository(), backorder.WithLogger(logger))
	service := grpcsvc.NewBackorderService(mutations, records, customers, products,
		grpcsvc.WithIdempotency(memory.NewMutationClaims(nil), time.Hour),
		grpcsvc.WithCountsCache(cache.NewMemoryStatusCountCache(time.Minute)),
		grpcsvc.WithLogger(logger),
	)

	listener := bufconn.Listen(1024 * 1024)
	server := grpc.NewServer()
	backorderv1.RegisterBackorderServiceServer(server, service)
	go func() { _ = server.Serve(listener) }()

	//nolint:staticcheck // grpc.Dial is required for bufconn testing
	conn, err := grpc.Dial("bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(backorderv1.CodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})

	client := backorderv1.NewBackorderServiceClient(conn)
	return func(string) (backorderv1.BackorderServiceClient, func() error, error) {
		return client, func() error { return nil }, nil
	}
}

func execute(t *testing.T, dial dialFunc, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newCLI(&out, dial).rootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	err := cmd.Execute()
	return out.String(), err
}

func createRecord(t *testing.T, dial dialFunc, customer string, qty string) backorderv1.Record {
	t.Helper()
	out, err := execute(t, dial, "create", "--customer", customer, "--product", "p1", "--quantity", qty, "--json")
	require.NoError(t, err)
	var rec backorderv1.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	require.NotEmpty(t, rec.ID)
	return rec
}

func TestRecordLifecycleCommands(t *testing.T) {
	dial := startServer(t)

	rec := createRecord(t, dial, "c1", "3")
	require.Equal(t, "pending", rec.Status)
	require.Equal(t, "Alice", rec.CustomerName)

	out, err := execute(t, dial, "deliver", rec.ID, "--quantity", "1", "--notes", "first box")
	require.NoError(t, err)
	require.Contains(t, out, "delivered=1 remaining=2")

	out, err = execute(t, dial, "get", rec.ID)
	require.NoError(t, err)
	require.Contains(t, out, "first box")
	require.Contains(t, out, "ACTION")

	_, err = execute(t, dial, "deliver", rec.ID, "--quantity", "5")
	require.Error(t, err)

	out, err = execute(t, dial, "return", rec.ID, "--quantity", "2")
	require.NoError(t, err)
	require.Contains(t, out, "returned")

	_, err = execute(t, dial, "get", "missing")
	require.Error(t, err)
}

func TestCreateReplaysWithSameIdempotencyKey(t *testing.T) {
	dial := startServer(t)

	first, err := execute(t, dial, "create", "--customer", "c1", "--product", "p1", "--idempotency-key", "k-1", "--json")
	require.NoError(t, err)
	second, err := execute(t, dial, "create", "--customer", "c1", "--product", "p1", "--idempotency-key", "k-1", "--json")
	require.NoError(t, err)
	require.JSONEq(t, first, second)

	_, err = execute(t, dial, "create", "--customer", "c2", "--product", "p1", "--idempotency-key", "k-1")
	require.Error(t, err, "same key with another request must be rejected")
}

func TestBatchCommandReportsRows(t *testing.T) {
	dial := startServer(t)
	rec := createRecord(t, dial, "c1", "2")

	out, err := execute(t, dial, "batch", "deliver", "--item", rec.ID+":2:all done", "--item", "missing:1")
	require.NoError(t, err)
	require.Contains(t, out, "succeeded=1 failed=1")
	require.Contains(t, out, "NotFound")

	_, err = execute(t, dial, "batch", "sideways", "--item", rec.ID+":1")
	require.Error(t, err)
}

func TestListAndCountsCommands(t *testing.T) {
	dial := startServer(t)
	first := createRecord(t, dial, "c1", "2")
	createRecord(t, dial, "c2", "1")
	_, err := execute(t, dial, "deliver", first.ID, "--quantity", "2")
	require.NoError(t, err)

	out, err := execute(t, dial, "list", "--page-size", "1", "--all")
	require.NoError(t, err)
	require.Contains(t, out, "Alice")
	require.Contains(t, out, "Bob")
	require.Contains(t, out, "shown 2 of 2")
	require.Contains(t, out, "pending=1 completed=1 returned=0 total=2")

	out, err = execute(t, dial, "list", "--status", "pending", "--search", "BOB")
	require.NoError(t, err)
	require.Contains(t, out, "shown 1 of 1")
	require.NotContains(t, out, "Alice")

	out, err = execute(t, dial, "counts", "--status", "completed", "--json")
	require.NoError(t, err)
	var counts backorderv1.CountByStatusResponse
	require.NoError(t, json.Unmarshal([]byte(out), &counts))
	require.Equal(t, int32(2), counts.Total)
	require.Equal(t, int32(1), counts.Counts["completed"])

	_, err = execute(t, dial, "list", "--status", "lost")
	require.Error(t, err)
}

func TestReferenceCommands(t *testing.T) {
	dial := startServer(t)

	out, err := execute(t, dial, "ref", "customers")
	require.NoError(t, err)
	require.Contains(t, out, "Alice")
	require.Contains(t, out, "Side st 2")

	out, err = execute(t, dial, "ref", "products")
	require.NoError(t, err)
	require.Contains(t, out, "WC-1")
}

func TestDashboardCommand(t *testing.T) {
	dial := startServer(t)
	first := createRecord(t, dial, "c1", "2")
	createRecord(t, dial, "c2", "1")
	_, err := execute(t, dial, "return", first.ID, "--quantity", "1")
	require.NoError(t, err)

	out, err := execute(t, dial, "dashboard")
	require.NoError(t, err)
	require.Contains(t, out, "shown 2 of 2")
	require.Contains(t, out, "pending=1 completed=0 returned=1 total=2")

	out, err = execute(t, dial, "dashboard", "--tab", "returned")
	require.NoError(t, err)
	require.Contains(t, out, "tab: returned")
	require.Contains(t, out, first.ID)
	require.Contains(t, out, "shown 1 of 1")

	out, err = execute(t, dial, "dashboard", "--search", "bob")
	require.NoError(t, err)
	require.Contains(t, out, "filtered (1)")
	require.Contains(t, out, "Bob")
	require.NotContains(t, out, "Alice")
}

func TestParseBatchItems(t *testing.T) {
	req, err := parseBatchItems([]string{"r1:2", " r2 : 3 :note: with colon"})
	require.NoError(t, err)
	require.Len(t, req.Items, 2)
	require.Equal(t, backorderv1.BatchItem{RecordID: "r1", Quantity: 2}, req.Items[0])
	require.Equal(t, "r2", req.Items[1].RecordID)
	require.Equal(t, int32(3), req.Items[1].Quantity)
	require.Equal(t, "note: with colon", req.Items[1].Notes)

	for _, bad := range []string{"r1", ":2", "r1:two"} {
		_, err := parseBatchItems([]string{bad})
		require.Error(t, err, bad)
	}
}

func TestCriteriaFlags(t *testing.T) {
	cal := domain.DefaultCalendar()
	now := time.Date(2026, 10, 14, 15, 0, 0, 0, time.UTC)

	f := criteriaFlags{from: "2026-10-01", to: "2026-10-03", pageSize: 500, status: "all"}
	c, err := f.criteria(cal, now)
	require.NoError(t, err)
	require.Equal(t, domain.MaxPageSize, c.PageSize)
	require.Equal(t, domain.RecordStatus(""), c.Status)
	require.NotNil(t, c.DateRange)
	require.Equal(t, time.Date(2026, 10, 4, 0, 0, 0, 0, time.UTC), c.DateRange.End)

	f = criteriaFlags{preset: "this_week", oldest: true}
	c, err = f.criteria(cal, now)
	require.NoError(t, err)
	require.Equal(t, domain.SortOldestFirst, c.Sort)
	require.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), c.DateRange.Start)

	_, err = (&criteriaFlags{from: "yesterday"}).criteria(cal, now)
	require.Error(t, err)
	_, err = (&criteriaFlags{preset: "next_year"}).criteria(cal, now)
	require.Error(t, err)
}

func TestDashboardEventsFromFlags(t *testing.T) {
	events, err := dashboardEvents(domain.DefaultCalendar(), "2026-10-01", "pending", "coat", "c1", "", 3)
	require.NoError(t, err)
	require.Len(t, events, 7)

	_, err = dashboardEvents(domain.DefaultCalendar(), "", "unknown", "", "", "", 1)
	require.Error(t, err)
	_, err = dashboardEvents(domain.DefaultCalendar(), "01.10.2026", "", "", "", "", 1)
	require.True(t, err != nil && strings.Contains(err.Error(), "--date"))
}
