package grpcsvc_test

import (
	"context"
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	backorderv1 "github.com/vladislavdragonenkov/backorders/api/backorder/v1"
	"github.com/vladislavdragonenkov/backorders/internal/cache"
	"github.com/vladislavdragonenkov/backorders/internal/domain"
	"github.com/vladislavdragonenkov/backorders/internal/service/backorder"
	grpcsvc "github.com/vladislavdragonenkov/backorders/internal/service/grpc"
	"github.com/vladislavdragonenkov/backorders/internal/storage/memory"
)

const bufSize = 1024 * 1024

func idemCtx(key string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), grpcsvc.IdempotencyKeyHeader, key)
}

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: false, DisableTimestamp: true})
	logger.SetLevel(logrus.DebugLevel)
	return logger.WithField("component", "test")
}

type testEnv struct {
	client  backorderv1.BackorderServiceClient
	records domain.RecordRepository
	counts  *cache.MemoryStatusCountCache
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	ctx := context.Background()
	logger := loggerForTests()
	customers := memory.NewCustomerRepository()
	products := memory.NewProductRepository()
	require.NoError(t, customers.Create(ctx, domain.Customer{ID: "c1", Name: "Alice", Address: "Main st 1"}))
	require.NoError(t, customers.Create(ctx, domain.Customer{ID: "c2", Name: "Bob", Address: "Side st 2"}))
	require.NoError(t, products.Create(ctx, domain.Product{ID: "p1", Name: "Winter coat", SKU: "WC-1"}))

	records := memory.NewRecordRepository(customers, products)
	mutations := backorder.New(records, customers, products, memory.NewAuditLogRepository(),
		backorder.WithLogger(logger.WithField("layer", "backorder")))
	counts := cache.NewMemoryStatusCountCache(0)
	service := grpcsvc.NewBackorderService(mutations, records, customers, products,
		grpcsvc.WithIdempotency(memory.NewMutationClaims(nil), 0),
		grpcsvc.WithCountsCache(counts),
		grpcsvc.WithLogger(logger),
	)

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	backorderv1.RegisterBackorderServiceServer(server, service)
	go func() {
		if err := server.Serve(listener); err != nil {
			logger.WithError(err).Error("grpc serve failed")
		}
	}()

	dialer := func(context.Context, string) (net.Conn, error) {
		return listener.Dial()
	}

	//nolint:staticcheck // grpc.Dial is required for bufconn testing
	conn, err := grpc.Dial("bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(backorderv1.CodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})

	return &testEnv{client: backorderv1.NewBackorderServiceClient(conn), records: records, counts: counts}
}

func (e *testEnv) create(t *testing.T, key, customerID string, qty int32) *backorderv1.Record {
	t.Helper()
	resp, err := e.client.CreateRecord(idemCtx(key), &backorderv1.CreateRecordRequest{
		CustomerID: customerID,
		ProductID:  "p1",
		Quantity:   qty,
		OperatorID: "op",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Record)
	return resp.Record
}

func requireCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok, "expected grpc status, got %v", err)
	require.Equal(t, code, st.Code(), st.Message())
}

func TestBackorderService_CreateAndGet(t *testing.T) {
	env := newTestServer(t)

	record := env.create(t, "create-1", "c1", 5)
	require.Equal(t, "pending", record.Status)
	require.Equal(t, "Alice", record.CustomerName)
	require.Equal(t, "Winter coat", record.ProductName)
	require.Equal(t, int32(5), record.RemainingQuantity)

	got, err := env.client.GetRecord(context.Background(), &backorderv1.GetRecordRequest{RecordID: record.ID})
	require.NoError(t, err)
	require.Equal(t, record.ID, got.Record.ID)
	require.Len(t, got.Audit, 1)
	require.Equal(t, "created", got.Audit[0].Action)
	require.Equal(t, int32(5), got.Audit[0].Quantity)
}

func TestBackorderService_CreateRecord_RequiresIdempotencyKey(t *testing.T) {
	env := newTestServer(t)

	_, err := env.client.CreateRecord(context.Background(), &backorderv1.CreateRecordRequest{
		CustomerID: "c1", ProductID: "p1", Quantity: 1,
	})
	requireCode(t, err, codes.InvalidArgument)
}

func TestBackorderService_CreateRecord_IdempotentReplay(t *testing.T) {
	env := newTestServer(t)

	first := env.create(t, "same-key", "c1", 3)
	second := env.create(t, "same-key", "c1", 3)
	require.Equal(t, first.ID, second.ID)

	count, err := env.client.CountRecords(context.Background(), &backorderv1.CountRecordsRequest{})
	require.NoError(t, err)
	require.Equal(t, int32(1), count.Count)
}

func TestBackorderService_CreateRecord_IdempotencyHashMismatch(t *testing.T) {
	env := newTestServer(t)

	env.create(t, "reused", "c1", 3)
	_, err := env.client.CreateRecord(idemCtx("reused"), &backorderv1.CreateRecordRequest{
		CustomerID: "c1", ProductID: "p1", Quantity: 4, OperatorID: "op",
	})
	requireCode(t, err, codes.AlreadyExists)
}

func TestBackorderService_IdempotencyKeyIsPerOperator(t *testing.T) {
	env := newTestServer(t)
	record := env.create(t, "create", "c1", 10)

	deliver := func(operator string) (*backorderv1.RecordResponse, error) {
		return env.client.ProcessDelivery(idemCtx("morning-run"), &backorderv1.QuantityRequest{
			RecordID: record.ID, Quantity: 2, OperatorID: operator,
		})
	}

	first, err := deliver("op-anna")
	require.NoError(t, err)
	require.Equal(t, int32(8), first.Record.RemainingQuantity)

	// другой оператор с тем же ключом: самостоятельная мутация
	second, err := deliver("op-boris")
	require.NoError(t, err)
	require.Equal(t, int32(6), second.Record.RemainingQuantity)

	replay, err := deliver("op-anna")
	require.NoError(t, err)
	require.Equal(t, int32(8), replay.Record.RemainingQuantity)

	got, err := env.client.GetRecord(context.Background(), &backorderv1.GetRecordRequest{RecordID: record.ID})
	require.NoError(t, err)
	require.Len(t, got.Audit, 3)
}

func TestBackorderService_CreateRecord_UnknownReferences(t *testing.T) {
	env := newTestServer(t)

	_, err := env.client.CreateRecord(idemCtx("unknown-customer"), &backorderv1.CreateRecordRequest{
		CustomerID: "nobody", ProductID: "p1", Quantity: 1,
	})
	requireCode(t, err, codes.NotFound)

	_, err = env.client.CreateRecord(idemCtx("zero-qty"), &backorderv1.CreateRecordRequest{
		CustomerID: "c1", ProductID: "p1", Quantity: 0,
	})
	requireCode(t, err, codes.InvalidArgument)
}

func TestBackorderService_DeliveryLifecycle(t *testing.T) {
	env := newTestServer(t)
	record := env.create(t, "create", "c1", 20)

	resp, err := env.client.ProcessDelivery(idemCtx("deliver-1"), &backorderv1.QuantityRequest{RecordID: record.ID, Quantity: 12})
	require.NoError(t, err)
	require.Equal(t, "pending", resp.Record.Status)
	require.Equal(t, int32(8), resp.Record.RemainingQuantity)
	require.NotNil(t, resp.Record.DeliveryDate)

	_, err = env.client.ProcessDelivery(idemCtx("deliver-too-much"), &backorderv1.QuantityRequest{RecordID: record.ID, Quantity: 9})
	requireCode(t, err, codes.FailedPrecondition)

	// повтор с тем же ключом возвращает сохранённую ошибку, а не выполняет мутацию заново
	_, err = env.client.ProcessDelivery(idemCtx("deliver-too-much"), &backorderv1.QuantityRequest{RecordID: record.ID, Quantity: 9})
	requireCode(t, err, codes.FailedPrecondition)

	resp, err = env.client.ProcessDelivery(idemCtx("deliver-2"), &backorderv1.QuantityRequest{RecordID: record.ID, Quantity: 8})
	require.NoError(t, err)
	require.Equal(t, "completed", resp.Record.Status)
	require.NotNil(t, resp.Record.ActualCompletionDate)

	_, err = env.client.ProcessReturn(idemCtx("return-after-complete"), &backorderv1.QuantityRequest{RecordID: record.ID, Quantity: 1})
	requireCode(t, err, codes.FailedPrecondition)

	_, err = env.client.ProcessDelivery(idemCtx("deliver-missing"), &backorderv1.QuantityRequest{RecordID: "missing", Quantity: 1})
	requireCode(t, err, codes.NotFound)
}

func TestBackorderService_ProcessReturnBatch(t *testing.T) {
	env := newTestServer(t)
	first := env.create(t, "create-1", "c1", 5)
	second := env.create(t, "create-2", "c2", 5)

	resp, err := env.client.ProcessReturnBatch(idemCtx("batch-1"), &backorderv1.BatchRequest{
		OperatorID: "op",
		Items: []backorderv1.BatchItem{
			{RecordID: first.ID, Quantity: 5},
			{RecordID: "missing", Quantity: 1},
			{RecordID: second.ID, Quantity: 6},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int32(1), resp.Succeeded)
	require.Equal(t, int32(2), resp.Failed)
	require.Len(t, resp.Results, 3)
	require.Equal(t, uint32(codes.OK), resp.Results[0].Code)
	require.Equal(t, "returned", resp.Results[0].Record.Status)
	require.Equal(t, uint32(codes.NotFound), resp.Results[1].Code)
	require.Equal(t, uint32(codes.FailedPrecondition), resp.Results[2].Code)

	got, err := env.client.GetRecord(context.Background(), &backorderv1.GetRecordRequest{RecordID: second.ID})
	require.NoError(t, err)
	require.Equal(t, "pending", got.Record.Status)

	_, err = env.client.ProcessReturnBatch(idemCtx("batch-empty"), &backorderv1.BatchRequest{})
	requireCode(t, err, codes.InvalidArgument)
}

func TestBackorderService_QueryAndCounts(t *testing.T) {
	env := newTestServer(t)
	ctx := context.Background()
	a := env.create(t, "a", "c1", 2)
	env.create(t, "b", "c1", 2)
	env.create(t, "c", "c2", 2)

	page, err := env.client.QueryRecords(ctx, &backorderv1.QueryRecordsRequest{Criteria: backorderv1.Criteria{CustomerID: "c1", PageSize: 1}})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.Equal(t, int32(2), page.TotalCount)
	require.True(t, page.HasMore)

	page, err = env.client.QueryRecords(ctx, &backorderv1.QueryRecordsRequest{Criteria: backorderv1.Criteria{CustomerID: "c1", PageSize: 1, Page: 1}})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.False(t, page.HasMore)

	search, err := env.client.QueryRecords(ctx, &backorderv1.QueryRecordsRequest{Criteria: backorderv1.Criteria{Search: "  BOB "}})
	require.NoError(t, err)
	require.Len(t, search.Records, 1)
	require.Equal(t, "c2", search.Records[0].CustomerID)

	counts, err := env.client.CountByStatus(ctx, &backorderv1.CountByStatusRequest{Criteria: backorderv1.Criteria{Status: "completed"}})
	require.NoError(t, err)
	require.Equal(t, int32(3), counts.Counts["pending"])
	require.Equal(t, int32(0), counts.Counts["completed"])
	require.Equal(t, int32(3), counts.Total)
	require.Equal(t, 1, env.counts.Len())

	_, err = env.client.ProcessDelivery(idemCtx("deliver"), &backorderv1.QuantityRequest{RecordID: a.ID, Quantity: 2})
	require.NoError(t, err)
	require.Equal(t, 0, env.counts.Len())

	counts, err = env.client.CountByStatus(ctx, &backorderv1.CountByStatusRequest{})
	require.NoError(t, err)
	require.Equal(t, int32(2), counts.Counts["pending"])
	require.Equal(t, int32(1), counts.Counts["completed"])
}

func TestBackorderService_InvalidCriteria(t *testing.T) {
	env := newTestServer(t)
	ctx := context.Background()

	_, err := env.client.QueryRecords(ctx, &backorderv1.QueryRecordsRequest{Criteria: backorderv1.Criteria{Status: "lost"}})
	requireCode(t, err, codes.InvalidArgument)

	_, err = env.client.CountRecords(ctx, &backorderv1.CountRecordsRequest{Criteria: backorderv1.Criteria{DatePreset: "yesterday"}})
	requireCode(t, err, codes.InvalidArgument)

	_, err = env.client.QueryRecords(ctx, &backorderv1.QueryRecordsRequest{Criteria: backorderv1.Criteria{Page: -1}})
	requireCode(t, err, codes.InvalidArgument)
}

func TestBackorderService_ReferenceLists(t *testing.T) {
	env := newTestServer(t)
	ctx := context.Background()

	customers, err := env.client.ListCustomers(ctx, &backorderv1.ListCustomersRequest{})
	require.NoError(t, err)
	require.Len(t, customers.Customers, 2)

	products, err := env.client.ListProducts(ctx, &backorderv1.ListProductsRequest{})
	require.NoError(t, err)
	require.Len(t, products.Products, 1)
	require.Equal(t, "WC-1", products.Products[0].SKU)
}
