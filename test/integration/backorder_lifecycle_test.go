package integration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/backorders/internal/cache"
	"github.com/vladislavdragonenkov/backorders/internal/domain"
	"github.com/vladislavdragonenkov/backorders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/backorders/internal/notify"
	"github.com/vladislavdragonenkov/backorders/internal/service/backorder"
	"github.com/vladislavdragonenkov/backorders/internal/service/dashboard"
	"github.com/vladislavdragonenkov/backorders/internal/service/listing"
	"github.com/vladislavdragonenkov/backorders/internal/service/outbox"
	"github.com/vladislavdragonenkov/backorders/internal/storage/memory"
)

// BackorderLifecycleTestSuite прогоняет запись через сервис, outbox, Kafka и экран списка.
type BackorderLifecycleTestSuite struct {
	suite.Suite

	logger    *log.Entry
	records   domain.RecordRepository
	customers domain.CustomerRepository
	products  domain.ProductRepository
	outbox    *memory.OutboxRepository
	bus       *notify.Bus
	service   *backorder.Service
}

func (s *BackorderLifecycleTestSuite) SetupTest() {
	base := log.New()
	base.SetLevel(log.WarnLevel)
	s.logger = base.WithField("component", "integration-test")

	ctx := context.Background()
	s.customers = memory.NewCustomerRepository()
	s.products = memory.NewProductRepository()
	s.Require().NoError(s.customers.Create(ctx, domain.Customer{ID: "c1", Name: "Alice", Address: "Main st 1"}))
	s.Require().NoError(s.customers.Create(ctx, domain.Customer{ID: "c2", Name: "Bob", Address: "Side st 2"}))
	s.Require().NoError(s.products.Create(ctx, domain.Product{ID: "p1", Name: "Winter coat", SKU: "WC-1"}))

	s.records = memory.NewRecordRepository(s.customers, s.products)
	s.outbox = memory.NewOutboxRepository()
	s.bus = notify.NewBus(s.logger)
	s.service = backorder.New(s.records, s.customers, s.products, memory.NewAuditLogRepository(),
		backorder.WithOutbox(s.outbox),
		backorder.WithChanges(s.bus),
		backorder.WithLogger(s.logger),
	)
}

func (s *BackorderLifecycleTestSuite) TearDownTest() {
	s.bus.Close()
}

func (s *BackorderLifecycleTestSuite) create(customerID string, qty int) domain.Record {
	rec, err := s.service.CreateRecord(context.Background(), backorder.CreateInput{
		CustomerID: customerID,
		ProductID:  "p1",
		Quantity:   qty,
		OperatorID: "op-1",
	})
	s.Require().NoError(err)
	return rec
}

func (s *BackorderLifecycleTestSuite) TestDeliveryLifecyclePublishesAuditEvents() {
	ctx := context.Background()
	rec := s.create("c1", 3)

	partial, err := s.service.ProcessDelivery(ctx, backorder.QuantityInput{RecordID: rec.ID, Quantity: 1, Notes: "first box"})
	s.Require().NoError(err)
	s.Equal(domain.RecordStatusPending, partial.Status)
	s.True(partial.HasPartialDelivery())

	done, err := s.service.ProcessDelivery(ctx, backorder.QuantityInput{RecordID: rec.ID, Quantity: 2})
	s.Require().NoError(err)
	s.Equal(domain.RecordStatusCompleted, done.Status)
	s.NotNil(done.ActualCompletionDate)
	s.Equal("first box", done.Notes)

	_, err = s.service.ProcessReturn(ctx, backorder.QuantityInput{RecordID: rec.ID, Quantity: 1})
	s.ErrorIs(err, domain.ErrRecordNotPending)

	details, err := s.service.GetRecord(ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal("Alice", details.View.CustomerName)
	s.Len(details.Audit, 3)

	producer := mocks.NewSyncProducer(s.T(), nil)
	var (
		mu       sync.Mutex
		messages [][]byte
	)
	for i := 0; i < 3; i++ {
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			mu.Lock()
			defer mu.Unlock()
			messages = append(messages, append([]byte(nil), val...))
			return nil
		})
	}
	publisher := kafka.NewOutboxPublisher(kafka.NewProducerFrom(producer, s.logger), kafka.TopicAuditEvents)
	worker := outbox.NewWorker(s.outbox, publisher, outbox.WithLogger(s.logger))

	res := worker.ProcessOnce(ctx)
	s.Equal(3, res.Sent)
	s.Equal(0, res.Failed)
	s.Empty(s.outbox.AllPending())
	s.Require().NoError(producer.Close())

	// Другой экземпляр сервиса получает те же события из Kafka и будит свои списки.
	remote := notify.NewBus(s.logger)
	defer remote.Close()
	sub := remote.Subscribe()
	defer sub.Unsubscribe()

	handler := kafka.NewChangeFeedHandler(remote, s.logger)
	for i, value := range messages {
		s.Require().NoError(handler(ctx, &sarama.ConsumerMessage{Topic: kafka.TopicAuditEvents, Offset: int64(i), Value: value}))
	}

	var actions []domain.AuditAction
	for range messages {
		select {
		case change := <-sub.C():
			s.Equal(rec.ID, change.RecordID)
			actions = append(actions, change.Action)
		case <-time.After(time.Second):
			s.FailNow("change feed did not deliver")
		}
	}
	s.Equal([]domain.AuditAction{domain.AuditActionCreated, domain.AuditActionDelivered, domain.AuditActionDelivered}, actions)

	var envelope kafka.AuditEnvelope
	s.Require().NoError(json.Unmarshal(messages[2], &envelope))
	s.Equal(domain.RecordAuditAggregate, envelope.AggregateType)
	s.Equal(rec.ID, envelope.Key())
}

func (s *BackorderLifecycleTestSuite) TestReturnClosesRecordWithRemainder() {
	ctx := context.Background()
	rec := s.create("c2", 5)

	_, err := s.service.ProcessDelivery(ctx, backorder.QuantityInput{RecordID: rec.ID, Quantity: 2})
	s.Require().NoError(err)

	_, err = s.service.ProcessReturn(ctx, backorder.QuantityInput{RecordID: rec.ID, Quantity: 4})
	s.ErrorIs(err, domain.ErrQuantityExceedsRemaining)

	returned, err := s.service.ProcessReturn(ctx, backorder.QuantityInput{RecordID: rec.ID, Quantity: 1, Notes: "customer left"})
	s.Require().NoError(err)
	s.Equal(domain.RecordStatusReturned, returned.Status)
	s.Equal(2, returned.DeliveredQuantity)
	s.Equal(1, returned.ReturnedQuantity)
	s.NotNil(returned.ReturnDate)
	s.Empty(returned.CheckInvariants())
}

func (s *BackorderLifecycleTestSuite) TestBatchRowsFailIndependently() {
	ctx := context.Background()
	a := s.create("c1", 1)
	b := s.create("c2", 2)

	res := s.service.ProcessDeliveryBatch(ctx, backorder.BatchInput{
		OperatorID: "op-2",
		Items: []backorder.BatchItem{
			{RecordID: a.ID, Quantity: 1},
			{RecordID: "missing", Quantity: 1},
			{RecordID: b.ID, Quantity: 3},
			{RecordID: b.ID, Quantity: 2},
		},
	})
	s.Equal(2, res.Succeeded)
	s.Equal(2, res.Failed)
	s.Require().Len(res.Items, 4)
	s.True(res.Items[0].OK())
	s.ErrorIs(res.Items[1].Err, domain.ErrRecordNotFound)
	s.ErrorIs(res.Items[2].Err, domain.ErrQuantityExceedsRemaining)
	s.Equal(domain.RecordStatusCompleted, res.Items[3].Record.Status)
}

func (s *BackorderLifecycleTestSuite) TestDashboardFollowsMutations() {
	ctx := context.Background()
	rec := s.create("c1", 2)
	s.create("c2", 1)

	pager := listing.NewPaginator(s.records, s.customers, s.products,
		listing.WithCountsCache(cache.NewMemoryStatusCountCache(time.Minute)),
		listing.WithLogger(s.logger),
	)
	ctrl := dashboard.NewController(pager,
		dashboard.WithChangeBus(s.bus),
		dashboard.WithSearchDelay(5*time.Millisecond),
		dashboard.WithChangeDelay(5*time.Millisecond),
		dashboard.WithControllerLogger(s.logger),
	)
	defer ctrl.Close()
	ctrl.Start()

	s.waitFor(ctrl, func(v dashboard.ViewState) bool {
		return !v.Listing.IsLoading && v.Listing.TotalCount == 2 && v.Listing.StatusCounts[domain.RecordStatusPending] == 2
	})

	s.True(ctrl.Dispatch(dashboard.StatusTabTapped{Status: domain.RecordStatusCompleted}))
	s.waitFor(ctrl, func(v dashboard.ViewState) bool {
		return !v.Listing.IsLoading && v.Listing.Criteria.Status == domain.RecordStatusCompleted && v.Listing.TotalCount == 0
	})

	_, err := s.service.ProcessDelivery(ctx, backorder.QuantityInput{RecordID: rec.ID, Quantity: 2})
	s.Require().NoError(err)

	view := s.waitFor(ctrl, func(v dashboard.ViewState) bool {
		return !v.Listing.IsLoading && v.Listing.TotalCount == 1 && v.Listing.StatusCounts[domain.RecordStatusCompleted] == 1
	})
	s.Equal(rec.ID, view.Listing.Items[0].ID)
	s.Equal("Alice", view.Listing.Items[0].CustomerName)
	s.Equal(1, view.Listing.StatusCounts[domain.RecordStatusPending])

	s.True(ctrl.Dispatch(dashboard.SearchChanged{Text: "bob"}))
	view = s.waitFor(ctrl, func(v dashboard.ViewState) bool {
		return v.State.AppliedSearch == "bob" && !v.Listing.IsLoading && v.Listing.Criteria.Search == "bob"
	})
	s.Equal(dashboard.ModeFiltered, view.View.Mode)
	s.Equal(0, view.Listing.TotalCount, "completed tab has no records for Bob")
}

func (s *BackorderLifecycleTestSuite) waitFor(ctrl *dashboard.Controller, cond func(dashboard.ViewState) bool) dashboard.ViewState {
	var last dashboard.ViewState
	require.Eventually(s.T(), func() bool {
		last = ctrl.State()
		return cond(last)
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func TestBackorderLifecycle(t *testing.T) {
	suite.Run(t, new(BackorderLifecycleTestSuite))
}
