package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var envelope AuditEnvelope
		if err := json.Unmarshal(val, &envelope); err != nil {
			return err
		}
		if envelope.AggregateID != "rec-123" || envelope.EventType != domain.EventRecordDelivered || envelope.AggregateVersion != 4 {
			return fmt.Errorf("unexpected envelope %+v", envelope)
		}
		if string(envelope.Payload) != `{"record_id":"rec-123","quantity":2}` {
			return fmt.Errorf("payload must be embedded as is, got %s", envelope.Payload)
		}
		return nil
	})

	producer := &Producer{producer: mockProducer, logger: log.WithField("component", "kafka-outbox-publisher-test")}
	publisher := NewOutboxPublisher(producer, "")
	publisher.now = func() time.Time { return time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC) }

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:               "outbox-1",
		AggregateType:    domain.RecordAuditAggregate,
		AggregateID:      "rec-123",
		AggregateVersion: 4,
		EventType:        domain.EventRecordDelivered,
		Payload:          []byte(`{"record_id":"rec-123","quantity":2}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if publisher.topic != TopicAuditEvents {
		t.Fatalf("empty topic must fall back to %s, got %s", TopicAuditEvents, publisher.topic)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := &Producer{producer: mockProducer, logger: log.WithField("component", "kafka-outbox-publisher-test")}
	publisher := NewOutboxPublisher(producer, TopicAuditEvents)

	err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-2", AggregateID: "rec-234", Payload: []byte(`{}`)})
	if err == nil {
		t.Fatal("expected publish error, got nil")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicAuditEvents)
	if err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}

func TestOutboxPublisher_PublishCanceled(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	publisher := NewOutboxPublisher(&Producer{producer: mockProducer, logger: log.WithField("test", "canceled")}, TopicAuditEvents)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := publisher.Publish(ctx, domain.OutboxMessage{ID: "outbox-4", Payload: []byte(`{}`)}); err == nil {
		t.Fatal("expected context error")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}
