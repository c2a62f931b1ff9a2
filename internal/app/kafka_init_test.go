package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	producer, err := initKafkaProducer(nil, log.WithField("test", "kafka"))
	if err != nil {
		t.Errorf("expected no error for empty brokers, got %v", err)
	}
	if producer != nil {
		t.Error("expected nil producer for empty brokers")
	}
}

func TestInitKafkaProducer_InvalidBrokers(t *testing.T) {
	producer, err := initKafkaProducer([]string{"invalid-broker:9999"}, log.WithField("test", "kafka"))
	if err == nil {
		t.Error("expected error for invalid brokers")
	}
	if producer != nil {
		t.Error("expected nil producer on error")
	}
}

func TestCloseKafkaProducer_Nil(_ *testing.T) {
	closeKafkaProducer(nil, log.WithField("test", "kafka"))
	stopConsumer(nil, log.WithField("test", "kafka"))
}

func TestOutboxPublishers_WithoutKafkaLogs(t *testing.T) {
	publisher, dlq := outboxPublishers(nil, DefaultConfig(), log.WithField("test", "kafka"))
	if dlq != nil {
		t.Fatal("expected no DLQ publisher without kafka")
	}
	if _, ok := publisher.(logPublisher); !ok {
		t.Fatalf("expected logPublisher, got %T", publisher)
	}

	err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "m1", AggregateID: "r1", EventType: "record.created", Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("log publish failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := publisher.Publish(ctx, domain.OutboxMessage{ID: "m2"}); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestInitChangeFeed_DisabledWithoutBrokers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KafkaChangeFeed = true

	consumer, err := initChangeFeed(context.Background(), cfg, nil, nil, log.WithField("test", "kafka"))
	if err != nil || consumer != nil {
		t.Fatalf("expected disabled change feed, got consumer=%v err=%v", consumer, err)
	}
}
