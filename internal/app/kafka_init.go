package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
	"github.com/vladislavdragonenkov/backorders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/backorders/internal/notify"
)

const changeFeedMaxRetries = 3

// initKafkaProducer создаёт producer, если заданы брокеры.
// Ошибка подключения не фатальна: сервис продолжает работу, outbox публикуется в лог.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// outboxPublishers выбирает, куда outbox-воркер отправляет события аудита и DLQ.
func outboxPublishers(producer *kafka.Producer, cfg Config, logger *log.Entry) (publisher, dlq domain.OutboxPublisher) {
	if producer == nil {
		return logPublisher{logger: logger.WithField("sink", "audit")}, nil
	}
	return kafka.NewOutboxPublisher(producer, cfg.KafkaAuditTopic), kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)
}

// initChangeFeed подписывает процесс на события аудита всех реплик: каждое событие
// публикуется в локальную шину и сбрасывает кэш счётчиков.
func initChangeFeed(ctx context.Context, cfg Config, producer *kafka.Producer, bus notify.Publisher, logger *log.Entry) (*kafka.Consumer, error) {
	if !cfg.KafkaChangeFeed || len(cfg.KafkaBrokers) == 0 {
		return nil, nil
	}

	consumer, err := kafka.NewConsumerWithDLQ(
		cfg.KafkaBrokers,
		cfg.KafkaConsumerGroup,
		[]string{cfg.KafkaAuditTopic},
		kafka.NewChangeFeedHandler(bus, logger.WithField("layer", "change-feed")),
		producer,
		changeFeedMaxRetries,
	)
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		_ = consumer.Stop()
		return nil, err
	}
	return consumer, nil
}

// closeKafkaProducer закрывает Kafka producer если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

func stopConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}

// logPublisher пишет события outbox в лог, когда Kafka не настроена.
type logPublisher struct {
	logger *log.Entry
}

func (p logPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"aggregate_id": msg.AggregateID,
		"event_type":   msg.EventType,
		"payload":      string(msg.Payload),
	}).Info("audit event")
	return nil
}
