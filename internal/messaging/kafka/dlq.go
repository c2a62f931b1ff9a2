package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotReplayable: сообщение DLQ не содержит исходного события.
var ErrNotReplayable = errors.New("dlq message is not replayable")

// ConsumerDeadLetter: сообщение, которое consumer не смог обработать.
type ConsumerDeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
	RetryCount        int       `json:"retry_count"`
}

// Marshal сериализует письмо.
func (l ConsumerDeadLetter) Marshal() ([]byte, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal dlq message: %w", err)
	}
	return data, nil
}

// outboxDeadLetter: тело, которое outbox worker кладёт в payload обёртки.
type outboxDeadLetter struct {
	OutboxID         string          `json:"outbox_id"`
	AggregateType    string          `json:"aggregate_type"`
	AggregateID      string          `json:"aggregate_id"`
	AggregateVersion int64           `json:"aggregate_version"`
	EventType        string          `json:"event_type"`
	Payload          json.RawMessage `json:"payload"`
}

// Replay: сообщение, готовое к повторной публикации.
type Replay struct {
	Topic string
	Key   string
	Value []byte
}

// ExtractReplay восстанавливает исходное сообщение из DLQ. Поддерживаются письма consumer
// и письма outbox worker; для вторых топик — defaultTopic.
func ExtractReplay(value []byte, defaultTopic string, now time.Time) (Replay, error) {
	var consumerLetter ConsumerDeadLetter
	if err := json.Unmarshal(value, &consumerLetter); err == nil && consumerLetter.OriginalValue != "" {
		topic := strings.TrimSpace(consumerLetter.OriginalTopic)
		if topic == "" {
			topic = defaultTopic
		}
		return Replay{Topic: topic, Key: consumerLetter.OriginalKey, Value: []byte(consumerLetter.OriginalValue)}, nil
	}

	var envelope AuditEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return Replay{}, ErrNotReplayable
	}

	var letter outboxDeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return Replay{}, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(letter.Payload) == 0 {
		return Replay{}, fmt.Errorf("%w: outbox letter has no original payload", ErrNotReplayable)
	}

	replay := AuditEnvelope{
		ID:               firstNonEmpty(letter.OutboxID, envelope.ID),
		AggregateType:    firstNonEmpty(letter.AggregateType, envelope.AggregateType),
		AggregateID:      firstNonEmpty(letter.AggregateID, envelope.AggregateID),
		AggregateVersion: letter.AggregateVersion,
		EventType:        firstNonEmpty(letter.EventType, envelope.EventType),
		Payload:          letter.Payload,
		PublishedAt:      now.UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return Replay{}, fmt.Errorf("encode replay envelope: %w", err)
	}
	return Replay{Topic: defaultTopic, Key: replay.Key(), Value: encoded}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
