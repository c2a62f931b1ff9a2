package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

const consumerLetter = `{"original_topic":"backorders.audit.events","original_key":"rec-1","original_value":"{\"id\":\"evt-1\"}"}`

func TestReplayConfigValidate(t *testing.T) {
	valid := replayConfig{brokers: []string{"localhost:9092"}, sourceTopic: "dlq", targetTopic: "audit", limit: 1, idleTimeout: time.Second}
	if err := valid.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*replayConfig)
	}{
		{"no brokers", func(c *replayConfig) { c.brokers = nil }},
		{"no source", func(c *replayConfig) { c.sourceTopic = " " }},
		{"no target", func(c *replayConfig) { c.targetTopic = "" }},
		{"zero limit", func(c *replayConfig) { c.limit = 0 }},
		{"zero idle", func(c *replayConfig) { c.idleTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSplitBrokers(t *testing.T) {
	got := splitBrokers(" a:1, ,b:2,")
	if len(got) != 2 || got[0] != "a:1" || got[1] != "b:2" {
		t.Fatalf("unexpected brokers: %v", got)
	}
	if got := splitBrokers(""); len(got) != 0 {
		t.Fatalf("expected no brokers, got %v", got)
	}
}

func TestReplayPartition_DryRun(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	source := &stubPartitionSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Offset: 0, Value: []byte(consumerLetter)}}),
	}}
	cfg := replayConfig{sourceTopic: "dlq", targetTopic: "audit", idleTimeout: 20 * time.Millisecond}

	stats, err := replayPartition(context.Background(), replayDeps{client: client, consumer: source}, cfg, 0, 10)
	if err != nil {
		t.Fatalf("replayPartition failed: %v", err)
	}
	if stats.processed != 1 || stats.replayed != 1 || stats.skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(source.calls) != 1 || source.calls[0].offset != 0 {
		t.Fatalf("unexpected consume calls: %+v", source.calls)
	}
}

func TestReplayPartition_ExecutePublishesOriginal(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
	source := &stubPartitionSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Offset: 0, Value: []byte(consumerLetter)}}),
	}}
	producer := &stubReplayProducer{}
	cfg := replayConfig{sourceTopic: "dlq", targetTopic: "audit", execute: true, idleTimeout: 20 * time.Millisecond}

	stats, err := replayPartition(context.Background(), replayDeps{client: client, consumer: source, producer: producer}, cfg, 0, 10)
	if err != nil {
		t.Fatalf("replayPartition failed: %v", err)
	}
	if stats.replayed != 1 || producer.calls != 1 {
		t.Fatalf("expected one replay, stats=%+v calls=%d", stats, producer.calls)
	}
	if producer.lastMsg.Topic != "backorders.audit.events" {
		t.Fatalf("expected original topic, got %s", producer.lastMsg.Topic)
	}
	key, _ := producer.lastMsg.Key.Encode()
	if string(key) != "rec-1" {
		t.Fatalf("expected original key, got %s", key)
	}
}

func TestReplayPartition_FromNewestStartsAtTail(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 10}}}
	source := &stubPartitionSource{consumers: map[int32]partitionConsumer{0: closedPartitionConsumer(nil)}}
	cfg := replayConfig{sourceTopic: "dlq", targetTopic: "audit", fromNewest: true, idleTimeout: 20 * time.Millisecond}

	if _, err := replayPartition(context.Background(), replayDeps{client: client, consumer: source}, cfg, 0, 3); err != nil {
		t.Fatalf("replayPartition failed: %v", err)
	}
	if len(source.calls) != 1 || source.calls[0].offset != 7 {
		t.Fatalf("expected start offset 7, got %+v", source.calls)
	}
}

func TestReplayPartition_EmptyPartitionIsSkipped(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 5, newest: 5}}}
	source := &stubPartitionSource{}
	cfg := replayConfig{sourceTopic: "dlq", targetTopic: "audit", idleTimeout: 20 * time.Millisecond}

	stats, err := replayPartition(context.Background(), replayDeps{client: client, consumer: source}, cfg, 0, 3)
	if err != nil || stats.processed != 0 || len(source.calls) != 0 {
		t.Fatalf("expected no-op, stats=%+v err=%v calls=%d", stats, err, len(source.calls))
	}
}

func TestReplayPartition_ErrorBranches(t *testing.T) {
	cfg := replayConfig{sourceTopic: "dlq", targetTopic: "audit", execute: true, idleTimeout: 20 * time.Millisecond}
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}

	offsetErr := &stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}
	if _, err := replayPartition(context.Background(), replayDeps{client: offsetErr, consumer: &stubPartitionSource{}, producer: &stubReplayProducer{}}, cfg, 0, 1); err == nil {
		t.Fatal("expected offset error")
	}

	consumeErr := &stubPartitionSource{consumeErr: errors.New("consume")}
	if _, err := replayPartition(context.Background(), replayDeps{client: client, consumer: consumeErr, producer: &stubReplayProducer{}}, cfg, 0, 1); err == nil {
		t.Fatal("expected consume error")
	}

	pcWithErr := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	pcWithErr.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
	source := &stubPartitionSource{consumers: map[int32]partitionConsumer{0: pcWithErr}}
	if _, err := replayPartition(context.Background(), replayDeps{client: client, consumer: source, producer: &stubReplayProducer{}}, cfg, 0, 1); err == nil {
		t.Fatal("expected consumer error")
	}

	badPayload := closedPartitionConsumer([]*sarama.ConsumerMessage{{Offset: 0, Value: []byte(`{"id":"x","payload":"not-an-object"}`)}})
	source = &stubPartitionSource{consumers: map[int32]partitionConsumer{0: badPayload}}
	stats, err := replayPartition(context.Background(), replayDeps{client: client, consumer: source, producer: &stubReplayProducer{}}, cfg, 0, 1)
	if err != nil {
		t.Fatalf("unexpected bad-payload error: %v", err)
	}
	if stats.skipped != 1 || stats.replayed != 0 {
		t.Fatalf("expected skipped=1, got %+v", stats)
	}

	ok := closedPartitionConsumer([]*sarama.ConsumerMessage{{Offset: 0, Value: []byte(consumerLetter)}})
	source = &stubPartitionSource{consumers: map[int32]partitionConsumer{0: ok}}
	producer := &stubReplayProducer{sendErr: errors.New("send fail")}
	if _, err := replayPartition(context.Background(), replayDeps{client: client, consumer: source, producer: producer}, cfg, 0, 1); err == nil {
		t.Fatal("expected producer error")
	}
}

func TestReplayPartition_IdleTimeoutAndContext(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	cfg := replayConfig{sourceTopic: "dlq", targetTopic: "audit", idleTimeout: 10 * time.Millisecond}

	idle := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	source := &stubPartitionSource{consumers: map[int32]partitionConsumer{0: idle}}
	stats, err := replayPartition(context.Background(), replayDeps{client: client, consumer: source}, cfg, 0, 1)
	if err != nil || stats.processed != 0 {
		t.Fatalf("expected idle return, stats=%+v err=%v", stats, err)
	}
	if !idle.closed {
		t.Fatal("partition consumer must be closed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg.idleTimeout = time.Minute
	blocked := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	source = &stubPartitionSource{consumers: map[int32]partitionConsumer{0: blocked}}
	if _, err := replayPartition(ctx, replayDeps{client: client, consumer: source}, cfg, 0, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestRunReplay(t *testing.T) {
	cfg := replayConfig{sourceTopic: "dlq", targetTopic: "audit", limit: 1, idleTimeout: 20 * time.Millisecond}

	if _, err := runReplay(context.Background(), cfg, replayDeps{}); err == nil {
		t.Fatal("expected missing deps error")
	}
	execCfg := cfg
	execCfg.execute = true
	if _, err := runReplay(context.Background(), execCfg, replayDeps{client: &stubOffsetClient{}, consumer: &stubPartitionSource{}}); err == nil {
		t.Fatal("expected missing producer error")
	}
	if _, err := runReplay(context.Background(), cfg, replayDeps{client: &stubOffsetClient{partitionsErr: errors.New("meta")}, consumer: &stubPartitionSource{}}); err == nil {
		t.Fatal("expected partitions error")
	}

	client := &stubOffsetClient{
		partitions: []int32{2, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
			2: {oldest: 0, newest: 2},
		},
	}
	source := &stubPartitionSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: []byte(consumerLetter)}}),
		2: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 2, Offset: 0, Value: []byte(consumerLetter)}}),
	}}
	stats, err := runReplay(context.Background(), cfg, replayDeps{client: client, consumer: source})
	if err != nil {
		t.Fatalf("runReplay failed: %v", err)
	}
	if stats.processed != 1 {
		t.Fatalf("limit must stop after one message, got %+v", stats)
	}
	if len(source.calls) != 1 || source.calls[0].partition != 0 {
		t.Fatalf("expected partitions in ascending order, got %+v", source.calls)
	}
}

func TestDLQReplayCommandUsesDependencies(t *testing.T) {
	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
	source := &stubPartitionSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Offset: 0, Value: []byte(consumerLetter)}}),
	}}
	producer := &stubReplayProducer{}

	prev := newReplayDeps
	t.Cleanup(func() { newReplayDeps = prev })
	var got replayConfig
	newReplayDeps = func(cfg replayConfig) (replayDeps, error) {
		got = cfg
		return replayDeps{client: client, consumer: source, producer: producer}, nil
	}

	var out bytes.Buffer
	cmd := newCLI(&out, nil).rootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"dlq", "replay", "--brokers", "k1:9092, k2:9092", "--execute", "--idle-timeout", "20ms"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("dlq replay failed: %v", err)
	}
	if !strings.Contains(out.String(), "execute: processed=1 replayed=1 skipped=0") {
		t.Fatalf("unexpected output: %q", out.String())
	}
	if len(got.brokers) != 2 || got.sourceTopic != "backorders.dlq" || got.targetTopic != "backorders.audit.events" {
		t.Fatalf("unexpected config: %+v", got)
	}
	if !client.closed || !source.closed || !producer.closed {
		t.Fatal("dependencies must be closed")
	}

	newReplayDeps = func(replayConfig) (replayDeps, error) { return replayDeps{}, errors.New("dial") }
	cmd = newCLI(&out, nil).rootCommand()
	cmd.SetArgs([]string{"dlq", "replay", "--brokers", "k1:9092"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected dependency error")
	}
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}
	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	return &stubPartitionConsumer{messages: msgCh, errors: make(chan *sarama.ConsumerError)}
}

type stubReplayProducer struct {
	sendErr error
	calls   int
	closed  bool
	lastMsg *sarama.ProducerMessage
}

func (s *stubReplayProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	s.calls++
	s.lastMsg = msg
	if s.sendErr != nil {
		return 0, 0, s.sendErr
	}
	return 0, int64(s.calls), nil
}

func (s *stubReplayProducer) Close() error {
	s.closed = true
	return nil
}
