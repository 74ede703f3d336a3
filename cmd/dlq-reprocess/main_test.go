package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/erp/internal/domain"
	"github.com/vladislavdragonenkov/erp/internal/messaging/kafka"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func dlqMessage(t *testing.T, offset int64, aggregateType, originalTopic string) *sarama.ConsumerMessage {
	t.Helper()

	record, err := json.Marshal(map[string]any{
		"outbox_id":      "outbox-1",
		"aggregate_type": aggregateType,
		"aggregate_id":   "agg-1",
		"event_type":     "order.confirmed",
		"payload":        map[string]any{"status": "confirmed"},
		"publish_error":  "timeout",
	})
	require.NoError(t, err)

	value, err := json.Marshal(kafka.Envelope{
		ID:            "outbox-1",
		AggregateType: aggregateType,
		AggregateID:   "agg-1",
		EventType:     "order.confirmed",
		Payload:       record,
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)

	msg := &sarama.ConsumerMessage{Topic: kafka.TopicDeadLetterQueue, Offset: offset, Value: value}
	if originalTopic != "" {
		msg.Headers = []*sarama.RecordHeader{{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte(originalTopic)}}
	}
	return msg
}

func TestExtractReplayMessage_RestoresOriginalEvent(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	got, err := extractReplayMessage(dlqMessage(t, 0, domain.AggregateOrder, kafka.TopicOrderEvents), "", now)
	require.NoError(t, err)

	assert.Equal(t, kafka.TopicOrderEvents, got.topic)
	assert.Equal(t, "agg-1", got.key)
	assert.Equal(t, "order.confirmed", got.headers[kafka.HeaderEventType])
	assert.Equal(t, "outbox-1", got.headers[kafka.HeaderOutboxID])

	var env kafka.Envelope
	require.NoError(t, json.Unmarshal(got.value, &env))
	assert.JSONEq(t, `{"status":"confirmed"}`, string(env.Payload))
	assert.Equal(t, now, env.PublishedAt)
	assert.Equal(t, 2026, env.CreatedAt.Year())
}

func TestExtractReplayMessage_TopicResolution(t *testing.T) {
	now := time.Now().UTC()

	got, err := extractReplayMessage(dlqMessage(t, 0, domain.AggregateInventory, ""), "", now)
	require.NoError(t, err)
	assert.Equal(t, kafka.TopicInventoryEvents, got.topic, "falls back to aggregate routing")

	got, err = extractReplayMessage(dlqMessage(t, 0, domain.AggregateInventory, kafka.TopicInventoryEvents), "erp.replay", now)
	require.NoError(t, err)
	assert.Equal(t, "erp.replay", got.topic, "override wins")
}

func TestExtractReplayMessage_Rejects(t *testing.T) {
	now := time.Now()

	_, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte("not-json")}, "", now)
	require.ErrorIs(t, err, errNotOutboxRecord)

	_, err = extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(`{"id":"x","payload":"plain"}`)}, "", now)
	require.Error(t, err)

	_, err = extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(`{"id":"x","payload":{"outbox_id":"x"}}`)}, "", now)
	require.ErrorIs(t, err, errNotOutboxRecord)
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", " ", "b", "c"))
	assert.Empty(t, firstNonEmpty("", " "))
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]string{"-limit", "5", "-execute", "-from-newest", "-idle-timeout", "1s"}, func(key string) (string, bool) {
		if key == envKafkaBrokers {
			return " b1:9092, ,b2:9092 ", true
		}
		return "", false
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.brokers)
	assert.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
	assert.Empty(t, cfg.targetTopic)
	assert.Equal(t, 5, cfg.limit)
	assert.True(t, cfg.execute)
	assert.True(t, cfg.fromNewest)
	assert.Equal(t, time.Second, cfg.idleTimeout)
	assert.Equal(t, "execute", cfg.mode())
}

func TestParseConfig_ValidationErrors(t *testing.T) {
	noEnv := func(string) (string, bool) { return "", false }
	cases := map[string][]string{
		"no brokers":        {},
		"empty source":      {"-brokers", "b:9092", "-source-topic", " "},
		"target eq source":  {"-brokers", "b:9092", "-target-topic", kafka.TopicDeadLetterQueue},
		"zero limit":        {"-brokers", "b:9092", "-limit", "0"},
		"zero idle timeout": {"-brokers", "b:9092", "-idle-timeout", "0s"},
		"unknown flag":      {"-brokers", "b:9092", "-bogus"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseConfig(args, noEnv)
			require.Error(t, err)
		})
	}
}

func newReplayer(cfg config, client offsetClient, consumer partitionConsumerSource, sender replaySender) *replayer {
	return &replayer{cfg: cfg, client: client, consumer: consumer, sender: sender, logger: quietLogger()}
}

func baseConfig() config {
	return config{
		brokers:     []string{"b:9092"},
		sourceTopic: kafka.TopicDeadLetterQueue,
		limit:       10,
		idleTimeout: 200 * time.Millisecond,
	}
}

func TestReplayer_DryRunDoesNotSend(t *testing.T) {
	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{
			dlqMessage(t, 0, domain.AggregateOrder, kafka.TopicOrderEvents),
			{Offset: 1, Value: []byte("garbage")},
		}),
	}}

	stats, err := newReplayer(baseConfig(), client, source, nil).run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, replayStats{processed: 2, replayed: 1, skipped: 1}, stats)
}

func TestReplayer_ExecuteSendsThroughProducer(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != kafka.TopicInventoryEvents {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		return nil
	})
	producer := kafka.NewProducerFromSync(mock, quietLogger())
	defer func() { _ = producer.Close() }()

	cfg := baseConfig()
	cfg.execute = true
	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{dlqMessage(t, 0, domain.AggregateInventory, "")}),
	}}

	stats, err := newReplayer(cfg, client, source, producer).run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.replayed)
}

func TestReplayer_ExecuteSendFailureStops(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer := kafka.NewProducerFromSync(mock, quietLogger())
	defer func() { _ = producer.Close() }()

	cfg := baseConfig()
	cfg.execute = true
	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{dlqMessage(t, 0, domain.AggregateOrder, "")}),
	}}

	_, err := newReplayer(cfg, client, source, producer).run(context.Background())
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestReplayer_RespectsLimitAndFromNewest(t *testing.T) {
	cfg := baseConfig()
	cfg.limit = 1
	cfg.fromNewest = true
	client := &stubOffsetClient{partitions: []int32{1, 0}, offsets: map[int32]offsetRange{
		0: {oldest: 0, newest: 5},
		1: {oldest: 0, newest: 5},
	}}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{dlqMessage(t, 4, domain.AggregateOrder, "")}),
	}}

	stats, err := newReplayer(cfg, client, source, nil).run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.processed)
	require.Len(t, source.calls, 1)
	assert.Equal(t, consumeCall{partition: 0, offset: 4}, source.calls[0])
}

func TestReplayer_ErrorBranches(t *testing.T) {
	boom := errors.New("boom")

	_, err := newReplayer(baseConfig(), nil, nil, nil).run(context.Background())
	require.Error(t, err)

	cfg := baseConfig()
	cfg.execute = true
	_, err = newReplayer(cfg, &stubOffsetClient{}, &stubPartitionConsumerSource{}, nil).run(context.Background())
	require.Error(t, err)

	_, err = newReplayer(baseConfig(), &stubOffsetClient{partitionsErr: boom}, &stubPartitionConsumerSource{}, nil).run(context.Background())
	require.ErrorIs(t, err, boom)

	stats, err := newReplayer(baseConfig(), &stubOffsetClient{}, &stubPartitionConsumerSource{}, nil).run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.processed)

	client := &stubOffsetClient{partitions: []int32{0}, offsetErr: map[int32]error{0: boom}}
	_, err = newReplayer(baseConfig(), client, &stubPartitionConsumerSource{}, nil).run(context.Background())
	require.ErrorIs(t, err, boom)

	client = &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 3}}}
	_, err = newReplayer(baseConfig(), client, &stubPartitionConsumerSource{consumeErr: boom}, nil).run(context.Background())
	require.ErrorIs(t, err, boom)

	errCh := make(chan *sarama.ConsumerError, 1)
	errCh <- &sarama.ConsumerError{Topic: kafka.TopicDeadLetterQueue, Partition: 0, Err: boom}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: &stubPartitionConsumer{messages: make(chan *sarama.ConsumerMessage), errors: errCh},
	}}
	_, err = newReplayer(baseConfig(), client, source, nil).run(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestReplayer_IdleTimeoutAndContext(t *testing.T) {
	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 3}}}
	idle := &stubPartitionConsumer{messages: make(chan *sarama.ConsumerMessage), errors: make(chan *sarama.ConsumerError)}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: idle}}

	cfg := baseConfig()
	cfg.idleTimeout = 20 * time.Millisecond
	stats, err := newReplayer(cfg, client, source, nil).run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.processed)
	assert.True(t, idle.closed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg.idleTimeout = time.Minute
	_, err = newReplayer(cfg, client, source, nil).run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_UsesDependencies(t *testing.T) {
	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{dlqMessage(t, 0, domain.AggregateOrder, "")}),
	}}

	original := newDependencies
	t.Cleanup(func() { newDependencies = original })
	newDependencies = func(config, *log.Entry) (dependencies, error) {
		return dependencies{client: client, consumer: source}, nil
	}

	stats, err := run(context.Background(), baseConfig(), quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.replayed)
	assert.True(t, client.closed)
	assert.True(t, source.closed)

	newDependencies = func(config, *log.Entry) (dependencies, error) {
		return dependencies{}, errors.New("dial failed")
	}
	_, err = run(context.Background(), baseConfig(), quietLogger())
	require.EqualError(t, err, "dial failed")
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_REPROCESS_FAIL") == "1" {
		fail("boom %d", 1)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_REPROCESS_FAIL=1")
	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode())
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

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
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

func (s *stubPartitionConsumerSource) Close() error {
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
