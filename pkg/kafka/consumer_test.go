package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/channel-sync-service/pkg/cloudevents"
	"github.com/wms-platform/channel-sync-service/pkg/metrics"
	testhelpers "github.com/wms-platform/channel-sync-service/pkg/testing"
)

type fakeReader struct {
	messages chan kafka.Message
	commitFn func(msgs ...kafka.Message) error

	mu        sync.Mutex
	committed []kafka.Message
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{messages: make(chan kafka.Message, len(msgs)+1)}
	for _, m := range msgs {
		r.messages <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case msg, ok := <-r.messages:
		if !ok {
			return kafka.Message{}, io.EOF
		}
		return msg, nil
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	if r.commitFn != nil {
		if err := r.commitFn(msgs...); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) committedOffsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	offsets := make([]int64, 0, len(r.committed))
	for _, m := range r.committed {
		offsets = append(offsets, m.Offset)
	}
	return offsets
}

type fakeWriter struct {
	writeFn func(msgs ...kafka.Message) error

	mu      sync.Mutex
	written []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.writeFn != nil {
		if err := w.writeFn(msgs...); err != nil {
			return err
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.written...)
}

func testMessage(offset int64, value string) kafka.Message {
	return kafka.Message{
		Topic:     DefaultTopic,
		Partition: 0,
		Offset:    offset,
		Key:       []byte("TSHIRT-001"),
		Value:     []byte(value),
	}
}

// runUntilDrained runs the consumer until the reader is exhausted
func runUntilDrained(t *testing.T, c *Consumer, r *fakeReader) {
	t.Helper()
	close(r.messages)
	ctx, cancel := testhelpers.CreateTestContext(5 * time.Second)
	defer cancel()
	require.NoError(t, c.Start(ctx))
}

func TestConsumer_AckCommits(t *testing.T) {
	reader := newFakeReader(testMessage(1, `{}`), testMessage(2, `{}`))
	handled := 0
	handler := MessageHandlerFunc(func(ctx context.Context, msg kafka.Message) Disposition {
		handled++
		return Ack()
	})

	c := NewConsumer(DefaultConfig(), handler, nil, WithReader(reader))
	runUntilDrained(t, c, reader)

	assert.Equal(t, 2, handled)
	assert.Equal(t, []int64{1, 2}, reader.committedOffsets())
}

func TestConsumer_NackLeavesUncommitted(t *testing.T) {
	reader := newFakeReader(testMessage(7, `{}`))
	handler := MessageHandlerFunc(func(ctx context.Context, msg kafka.Message) Disposition {
		return Nack(errors.New("not now"))
	})

	c := NewConsumer(DefaultConfig(), handler, nil, WithReader(reader))
	runUntilDrained(t, c, reader)

	assert.Empty(t, reader.committedOffsets())
}

func TestConsumer_DeadLetterPublishesThenCommits(t *testing.T) {
	reader := newFakeReader(testMessage(3, `not-json`))
	writer := &fakeWriter{}
	producer := NewProducer(writer, DefaultDLQTopic, cloudevents.NewEventFactory(cloudevents.SourceChannelSync), nil)
	m := metrics.New(metrics.DefaultConfig("channel-sync-test"))

	handler := MessageHandlerFunc(func(ctx context.Context, msg kafka.Message) Disposition {
		return DeadLetter("decode", errors.New("invalid character 'o'"))
	})

	c := NewConsumer(DefaultConfig(), handler, nil,
		WithReader(reader),
		WithDeadLetterPublisher(producer),
		WithMetrics(m),
	)
	runUntilDrained(t, c, reader)

	written := writer.messages()
	require.Len(t, written, 1)
	assert.Equal(t, cloudevents.InventoryDeadLettered, Header(written[0], HeaderType))
	assert.Equal(t, cloudevents.SourceChannelSync, Header(written[0], HeaderSource))
	assert.NotEmpty(t, Header(written[0], HeaderCorrelationID))

	var envelope struct {
		SpecVersion string                     `json:"specversion"`
		Type        string                     `json:"type"`
		Data        cloudevents.DeadLetterData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(written[0].Value, &envelope))
	assert.Equal(t, "1.0", envelope.SpecVersion)
	assert.Equal(t, "decode", envelope.Data.Reason)
	assert.Equal(t, int64(3), envelope.Data.Offset)
	assert.Equal(t, DefaultTopic, envelope.Data.Topic)
	assert.Equal(t, []byte("not-json"), envelope.Data.Payload)

	assert.Equal(t, []int64{3}, reader.committedOffsets())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KafkaMessagesDeadLetter.WithLabelValues("channel-sync-test", DefaultTopic, "decode", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KafkaMessagesConsumed.WithLabelValues("channel-sync-test", DefaultTopic, "dead-letter")))
}

func TestConsumer_DeadLetterPublishFailureLeavesUncommitted(t *testing.T) {
	reader := newFakeReader(testMessage(4, `{}`))
	writer := &fakeWriter{writeFn: func(msgs ...kafka.Message) error {
		return errors.New("broker unavailable")
	}}
	producer := NewProducer(writer, DefaultDLQTopic, cloudevents.NewEventFactory(cloudevents.SourceChannelSync), nil)
	logger, capture := testhelpers.NewCapturedLogger("channel-sync-test")

	handler := MessageHandlerFunc(func(ctx context.Context, msg kafka.Message) Disposition {
		return DeadLetter("sync_failed", errors.New("Shopify down"))
	})

	c := NewConsumer(DefaultConfig(), handler, logger, WithReader(reader), WithDeadLetterPublisher(producer))
	runUntilDrained(t, c, reader)

	assert.Empty(t, reader.committedOffsets())
	assert.Len(t, capture.EntriesWithMessage(t, "Dead-letter publish failed, message left uncommitted"), 1)
}

func TestConsumer_DeadLetterWithoutPublisherLeavesUncommitted(t *testing.T) {
	reader := newFakeReader(testMessage(5, `{}`))
	handler := MessageHandlerFunc(func(ctx context.Context, msg kafka.Message) Disposition {
		return DeadLetter("decode", errors.New("bad"))
	})

	c := NewConsumer(DefaultConfig(), handler, nil, WithReader(reader))
	runUntilDrained(t, c, reader)

	assert.Empty(t, reader.committedOffsets())
}

func TestConsumer_HandlerPanicIsRecovered(t *testing.T) {
	reader := newFakeReader(testMessage(1, `{}`), testMessage(2, `{}`))
	handler := MessageHandlerFunc(func(ctx context.Context, msg kafka.Message) Disposition {
		if msg.Offset == 1 {
			panic("boom")
		}
		return Ack()
	})

	c := NewConsumer(DefaultConfig(), handler, nil, WithReader(reader))
	runUntilDrained(t, c, reader)

	assert.Equal(t, []int64{2}, reader.committedOffsets())
}

func TestConsumer_CorrelationIDFromHeaders(t *testing.T) {
	msg := testMessage(1, `{}`)
	msg.Headers = []kafka.Header{{Key: "X-Correlation-ID", Value: []byte("corr-123")}}

	var seen string
	reader := newFakeReader(msg)
	handler := MessageHandlerFunc(func(ctx context.Context, msg kafka.Message) Disposition {
		seen = CorrelationID(msg)
		return Ack()
	})

	c := NewConsumer(DefaultConfig(), handler, nil, WithReader(reader))
	runUntilDrained(t, c, reader)

	assert.Equal(t, "corr-123", seen)
}

func TestConsumer_StopsOnContextCancel(t *testing.T) {
	reader := newFakeReader()
	c := NewConsumer(DefaultConfig(), MessageHandlerFunc(func(ctx context.Context, msg kafka.Message) Disposition {
		return Ack()
	}), nil, WithReader(reader))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	testhelpers.AssertEventually(t, c.Running, time.Second, "consumer should start")
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.False(t, c.Running())
	require.NoError(t, c.Close())
	assert.True(t, reader.closed)
}

func TestConsumer_InFlightMessageFinishesAfterShutdown(t *testing.T) {
	reader := newFakeReader(testMessage(7, `{}`))
	entered := make(chan struct{})
	release := make(chan struct{})
	var handlerErr error
	c := NewConsumer(DefaultConfig(), MessageHandlerFunc(func(ctx context.Context, msg kafka.Message) Disposition {
		close(entered)
		<-release
		handlerErr = ctx.Err()
		return Ack()
	}), nil, WithReader(reader))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	<-entered
	cancel()
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.NoError(t, handlerErr)
	assert.Equal(t, []int64{7}, reader.committedOffsets())
}

func TestDispositionKind_String(t *testing.T) {
	assert.Equal(t, "ack", DispositionAck.String())
	assert.Equal(t, "nack", DispositionNack.String())
	assert.Equal(t, "dead-letter", DispositionDeadLetter.String())
}
