package mq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) Written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func msgAt(offset int64, value string) kafka.Message {
	return kafka.Message{Topic: "player", Partition: 2, Offset: offset, Key: []byte("k"), Value: []byte(value)}
}

func runConsumer(t *testing.T, c *Consumer) (cancel func()) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	return func() {
		cancelFn()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("consumer did not stop")
		}
	}
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestConsumer_CommitsAfterSuccess(t *testing.T) {
	reader := newFakeReader(msgAt(0, "a"), msgAt(1, "b"))
	var seen []string
	var mu sync.Mutex
	c := NewConsumer(reader, func(_ context.Context, msg kafka.Message) error {
		mu.Lock()
		seen = append(seen, string(msg.Value))
		mu.Unlock()
		return nil
	}, nil, ConsumerConfig{Name: "test", Topic: "player"})

	stop := runConsumer(t, c)
	require.Eventually(t, func() bool { return len(reader.Committed()) == 2 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, []int64{0, 1}, reader.Committed())
	mu.Lock()
	assert.Equal(t, []string{"a", "b"}, seen)
	mu.Unlock()
	assert.True(t, reader.closed)
}

func TestConsumer_RetriesTransientErrors(t *testing.T) {
	reader := newFakeReader(msgAt(7, "x"))
	dlt := &fakeWriter{}
	var calls int
	c := NewConsumer(reader, func(context.Context, kafka.Message) error {
		calls++
		if calls < 3 {
			return errors.New("store temporarily unavailable")
		}
		return nil
	}, NewFailureHandler(dlt), ConsumerConfig{Name: "test", Topic: "player", MaxAttempts: 3, Backoff: time.Millisecond})

	stop := runConsumer(t, c)
	require.Eventually(t, func() bool { return len(reader.Committed()) == 1 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, 3, calls)
	assert.Empty(t, dlt.Written())
}

func TestConsumer_PermanentErrorGoesToDeadLetter(t *testing.T) {
	reader := newFakeReader(msgAt(42, "{not json"))
	dlt := &fakeWriter{}
	var calls int
	c := NewConsumer(reader, func(context.Context, kafka.Message) error {
		calls++
		return Permanent(errors.New("malformed payload"))
	}, NewFailureHandler(dlt), ConsumerConfig{Name: "test", Topic: "player", MaxAttempts: 5, Backoff: time.Millisecond})

	stop := runConsumer(t, c)
	require.Eventually(t, func() bool { return len(reader.Committed()) == 1 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, 1, calls, "permanent errors are not retried")
	written := dlt.Written()
	require.Len(t, written, 1)
	assert.Equal(t, "{not json", string(written[0].Value))
	assert.Equal(t, "player", header(written[0], HeaderOriginalTopic))
	assert.Equal(t, "2", header(written[0], HeaderOriginalPartition))
	assert.Equal(t, "42", header(written[0], HeaderOriginalOffset))
	assert.Equal(t, "malformed payload", header(written[0], HeaderExceptionMessage))
	assert.NotEmpty(t, header(written[0], HeaderExceptionFqcn))
}

func TestConsumer_SkipsAfterRetriesWithoutFailureHandler(t *testing.T) {
	reader := newFakeReader(msgAt(3, "poison"), msgAt(4, "ok"))
	c := NewConsumer(reader, func(_ context.Context, msg kafka.Message) error {
		if string(msg.Value) == "poison" {
			return errors.New("boom")
		}
		return nil
	}, nil, ConsumerConfig{Name: "test", Topic: "player", MaxAttempts: 2, Backoff: time.Millisecond})

	stop := runConsumer(t, c)
	require.Eventually(t, func() bool { return len(reader.Committed()) == 2 }, time.Second, 5*time.Millisecond)
	stop()
	assert.Equal(t, []int64{3, 4}, reader.Committed())
}

func TestConsumer_DoesNotCommitWhenDeadLetterFails(t *testing.T) {
	reader := newFakeReader(msgAt(9, "poison"))
	dlt := &fakeWriter{err: errors.New("broker down")}
	c := NewConsumer(reader, func(context.Context, kafka.Message) error {
		return Permanent(errors.New("bad"))
	}, NewFailureHandler(dlt), ConsumerConfig{Name: "test", Topic: "player", Backoff: time.Millisecond})

	stop := runConsumer(t, c)
	time.Sleep(30 * time.Millisecond)
	stop()
	assert.Empty(t, reader.Committed())
}

func TestKafkaHeaderCarrier(t *testing.T) {
	carrier := KafkaHeaderCarrier{{Key: "a", Value: []byte("1")}}
	carrier.Set("a", "2")
	carrier.Set("b", "3")

	assert.Equal(t, "2", carrier.Get("a"))
	assert.Equal(t, "3", carrier.Get("b"))
	assert.Equal(t, "", carrier.Get("missing"))
	assert.ElementsMatch(t, []string{"a", "b"}, carrier.Keys())
}

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTraceContext(ctx, nil)
	require.NotEmpty(t, headers)

	extracted := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), headers))
	assert.Equal(t, traceID, extracted.TraceID())
	assert.True(t, extracted.IsRemote())
}
