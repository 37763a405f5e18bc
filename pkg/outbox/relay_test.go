package outbox

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	batch   []Event
	lockErr error
	sent    []int64
	failed  map[int64]string
}

func (s *stubStore) LockBatch(_ context.Context, _ string, _ int, _ time.Duration) ([]Event, error) {
	if s.lockErr != nil {
		return nil, s.lockErr
	}
	batch := s.batch
	s.batch = nil
	return batch, nil
}

func (s *stubStore) MarkSent(_ context.Context, ids []int64) error {
	s.sent = append(s.sent, ids...)
	return nil
}

func (s *stubStore) MarkFailed(_ context.Context, id int64, errMsg string) error {
	if s.failed == nil {
		s.failed = make(map[int64]string)
	}
	s.failed[id] = errMsg
	return nil
}

func (s *stubStore) ExtendLease(_ context.Context, _ string, _ []int64, _ time.Duration) error {
	return nil
}

type stubProducer struct {
	msgs    []kafka.Message
	failKey string
}

func (p *stubProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		if string(m.Key) == p.failKey {
			return errors.New("broker unreachable")
		}
		p.msgs = append(p.msgs, m)
	}
	return nil
}

func newTestRelay(store Store, producer Producer) *Relay {
	log := slog.New(slog.DiscardHandler)
	return NewRelay(log, store, NewDispatcher(log, producer, "order.events"), "relay-test")
}

func event(id int64, aggregateID, eventType string) Event {
	return Event{
		ID:            id,
		AggregateType: "order",
		AggregateID:   aggregateID,
		Type:          eventType,
		Payload:       []byte(`{"orderId":"` + aggregateID + `"}`),
		Traceparent:   "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01",
		Status:        StatusInProgress,
	}
}

func TestDrainDispatchesAndMarksSent(t *testing.T) {
	store := &stubStore{batch: []Event{
		event(1, "o-1", "OrderCreated"),
		event(2, "o-1", "OrderStatusChanged"),
	}}
	producer := &stubProducer{}
	r := newTestRelay(store, producer)

	r.drain(context.Background())

	assert.Equal(t, []int64{1, 2}, store.sent)
	assert.Empty(t, store.failed)

	require.Len(t, producer.msgs, 2)
	msg := producer.msgs[0]
	assert.Equal(t, "order.events", msg.Topic)
	assert.Equal(t, "o-1", string(msg.Key))
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "OrderCreated", headers["event_type"])
	assert.Equal(t, "order", headers["aggregate_type"])
	assert.NotEmpty(t, headers["traceparent"])
}

// A broker failure on one event marks only that event failed; the rest
// of the batch still goes out.
func TestDrainMarksFailedAndKeepsGoing(t *testing.T) {
	store := &stubStore{batch: []Event{
		event(1, "o-bad", "OrderCreated"),
		event(2, "o-2", "OrderCreated"),
	}}
	producer := &stubProducer{failKey: "o-bad"}
	r := newTestRelay(store, producer)

	r.drain(context.Background())

	assert.Equal(t, []int64{2}, store.sent)
	require.Contains(t, store.failed, int64(1))
	assert.Contains(t, store.failed[1], "broker unreachable")
}

func TestDrainEmptyBatchIsQuiet(t *testing.T) {
	store := &stubStore{}
	producer := &stubProducer{}
	r := newTestRelay(store, producer)

	r.drain(context.Background())

	assert.Empty(t, store.sent)
	assert.Empty(t, producer.msgs)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := &stubStore{}
	r := newTestRelay(store, &stubProducer{})
	r.interval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop on context cancellation")
	}
}
