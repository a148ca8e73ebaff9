package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/email"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/events"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/order"
)

var quiet = log.New(io.Discard, "", 0)

// fakeReader hands out msgs in order, then reports a cancelled context.
type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		return kafka.Message{}, context.Canceled
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

// flakySender fails its first failures calls.
type flakySender struct {
	mu       sync.Mutex
	failures int
	calls    int
	sent     []string
}

func (s *flakySender) Send(to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("smtp: 451 try again later")
	}
	s.sent = append(s.sent, to)
	return nil
}

func eventMessage(t *testing.T, offset int64, eventType string) kafka.Message {
	t.Helper()
	val, err := json.Marshal(events.Envelope{
		EventType:    eventType,
		EventVersion: "v1",
		AggregateID:  "ord-1",
		Data: events.OrderEvent{
			OrderID:       "ord-1",
			CustomerEmail: "buyer@example.local",
			Status:        order.StatusWaitingApproval,
			TotalAmount:   150000,
		},
	})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: val}
}

func fastRetries(t *testing.T) {
	old := retryDelay
	retryDelay = time.Millisecond
	t.Cleanup(func() { retryDelay = old })
}

func TestRunCommitsHandledMessages(t *testing.T) {
	fastRetries(t)
	sender := &flakySender{}
	reader := &fakeReader{msgs: []kafka.Message{
		eventMessage(t, 1, events.EventOrderPaymentConfirmed),
		{Offset: 2, Value: []byte("not json")},
		eventMessage(t, 3, "OrderCreated"),
	}}

	err := run(context.Background(), reader, email.NewNotifier(sender, "", quiet), time.Second, quiet)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
	assert.Equal(t, []string{"buyer@example.local"}, sender.sent)
}

func TestRunRetriesTransientSendFailure(t *testing.T) {
	fastRetries(t)
	sender := &flakySender{failures: sendAttempts - 1}
	reader := &fakeReader{msgs: []kafka.Message{eventMessage(t, 7, events.EventOrderStatusChanged)}}

	err := run(context.Background(), reader, email.NewNotifier(sender, "", quiet), time.Second, quiet)
	require.NoError(t, err)

	assert.Equal(t, sendAttempts, sender.calls)
	assert.Equal(t, []int64{7}, reader.committed)
}

func TestRunLeavesFailedSendUncommitted(t *testing.T) {
	fastRetries(t)
	sender := &flakySender{failures: sendAttempts}
	reader := &fakeReader{msgs: []kafka.Message{
		eventMessage(t, 4, events.EventOrderPaymentConfirmed),
		eventMessage(t, 5, events.EventOrderPaymentConfirmed),
	}}

	err := run(context.Background(), reader, email.NewNotifier(sender, "", quiet), time.Second, quiet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offset 4 left uncommitted")

	assert.Empty(t, reader.committed)
	assert.Equal(t, sendAttempts, sender.calls)
	assert.Len(t, reader.msgs, 1, "worker stops before fetching past the failed message")
}

func TestRunStopsOnShutdown(t *testing.T) {
	sender := &flakySender{failures: sendAttempts}
	reader := &fakeReader{msgs: []kafka.Message{eventMessage(t, 9, events.EventOrderPaymentConfirmed)}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := run(ctx, reader, email.NewNotifier(sender, "", quiet), time.Second, quiet)
	require.NoError(t, err)
	assert.Empty(t, reader.committed)
}
