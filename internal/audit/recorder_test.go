package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-fulfillment/internal/aws"
)

type memSink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
	block   chan struct{}
}

func (m *memSink) Append(ctx context.Context, e Entry) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

type countingCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingCounter) Incr(_ context.Context, name string, _ map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[name]++
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestQueueRecorderDeliversEntries(t *testing.T) {
	sink := &memSink{}
	q := NewQueueRecorder(sink, 8, discardLogger(), nil)
	q.Start(context.Background())

	q.Record(context.Background(), Entry{Actor: "a", Action: ActionPaymentApproved, Category: CategoryPayment})
	q.Record(context.Background(), Entry{Actor: "b", Action: ActionPaymentRejected, Category: CategoryPayment})
	q.Close()

	require.Len(t, sink.entries, 2)
	assert.NotEmpty(t, sink.entries[0].EntryID)
	assert.False(t, sink.entries[0].CreatedAt.IsZero())
	assert.Equal(t, Stats{}, q.Stats())
}

func TestQueueRecorderDropsWhenFull(t *testing.T) {
	sink := &memSink{block: make(chan struct{})}
	counter := &countingCounter{}
	q := NewQueueRecorder(sink, 1, discardLogger(), counter)

	// not started: the channel holds one entry, the rest are dropped
	q.Record(context.Background(), Entry{Action: ActionPaymentApproved})
	q.Record(context.Background(), Entry{Action: ActionPaymentApproved})
	q.Record(context.Background(), Entry{Action: ActionPaymentApproved})

	assert.Equal(t, int64(2), q.Stats().Dropped)
	assert.Equal(t, 2, counter.counts["AuditDropped"])

	close(sink.block)
	q.Start(context.Background())
	q.Close()
	assert.Len(t, sink.entries, 1)
}

func TestQueueRecorderSwallowsSinkErrors(t *testing.T) {
	sink := &memSink{err: errors.New("throttled")}
	q := NewQueueRecorder(sink, 4, discardLogger(), nil)
	q.Start(context.Background())

	q.Record(context.Background(), Entry{Action: ActionShipmentCreated})
	q.Close()

	assert.Equal(t, int64(1), q.Stats().Failed)
}

func TestRecordAfterCloseIsDropped(t *testing.T) {
	q := NewQueueRecorder(&memSink{}, 4, discardLogger(), nil)
	q.Start(context.Background())
	q.Close()
	q.Close()

	q.Record(context.Background(), Entry{Action: ActionShipmentCreated})
	assert.Equal(t, int64(1), q.Stats().Dropped)
}

type capturePublisher struct {
	msg aws.Message
}

func (c *capturePublisher) Publish(_ context.Context, m aws.Message) error {
	c.msg = m
	return nil
}

func TestSQSSinkRoundTrip(t *testing.T) {
	pub := &capturePublisher{}
	e := Entry{EntryID: "e-1", Actor: "admin", Action: ActionOfferAccepted, Category: CategoryShipping, OrderNumber: "1001"}

	require.NoError(t, NewSQSSink(pub).Append(context.Background(), e))
	assert.Equal(t, "e-1", pub.msg.Attributes["entry_id"])
	assert.Equal(t, "e-1", pub.msg.DedupID)
	assert.Equal(t, "1001", pub.msg.GroupID)

	got, err := DecodeMessage(pub.msg.Body)
	require.NoError(t, err)
	assert.Equal(t, e.OrderNumber, got.OrderNumber)
	assert.Equal(t, e.Action, got.Action)

	_, err = DecodeMessage(`{"actor":"x"}`)
	assert.Error(t, err)
}

func TestFlushWaitsForPendingWrites(t *testing.T) {
	sink := &memSink{block: make(chan struct{})}
	q := NewQueueRecorder(sink, 8, discardLogger(), nil)
	q.Start(context.Background())
	defer q.Close()

	q.Record(context.Background(), Entry{Actor: "a", Action: ActionOfferAccepted, Category: CategoryShipping})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Flush(ctx), context.DeadlineExceeded)

	close(sink.block)
	require.NoError(t, q.Flush(context.Background()))
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.entries, 1)
}
