package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/imrishuroy/storefront-fulfillment/internal/aws"
)

// Recorder accepts audit entries without ever failing the caller.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Sink persists a prepared entry.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// QueueRecorder buffers entries on a bounded channel drained by one
// background goroutine. A full queue drops the entry.
type QueueRecorder struct {
	sink    Sink
	logger  *slog.Logger
	counter aws.Counter
	timeout time.Duration
	nowFunc func() time.Time

	ch     chan Entry
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	dropped  atomic.Int64
	failed   atomic.Int64
	inflight atomic.Int64
}

// Stats reports entries lost since start.
type Stats struct {
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

// NewQueueRecorder returns a recorder with capacity size. Call Start before Record.
func NewQueueRecorder(sink Sink, size int, logger *slog.Logger, counter aws.Counter) *QueueRecorder {
	if counter == nil {
		counter = aws.NopCounter{}
	}
	return &QueueRecorder{
		sink:    sink,
		logger:  logger,
		counter: counter,
		timeout: 5 * time.Second,
		nowFunc: time.Now,
		ch:      make(chan Entry, size),
	}
}

// Start launches the drain goroutine. ctx only scopes the sink writes;
// the goroutine exits when Close is called.
func (q *QueueRecorder) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for e := range q.ch {
			q.write(ctx, e)
			q.inflight.Add(-1)
		}
	}()
}

func (q *QueueRecorder) write(ctx context.Context, e Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.timeout)
	defer cancel()
	if err := q.sink.Append(ctx, e); err != nil {
		q.failed.Add(1)
		q.counter.Incr(ctx, "AuditWriteFailed", map[string]string{"action": string(e.Action)})
		q.logger.ErrorContext(ctx, "audit write failed",
			"entry_id", e.EntryID, "action", e.Action, "actor", e.Actor, "error", err)
	}
}

// Record enqueues e. It never blocks and never returns an error.
func (q *QueueRecorder) Record(ctx context.Context, e Entry) {
	if err := e.prepare(q.nowFunc()); err != nil {
		q.drop(ctx, e, err.Error())
		return
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.drop(ctx, e, "recorder closed")
		return
	}
	q.inflight.Add(1)
	select {
	case q.ch <- e:
	default:
		q.inflight.Add(-1)
		q.drop(ctx, e, "queue full")
	}
}

// Flush waits until every accepted entry has been written or ctx ends.
// Lambda handlers call it before returning.
func (q *QueueRecorder) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for q.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (q *QueueRecorder) drop(ctx context.Context, e Entry, why string) {
	q.dropped.Add(1)
	q.counter.Incr(ctx, "AuditDropped", map[string]string{"action": string(e.Action)})
	q.logger.WarnContext(ctx, "audit entry dropped",
		"reason", why, "action", e.Action, "actor", e.Actor, "order_number", e.OrderNumber)
}

// Close stops accepting entries and waits for the queue to drain.
func (q *QueueRecorder) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *QueueRecorder) Stats() Stats {
	return Stats{Dropped: q.dropped.Load(), Failed: q.failed.Load()}
}

// Publisher is the SQS send side used by SQSSink.
type Publisher interface {
	Publish(ctx context.Context, m aws.Message) error
}

// SQSSink forwards entries to the audit queue; cmd/worker appends them to the store.
type SQSSink struct {
	publisher Publisher
}

func NewSQSSink(p Publisher) *SQSSink {
	return &SQSSink{publisher: p}
}

func (s *SQSSink) Append(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return s.publisher.Publish(ctx, aws.Message{
		Body:    string(body),
		DedupID: e.EntryID,
		GroupID: e.OrderNumber,
		Attributes: map[string]string{
			"entry_id": e.EntryID,
			"action":   string(e.Action),
		},
	})
}

// DecodeMessage parses an SQS message body produced by SQSSink.
func DecodeMessage(body string) (Entry, error) {
	var e Entry
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return e, fmt.Errorf("decode audit message: %w", err)
	}
	if e.EntryID == "" {
		return e, fmt.Errorf("decode audit message: missing entry_id")
	}
	return e, nil
}
