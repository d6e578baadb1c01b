package shipping

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/imrishuroy/storefront-fulfillment/internal/audit"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
)

// Tracker is what the poller needs from the Service.
type Tracker interface {
	ListForTracking(ctx context.Context) ([]orders.Order, error)
	SyncTracking(ctx context.Context, orderNumber, actor string) (*TrackingResult, error)
}

// Poller periodically syncs tracking for every order in transit.
type Poller struct {
	tracker  Tracker
	workers  int
	interval time.Duration
	logger   *slog.Logger
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Checked int64 `json:"checked"`
	Changed int64 `json:"changed"`
	Failed  int64 `json:"failed"`
}

func NewPoller(t Tracker, workers int, interval time.Duration, logger *slog.Logger) *Poller {
	if workers <= 0 {
		workers = 1
	}
	return &Poller{tracker: t, workers: workers, interval: interval, logger: logger}
}

// Run sweeps on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.InfoContext(ctx, "tracking poller started", "interval", p.interval.String(), "workers", p.workers)
	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "tracking poller stopped")
			return
		case <-ticker.C:
			if _, err := p.Sweep(ctx); err != nil {
				p.logger.ErrorContext(ctx, "tracking sweep failed", "error", err)
			}
		}
	}
}

// Sweep syncs every order returned by ListForTracking using a fixed pool of
// workers. Per-order failures are logged and counted, not returned.
func (p *Poller) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	list, err := p.tracker.ListForTracking(ctx)
	if err != nil {
		return stats, err
	}
	if len(list) == 0 {
		p.logger.DebugContext(ctx, "no orders to track")
		return stats, nil
	}

	jobs := make(chan string)
	var (
		wg                       sync.WaitGroup
		checked, changed, failed atomic.Int64
	)
	for i := 1; i <= p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for number := range jobs {
				checked.Add(1)
				res, err := p.tracker.SyncTracking(ctx, number, audit.SystemActor)
				if err != nil {
					failed.Add(1)
					p.logger.WarnContext(ctx, "tracking sync failed", "worker", id, "order_number", number, "error", err)
					continue
				}
				if res.Changed {
					changed.Add(1)
					p.logger.InfoContext(ctx, "order status advanced",
						"worker", id, "order_number", number, "status", res.Order.OrderStatus)
				}
			}
		}(i)
	}

feed:
	for _, o := range list {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- o.OrderNumber:
		}
	}
	close(jobs)
	wg.Wait()

	stats = SweepStats{Checked: checked.Load(), Changed: changed.Load(), Failed: failed.Load()}
	p.logger.InfoContext(ctx, "tracking sweep done", "checked", stats.Checked, "changed", stats.Changed, "failed", stats.Failed)
	return stats, ctx.Err()
}
