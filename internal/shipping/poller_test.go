package shipping

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-fulfillment/internal/carrier"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
)

func TestSweepSyncsOrdersInTransit(t *testing.T) {
	f := newFixture(t)
	acceptedOrder(t, f, "1001")
	acceptedOrder(t, f, "1002")
	acceptedOrder(t, f, "1003")
	f.paidOrder(t, "1004") // no shipment, not polled

	now := time.Now().UTC()
	f.carrier.tracking["shp-1001"] = &carrier.Tracking{StatusCode: carrier.TrackingDelivered, UpdatedAt: now}
	f.carrier.tracking["shp-1002"] = &carrier.Tracking{StatusCode: carrier.TrackingInTransit, UpdatedAt: now}
	f.carrier.tracking["shp-1003"] = &carrier.Tracking{StatusCode: carrier.TrackingPreTransit, UpdatedAt: now}

	p := NewPoller(f.svc, 2, time.Minute, f.svc.logger)
	stats, err := p.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Checked)
	assert.Equal(t, int64(2), stats.Changed)
	assert.Equal(t, int64(0), stats.Failed)

	o, err := f.orders.Get(context.Background(), "1002")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusShipped, o.OrderStatus)

	// delivered orders drop out of the next sweep
	stats, err = p.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Checked)
}

func TestSweepCountsFailures(t *testing.T) {
	f := newFixture(t)
	acceptedOrder(t, f, "1001")
	f.carrier.err = &carrier.Error{Op: "get tracking", StatusCode: 503, Message: "down"}

	stats, err := NewPoller(f.svc, 1, time.Minute, f.svc.logger).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewPoller(f.svc, 1, time.Millisecond, f.svc.logger).Run(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
