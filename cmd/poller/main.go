package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/storefront-fulfillment/internal/app"
	"github.com/imrishuroy/storefront-fulfillment/internal/aws"
	"github.com/imrishuroy/storefront-fulfillment/internal/config"
	"github.com/imrishuroy/storefront-fulfillment/internal/logging"
	"github.com/imrishuroy/storefront-fulfillment/internal/shipping"
)

// handler runs one tracking sweep per scheduled event.
type handler struct {
	poller *shipping.Poller
	app    *app.App
}

func (h *handler) Handle(ctx context.Context, ev events.CloudWatchEvent) (shipping.SweepStats, error) {
	stats, err := h.poller.Sweep(ctx)
	if ferr := h.app.Recorder.Flush(ctx); ferr != nil {
		h.app.Logger.WarnContext(ctx, "audit flush incomplete", "error", ferr)
	}
	h.app.Logger.InfoContext(ctx, "tracking sweep finished",
		"event_id", ev.ID, "checked", stats.Checked, "changed", stats.Changed, "failed", stats.Failed)
	return stats, err
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		logger.Error("failed to init aws clients", "error", err)
		os.Exit(1)
	}
	a, err := app.New(ctx, cfg, clients, logger)
	if err != nil {
		logger.Error("failed to wire services", "error", err)
		os.Exit(1)
	}

	h := &handler{poller: a.Poller, app: a}
	if cfg.RunLocal {
		defer a.Close()
		if _, err := h.Handle(ctx, events.CloudWatchEvent{ID: "local"}); err != nil {
			logger.Error("local sweep failed", "error", err)
		}
		return
	}

	lambda.StartWithOptions(h.Handle, lambda.WithEnableSIGTERM(a.Close))
}
