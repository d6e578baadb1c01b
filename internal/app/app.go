// Package app wires the stores and services shared by the entry points.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/imrishuroy/storefront-fulfillment/internal/audit"
	"github.com/imrishuroy/storefront-fulfillment/internal/aws"
	"github.com/imrishuroy/storefront-fulfillment/internal/carrier"
	"github.com/imrishuroy/storefront-fulfillment/internal/config"
	"github.com/imrishuroy/storefront-fulfillment/internal/handlers"
	"github.com/imrishuroy/storefront-fulfillment/internal/inventory"
	"github.com/imrishuroy/storefront-fulfillment/internal/ledger"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
	"github.com/imrishuroy/storefront-fulfillment/internal/payments"
	"github.com/imrishuroy/storefront-fulfillment/internal/shipping"
)

// App holds the wired services of one process.
type App struct {
	Orders   *orders.Service
	Payments *payments.Workflow
	Shipping *shipping.Service
	Ledger   *ledger.Service
	Audit    *audit.Store
	Recorder *audit.QueueRecorder
	Poller   *shipping.Poller
	Counter  aws.Counter
	Logger   *slog.Logger
}

// New builds every service from cfg and clients. The audit recorder is
// started; call Close to drain it.
func New(ctx context.Context, cfg *config.Config, clients *aws.AWSClients, logger *slog.Logger) (*App, error) {
	var counter aws.Counter = aws.NopCounter{}
	if cfg.MetricsNamespace != "" {
		counter = aws.NewMetrics(clients.CloudWatch, cfg.MetricsNamespace, logger)
	}

	secrets := cfg.WebhookSecrets
	if cfg.WebhookSecretsID != "" {
		loaded, err := aws.LoadWebhookSecrets(ctx, clients.SecretsManager, cfg.WebhookSecretsID)
		if err != nil {
			return nil, fmt.Errorf("load webhook secrets: %w", err)
		}
		secrets = loaded
	}
	if len(secrets) == 0 {
		logger.Warn("no webhook secrets configured; every webhook will be refused")
	}

	auditStore := audit.NewStore(clients.DynamoDB, cfg.AuditTable)
	var sink audit.Sink = auditStore
	if cfg.AuditQueueURL != "" {
		sink = audit.NewSQSSink(aws.NewPublisher(clients.SQS, cfg.AuditQueueURL))
	}
	recorder := audit.NewQueueRecorder(sink, cfg.AuditQueueSize, logger, counter)
	recorder.Start(ctx)

	orderSvc := orders.NewService(
		orders.NewStore(clients.DynamoDB, cfg.OrdersTable),
		inventory.NewStore(clients.DynamoDB, cfg.ProductsTable),
		logger,
	)
	carrierClient := carrier.NewHTTPClient(cfg.Carrier.BaseURL, cfg.Carrier.APIKey, cfg.Carrier.Timeout)
	shippingSvc := shipping.NewService(orderSvc, carrierClient, recorder, counter, logger)

	return &App{
		Orders: orderSvc,
		Payments: payments.NewWorkflow(orderSvc,
			payments.NewS3BlobStore(clients.S3, clients.S3Presign, cfg.ReceiptsBucket), recorder, logger),
		Shipping: shippingSvc,
		Ledger: ledger.NewService(ledger.NewStore(clients.DynamoDB, cfg.WebhookEventsTable), secrets,
			orderSvc, shippingSvc, recorder, counter, logger),
		Audit:    auditStore,
		Recorder: recorder,
		Poller:   shipping.NewPoller(shippingSvc, cfg.TrackingWorkers, cfg.TrackingPollInterval, logger),
		Counter:  counter,
		Logger:   logger,
	}, nil
}

// HandlerConfig exposes the services to the HTTP layer.
func (a *App) HandlerConfig() handlers.HandlerConfig {
	return handlers.HandlerConfig{
		Payments: a.Payments,
		Shipping: a.Shipping,
		Audit:    a.Audit,
		Webhooks: a.Ledger,
		Logger:   a.Logger,
	}
}

// Close drains pending audit entries.
func (a *App) Close() {
	a.Recorder.Close()
	stats := a.Recorder.Stats()
	if stats.Dropped > 0 || stats.Failed > 0 {
		a.Logger.Warn("audit entries lost", "dropped", stats.Dropped, "failed", stats.Failed)
	}
}
