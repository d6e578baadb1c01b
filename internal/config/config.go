// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

// CarrierConfig holds the shipping carrier API settings.
type CarrierConfig struct {
	BaseURL string        `env:"CARRIER_BASE_URL" envDefault:"https://api.carrier.example"`
	APIKey  string        `env:"CARRIER_API_KEY"`
	Timeout time.Duration `env:"CARRIER_TIMEOUT" envDefault:"15s"`
}

// Config is the full process configuration. Business packages receive only
// the fields they need.
type Config struct {
	Address  string `env:"ADDRESS" envDefault:":8080"`
	RunLocal bool   `env:"RUN_LOCAL" envDefault:"false"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	AWSRegion   string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSEndpoint string `env:"AWS_ENDPOINT_OVERRIDE"`

	OrdersTable        string `env:"ORDERS_TABLE" envDefault:"orders"`
	ProductsTable      string `env:"PRODUCTS_TABLE" envDefault:"products"`
	WebhookEventsTable string `env:"WEBHOOK_EVENTS_TABLE" envDefault:"webhook_events"`
	AuditTable         string `env:"AUDIT_TABLE" envDefault:"audit_log"`
	ReceiptsBucket     string `env:"RECEIPTS_BUCKET" envDefault:"order-receipts"`

	// AuditQueueURL routes audit entries through SQS when set; otherwise the
	// background recorder writes them directly.
	AuditQueueURL    string `env:"AUDIT_QUEUE_URL"`
	AuditQueueSize   int    `env:"AUDIT_QUEUE_SIZE" envDefault:"256"`
	MetricsNamespace string `env:"METRICS_NAMESPACE"`

	Carrier CarrierConfig

	WebhookSecrets   map[string]string `env:"WEBHOOK_SECRETS" envSeparator:"," envKeyValSeparator:":"`
	WebhookSecretsID string            `env:"WEBHOOK_SECRETS_ID"`

	TrackingPollInterval time.Duration `env:"TRACKING_POLL_INTERVAL" envDefault:"10m"`
	TrackingWorkers      int           `env:"TRACKING_WORKERS" envDefault:"4"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.AuditQueueSize <= 0 {
		return nil, fmt.Errorf("AUDIT_QUEUE_SIZE must be positive, got %d", cfg.AuditQueueSize)
	}
	if cfg.TrackingPollInterval <= 0 {
		return nil, fmt.Errorf("TRACKING_POLL_INTERVAL must be positive, got %s", cfg.TrackingPollInterval)
	}
	if cfg.TrackingWorkers <= 0 {
		cfg.TrackingWorkers = 1
	}
	return cfg, nil
}
