package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, "orders", cfg.OrdersTable)
	assert.Equal(t, 15*time.Second, cfg.Carrier.Timeout)
	assert.Equal(t, 256, cfg.AuditQueueSize)
	assert.Equal(t, 10*time.Minute, cfg.TrackingPollInterval)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RUN_LOCAL", "true")
	t.Setenv("CARRIER_BASE_URL", "http://localhost:9000")
	t.Setenv("CARRIER_TIMEOUT", "2s")
	t.Setenv("WEBHOOK_SECRETS", "bank:s3cret,carrier:other")
	t.Setenv("TRACKING_WORKERS", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.RunLocal)
	assert.Equal(t, "http://localhost:9000", cfg.Carrier.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Carrier.Timeout)
	assert.Equal(t, map[string]string{"bank": "s3cret", "carrier": "other"}, cfg.WebhookSecrets)
	assert.Equal(t, 1, cfg.TrackingWorkers)
}

func TestLoadRejectsBadQueueSize(t *testing.T) {
	t.Setenv("AUDIT_QUEUE_SIZE", "0")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsNonPositivePollInterval(t *testing.T) {
	for _, v := range []string{"0s", "-1m"} {
		t.Setenv("TRACKING_POLL_INTERVAL", v)

		_, err := Load()
		assert.Error(t, err, v)
	}
}
