package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViper_Defaults(t *testing.T) {
	cfg, err := fromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "marketsync", cfg.App.Name)
	assert.Equal(t, "https://partner.shopeemobileapi.com", cfg.Shopee.BaseURL)
	assert.Equal(t, 90*24*time.Hour, cfg.Sync.Lookback)
	assert.Equal(t, 15*24*time.Hour, cfg.Sync.SliceSpan)
	assert.Equal(t, 50, cfg.Sync.DetailBatchSize)
	assert.Equal(t, 150*time.Millisecond, cfg.Sync.RequestDelay)
	assert.Equal(t, 600*time.Second, cfg.Sync.RefreshMargin)
	assert.Equal(t, "UTC", cfg.Sync.Timezone)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "dynamodb", cfg.Lease.Backend)
	assert.Equal(t, "dynamodb", cfg.Store.Driver)
	assert.Equal(t, 4, cfg.Scheduler.Concurrency)
	assert.Equal(t, "glue", cfg.Athena.Partitions)
	assert.False(t, cfg.IsProduction())
}

func TestFromViper_Overrides(t *testing.T) {
	v := viper.New()
	v.Set("app.env", "prod")
	v.Set("shopee.partner_id", 2001887)
	v.Set("sync.lookback", "720h")
	v.Set("lease.backend", "redis")
	v.Set("store.driver", "postgres")
	v.Set("postgres.host", "db.internal")

	cfg, err := fromViper(v)
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, int64(2001887), cfg.Shopee.PartnerID)
	assert.Equal(t, 30*24*time.Hour, cfg.Sync.Lookback)
	assert.Equal(t, "redis", cfg.Lease.Backend)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Contains(t, cfg.Postgres.DSN(), "host=db.internal")
	assert.Contains(t, cfg.Postgres.DSN(), "port=5432")
}

func TestFromViper_Validation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{name: "unknown store driver", key: "store.driver", val: "mongo"},
		{name: "unknown lease backend", key: "lease.backend", val: "etcd"},
		{name: "unknown partition mode", key: "athena.partitions", val: "crawler"},
		{name: "slice wider than vendor cap", key: "sync.slice_span", val: "480h"},
		{name: "detail batch over vendor cap", key: "sync.detail_batch_size", val: 51},
		{name: "jitter out of range", key: "retry.jitter", val: 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tt.key, tt.val)
			_, err := fromViper(v)
			assert.Error(t, err)
		})
	}
}

func TestLoad_LambdaEnvironmentNames(t *testing.T) {
	t.Setenv("INTEGRATIONS_TABLE", "integrations-dev")
	t.Setenv("DAILY_METRICS_TABLE", "daily-metrics-dev")
	t.Setenv("TOKEN_ENC_KEY_B64", "a2V5")
	t.Setenv("MARKETSYNC_SYNC_REQUEST_DELAY", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "integrations-dev", cfg.DynamoDB.IntegrationsTable)
	assert.Equal(t, "daily-metrics-dev", cfg.DynamoDB.DailyMetricsTable)
	assert.Equal(t, "a2V5", cfg.Security.TokenKeyB64)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.RequestDelay)
}
