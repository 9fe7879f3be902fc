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

	assert.Equal(t, ":8083", cfg.Server.Address)
	assert.Equal(t, 3, cfg.Analysis.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Analysis.BackoffBase)
	assert.Equal(t, 10*time.Minute, cfg.Services.Analysis.CheckTimeout)
	assert.Equal(t, "/highlight", cfg.Services.Analysis.HighlightEndpoint)
	assert.Equal(t, "submission_analysis", cfg.RabbitMQ.QueueName)
	assert.Equal(t, int64(1000), cfg.Redis.CompletedKeep)
	assert.Equal(t, 168*time.Hour, cfg.Redis.FailedMaxAge)
	assert.Equal(t, 45*time.Minute, cfg.Reconcile.StaleAfter)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.False(t, cfg.CORS.AllowCredentials)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ANALYSIS_MAX_WORKERS", "12")
	t.Setenv("SERVICES_ANALYSIS_URL", "http://localhost:9999")
	t.Setenv("RECONCILE_STALE_AFTER", "2h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Analysis.MaxWorkers)
	assert.Equal(t, "http://localhost:9999", cfg.Services.Analysis.URL)
	assert.Equal(t, 2*time.Hour, cfg.Reconcile.StaleAfter)
}

func TestLoadRejectsInvalidWorkerCount(t *testing.T) {
	t.Setenv("ANALYSIS_MAX_WORKERS", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analysis.max_workers")
}

func TestInFlightBound(t *testing.T) {
	cfg := &Config{
		Analysis: AnalysisConfig{MaxAttempts: 3, BackoffBase: 5 * time.Second},
		Services: ServicesConfig{Analysis: AnalysisServiceConfig{CheckTimeout: 10 * time.Minute}},
	}

	// 3 * 10m + 5s + 10s
	assert.Equal(t, 30*time.Minute+15*time.Second, cfg.InFlightBound())

	cfg.Analysis.MaxAttempts = 1
	assert.Equal(t, 10*time.Minute, cfg.InFlightBound())
}

func TestLoadRejectsStaleWindowShorterThanInFlightJob(t *testing.T) {
	tests := []struct {
		name       string
		staleAfter string
	}{
		{name: "old default", staleAfter: "15m"},
		{name: "exactly the bound", staleAfter: "30m15s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("RECONCILE_STALE_AFTER", tt.staleAfter)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "reconcile.stale_after")
		})
	}
}

func TestLoadAcceptsStaleWindowForShortTimeouts(t *testing.T) {
	t.Setenv("RECONCILE_STALE_AFTER", "15m")
	t.Setenv("SERVICES_ANALYSIS_CHECK_TIMEOUT", "2m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.Reconcile.StaleAfter)
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 5432, Name: "n", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/n?sslmode=disable", c.DSN())
}
