package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/enricher/internal/config"
	"github.com/nexus-trading/enricher/internal/token"
)

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv(config.EnvDatabasePath, "")
	f := &flags{
		database:  "/tmp/override.db",
		create:    true,
		source:    "pumpfun,dex",
		batchSize: 7,
		interval:  3,
		strategy:  "never_updated",
		minHours:  0,
		httpAddr:  "127.0.0.1:0",
		set: map[string]bool{
			"batch-size": true, "interval": true, "strategy": true, "min-hours": true,
		},
	}

	cfg, err := loadConfig(f)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
	assert.True(t, cfg.Database.Create)
	assert.True(t, cfg.HTTP.Enabled)

	require.Len(t, cfg.Pipelines, 2)
	assert.Equal(t, token.SourceDexScreener, cfg.Pipelines[0].Source)
	assert.Equal(t, token.SourcePumpFun, cfg.Pipelines[1].Source)
	for _, p := range cfg.Pipelines {
		assert.Equal(t, 7, p.BatchSize)
		assert.Equal(t, 3*time.Minute, p.Interval)
		assert.Equal(t, token.StrategyNeverUpdated, p.Strategy)
		assert.Less(t, p.MinStaleness, time.Microsecond, "zero hours disables the staleness filter")
	}
}

func TestLoadConfig_RejectsBadFlags(t *testing.T) {
	_, err := loadConfig(&flags{source: "coingecko", set: map[string]bool{}})
	assert.Error(t, err)

	_, err = loadConfig(&flags{strategy: "sideways", set: map[string]bool{"strategy": true}})
	assert.Error(t, err)

	_, err = loadConfig(&flags{cron: "whenever", set: map[string]bool{"cron": true}})
	assert.Error(t, err)
}

func TestExpectedPeriod(t *testing.T) {
	assert.Equal(t, 10*time.Minute, expectedPeriod(config.PipelineConfig{Interval: 10 * time.Minute}))
	assert.Equal(t, 15*time.Minute, expectedPeriod(config.PipelineConfig{Cron: "*/15 * * * *"}))
	assert.Equal(t, time.Hour, expectedPeriod(config.PipelineConfig{Cron: "@hourly"}))
}
