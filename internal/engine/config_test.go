package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-autoops/internal/config"
	"github.com/miradorstack/mirador-autoops/internal/models"
)

func TestOptionsFromConfig(t *testing.T) {
	t.Setenv("AUTOOPS_CONFIG", "")
	cfg, err := config.Load("../../configs/default.yaml")
	require.NoError(t, err)
	cfg.Threats.AutoRespondSeverity = "critical"
	cfg.Maintenance.WatchKeys = []string{"disk_usage"}

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, cfg.Baseline.Capacity, opts.BaselineCapacity)
	assert.Equal(t, cfg.Detection.MinBaseline, opts.Detection.MinBaseline)
	assert.Equal(t, models.SeverityCritical, opts.Threats.AutoRespond)
	assert.Equal(t, []string{"disk_usage"}, opts.WatchKeys)
	assert.Equal(t, cfg.Maintenance.Horizon, opts.Horizon)
	assert.Equal(t, cfg.Threats.JanitorInterval, opts.JanitorInterval)

	cfg.Threats.AutoRespondSeverity = "whenever"
	assert.Equal(t, models.SeverityHigh, OptionsFromConfig(cfg).Threats.AutoRespond)
	assert.Equal(t, DefaultOptions().Horizon, OptionsFromConfig(nil).Horizon)
}

func TestHealthDefaults(t *testing.T) {
	opts := HealthDefaults(config.HealthConfig{DefaultInterval: time.Minute, DefaultTimeout: 5 * time.Second, FailureThreshold: 4})
	assert.Equal(t, time.Minute, opts.Interval)
	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.Equal(t, 4, opts.FailureThreshold)
}
