package engine

import (
	"slices"

	"github.com/miradorstack/mirador-autoops/internal/config"
	"github.com/miradorstack/mirador-autoops/internal/detect"
	"github.com/miradorstack/mirador-autoops/internal/health"
	"github.com/miradorstack/mirador-autoops/internal/models"
)

// OptionsFromConfig maps the service configuration onto core options. An unknown
// auto-respond severity keeps the default.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg == nil {
		return opts
	}
	opts.BaselineCapacity = cfg.Baseline.Capacity
	opts.Detection = detect.Config{
		DistanceThreshold:       cfg.Detection.DistanceThreshold,
		DeviationThreshold:      cfg.Detection.DeviationThreshold,
		ReconstructionThreshold: cfg.Detection.ReconstructionThreshold,
		MinBaseline:             cfg.Detection.MinBaseline,
	}
	opts.Threats.IntelEnabled = cfg.Threats.IntelEnabled
	opts.Threats.Retention = cfg.Threats.Retention
	if severity, ok := models.ParseSeverity(cfg.Threats.AutoRespondSeverity); ok {
		opts.Threats.AutoRespond = severity
	}
	opts.ReflexPerSecond = cfg.Threats.ReflexPerSecond
	opts.ReflexBurst = cfg.Threats.ReflexBurst
	opts.JanitorInterval = cfg.Threats.JanitorInterval

	opts.WatchKeys = slices.Clone(cfg.Maintenance.WatchKeys)
	opts.Horizon = cfg.Maintenance.Horizon
	opts.ForecastInterval = cfg.Maintenance.ForecastInterval
	opts.DispatchInterval = cfg.Maintenance.DispatchInterval
	return opts
}

// HealthDefaults returns the probe timing applied to checks that leave it unset.
func HealthDefaults(cfg config.HealthConfig) health.Options {
	return health.Options{
		Interval:         cfg.DefaultInterval,
		Timeout:          cfg.DefaultTimeout,
		FailureThreshold: cfg.FailureThreshold,
	}
}
