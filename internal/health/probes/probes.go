// Package probes builds health.Probe implementations from declarative check config.
// A resource that cannot be reached is reported as an unhealthy result; only failures
// of the probe machinery itself are returned as errors.
package probes

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/miradorstack/mirador-autoops/internal/config"
	"github.com/miradorstack/mirador-autoops/internal/health"
	"github.com/miradorstack/mirador-autoops/internal/models"
)

// Built is a probe ready for registration. Closer is nil when the probe holds no
// connection.
type Built struct {
	ID      string
	Name    string
	Kind    models.ResourceKind
	Probe   health.Probe
	Options health.Options
	Closer  io.Closer
}

// Build turns one configured check into a probe. defaults fill zero timing fields.
func Build(cfg config.HealthCheckConfig, defaults health.Options) (Built, error) {
	built := Built{
		ID:   cfg.ID,
		Name: cfg.Name,
		Options: health.Options{
			Interval:         pick(cfg.Interval, defaults.Interval),
			Timeout:          pick(cfg.Timeout, defaults.Timeout),
			FailureThreshold: cfg.FailureThreshold,
		},
	}
	if built.Name == "" {
		built.Name = cfg.ID
	}
	if built.Options.FailureThreshold <= 0 {
		built.Options.FailureThreshold = defaults.FailureThreshold
	}

	switch cfg.Type {
	case "http":
		built.Kind = models.KindService
		built.Probe = NewHTTP(cfg.Target, cfg.ExpectStatus)
	case "tcp":
		built.Kind = models.KindNetwork
		built.Probe = NewTCP(cfg.Target)
	case "postgres":
		built.Kind = models.KindDatabase
		built.Probe = NewPostgres(cfg.Target)
	case "mysql":
		p, err := NewMySQL(cfg.Target)
		if err != nil {
			return Built{}, err
		}
		built.Kind, built.Probe, built.Closer = models.KindDatabase, p, p
	case "mongodb":
		p, err := NewMongo(cfg.Target)
		if err != nil {
			return Built{}, err
		}
		built.Kind, built.Probe, built.Closer = models.KindDatabase, p, p
	case "redis":
		p, err := NewRedis(cfg.Target)
		if err != nil {
			return Built{}, err
		}
		built.Kind, built.Probe, built.Closer = models.KindStorage, p, p
	case "host":
		built.Kind = models.KindHost
		built.Probe = NewHost(cfg.Host)
	case "container":
		p, err := NewContainer(cfg.Target)
		if err != nil {
			return Built{}, err
		}
		built.Kind, built.Probe, built.Closer = models.KindContainer, p, p
	default:
		return Built{}, fmt.Errorf("unsupported probe type %q", cfg.Type)
	}
	return built, nil
}

func pick(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// reachability converts a connectivity error into a result.
func reachability(started time.Time, err error, what string) models.ProbeResult {
	latency := map[string]float64{"latency_ms": millis(time.Since(started))}
	if err != nil {
		return models.ProbeResult{Status: models.HealthUnhealthy, Metrics: latency, Message: fmt.Sprintf("%s: %v", what, err)}
	}
	return models.ProbeResult{Status: models.HealthHealthy, Metrics: latency}
}

// timed runs fn and reports how long it took.
func timed(ctx context.Context, fn func(context.Context) error) (time.Time, error) {
	started := time.Now()
	return started, fn(ctx)
}
