package probes

import (
	"context"
	"fmt"

	"github.com/docker/docker/client"

	"github.com/miradorstack/mirador-autoops/internal/models"
)

// Container inspects a docker container. Stopped or missing containers and failing
// docker health checks are unhealthy; a starting health check is degraded.
type Container struct {
	name string
	cli  *client.Client
}

// NewContainer connects to the docker daemon from the environment.
func NewContainer(name string) (*Container, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &Container{name: name, cli: cli}, nil
}

// Probe inspects the container once.
func (p *Container) Probe(ctx context.Context) (models.ProbeResult, error) {
	info, err := p.cli.ContainerInspect(ctx, p.name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return models.ProbeResult{Status: models.HealthUnhealthy, Message: fmt.Sprintf("container %s not found", p.name)}, nil
		}
		return models.ProbeResult{}, fmt.Errorf("inspect container %s: %w", p.name, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return models.ProbeResult{}, fmt.Errorf("inspect container %s: empty state", p.name)
	}

	health := ""
	if info.State.Health != nil {
		health = info.State.Health.Status
	}
	result := containerStatus(info.State.Running, health, info.State.Status)
	result.Metrics = map[string]float64{"restart_count": float64(info.RestartCount)}
	return result, nil
}

// Close releases the docker client.
func (p *Container) Close() error { return p.cli.Close() }

func containerStatus(running bool, health, state string) models.ProbeResult {
	switch {
	case !running:
		return models.ProbeResult{Status: models.HealthUnhealthy, Message: "container " + state}
	case health == "unhealthy":
		return models.ProbeResult{Status: models.HealthUnhealthy, Message: "docker health check failing"}
	case health == "starting":
		return models.ProbeResult{Status: models.HealthDegraded, Message: "docker health check starting"}
	default:
		return models.ProbeResult{Status: models.HealthHealthy}
	}
}
