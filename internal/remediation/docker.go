package remediation

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// ContainerPrefix marks an action target naming a docker container.
const ContainerPrefix = "container:"

// ContainerRestarter restarts docker containers and defers other targets to a fallback.
type ContainerRestarter struct {
	cli      *client.Client
	fallback Handler
	timeout  int
}

// NewContainerRestarter connects to the docker daemon from the environment.
func NewContainerRestarter(fallback Handler, stopTimeoutSeconds int) (*ContainerRestarter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	if stopTimeoutSeconds <= 0 {
		stopTimeoutSeconds = 10
	}
	return &ContainerRestarter{cli: cli, fallback: fallback, timeout: stopTimeoutSeconds}, nil
}

// Execute restarts the container named by the target or the "container" param.
func (r *ContainerRestarter) Execute(ctx context.Context, req Request) (string, error) {
	name := containerName(req)
	if name == "" {
		if r.fallback == nil {
			return "", fmt.Errorf("restart target %q is not a container", req.Action.Target)
		}
		return r.fallback.Execute(ctx, req)
	}
	timeout := r.timeout
	if err := r.cli.ContainerRestart(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return "", fmt.Errorf("restart container %s: %w", name, err)
	}
	return fmt.Sprintf("container %s restarted", name), nil
}

// Close releases the docker client.
func (r *ContainerRestarter) Close() error {
	if r.cli != nil {
		return r.cli.Close()
	}
	return nil
}

func containerName(req Request) string {
	if name := req.Action.Params["container"]; name != "" {
		return name
	}
	if strings.HasPrefix(req.Action.Target, ContainerPrefix) {
		return strings.TrimPrefix(req.Action.Target, ContainerPrefix)
	}
	return ""
}
