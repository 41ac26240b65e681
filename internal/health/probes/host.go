package probes

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/miradorstack/mirador-autoops/internal/config"
	"github.com/miradorstack/mirador-autoops/internal/models"
)

// Host samples local cpu, memory and disk utilisation against warn/crit thresholds.
// A zero threshold disables that bound.
type Host struct {
	limits config.HostThresholds
	sample func(ctx context.Context, diskPath string) (map[string]float64, error)
}

// NewHost creates a host probe.
func NewHost(limits config.HostThresholds) *Host {
	if limits.DiskPath == "" {
		limits.DiskPath = "/"
	}
	return &Host{limits: limits, sample: sampleHost}
}

// Probe samples the host once.
func (p *Host) Probe(ctx context.Context) (models.ProbeResult, error) {
	usage, err := p.sample(ctx, p.limits.DiskPath)
	if err != nil {
		return models.ProbeResult{}, err
	}
	return evaluateHost(usage, p.limits), nil
}

func sampleHost(ctx context.Context, diskPath string) (map[string]float64, error) {
	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("cpu usage: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory usage: %w", err)
	}
	du, err := disk.UsageWithContext(ctx, diskPath)
	if err != nil {
		return nil, fmt.Errorf("disk usage: %w", err)
	}
	usage := map[string]float64{
		"memory_percent": vm.UsedPercent,
		"disk_percent":   du.UsedPercent,
	}
	if len(cpuPercent) > 0 {
		usage["cpu_percent"] = cpuPercent[0]
	}
	return usage, nil
}

func evaluateHost(usage map[string]float64, limits config.HostThresholds) models.ProbeResult {
	bounds := []struct {
		metric     string
		warn, crit float64
	}{
		{"cpu_percent", limits.CPUWarn, limits.CPUCrit},
		{"memory_percent", limits.MemoryWarn, limits.MemoryCrit},
		{"disk_percent", limits.DiskWarn, limits.DiskCrit},
	}

	status := models.HealthHealthy
	var notes []string
	for _, b := range bounds {
		value, ok := usage[b.metric]
		if !ok {
			continue
		}
		switch {
		case b.crit > 0 && value >= b.crit:
			status = models.HealthUnhealthy
			notes = append(notes, fmt.Sprintf("%s %.1f >= %.1f", b.metric, value, b.crit))
		case b.warn > 0 && value >= b.warn:
			if status == models.HealthHealthy {
				status = models.HealthDegraded
			}
			notes = append(notes, fmt.Sprintf("%s %.1f >= %.1f", b.metric, value, b.warn))
		}
	}
	return models.ProbeResult{Status: status, Metrics: usage, Message: strings.Join(notes, "; ")}
}
