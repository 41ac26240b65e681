package detect

import (
	"strings"

	"github.com/miradorstack/mirador-autoops/internal/models"
)

var categoryKeywords = []struct {
	category models.Category
	words    []string
}{
	{models.CategoryError, []string{"error", "fail", "exception", "5xx", "panic"}},
	{models.CategoryNetwork, []string{"network", "latency", "packet", "bandwidth", "connection", "dns", "tcp"}},
	{models.CategoryTraffic, []string{"traffic", "request", "rps", "qps", "throughput", "session"}},
	{models.CategoryResource, []string{"cpu", "memory", "mem", "disk", "storage", "load", "heap", "iops"}},
}

// Classify maps a metric key onto the anomaly taxonomy by substring.
func Classify(key string) models.Category {
	lower := strings.ToLower(key)
	for _, entry := range categoryKeywords {
		for _, word := range entry.words {
			if strings.Contains(lower, word) {
				return entry.category
			}
		}
	}
	return models.CategoryUnknown
}

// SeverityFromScore buckets an ensemble raw score.
func SeverityFromScore(score float64) models.Severity {
	switch {
	case score >= 4:
		return models.SeverityCritical
	case score >= 3:
		return models.SeverityHigh
	case score >= 2:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
