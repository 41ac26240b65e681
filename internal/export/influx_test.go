package export

import (
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-autoops/internal/events"
	"github.com/miradorstack/mirador-autoops/internal/models"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushed bool
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	f.points = append(f.points, p)
	f.mu.Unlock()
}

func (f *fakeWriter) Flush() { f.flushed = true }

func tags(p *write.Point) map[string]string {
	out := map[string]string{}
	for _, tag := range p.TagList() {
		out[tag.Key] = tag.Value
	}
	return out
}

func fields(p *write.Point) map[string]interface{} {
	out := map[string]interface{}{}
	for _, field := range p.FieldList() {
		out[field.Key] = field.Value
	}
	return out
}

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestThreatPoint(t *testing.T) {
	p := Point(events.ThreatDetected{
		Threat: models.Threat{ID: "t1", Category: models.CategoryNetwork, Severity: models.SeverityHigh, Source: "10.0.0.9", Score: 3.2, Confidence: 0.8},
		At:     at,
	})
	require.NotNil(t, p)
	assert.Equal(t, "threats", p.Name())
	assert.Equal(t, "network_anomaly", tags(p)["category"])
	assert.Equal(t, 3.2, fields(p)["score"])
	assert.Equal(t, at, p.Time())
}

func TestForecastAndHealthPoints(t *testing.T) {
	p := Point(events.PredictiveAlert{Forecast: models.Forecast{Key: "cpu_usage", Urgency: models.UrgencyHigh, Predicted: 91}, At: at})
	assert.Equal(t, "forecasts", p.Name())
	assert.Equal(t, "high", tags(p)["urgency"])
	assert.Equal(t, 91.0, fields(p)["predicted"])

	p = Point(events.HealthCheckFailed{Check: models.HealthCheck{
		ID: "db", Kind: models.KindDatabase, Status: models.HealthUnhealthy, ConsecutiveFailures: 3,
		LastMetrics: map[string]float64{"latency_ms": 250},
	}, At: at})
	assert.Equal(t, "health_checks", p.Name())
	assert.Equal(t, int64(3), fields(p)["consecutive_failures"])
	assert.Equal(t, 250.0, fields(p)["latency_ms"])
}

func TestGenericEventPoint(t *testing.T) {
	p := Point(events.ProbeError{CheckID: "api", Error: "boom", At: at})
	assert.Equal(t, "events", p.Name())
	assert.Equal(t, "probe_error", tags(p)["type"])
	assert.Equal(t, "api", tags(p)["subject"])
}

func TestSinkWritesAndFlushes(t *testing.T) {
	w := &fakeWriter{}
	sink := NewInfluxSinkWithWriter(w, nil)
	sink.Handle(events.ResponsePlanCompleted{Plan: models.ResponsePlan{
		ThreatID: "t1",
		Status:   models.PlanFailed,
		Actions:  []models.ActionOutcome{{Status: models.ActionCompleted}, {Status: models.ActionFailed}},
	}, At: at})
	sink.Close()

	require.Len(t, w.points, 1)
	assert.Equal(t, int64(1), fields(w.points[0])["failed"])
	assert.True(t, w.flushed)
}
