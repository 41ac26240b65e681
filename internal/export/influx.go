// Package export writes bus events to InfluxDB as time-series points.
package export

import (
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/miradorstack/mirador-autoops/internal/events"
	"github.com/miradorstack/mirador-autoops/internal/models"
	"github.com/miradorstack/mirador-autoops/internal/utils"
)

// PointWriter is the subset of the influx non-blocking write API the sink uses.
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// InfluxConfig locates the bucket points are written to.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxSink converts events into points and writes them asynchronously.
type InfluxSink struct {
	client influxdb2.Client
	writer PointWriter
	logger *slog.Logger
	done   chan struct{}
}

// NewInfluxSink creates a sink with a batching write API. Write errors are logged.
func NewInfluxSink(cfg InfluxConfig, logger *slog.Logger) *InfluxSink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	sink := &InfluxSink{client: client, writer: writeAPI, logger: utils.LoggerOrDefault(logger), done: make(chan struct{})}
	go sink.logErrors(writeAPI)
	return sink
}

// NewInfluxSinkWithWriter creates a sink over an existing writer.
func NewInfluxSinkWithWriter(writer PointWriter, logger *slog.Logger) *InfluxSink {
	return &InfluxSink{writer: writer, logger: utils.LoggerOrDefault(logger), done: make(chan struct{})}
}

func (s *InfluxSink) logErrors(writeAPI api.WriteAPI) {
	errs := writeAPI.Errors()
	for {
		select {
		case <-s.done:
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			s.logger.Warn("influx write failed", slog.Any("error", err))
		}
	}
}

// Handle is an events.Handler.
func (s *InfluxSink) Handle(event events.Event) {
	if p := Point(event); p != nil {
		s.writer.WritePoint(p)
	}
}

// Close flushes buffered points and releases the client.
func (s *InfluxSink) Close() {
	s.writer.Flush()
	close(s.done)
	if s.client != nil {
		s.client.Close()
	}
}

// Point maps an event onto a point. Events without a time-series shape become a
// generic counter in the "events" measurement.
func Point(event events.Event) *write.Point {
	switch e := event.(type) {
	case events.ThreatDetected:
		return threatPoint(e.Threat).SetTime(e.At)
	case events.PredictiveAlert:
		f := e.Forecast
		return influxdb2.NewPointWithMeasurement("forecasts").
			AddTag("key", f.Key).
			AddTag("urgency", string(f.Urgency)).
			AddTag("trend", string(f.Trend)).
			AddField("current", f.Current).
			AddField("predicted", f.Predicted).
			AddField("confidence", f.Confidence).
			AddField("anomaly_probability", f.AnomalyProbability).
			AddField("change_percent", f.ChangePercent).
			SetTime(e.At)
	case events.HealthCheckDegraded:
		return checkPoint(e.Check).SetTime(e.At)
	case events.HealthCheckFailed:
		return checkPoint(e.Check).SetTime(e.At)
	case events.SelfHealingCompleted:
		return influxdb2.NewPointWithMeasurement("self_healing").
			AddTag("policy_id", e.PolicyID).
			AddTag("check_id", e.Check.ID).
			AddField("actions", len(e.Outcomes)).
			AddField("failed", failedCount(e.Outcomes)).
			SetTime(e.At)
	case events.ResponsePlanCompleted:
		return influxdb2.NewPointWithMeasurement("response_plans").
			AddTag("threat_id", e.Plan.ThreatID).
			AddTag("status", string(e.Plan.Status)).
			AddField("actions", len(e.Plan.Actions)).
			AddField("failed", failedCount(e.Plan.Actions)).
			SetTime(e.At)
	case nil:
		return nil
	default:
		return influxdb2.NewPointWithMeasurement("events").
			AddTag("type", string(event.Type())).
			AddTag("subject", event.Subject()).
			AddField("count", 1).
			SetTime(event.OccurredAt())
	}
}

func threatPoint(t models.Threat) *write.Point {
	return influxdb2.NewPointWithMeasurement("threats").
		AddTag("category", string(t.Category)).
		AddTag("severity", string(t.Severity)).
		AddTag("source", t.Source).
		AddField("score", t.Score).
		AddField("confidence", t.Confidence)
}

func checkPoint(c models.HealthCheck) *write.Point {
	p := influxdb2.NewPointWithMeasurement("health_checks").
		AddTag("check_id", c.ID).
		AddTag("kind", string(c.Kind)).
		AddTag("status", string(c.Status)).
		AddField("consecutive_failures", c.ConsecutiveFailures)
	for name, value := range c.LastMetrics {
		p.AddField(name, value)
	}
	return p
}

func failedCount(outcomes []models.ActionOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Status == models.ActionFailed {
			n++
		}
	}
	return n
}
