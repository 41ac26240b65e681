package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations.
	OutcomeError = "error"
)

const namespace = "mirador_autoops"

var (
	anomalyEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomaly_evaluations_total",
			Help:      "Ensemble evaluations partitioned by verdict.",
		},
		[]string{"verdict"},
	)

	threatsDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threats_detected_total",
			Help:      "Threats created, partitioned by category and severity.",
		},
		[]string{"category", "severity"},
	)

	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remediation_actions_total",
			Help:      "Remediation actions executed, partitioned by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	healthResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_check_results_total",
			Help:      "Processed health-check results partitioned by resulting status.",
		},
		[]string{"status"},
	)

	probeDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_seconds",
			Help:      "Health probe latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	policyFiringsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_firings_total",
			Help:      "Self-healing policy and reflex rule firings.",
		},
		[]string{"source", "id"},
	)

	forecastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecasts_total",
			Help:      "Predictive forecasts partitioned by urgency.",
		},
		[]string{"urgency"},
	)

	responsePlanSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_plan_seconds",
			Help:      "Response plan execution latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	eventsOverflowTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_overflow_total",
			Help:      "Events queued past a subscriber's buffer.",
		},
		[]string{"subscriber"},
	)
)

// Register attaches mirador-autoops collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		anomalyEvaluationsTotal,
		threatsDetectedTotal,
		actionsTotal,
		healthResultsTotal,
		probeDurationSeconds,
		policyFiringsTotal,
		forecastsTotal,
		responsePlanSeconds,
		eventsOverflowTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveVerdict counts one ensemble evaluation.
func ObserveVerdict(anomalous bool) {
	label := "normal"
	if anomalous {
		label = "anomalous"
	}
	anomalyEvaluationsTotal.WithLabelValues(label).Inc()
}

// ObserveThreat counts a created threat.
func ObserveThreat(category, severity string) {
	threatsDetectedTotal.WithLabelValues(category, severity).Inc()
}

// ObserveAction counts an executed action.
func ObserveAction(kind, outcome string) {
	actionsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveHealthResult records a processed probe result and its latency.
func ObserveHealthResult(status string, duration time.Duration) {
	healthResultsTotal.WithLabelValues(status).Inc()
	if duration < 0 {
		duration = 0
	}
	probeDurationSeconds.Observe(duration.Seconds())
}

// ObserveFiring counts a policy ("policy") or reflex rule ("rule") firing.
func ObserveFiring(source, id string) {
	policyFiringsTotal.WithLabelValues(source, id).Inc()
}

// ObserveForecast counts a forecast by urgency.
func ObserveForecast(urgency string) {
	forecastsTotal.WithLabelValues(urgency).Inc()
}

// ObservePlan records a response plan execution duration and outcome label.
func ObservePlan(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	if duration < 0 {
		duration = 0
	}
	responsePlanSeconds.WithLabelValues(label).Observe(duration.Seconds())
}

// IncEventsOverflow counts an event queued past subscriber's buffer.
func IncEventsOverflow(subscriber string) {
	eventsOverflowTotal.WithLabelValues(subscriber).Inc()
}
