// Package maintenance forecasts metric keys and runs the maintenance task lifecycle.
package maintenance

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/miradorstack/mirador-autoops/internal/baseline"
	"github.com/miradorstack/mirador-autoops/internal/models"
	"github.com/miradorstack/mirador-autoops/internal/utils"
)

const (
	// MinSamples is the shortest history a forecast is computed from.
	MinSamples = 10
	// DeltaWindow is how many trailing samples the moving-average model uses.
	DeltaWindow = 20

	stableBand = 5.0
	epsilon    = 1e-9
)

// Predictor forecasts a key from its baseline history.
type Predictor struct {
	store *baseline.Store
	clock utils.Clock
}

// NewPredictor creates a predictor over store.
func NewPredictor(store *baseline.Store, clock utils.Clock) *Predictor {
	return &Predictor{store: store, clock: utils.ClockOrSystem(clock)}
}

// Predict extrapolates key horizon ahead with a least-squares line and a moving-average
// delta model, averaging both.
func (p *Predictor) Predict(key string, horizon time.Duration) (models.Forecast, error) {
	samples := p.store.Samples(key)
	if len(samples) < MinSamples {
		return models.Forecast{}, utils.NewAppError("maintenance.Predict",
			fmt.Sprintf("key %q has %d samples, need %d", key, len(samples), MinSamples), utils.ErrInsufficientData)
	}

	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}
	steps := horizonSteps(samples, horizon)
	current := values[len(values)-1]

	linear, linearConf := linearForecast(values, steps)
	moving, movingConf := movingAverageForecast(values, steps)
	predicted := (linear + moving) / 2
	confidence := (linearConf + movingConf) / 2

	probability := anomalyProbability(values)
	change := changePercent(current, predicted)
	urgency := Urgency(probability, change)

	return models.Forecast{
		Key:                key,
		Current:            current,
		Predicted:          predicted,
		Horizon:            horizon,
		Confidence:         confidence,
		AnomalyProbability: probability,
		ChangePercent:      change,
		Trend:              trendOf(change),
		Urgency:            urgency,
		Recommendation:     recommendation(key, urgency),
		Models: []models.ForecastModel{
			{Name: "linear", Predicted: linear, Confidence: linearConf},
			{Name: "moving_average", Predicted: moving, Confidence: movingConf},
		},
		GeneratedAt: p.clock.Now(),
	}, nil
}

// Urgency buckets a forecast by anomaly probability and the magnitude of change.
func Urgency(probability, changePercent float64) models.Urgency {
	change := math.Abs(changePercent)
	switch {
	case probability > 0.8 || change > 50:
		return models.UrgencyCritical
	case probability > 0.7 || change > 30:
		return models.UrgencyHigh
	case change > 20:
		return models.UrgencyMedium
	default:
		return models.UrgencyLow
	}
}

// horizonSteps converts horizon into sample steps using the median sample spacing.
func horizonSteps(samples []models.MetricSample, horizon time.Duration) float64 {
	gaps := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		if gap := samples[i].Timestamp.Sub(samples[i-1].Timestamp); gap > 0 {
			gaps = append(gaps, float64(gap))
		}
	}
	if len(gaps) == 0 || horizon <= 0 {
		return 1
	}
	sort.Float64s(gaps)
	median := gaps[len(gaps)/2]
	if len(gaps)%2 == 0 {
		median = (gaps[len(gaps)/2-1] + gaps[len(gaps)/2]) / 2
	}
	return math.Max(1, math.Round(float64(horizon)/median))
}

// linearForecast fits value = a + b*index and reports R² as confidence.
func linearForecast(values []float64, steps float64) (float64, float64) {
	n := float64(len(values))
	meanX := (n - 1) / 2
	meanY := baseline.Compute(values).Mean

	var sxy, sxx float64
	for i, y := range values {
		dx := float64(i) - meanX
		sxy += dx * (y - meanY)
		sxx += dx * dx
	}
	slope := 0.0
	if sxx > 0 {
		slope = sxy / sxx
	}
	intercept := meanY - slope*meanX

	var ssRes, ssTot float64
	for i, y := range values {
		fit := intercept + slope*float64(i)
		ssRes += (y - fit) * (y - fit)
		ssTot += (y - meanY) * (y - meanY)
	}
	r2 := 1.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}
	return intercept + slope*(n-1+steps), clamp(r2)
}

// movingAverageForecast extends the last value by the mean step-to-step delta of the
// trailing window. Noisy deltas relative to the level lower confidence.
func movingAverageForecast(values []float64, steps float64) (float64, float64) {
	recent := values
	if len(recent) > DeltaWindow {
		recent = recent[len(recent)-DeltaWindow:]
	}
	deltas := make([]float64, 0, len(recent)-1)
	for i := 1; i < len(recent); i++ {
		deltas = append(deltas, recent[i]-recent[i-1])
	}
	deltaStats := baseline.Compute(deltas)
	level := math.Abs(baseline.Compute(recent).Mean)
	predicted := recent[len(recent)-1] + deltaStats.Mean*steps
	return predicted, clamp(1 - deltaStats.StdDev/(level+epsilon))
}

// anomalyProbability maps the z-score of the latest value against the full history
// onto [0,1], saturating at three standard deviations.
func anomalyProbability(values []float64) float64 {
	stats := baseline.Compute(values)
	if stats.StdDev < epsilon {
		return 0
	}
	z := math.Abs(values[len(values)-1]-stats.Mean) / stats.StdDev
	return math.Min(z/3, 1)
}

func changePercent(current, predicted float64) float64 {
	if math.Abs(current) < epsilon {
		if math.Abs(predicted) < epsilon {
			return 0
		}
		return math.Copysign(100, predicted)
	}
	return (predicted - current) / math.Abs(current) * 100
}

func trendOf(change float64) models.Trend {
	switch {
	case change > stableBand:
		return models.TrendIncreasing
	case change < -stableBand:
		return models.TrendDecreasing
	default:
		return models.TrendStable
	}
}

func recommendation(key string, urgency models.Urgency) string {
	switch urgency {
	case models.UrgencyCritical:
		return fmt.Sprintf("immediate maintenance required for %s", key)
	case models.UrgencyHigh:
		return fmt.Sprintf("schedule maintenance for %s within the hour", key)
	case models.UrgencyMedium:
		return fmt.Sprintf("review %s capacity at the next maintenance window", key)
	default:
		return fmt.Sprintf("no action needed for %s", key)
	}
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
