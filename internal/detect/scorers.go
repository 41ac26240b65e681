package detect

import (
	"math"

	"github.com/miradorstack/mirador-autoops/internal/baseline"
)

// minStdDev stands in for a zero deviation so flat baselines still score.
const minStdDev = 0.01

// Scorer is a stateless anomaly model. Score returns an unbounded raw score.
type Scorer interface {
	Name() string
	Threshold() float64
	Score(snap baseline.Snapshot, current map[string]float64) float64
}

// Normalize maps a raw score onto [0,1).
func Normalize(raw float64) float64 {
	if raw <= 0 || math.IsNaN(raw) {
		return 0
	}
	if math.IsInf(raw, 1) {
		return 1
	}
	return raw / (1 + raw)
}

// Bound keeps a raw score finite: NaN and negatives become 0 and +Inf becomes the
// largest float64, so verdicts stay encodable.
func Bound(raw float64) float64 {
	switch {
	case math.IsNaN(raw) || raw <= 0:
		return 0
	case math.IsInf(raw, 1):
		return math.MaxFloat64
	}
	return raw
}

// DistanceScorer reports the largest per-field z-score against the key baseline.
type DistanceScorer struct {
	threshold float64
}

// NewDistanceScorer creates a distance scorer flagging above threshold.
func NewDistanceScorer(threshold float64) *DistanceScorer {
	return &DistanceScorer{threshold: threshold}
}

func (s *DistanceScorer) Name() string       { return "distance" }
func (s *DistanceScorer) Threshold() float64 { return s.threshold }

func (s *DistanceScorer) Score(snap baseline.Snapshot, current map[string]float64) float64 {
	std := floorStd(snap.Local.StdDev)
	max := 0.0
	for _, value := range current {
		if z := math.Abs(value-snap.Local.Mean) / std; z > max {
			max = z
		}
	}
	return max
}

// DeviationScorer compares the mean of the current fields with the key baseline mean.
type DeviationScorer struct {
	threshold float64
}

// NewDeviationScorer creates a deviation scorer flagging above threshold.
func NewDeviationScorer(threshold float64) *DeviationScorer {
	return &DeviationScorer{threshold: threshold}
}

func (s *DeviationScorer) Name() string       { return "deviation" }
func (s *DeviationScorer) Threshold() float64 { return s.threshold }

func (s *DeviationScorer) Score(snap baseline.Snapshot, current map[string]float64) float64 {
	if len(current) == 0 {
		return 0
	}
	return math.Abs(fieldMean(current)-snap.Local.Mean) / floorStd(snap.Local.StdDev)
}

// ReconstructionScorer reports the relative deviation from the pooled global baseline.
type ReconstructionScorer struct {
	threshold float64
}

// NewReconstructionScorer creates a reconstruction scorer flagging above threshold.
func NewReconstructionScorer(threshold float64) *ReconstructionScorer {
	return &ReconstructionScorer{threshold: threshold}
}

func (s *ReconstructionScorer) Name() string       { return "reconstruction" }
func (s *ReconstructionScorer) Threshold() float64 { return s.threshold }

func (s *ReconstructionScorer) Score(snap baseline.Snapshot, current map[string]float64) float64 {
	if len(current) == 0 || snap.Global.Count == 0 {
		return 0
	}
	denominator := math.Abs(snap.Global.Mean)
	if denominator == 0 {
		denominator = 1
	}
	return math.Abs(fieldMean(current)-snap.Global.Mean) / denominator
}

func floorStd(std float64) float64 {
	if std < minStdDev {
		return minStdDev
	}
	return std
}

func fieldMean(current map[string]float64) float64 {
	sum := 0.0
	for _, v := range current {
		sum += v
	}
	return sum / float64(len(current))
}
