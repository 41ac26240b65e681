package detect

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-autoops/internal/baseline"
	"github.com/miradorstack/mirador-autoops/internal/metrics"
	"github.com/miradorstack/mirador-autoops/internal/models"
	"github.com/miradorstack/mirador-autoops/internal/utils"
)

// Config tunes the scorer ensemble.
type Config struct {
	DistanceThreshold       float64
	DeviationThreshold      float64
	ReconstructionThreshold float64
	// MinBaseline is the shortest history an evaluation accepts.
	MinBaseline int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		DistanceThreshold:       0.7,
		DeviationThreshold:      0.7,
		ReconstructionThreshold: 0.3,
		MinBaseline:             5,
	}
}

// Ensemble runs independent scorers against one baseline snapshot and votes.
type Ensemble struct {
	store       *baseline.Store
	scorers     []Scorer
	minBaseline int
	clock       utils.Clock
	logger      *slog.Logger
}

// NewEnsemble wires the distance, deviation and reconstruction scorers.
func NewEnsemble(store *baseline.Store, cfg Config, clock utils.Clock, logger *slog.Logger) *Ensemble {
	return NewEnsembleWithScorers(store, cfg.MinBaseline, clock, logger,
		NewDistanceScorer(cfg.DistanceThreshold),
		NewDeviationScorer(cfg.DeviationThreshold),
		NewReconstructionScorer(cfg.ReconstructionThreshold),
	)
}

// NewEnsembleWithScorers builds an ensemble over custom scorers.
func NewEnsembleWithScorers(store *baseline.Store, minBaseline int, clock utils.Clock, logger *slog.Logger, scorers ...Scorer) *Ensemble {
	if minBaseline <= 0 {
		minBaseline = 1
	}
	return &Ensemble{
		store:       store,
		scorers:     scorers,
		minBaseline: minBaseline,
		clock:       utils.ClockOrSystem(clock),
		logger:      utils.LoggerOrDefault(logger),
	}
}

// Evaluate scores current against key's baseline. It never mutates the store.
func (e *Ensemble) Evaluate(ctx context.Context, key string, current map[string]float64) (models.AnomalyVerdict, error) {
	snap := e.store.Snapshot(key)
	if len(snap.Values) < e.minBaseline {
		return models.AnomalyVerdict{}, utils.NewAppError("detect.Evaluate", key, utils.ErrInsufficientData)
	}

	verdicts := make([]models.ModelVerdict, len(e.scorers))
	group, gctx := errgroup.WithContext(ctx)
	for i, scorer := range e.scorers {
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			raw := Bound(scorer.Score(snap, current))
			normalized := Normalize(raw)
			verdicts[i] = models.ModelVerdict{
				Model:      scorer.Name(),
				Raw:        raw,
				Normalized: normalized,
				Threshold:  scorer.Threshold(),
				Anomalous:  normalized > scorer.Threshold(),
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return models.AnomalyVerdict{}, err
	}

	verdict := Combine(key, verdicts)
	verdict.EvaluatedAt = e.clock.Now()
	metrics.ObserveVerdict(verdict.IsAnomalous)
	e.logger.Debug("anomaly evaluation",
		slog.String("key", key),
		slog.Bool("anomalous", verdict.IsAnomalous),
		slog.Float64("score", verdict.Score),
	)
	return verdict, nil
}

// Consensus reports whether a strict majority of the models flagged.
func Consensus(verdicts []models.ModelVerdict) bool {
	flagged := 0
	for _, v := range verdicts {
		if v.Anomalous {
			flagged++
		}
	}
	return flagged*2 > len(verdicts)
}

// Combine folds per-model verdicts into the ensemble verdict for key.
func Combine(key string, verdicts []models.ModelVerdict) models.AnomalyVerdict {
	verdict := models.AnomalyVerdict{
		Key:         key,
		IsAnomalous: Consensus(verdicts),
		Category:    Classify(key),
		Models:      verdicts,
	}
	if n := float64(len(verdicts)); n > 0 {
		var score, confidence float64
		for _, v := range verdicts {
			score += Bound(v.Raw) / n
			confidence += v.Normalized / n
		}
		verdict.Score = score
		verdict.Confidence = confidence
	}
	verdict.Severity = SeverityFromScore(verdict.Score)
	return verdict
}
