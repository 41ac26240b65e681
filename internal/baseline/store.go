package baseline

import (
	"maps"
	"math"
	"sort"
	"sync"

	"github.com/miradorstack/mirador-autoops/internal/models"
)

// DefaultCapacity bounds each key's history when no capacity is configured.
const DefaultCapacity = 1000

// Stats summarises a history with population statistics.
type Stats struct {
	Count  int
	Mean   float64
	StdDev float64
}

// Snapshot is an immutable view of one key's baseline plus the pooled global baseline.
type Snapshot struct {
	Key    string
	Values []float64
	Local  Stats
	Global Stats
}

// Store keeps a bounded FIFO history per metric key. Each key has its own lock so
// writers on different keys never contend.
type Store struct {
	capacity int
	series   sync.Map // key -> *series
}

type series struct {
	mu      sync.RWMutex
	samples []models.MetricSample
	sum     float64
	sumSq   float64
}

// NewStore creates a store bounding each history to capacity samples.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity}
}

// Capacity returns the per-key history bound.
func (s *Store) Capacity() int { return s.capacity }

// Record appends a sample to key's history, evicting the oldest beyond capacity.
func (s *Store) Record(sample models.MetricSample) {
	value, _ := s.series.LoadOrStore(sample.Key, &series{})
	sr := value.(*series)

	sample.Tags = maps.Clone(sample.Tags)

	sr.mu.Lock()
	defer sr.mu.Unlock()

	sr.samples = append(sr.samples, sample)
	sr.sum += sample.Value
	sr.sumSq += sample.Value * sample.Value
	if len(sr.samples) > s.capacity {
		evicted := sr.samples[0]
		// Drop oldest sample to bound memory.
		copy(sr.samples[0:], sr.samples[1:])
		sr.samples = sr.samples[:s.capacity]
		sr.sum -= evicted.Value
		sr.sumSq -= evicted.Value * evicted.Value
	}
}

// History returns key's values oldest first. Nil when the key is unknown.
func (s *Store) History(key string) []float64 {
	sr, ok := s.lookup(key)
	if !ok {
		return nil
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return values(sr.samples)
}

// Samples returns a copy of key's samples oldest first.
func (s *Store) Samples(key string) []models.MetricSample {
	sr, ok := s.lookup(key)
	if !ok {
		return nil
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return append([]models.MetricSample(nil), sr.samples...)
}

// Stats computes mean and standard deviation for key on demand.
func (s *Store) Stats(key string) (Stats, bool) {
	sr, ok := s.lookup(key)
	if !ok {
		return Stats{}, false
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	if len(sr.samples) == 0 {
		return Stats{}, false
	}
	return Compute(values(sr.samples)), true
}

// Global pools every key's history into a single running aggregate.
func (s *Store) Global() Stats {
	var count int
	var sum, sumSq float64
	s.series.Range(func(_, value any) bool {
		sr := value.(*series)
		sr.mu.RLock()
		count += len(sr.samples)
		sum += sr.sum
		sumSq += sr.sumSq
		sr.mu.RUnlock()
		return true
	})
	if count == 0 {
		return Stats{}
	}
	mean := sum / float64(count)
	variance := sumSq/float64(count) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return Stats{Count: count, Mean: mean, StdDev: math.Sqrt(variance)}
}

// Snapshot captures key's history and the global baseline at one instant.
func (s *Store) Snapshot(key string) Snapshot {
	snap := Snapshot{Key: key, Values: s.History(key)}
	snap.Local = Compute(snap.Values)
	snap.Global = s.Global()
	return snap
}

// Keys lists every key with recorded history, sorted.
func (s *Store) Keys() []string {
	keys := make([]string, 0)
	s.series.Range(func(key, _ any) bool {
		keys = append(keys, key.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

// Len returns the number of samples held for key.
func (s *Store) Len(key string) int {
	sr, ok := s.lookup(key)
	if !ok {
		return 0
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return len(sr.samples)
}

func (s *Store) lookup(key string) (*series, bool) {
	value, ok := s.series.Load(key)
	if !ok {
		return nil, false
	}
	return value.(*series), true
}

func values(samples []models.MetricSample) []float64 {
	out := make([]float64, len(samples))
	for i, sample := range samples {
		out[i] = sample.Value
	}
	return out
}

// Compute returns population statistics for values.
func Compute(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += math.Pow(v-mean, 2)
	}
	variance /= float64(len(values))
	return Stats{Count: len(values), Mean: mean, StdDev: math.Sqrt(variance)}
}
