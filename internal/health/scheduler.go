package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-autoops/internal/events"
	"github.com/miradorstack/mirador-autoops/internal/metrics"
	"github.com/miradorstack/mirador-autoops/internal/models"
	"github.com/miradorstack/mirador-autoops/internal/utils"
)

// Probe checks one resource. Returning an error means the probe itself broke; a
// resource that is down should be reported as an unhealthy result instead.
type Probe interface {
	Probe(ctx context.Context) (models.ProbeResult, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) (models.ProbeResult, error)

// Probe calls f.
func (f ProbeFunc) Probe(ctx context.Context) (models.ProbeResult, error) { return f(ctx) }

// EscalationFunc is invoked each time a check is unhealthy at or beyond its threshold.
type EscalationFunc func(ctx context.Context, check models.HealthCheck)

// Options configure a registered check.
type Options struct {
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
}

// DefaultOptions are applied to zero fields.
func DefaultOptions() Options {
	return Options{Interval: 30 * time.Second, Timeout: 10 * time.Second, FailureThreshold: 3}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Interval <= 0 {
		o.Interval = d.Interval
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = d.FailureThreshold
	}
	return o
}

// ErrProbeTimeout is recorded as the message of results produced by a timed-out probe.
var ErrProbeTimeout = errors.New("probe timed out")

// Scheduler runs one independent loop per registered check.
type Scheduler struct {
	mu       sync.RWMutex
	checks   map[string]*entry
	root     context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	escalate EscalationFunc

	publisher events.Publisher
	clock     utils.Clock
	logger    *slog.Logger
}

type entry struct {
	mu      sync.Mutex
	check   models.HealthCheck
	probe   Probe
	latency *utils.LatencyWindow
	cancel  context.CancelFunc
	removed bool
}

// NewScheduler creates a scheduler. escalate may be nil.
func NewScheduler(escalate EscalationFunc, publisher events.Publisher, clock utils.Clock, logger *slog.Logger) *Scheduler {
	root, stop := context.WithCancel(context.Background())
	return &Scheduler{
		checks:    make(map[string]*entry),
		root:      root,
		stop:      stop,
		escalate:  escalate,
		publisher: events.PublisherOrDiscard(publisher),
		clock:     utils.ClockOrSystem(clock),
		logger:    utils.LoggerOrDefault(logger),
	}
}

// Register adds a check and starts its loop. The first probe runs after one interval.
func (s *Scheduler) Register(id, name string, kind models.ResourceKind, probe Probe, opts Options) error {
	if id == "" || probe == nil {
		return utils.NewAppError("health.Register", "id and probe are required", utils.ErrInvalidArgument)
	}
	opts = opts.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root.Err() != nil {
		return utils.NewAppError("health.Register", "scheduler stopped", nil)
	}
	if _, exists := s.checks[id]; exists {
		return utils.NewAppError("health.Register", fmt.Sprintf("check %q", id), utils.ErrAlreadyExists)
	}

	ctx, cancel := context.WithCancel(s.root)
	e := &entry{
		check: models.HealthCheck{
			ID:               id,
			Name:             name,
			Kind:             kind,
			Status:           models.HealthUnknown,
			Interval:         opts.Interval,
			Timeout:          opts.Timeout,
			FailureThreshold: opts.FailureThreshold,
		},
		probe:   probe,
		latency: utils.NewLatencyWindow(utils.DefaultLatencyWindow),
		cancel:  cancel,
	}
	s.checks[id] = e

	s.wg.Add(1)
	go s.loop(ctx, e)

	s.logger.Info("health check registered",
		slog.String("check_id", id),
		slog.String("kind", string(kind)),
		slog.Duration("interval", opts.Interval),
	)
	return nil
}

// Unregister cancels the check's loop. Results still in flight are discarded.
func (s *Scheduler) Unregister(id string) error {
	s.mu.Lock()
	e, ok := s.checks[id]
	if ok {
		delete(s.checks, id)
	}
	s.mu.Unlock()
	if !ok {
		return utils.NotFound("health.Unregister", "health check", id)
	}

	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	e.cancel()
	s.logger.Info("health check unregistered", slog.String("check_id", id))
	return nil
}

// RunOnce probes the check synchronously through the same processing path as the loop.
func (s *Scheduler) RunOnce(ctx context.Context, id string) (models.HealthCheck, error) {
	e, ok := s.lookup(id)
	if !ok {
		return models.HealthCheck{}, utils.NotFound("health.RunOnce", "health check", id)
	}
	check, processed := s.run(ctx, e)
	if !processed {
		if err := ctx.Err(); err != nil {
			return models.HealthCheck{}, err
		}
		if _, still := s.lookup(id); !still {
			return models.HealthCheck{}, utils.NotFound("health.RunOnce", "health check", id)
		}
	}
	return check, nil
}

// Get returns a snapshot of a check.
func (s *Scheduler) Get(id string) (models.HealthCheck, error) {
	e, ok := s.lookup(id)
	if !ok {
		return models.HealthCheck{}, utils.NotFound("health.Get", "health check", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.check.Clone(), nil
}

// List returns snapshots of every check ordered by id.
func (s *Scheduler) List() []models.HealthCheck {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.checks))
	for _, e := range s.checks {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]models.HealthCheck, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.check.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start reopens a stopped scheduler so checks can be registered again. It is a no-op
// on a running scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root.Err() == nil {
		return
	}
	s.root, s.stop = context.WithCancel(context.Background())
}

// Stop cancels every loop, drops every check and waits for the loops to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stop()
	s.checks = make(map[string]*entry)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.checks[id]
	return e, ok
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.wg.Done()

	e.mu.Lock()
	interval := e.check.Interval
	e.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, e)
		}
	}
}

type probeOutcome struct {
	result models.ProbeResult
	err    error
}

// run probes once and applies the result. processed is false when the result was
// discarded because the check was unregistered or ctx ended.
func (s *Scheduler) run(ctx context.Context, e *entry) (models.HealthCheck, bool) {
	e.mu.Lock()
	timeout := e.check.Timeout
	checkID := e.check.ID
	e.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := s.clock.Now()
	done := make(chan probeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- probeOutcome{err: fmt.Errorf("probe panicked: %v", r)}
			}
		}()
		result, err := e.probe.Probe(probeCtx)
		done <- probeOutcome{result: result, err: err}
	}()

	var outcome probeOutcome
	select {
	case outcome = <-done:
		if outcome.err != nil && errors.Is(outcome.err, context.DeadlineExceeded) && ctx.Err() == nil {
			outcome = timeoutOutcome()
		}
	case <-probeCtx.Done():
		if ctx.Err() != nil {
			return models.HealthCheck{}, false
		}
		outcome = timeoutOutcome()
	}
	elapsed := s.clock.Now().Sub(started)

	if ctx.Err() != nil {
		return models.HealthCheck{}, false
	}
	if outcome.err != nil {
		return s.recordProbeError(e, checkID, outcome.err)
	}
	return s.apply(ctx, e, outcome.result, elapsed)
}

func timeoutOutcome() probeOutcome {
	return probeOutcome{result: models.ProbeResult{Status: models.HealthUnhealthy, Message: ErrProbeTimeout.Error()}}
}

func (s *Scheduler) recordProbeError(e *entry, checkID string, err error) (models.HealthCheck, bool) {
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return models.HealthCheck{}, false
	}
	e.check.LastError = err.Error()
	snapshot := e.check.Clone()
	e.mu.Unlock()

	s.logger.Warn("health probe error", slog.String("check_id", checkID), slog.Any("error", err))
	s.publisher.Publish(events.ProbeError{CheckID: checkID, Error: err.Error(), At: s.clock.Now()})
	return snapshot, true
}

// apply is the result state machine. Unhealthy results count up and escalate at the
// threshold; degraded and healthy results reset the counter.
func (s *Scheduler) apply(ctx context.Context, e *entry, result models.ProbeResult, elapsed time.Duration) (models.HealthCheck, bool) {
	now := s.clock.Now()

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return models.HealthCheck{}, false
	}
	previous := e.check.Status
	escalated := false
	switch result.Status {
	case models.HealthUnhealthy:
		e.check.ConsecutiveFailures++
		if e.check.ConsecutiveFailures >= e.check.FailureThreshold {
			e.check.Status = models.HealthUnhealthy
			escalated = true
		} else {
			e.check.Status = models.HealthDegraded
		}
	case models.HealthDegraded:
		e.check.ConsecutiveFailures = 0
		e.check.Status = models.HealthDegraded
	case models.HealthHealthy:
		e.check.ConsecutiveFailures = 0
		e.check.Status = models.HealthHealthy
	default:
		e.check.ConsecutiveFailures = 0
		e.check.Status = models.HealthUnknown
	}
	e.check.LastRunAt = now
	e.check.LastMetrics = maps.Clone(result.Metrics)
	e.check.LastMessage = result.Message
	e.check.LastError = ""
	e.latency.Observe(elapsed)
	e.check.ProbeLatency = summarize(e.latency)
	snapshot := e.check.Clone()
	e.mu.Unlock()

	metrics.ObserveHealthResult(string(snapshot.Status), elapsed)

	if snapshot.Status == models.HealthDegraded && previous != models.HealthDegraded {
		s.publisher.Publish(events.HealthCheckDegraded{Check: snapshot.Clone(), At: now})
	}
	if escalated {
		s.logger.Warn("health check failed",
			slog.String("check_id", snapshot.ID),
			slog.Int("consecutive_failures", snapshot.ConsecutiveFailures),
			slog.String("message", snapshot.LastMessage),
		)
		s.publisher.Publish(events.HealthCheckFailed{Check: snapshot.Clone(), At: now})
		if s.escalate != nil {
			s.escalate(ctx, snapshot.Clone())
		}
	}
	return snapshot, true
}

func summarize(w *utils.LatencyWindow) models.ProbeLatency {
	p := w.Percentiles(50, 95, 100)
	return models.ProbeLatency{Samples: w.Count(), Last: w.Last(), P50: p[0], P95: p[1], Max: p[2]}
}
