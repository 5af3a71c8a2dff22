package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/statuswatch/statuswatch/internal/metrics"
	"github.com/statuswatch/statuswatch/internal/notify"
	"github.com/statuswatch/statuswatch/internal/observations"
	"github.com/statuswatch/statuswatch/internal/probe"
	"github.com/statuswatch/statuswatch/internal/registry"
	"github.com/statuswatch/statuswatch/internal/state"
	"github.com/statuswatch/statuswatch/internal/status"
)

// FanOut executes one probe per descriptor and never fails as a whole.
type FanOut interface {
	Run(ctx context.Context, descriptors []registry.Descriptor) []status.ServiceStatus
}

// ObservationSink receives each cycle's readings for durable history.
type ObservationSink interface {
	InitializeServices(readings []status.ServiceStatus, observedAt time.Time) error
	ApplyRefresh(readings []status.ServiceStatus, observedAt time.Time) (observations.Document, []observations.Incident, error)
}

// Scheduler drives the polling cadence: it runs refresh cycles on a fixed
// interval or immediately when the wake signal fires, publishes results
// into the snapshot state, and feeds the observation store. Exactly one
// scheduler loop runs per process, which is what keeps refresh cycles
// single-flight.
type Scheduler struct {
	logger   zerolog.Logger
	interval time.Duration
	registry registry.Registry
	fanOut   FanOut
	state    *state.State
	sink     ObservationSink
	notifier notify.Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option customizes scheduler behavior.
type Option func(*Scheduler)

// WithObservationSink enables durable change history for each cycle.
func WithObservationSink(sink ObservationSink) Option {
	return func(s *Scheduler) {
		s.sink = sink
	}
}

// WithNotifier delivers newly recorded incidents after each cycle.
func WithNotifier(notifier notify.Notifier) Option {
	return func(s *Scheduler) {
		s.notifier = notifier
	}
}

// WithMetrics records cycle and incident metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithClock overrides the wall clock, primarily for testing.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New constructs a Scheduler.
func New(logger zerolog.Logger, interval time.Duration, reg registry.Registry, fanOut FanOut, st *state.State, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:   logger,
		interval: interval,
		registry: reg,
		fanOut:   fanOut,
		state:    st,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run publishes the cold snapshot, then loops refresh cycles until the
// context is canceled. No failure inside a cycle stops the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("refresh interval must be greater than zero")
	}

	s.publishColdSnapshot(ctx)

	for {
		if ctx.Err() != nil {
			s.logger.Info().Msg("scheduler stopped")
			return nil
		}

		s.RunOnce(ctx)

		if ctx.Err() != nil {
			s.logger.Info().Msg("scheduler stopped")
			return nil
		}
		if s.state.ConsumeNeedsRefresh() {
			// An urgent re-check was requested while the cycle ran.
			continue
		}
		s.state.WaitForRefreshSignal(ctx, s.interval)
	}
}

// publishColdSnapshot publishes an all-unknown snapshot before the first
// cycle so readers never observe an absent payload, and seeds observation
// entries for services that have never been recorded. It does not consume
// the wake signal.
func (s *Scheduler) publishColdSnapshot(ctx context.Context) {
	now := s.now()

	descriptors, err := s.registry.Enabled(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("registry read failed during cold start, publishing empty snapshot")
		descriptors = nil
	}

	cold := probe.ColdStatuses(descriptors, now)
	snap := status.Snapshot{
		GeneratedAt:   now,
		OverallStatus: status.Overall(cold),
		Services:      cold,
	}
	s.state.SetColdPayload(snap, now)

	if s.sink != nil {
		if err := s.sink.InitializeServices(cold, now); err != nil {
			s.logger.Error().Err(err).Msg("failed seeding observations")
		}
	}

	s.logger.Info().Int("services", len(cold)).Msg("cold snapshot published")
}

// RunOnce executes a single refresh cycle.
func (s *Scheduler) RunOnce(ctx context.Context) {
	refreshStartedAt := s.now()
	start := time.Now()

	descriptors, err := s.registry.Enabled(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("registry read failed, treating cycle as empty")
		descriptors = nil
	}

	results := s.fanOut.Run(ctx, descriptors)
	elapsed := time.Since(start)

	snap := status.Snapshot{
		GeneratedAt:   s.now(),
		OverallStatus: status.Overall(results),
		Services:      results,
	}
	s.state.SetCachedPayload(snap, refreshStartedAt, elapsed)

	if s.sink != nil {
		s.applyObservations(ctx, results, refreshStartedAt)
	}

	counts := status.Counts(results)
	s.metrics.ObserveRefresh(elapsed, counts, s.now())

	s.logger.Info().
		Int64("duration_ms", elapsed.Milliseconds()).
		Int("healthy", counts[status.StatusHealthy]).
		Int("degraded", counts[status.StatusDegraded]).
		Int("down", counts[status.StatusDown]).
		Int("unknown", counts[status.StatusUnknown]).
		Msg("refresh cycle completed")
}

// applyObservations feeds the cycle's readings into the observation store
// and fans out any recorded incidents. A monitoring write failure must not
// stop future refreshes, so everything here is logged and absorbed.
func (s *Scheduler) applyObservations(ctx context.Context, results []status.ServiceStatus, observedAt time.Time) {
	_, incidents, err := s.sink.ApplyRefresh(results, observedAt)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed persisting observations")
		s.metrics.IncPersistenceErrors()
		return
	}

	for _, incident := range incidents {
		s.metrics.IncIncidents(incident.ServiceID)

		event := s.logger.Info()
		switch incident.To {
		case status.StatusDown:
			event = s.logger.Error()
		case status.StatusDegraded, status.StatusUnknown:
			event = s.logger.Warn()
		}
		event.
			Str("service", incident.ServiceID).
			Str("previous_status", string(incident.From)).
			Str("current_status", string(incident.To)).
			Msg("status transition detected")
	}

	if len(incidents) > 0 && s.notifier != nil {
		if err := s.notifier.Notify(ctx, incidents); err != nil {
			s.logger.Error().Err(err).Int("incidents", len(incidents)).Msg("incident notification failed")
		}
	}
}
