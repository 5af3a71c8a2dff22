package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/statuswatch/statuswatch/internal/registry"
	"github.com/statuswatch/statuswatch/internal/status"
)

// FanOut probes all enabled services concurrently, bounded by a concurrency
// limit and a per-probe timeout. A slow, failing, or panicking probe is
// isolated to its own slot in the result list.
type FanOut struct {
	logger    zerolog.Logger
	prober    Prober
	limit     int
	timeout   time.Duration
	onTimeout func()
}

// FanOutOption customizes FanOut behavior.
type FanOutOption func(*FanOut)

// WithTimeoutHook registers a callback invoked once per timed-out probe.
func WithTimeoutHook(hook func()) FanOutOption {
	return func(f *FanOut) {
		f.onTimeout = hook
	}
}

// NewFanOut constructs a FanOut. Non-positive limits fall back to 1.
func NewFanOut(logger zerolog.Logger, prober Prober, limit int, timeout time.Duration, opts ...FanOutOption) *FanOut {
	if limit < 1 {
		limit = 1
	}
	f := &FanOut{
		logger:  logger,
		prober:  prober,
		limit:   limit,
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run probes every descriptor and returns one ServiceStatus per descriptor
// in input order. It never returns an error for individual probe failures;
// those become unknown statuses.
func (f *FanOut) Run(ctx context.Context, descriptors []registry.Descriptor) []status.ServiceStatus {
	if len(descriptors) == 0 {
		return []status.ServiceStatus{}
	}

	results := make([]status.ServiceStatus, len(descriptors))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(f.limit)
	for i, descriptor := range descriptors {
		i, descriptor := i, descriptor
		group.Go(func() error {
			results[i] = f.probeOne(groupCtx, descriptor)
			return nil
		})
	}
	// Goroutines never return errors; Wait only synchronizes.
	_ = group.Wait()

	return results
}

// probeOne runs a single probe under its deadline. On timeout or panic the
// service is reported unknown with no latency.
func (f *FanOut) probeOne(ctx context.Context, descriptor registry.Descriptor) status.ServiceStatus {
	probeCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	done := make(chan status.ServiceStatus, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				f.logger.Warn().
					Str("service", descriptor.ID).
					Str("panic", fmt.Sprint(recovered)).
					Msg("probe panicked")
				done <- unknownStatus(descriptor, time.Now().UTC())
			}
		}()
		done <- f.prober.Probe(probeCtx, descriptor)
	}()

	select {
	case result := <-done:
		if probeCtx.Err() == context.DeadlineExceeded {
			// The probe resolved only because its context expired; report it
			// as a timeout rather than whatever the transport mapped it to.
			return f.timedOut(descriptor)
		}
		return result
	case <-probeCtx.Done():
		if probeCtx.Err() == context.DeadlineExceeded {
			return f.timedOut(descriptor)
		}
		// Shutdown, not a slow probe.
		return unknownStatus(descriptor, time.Now().UTC())
	}
}

func (f *FanOut) timedOut(descriptor registry.Descriptor) status.ServiceStatus {
	f.logger.Warn().
		Str("service", descriptor.ID).
		Dur("timeout", f.timeout).
		Msg("probe timed out")
	if f.onTimeout != nil {
		f.onTimeout()
	}
	return unknownStatus(descriptor, time.Now().UTC())
}

func unknownStatus(descriptor registry.Descriptor, checkedAt time.Time) status.ServiceStatus {
	result := baseStatus(descriptor)
	result.Status = status.StatusUnknown
	result.CheckedAt = checkedAt
	return result
}

// ColdStatuses builds the startup snapshot contents: every enabled service
// marked unknown because no probe has run yet.
func ColdStatuses(descriptors []registry.Descriptor, at time.Time) []status.ServiceStatus {
	statuses := make([]status.ServiceStatus, 0, len(descriptors))
	for _, descriptor := range descriptors {
		statuses = append(statuses, unknownStatus(descriptor, at))
	}
	return statuses
}
