package state

import (
	"context"
	"sync"
	"time"

	"github.com/statuswatch/statuswatch/internal/status"
)

// IndexedStatus is the per-service projection kept for O(1) lookups.
type IndexedStatus struct {
	Status    status.Status
	CheckedAt time.Time
}

// RefreshMetadata describes the most recent publish.
type RefreshMetadata struct {
	LastRefreshAt         time.Time
	LastRefreshDurationMS int64
}

// State holds the last-known aggregated snapshot and serves it without ever
// blocking on a live probe. A single State instance is constructed at
// startup and shared between the scheduler and the HTTP layer.
type State struct {
	mu          sync.Mutex
	snapshot    status.Snapshot
	hasSnapshot bool
	index       map[string]IndexedStatus
	meta        RefreshMetadata
	ready       bool

	signal chan struct{}
}

// New constructs an empty State.
func New() *State {
	return &State{
		index:  make(map[string]IndexedStatus),
		signal: make(chan struct{}, 1),
	}
}

// CachedPayload returns a copy of the current snapshot, or false if no
// payload has ever been published (cold start).
func (s *State) CachedPayload() (status.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasSnapshot {
		return status.Snapshot{}, false
	}
	return s.snapshot.Clone(), true
}

// SetCachedPayload atomically replaces the snapshot, rebuilds the
// per-service index, and records refresh metadata. Marks the state ready
// for readiness checks.
func (s *State) SetCachedPayload(snap status.Snapshot, refreshedAt time.Time, duration time.Duration) {
	s.publish(snap, refreshedAt, duration, true)
}

// SetColdPayload publishes the startup snapshot (all services unknown) so
// readers never observe an absent payload. It does not mark the state
// ready: readiness means a real refresh cycle has completed.
func (s *State) SetColdPayload(snap status.Snapshot, publishedAt time.Time) {
	s.publish(snap, publishedAt, 0, false)
}

func (s *State) publish(snap status.Snapshot, refreshedAt time.Time, duration time.Duration, ready bool) {
	index := make(map[string]IndexedStatus, len(snap.Services))
	for _, svc := range snap.Services {
		index[svc.ID] = IndexedStatus{Status: svc.Status, CheckedAt: svc.CheckedAt}
	}
	clone := snap.Clone()

	s.mu.Lock()
	s.snapshot = clone
	s.hasSnapshot = true
	s.index = index
	s.meta = RefreshMetadata{
		LastRefreshAt:         refreshedAt,
		LastRefreshDurationMS: duration.Milliseconds(),
	}
	if ready {
		s.ready = true
	}
	s.mu.Unlock()
}

// ServiceStatus returns the indexed status for one service id.
func (s *State) ServiceStatus(id string) (IndexedStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.index[id]
	return entry, ok
}

// Metadata returns refresh metadata and whether any payload exists.
func (s *State) Metadata() (RefreshMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta, s.hasSnapshot
}

// MarkNeedsRefresh sets the wake signal. Idempotent.
func (s *State) MarkNeedsRefresh() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// ConsumeNeedsRefresh atomically tests and clears the wake signal.
func (s *State) ConsumeNeedsRefresh() bool {
	select {
	case <-s.signal:
		return true
	default:
		return false
	}
}

// WaitForRefreshSignal blocks until the wake signal fires, the timeout
// elapses, or ctx is canceled. Returns true only when woken early by the
// signal, which is cleared by the wake.
func (s *State) WaitForRefreshSignal(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.signal:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Ready reports whether at least one real refresh cycle has published.
func (s *State) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Healthy reports whether the last publish happened within 2x the refresh
// interval.
func (s *State) Healthy(now time.Time, interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready || s.meta.LastRefreshAt.IsZero() {
		return false
	}
	return now.Sub(s.meta.LastRefreshAt) <= 2*interval
}
