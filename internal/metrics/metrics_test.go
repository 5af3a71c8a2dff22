package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/statuswatch/statuswatch/internal/status"
)

func TestMetricsUpdates(t *testing.T) {
	m := New()

	counts := map[status.Status]int{
		status.StatusHealthy: 3,
		status.StatusDown:    1,
		status.StatusUnknown: 0,
	}
	m.ObserveRefresh(2*time.Second, counts, time.Unix(100, 0))
	m.IncIncidents("plex")
	m.IncIncidents("plex")
	m.IncProbeTimeouts()
	m.IncPersistenceErrors()

	if got := testutil.ToFloat64(m.servicesTotal.WithLabelValues("healthy")); got != 3 {
		t.Fatalf("expected healthy services 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.servicesTotal.WithLabelValues("down")); got != 1 {
		t.Fatalf("expected down services 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.incidentsTotal.WithLabelValues("plex")); got != 2 {
		t.Fatalf("expected plex incidents 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.probeTimeoutsTotal); got != 1 {
		t.Fatalf("expected probe timeouts 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.persistenceErrorsTotal); got != 1 {
		t.Fatalf("expected persistence errors 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.lastRefreshTimestampUnix); got != 100 {
		t.Fatalf("expected last refresh timestamp 100, got %v", got)
	}
	if count := testutil.CollectAndCount(m.refreshDurationSeconds); count == 0 {
		t.Fatalf("expected refresh duration histogram to be collected")
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	m.ObserveRefresh(time.Second, nil, time.Now())
	m.IncIncidents("plex")
	m.IncProbeTimeouts()
	m.IncPersistenceErrors()

	if m.Handler() == nil {
		t.Fatal("nil metrics must still return a handler")
	}
}
