package status

import "time"

// Status represents the health of a single service.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
	StatusUnknown  Status = "unknown"
)

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusHealthy, StatusDegraded, StatusDown, StatusUnknown:
		return true
	}
	return false
}

// Group categorizes services on the dashboard.
type Group string

const (
	GroupCore       Group = "core"
	GroupMedia      Group = "media"
	GroupAutomation Group = "automation"
)

// ServiceStatus is the result of a single probe. Produced fresh on every
// probe and never mutated afterwards.
type ServiceStatus struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Group       Group     `json:"group"`
	Status      Status    `json:"status"`
	LatencyMS   *int64    `json:"latency_ms"`
	URL         string    `json:"url,omitempty"`
	Description string    `json:"description,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
}

// Snapshot is the aggregated result of one refresh cycle. Immutable once
// built; the scheduler replaces it wholesale on each refresh.
type Snapshot struct {
	GeneratedAt   time.Time       `json:"generated_at"`
	OverallStatus Status          `json:"overall_status"`
	Services      []ServiceStatus `json:"services"`
}

// Clone returns a copy of the snapshot with its own services slice.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Services = append([]ServiceStatus(nil), s.Services...)
	return out
}

// Overall rolls up per-service statuses into a single worst-case status:
// down if any service is down, degraded if any is degraded or unknown,
// healthy otherwise. An empty list aggregates to healthy.
func Overall(services []ServiceStatus) Status {
	overall := StatusHealthy
	for _, svc := range services {
		switch svc.Status {
		case StatusDown:
			return StatusDown
		case StatusDegraded, StatusUnknown:
			overall = StatusDegraded
		}
	}
	return overall
}

// Counts tallies services by status. All four statuses are present as keys
// even when zero.
func Counts(services []ServiceStatus) map[Status]int {
	counts := map[Status]int{
		StatusHealthy:  0,
		StatusDegraded: 0,
		StatusDown:     0,
		StatusUnknown:  0,
	}
	for _, svc := range services {
		counts[svc.Status]++
	}
	return counts
}
