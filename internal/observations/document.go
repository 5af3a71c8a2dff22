package observations

import (
	"sort"
	"time"

	"github.com/statuswatch/statuswatch/internal/status"
)

// Incident is a recorded transition of a single service's status. Append-only.
type Incident struct {
	ServiceID string        `json:"service_id"`
	From      status.Status `json:"from_status"`
	To        status.Status `json:"to_status"`
	At        time.Time     `json:"at"`
}

// ServiceObservation is the durable change history for one service.
type ServiceObservation struct {
	LastStatus       status.Status `json:"last_status"`
	LastChangedAt    *time.Time    `json:"last_changed_at"`
	LastSeenAt       *time.Time    `json:"last_seen_at"`
	ChangeTimestamps []time.Time   `json:"change_timestamps"`
	Flapping         bool          `json:"flapping"`
}

func (o ServiceObservation) clone() ServiceObservation {
	out := o
	out.LastChangedAt = cloneTime(o.LastChangedAt)
	out.LastSeenAt = cloneTime(o.LastSeenAt)
	out.ChangeTimestamps = append([]time.Time(nil), o.ChangeTimestamps...)
	return out
}

// Document is the full persisted observation state.
type Document struct {
	Services        map[string]ServiceObservation `json:"services"`
	LastIncident    *Incident                     `json:"last_incident"`
	IncidentHistory []Incident                    `json:"incident_history"`
}

func defaultDocument() Document {
	return Document{
		Services:        map[string]ServiceObservation{},
		IncidentHistory: []Incident{},
	}
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	out := Document{
		Services:        make(map[string]ServiceObservation, len(d.Services)),
		IncidentHistory: append([]Incident(nil), d.IncidentHistory...),
	}
	for id, entry := range d.Services {
		out.Services[id] = entry.clone()
	}
	if d.LastIncident != nil {
		incident := *d.LastIncident
		out.LastIncident = &incident
	}
	return out
}

// normalize repairs a freshly decoded document: nil maps and slices are
// defaulted, entries with unusable statuses are dropped, and change
// timestamps are sorted oldest-first.
func (d *Document) normalize(historyLimit int) {
	if d.Services == nil {
		d.Services = map[string]ServiceObservation{}
	}
	for id, entry := range d.Services {
		if id == "" || !entry.LastStatus.Valid() {
			delete(d.Services, id)
			continue
		}
		if entry.ChangeTimestamps == nil {
			entry.ChangeTimestamps = []time.Time{}
		}
		sort.Slice(entry.ChangeTimestamps, func(i, j int) bool {
			return entry.ChangeTimestamps[i].Before(entry.ChangeTimestamps[j])
		})
		d.Services[id] = entry
	}

	if d.IncidentHistory == nil {
		d.IncidentHistory = []Incident{}
	}
	kept := d.IncidentHistory[:0]
	for _, incident := range d.IncidentHistory {
		if incident.ServiceID == "" || !incident.From.Valid() || !incident.To.Valid() {
			continue
		}
		kept = append(kept, incident)
	}
	d.IncidentHistory = kept
	if len(d.IncidentHistory) > historyLimit {
		d.IncidentHistory = d.IncidentHistory[len(d.IncidentHistory)-historyLimit:]
	}

	if d.LastIncident != nil {
		if d.LastIncident.ServiceID == "" || !d.LastIncident.From.Valid() || !d.LastIncident.To.Valid() {
			d.LastIncident = nil
		}
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := *t
	return &value
}
