package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/statuswatch/statuswatch/internal/observations"
	"github.com/statuswatch/statuswatch/internal/state"
	"github.com/statuswatch/statuswatch/internal/status"
)

const defaultIncidentLimit = 50

// ObservationReader is the read-only view of the observation store used by
// the HTTP layer.
type ObservationReader interface {
	Snapshot() observations.Document
	RecentIncidents(serviceID string, limit int) []observations.Incident
	GlobalIncidents(limit int) []observations.Incident
}

// Handlers serves the public status API from cached state; no request ever
// triggers a live probe.
type Handlers struct {
	logger          zerolog.Logger
	state           *state.State
	reader          ObservationReader
	refreshInterval time.Duration
	now             func() time.Time
}

// NewHandlers constructs the HTTP handler set.
func NewHandlers(logger zerolog.Logger, st *state.State, reader ObservationReader, refreshInterval time.Duration) *Handlers {
	return &Handlers{
		logger:          logger,
		state:           st,
		reader:          reader,
		refreshInterval: refreshInterval,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Routes registers all API and health routes on the mux.
func (h *Handlers) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", h.getStatus)
	mux.HandleFunc("GET /api/status/{id}", h.getServiceStatus)
	mux.HandleFunc("GET /api/overview", h.getOverview)
	mux.HandleFunc("GET /api/incidents", h.getGlobalIncidents)
	mux.HandleFunc("GET /api/services/{id}/incidents", h.getServiceIncidents)
	mux.HandleFunc("POST /api/refresh", h.postRefresh)
	mux.HandleFunc("GET /healthz", h.getHealthz)
	mux.HandleFunc("GET /readyz", h.getReadyz)
}

func (h *Handlers) getStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.state.CachedPayload()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "status not yet available"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handlers) getServiceStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, ok := h.state.ServiceStatus(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown service"})
		return
	}
	writeJSON(w, http.StatusOK, serviceStatusBody{
		ID:        id,
		Status:    entry.Status,
		CheckedAt: entry.CheckedAt,
	})
}

func (h *Handlers) getOverview(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.state.CachedPayload()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "status not yet available"})
		return
	}

	now := h.now()
	meta, _ := h.state.Metadata()
	cacheAge := int64(0)
	if !meta.LastRefreshAt.IsZero() {
		if age := now.Sub(meta.LastRefreshAt); age > 0 {
			cacheAge = int64(age.Seconds())
		}
	}

	doc := h.reader.Snapshot()

	services := make([]overviewService, 0, len(snap.Services))
	for _, svc := range snap.Services {
		entry := overviewService{
			ID:        svc.ID,
			Name:      svc.Name,
			Group:     svc.Group,
			Status:    svc.Status,
			LatencyMS: svc.LatencyMS,
			CheckedAt: svc.CheckedAt,
		}
		if obs, ok := doc.Services[svc.ID]; ok {
			entry.Flapping = obs.Flapping
			entry.LastChangedAt = obs.LastChangedAt
		}
		services = append(services, entry)
	}

	counts := status.Counts(snap.Services)
	writeJSON(w, http.StatusOK, overviewBody{
		GeneratedAt:           snap.GeneratedAt,
		OverallStatus:         snap.OverallStatus,
		Counts:                countsBody(counts),
		CacheAgeSeconds:       cacheAge,
		LastRefreshAt:         meta.LastRefreshAt,
		LastRefreshDurationMS: meta.LastRefreshDurationMS,
		LastIncident:          publicIncidentPtr(doc.LastIncident),
		Services:              services,
	})
}

func (h *Handlers) getGlobalIncidents(w http.ResponseWriter, r *http.Request) {
	incidents := h.reader.GlobalIncidents(parseLimit(r, defaultIncidentLimit))
	writeJSON(w, http.StatusOK, incidentsBody{Incidents: publicIncidents(incidents)})
}

func (h *Handlers) getServiceIncidents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	incidents := h.reader.RecentIncidents(id, parseLimit(r, 20))
	writeJSON(w, http.StatusOK, incidentsBody{Incidents: publicIncidents(incidents)})
}

// postRefresh requests an urgent re-check instead of waiting out the
// interval. The refresh itself happens on the scheduler loop.
func (h *Handlers) postRefresh(w http.ResponseWriter, r *http.Request) {
	h.state.MarkNeedsRefresh()
	writeJSON(w, http.StatusAccepted, refreshBody{Refresh: "scheduled"})
}

func (h *Handlers) getHealthz(w http.ResponseWriter, r *http.Request) {
	body := h.healthBody()
	if !h.state.Healthy(h.now(), h.refreshInterval) {
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handlers) getReadyz(w http.ResponseWriter, r *http.Request) {
	body := h.healthBody()
	if !h.state.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handlers) healthBody() healthzBody {
	meta, ok := h.state.Metadata()
	body := healthzBody{}
	if ok && !meta.LastRefreshAt.IsZero() {
		at := meta.LastRefreshAt
		body.LastRefreshAt = &at
		body.LastRefreshDurationMS = meta.LastRefreshDurationMS
	}
	return body
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error string `json:"error"`
}

type refreshBody struct {
	Refresh string `json:"refresh"`
}

type serviceStatusBody struct {
	ID        string        `json:"id"`
	Status    status.Status `json:"status"`
	CheckedAt time.Time     `json:"checked_at"`
}

type healthzBody struct {
	LastRefreshAt         *time.Time `json:"last_refresh_at"`
	LastRefreshDurationMS int64      `json:"last_refresh_duration_ms"`
}

type countsBody map[status.Status]int

type overviewService struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Group         status.Group  `json:"group"`
	Status        status.Status `json:"status"`
	LatencyMS     *int64        `json:"latency_ms"`
	CheckedAt     time.Time     `json:"checked_at"`
	Flapping      bool          `json:"flapping"`
	LastChangedAt *time.Time    `json:"last_changed_at"`
}

type overviewBody struct {
	GeneratedAt           time.Time         `json:"generated_at"`
	OverallStatus         status.Status     `json:"overall_status"`
	Counts                countsBody        `json:"counts"`
	CacheAgeSeconds       int64             `json:"cache_age_seconds"`
	LastRefreshAt         time.Time         `json:"last_refresh_at"`
	LastRefreshDurationMS int64             `json:"last_refresh_duration_ms"`
	LastIncident          *publicIncident   `json:"last_incident"`
	Services              []overviewService `json:"services"`
}

// publicIncident is the API shape for incidents: shorter from/to keys than
// the persisted document.
type publicIncident struct {
	ServiceID string        `json:"service_id"`
	From      status.Status `json:"from"`
	To        status.Status `json:"to"`
	At        time.Time     `json:"at"`
}

type incidentsBody struct {
	Incidents []publicIncident `json:"incidents"`
}

func publicIncidents(incidents []observations.Incident) []publicIncident {
	out := make([]publicIncident, 0, len(incidents))
	for _, incident := range incidents {
		out = append(out, publicIncident{
			ServiceID: incident.ServiceID,
			From:      incident.From,
			To:        incident.To,
			At:        incident.At,
		})
	}
	return out
}

func publicIncidentPtr(incident *observations.Incident) *publicIncident {
	if incident == nil {
		return nil
	}
	return &publicIncident{
		ServiceID: incident.ServiceID,
		From:      incident.From,
		To:        incident.To,
		At:        incident.At,
	}
}
