package observations

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/statuswatch/statuswatch/internal/status"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "observations.json")
	return NewStore(path, zerolog.Nop(), opts...), path
}

func reading(id string, st status.Status) status.ServiceStatus {
	return status.ServiceStatus{ID: id, Name: id, Status: st}
}

func TestApplyRefresh_FirstSightingCreatesNoIncident(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	doc, incidents, err := store.ApplyRefresh([]status.ServiceStatus{reading("plex", status.StatusHealthy)}, now)
	if err != nil {
		t.Fatalf("apply refresh: %v", err)
	}

	if len(incidents) != 0 {
		t.Fatalf("first sighting produced incidents: %v", incidents)
	}
	entry, ok := doc.Services["plex"]
	if !ok {
		t.Fatal("expected entry for plex")
	}
	if entry.LastStatus != status.StatusHealthy {
		t.Fatalf("unexpected last status: %s", entry.LastStatus)
	}
	if entry.Flapping {
		t.Fatal("new entry must not be flapping")
	}
	if len(entry.ChangeTimestamps) != 0 {
		t.Fatalf("new entry must have no transitions, got %v", entry.ChangeTimestamps)
	}
}

func TestApplyRefresh_UnchangedStatusIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	readings := []status.ServiceStatus{reading("plex", status.StatusHealthy)}
	if _, _, err := store.ApplyRefresh(readings, base); err != nil {
		t.Fatalf("apply refresh: %v", err)
	}

	for i := 1; i <= 3; i++ {
		doc, incidents, err := store.ApplyRefresh(readings, base.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("apply refresh %d: %v", i, err)
		}
		if len(incidents) != 0 {
			t.Fatalf("unchanged status produced incidents: %v", incidents)
		}
		entry := doc.Services["plex"]
		if len(entry.ChangeTimestamps) != 0 {
			t.Fatalf("unchanged status appended transition timestamps: %v", entry.ChangeTimestamps)
		}
		if len(doc.IncidentHistory) != 0 {
			t.Fatalf("unchanged status appended incidents: %v", doc.IncidentHistory)
		}
	}
}

func TestApplyRefresh_TransitionAppendsIncident(t *testing.T) {
	store, _ := newTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, _, err := store.ApplyRefresh([]status.ServiceStatus{reading("plex", status.StatusHealthy)}, base); err != nil {
		t.Fatalf("seed: %v", err)
	}

	at := base.Add(time.Minute)
	doc, incidents, err := store.ApplyRefresh([]status.ServiceStatus{reading("plex", status.StatusDown)}, at)
	if err != nil {
		t.Fatalf("apply refresh: %v", err)
	}

	want := Incident{ServiceID: "plex", From: status.StatusHealthy, To: status.StatusDown, At: at}
	if len(incidents) != 1 || incidents[0] != want {
		t.Fatalf("unexpected incidents: %v", incidents)
	}
	if doc.LastIncident == nil || *doc.LastIncident != want {
		t.Fatalf("unexpected last incident: %v", doc.LastIncident)
	}
	entry := doc.Services["plex"]
	if entry.LastStatus != status.StatusDown {
		t.Fatalf("unexpected last status: %s", entry.LastStatus)
	}
	if entry.LastChangedAt == nil || !entry.LastChangedAt.Equal(at) {
		t.Fatalf("unexpected last changed at: %v", entry.LastChangedAt)
	}
	if len(entry.ChangeTimestamps) != 1 || !entry.ChangeTimestamps[0].Equal(at) {
		t.Fatalf("unexpected change timestamps: %v", entry.ChangeTimestamps)
	}
}

func TestFlapDetection_WindowAndRecovery(t *testing.T) {
	store, _ := newTestStore(t, WithFlapWindow(10*time.Minute), WithFlapThreshold(3))
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	sequence := []struct {
		at       time.Time
		st       status.Status
		flapping bool
	}{
		{base, status.StatusHealthy, false},                   // first sighting
		{base.Add(1 * time.Minute), status.StatusDown, false}, // transition 1
		{base.Add(2 * time.Minute), status.StatusHealthy, false}, // transition 2
		{base.Add(3 * time.Minute), status.StatusDown, true},     // transition 3: threshold hit
		{base.Add(4 * time.Minute), status.StatusDown, true},     // unchanged, still inside window
	}

	for i, step := range sequence {
		doc, _, err := store.ApplyRefresh([]status.ServiceStatus{reading("plex", step.st)}, step.at)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got := doc.Services["plex"].Flapping; got != step.flapping {
			t.Fatalf("step %d: flapping = %v, want %v", i, got, step.flapping)
		}
	}

	// Once the window slides past the transitions, flapping clears.
	doc, _, err := store.ApplyRefresh([]status.ServiceStatus{reading("plex", status.StatusDown)}, base.Add(20*time.Minute))
	if err != nil {
		t.Fatalf("late refresh: %v", err)
	}
	entry := doc.Services["plex"]
	if entry.Flapping {
		t.Fatal("flapping must clear after the window elapses without transitions")
	}
	if len(entry.ChangeTimestamps) != 0 {
		t.Fatalf("expected pruned timestamps, got %v", entry.ChangeTimestamps)
	}
}

func TestApplyRefresh_TimestampCap(t *testing.T) {
	store, _ := newTestStore(t, WithFlapWindow(time.Hour), WithTimestampsLimit(2))
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	statuses := []status.Status{
		status.StatusHealthy, status.StatusDown, status.StatusHealthy, status.StatusDown, status.StatusHealthy,
	}
	var doc Document
	var err error
	for i, st := range statuses {
		doc, _, err = store.ApplyRefresh([]status.ServiceStatus{reading("plex", st)}, base.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}

	entry := doc.Services["plex"]
	if len(entry.ChangeTimestamps) != 2 {
		t.Fatalf("expected capped timestamps, got %v", entry.ChangeTimestamps)
	}
	// Oldest dropped first: the two newest transitions remain.
	if !entry.ChangeTimestamps[0].Equal(base.Add(3 * time.Minute)) {
		t.Fatalf("unexpected oldest retained timestamp: %v", entry.ChangeTimestamps[0])
	}
}

func TestIncidentHistory_BoundedAndOrdered(t *testing.T) {
	store, _ := newTestStore(t, WithHistoryLimit(5))
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	// Alternate statuses to generate one incident per refresh after seeding.
	current := status.StatusHealthy
	if _, _, err := store.ApplyRefresh([]status.ServiceStatus{reading("plex", current)}, base); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for i := 1; i <= 9; i++ {
		if current == status.StatusHealthy {
			current = status.StatusDown
		} else {
			current = status.StatusHealthy
		}
		if _, _, err := store.ApplyRefresh([]status.ServiceStatus{reading("plex", current)}, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}

	doc := store.Snapshot()
	if len(doc.IncidentHistory) != 5 {
		t.Fatalf("history length = %d, want 5", len(doc.IncidentHistory))
	}
	// Oldest-first on disk: the first retained incident is the 5th transition.
	if !doc.IncidentHistory[0].At.Equal(base.Add(5 * time.Minute)) {
		t.Fatalf("oldest entries were not the ones dropped: %v", doc.IncidentHistory[0].At)
	}

	global := store.GlobalIncidents(10)
	if len(global) != 5 {
		t.Fatalf("global incidents = %d, want 5", len(global))
	}
	for i := 1; i < len(global); i++ {
		if global[i].At.After(global[i-1].At) {
			t.Fatal("global incidents are not most-recent-first")
		}
	}

	// Prefix property: a smaller limit is a strict prefix of a larger one.
	three := store.GlobalIncidents(3)
	if diff := cmp.Diff(global[:3], three); diff != "" {
		t.Fatalf("limit 3 is not a prefix of limit 10 (-want +got):\n%s", diff)
	}
}

func TestRecentIncidents_FiltersByService(t *testing.T) {
	store, _ := newTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := []status.ServiceStatus{
		reading("plex", status.StatusHealthy),
		reading("sonarr", status.StatusHealthy),
	}
	if _, _, err := store.ApplyRefresh(seed, base); err != nil {
		t.Fatalf("seed: %v", err)
	}
	next := []status.ServiceStatus{
		reading("plex", status.StatusDown),
		reading("sonarr", status.StatusDegraded),
	}
	if _, _, err := store.ApplyRefresh(next, base.Add(time.Minute)); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	incidents := store.RecentIncidents("plex", 10)
	if len(incidents) != 1 {
		t.Fatalf("expected 1 plex incident, got %d", len(incidents))
	}
	if incidents[0].ServiceID != "plex" || incidents[0].To != status.StatusDown {
		t.Fatalf("unexpected incident: %+v", incidents[0])
	}

	if got := store.RecentIncidents("ghost", 10); len(got) != 0 {
		t.Fatalf("expected no incidents for unknown service, got %v", got)
	}
}

func TestInitializeServices_NeverOverwrites(t *testing.T) {
	store, _ := newTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	// Establish real history for plex.
	if _, _, err := store.ApplyRefresh([]status.ServiceStatus{reading("plex", status.StatusHealthy)}, base); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := store.ApplyRefresh([]status.ServiceStatus{reading("plex", status.StatusDown)}, base.Add(time.Minute)); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// Simulate a restart: initialize with plex (existing) and sonarr (new).
	restartAt := base.Add(time.Hour)
	init := []status.ServiceStatus{
		reading("plex", status.StatusUnknown),
		reading("sonarr", status.StatusUnknown),
	}
	if err := store.InitializeServices(init, restartAt); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	doc := store.Snapshot()
	plex := doc.Services["plex"]
	if plex.LastStatus != status.StatusDown {
		t.Fatalf("existing entry was overwritten: %s", plex.LastStatus)
	}
	if len(plex.ChangeTimestamps) != 1 {
		t.Fatalf("flap history lost across restart: %v", plex.ChangeTimestamps)
	}

	sonarr, ok := doc.Services["sonarr"]
	if !ok {
		t.Fatal("expected seeded entry for sonarr")
	}
	if sonarr.LastStatus != status.StatusUnknown {
		t.Fatalf("unexpected seeded status: %s", sonarr.LastStatus)
	}

	// Matching the seeded status on the first real refresh yields no incident.
	_, incidents, err := store.ApplyRefresh([]status.ServiceStatus{reading("sonarr", status.StatusUnknown)}, restartAt.Add(time.Minute))
	if err != nil {
		t.Fatalf("post-restart refresh: %v", err)
	}
	if len(incidents) != 0 {
		t.Fatalf("seeded service produced a phantom incident: %v", incidents)
	}
}

func TestLoad_MissingAndCorruptFilesSelfHeal(t *testing.T) {
	store, path := newTestStore(t)

	doc := store.Snapshot()
	if len(doc.Services) != 0 || len(doc.IncidentHistory) != 0 {
		t.Fatalf("expected empty document, got %+v", doc)
	}

	if err := os.WriteFile(path, []byte("{not-json"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	doc = store.Snapshot()
	if len(doc.Services) != 0 {
		t.Fatalf("corrupt file was not reset: %+v", doc)
	}
}

func TestPersistence_AtomicWriteSurvivesInterruptedTemp(t *testing.T) {
	store, path := newTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, _, err := store.ApplyRefresh([]status.ServiceStatus{reading("plex", status.StatusHealthy)}, base); err != nil {
		t.Fatalf("apply refresh: %v", err)
	}

	// Simulate a crash mid-write: a truncated temp file next to the target.
	stray := filepath.Join(filepath.Dir(path), ".observations-crash.json")
	if err := os.WriteFile(stray, []byte(`{"services": {"plex": {"last_`), 0o600); err != nil {
		t.Fatalf("write stray temp: %v", err)
	}

	reopened := NewStore(path, zerolog.Nop())
	doc := reopened.Snapshot()
	entry, ok := doc.Services["plex"]
	if !ok {
		t.Fatal("previously committed document was lost")
	}
	if entry.LastStatus != status.StatusHealthy {
		t.Fatalf("previously committed entry corrupted: %s", entry.LastStatus)
	}
}

func TestPersistedFormat(t *testing.T) {
	store, path := newTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, _, err := store.ApplyRefresh([]status.ServiceStatus{reading("plex", status.StatusHealthy)}, base); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := store.ApplyRefresh([]status.ServiceStatus{reading("plex", status.StatusDown)}, base.Add(time.Minute)); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read persisted file: %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("persisted file is not a JSON object: %v", err)
	}
	for _, key := range []string{"services", "last_incident", "incident_history"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("persisted document missing %q", key)
		}
	}

	var incident map[string]any
	if err := json.Unmarshal(decoded["last_incident"], &incident); err != nil {
		t.Fatalf("decode last_incident: %v", err)
	}
	if incident["from_status"] != "healthy" || incident["to_status"] != "down" {
		t.Fatalf("unexpected incident fields: %v", incident)
	}

	// Reload through a fresh store and compare round-trip.
	reopened := NewStore(path, zerolog.Nop())
	if diff := cmp.Diff(store.Snapshot(), reopened.Snapshot()); diff != "" {
		t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
	}
}
