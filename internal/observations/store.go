package observations

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/statuswatch/statuswatch/internal/status"
)

const (
	defaultHistoryLimit    = 200
	defaultFlapWindow      = 10 * time.Minute
	defaultFlapThreshold   = 3
	defaultTimestampsLimit = 20
)

// Store converts point-in-time status readings into durable change history,
// incident records, and a flapping classification. All document access is
// serialized by one mutex; writes go through a temp file plus rename so a
// crash never leaves a partial file behind.
type Store struct {
	path            string
	logger          zerolog.Logger
	historyLimit    int
	flapWindow      time.Duration
	flapThreshold   int
	timestampsLimit int
	mu              sync.Mutex
}

// Option customizes store behavior.
type Option func(*Store)

// WithHistoryLimit bounds the global incident ring.
func WithHistoryLimit(limit int) Option {
	return func(s *Store) {
		if limit > 0 {
			s.historyLimit = limit
		}
	}
}

// WithFlapWindow sets the sliding window for flap detection.
func WithFlapWindow(window time.Duration) Option {
	return func(s *Store) {
		if window > 0 {
			s.flapWindow = window
		}
	}
}

// WithFlapThreshold sets the transition count that classifies a service as
// flapping.
func WithFlapThreshold(threshold int) Option {
	return func(s *Store) {
		if threshold > 0 {
			s.flapThreshold = threshold
		}
	}
}

// WithTimestampsLimit caps retained change timestamps per service.
func WithTimestampsLimit(limit int) Option {
	return func(s *Store) {
		if limit > 0 {
			s.timestampsLimit = limit
		}
	}
}

// NewStore returns a JSON-backed observation store.
func NewStore(path string, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		path:            path,
		logger:          logger,
		historyLimit:    defaultHistoryLimit,
		flapWindow:      defaultFlapWindow,
		flapThreshold:   defaultFlapThreshold,
		timestampsLimit: defaultTimestampsLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitializeServices seeds entries for service ids that have never been
// observed, so a pre-existing service does not register a phantom
// transition on the first refresh after a restart. Existing entries are
// never overwritten.
func (s *Store) InitializeServices(readings []status.ServiceStatus, observedAt time.Time) error {
	observedAt = observedAt.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.loadLocked()
	changed := false

	for _, reading := range readings {
		if reading.ID == "" || !reading.Status.Valid() {
			continue
		}
		if _, exists := doc.Services[reading.ID]; exists {
			continue
		}
		doc.Services[reading.ID] = seedObservation(reading.Status, observedAt)
		changed = true
	}

	if !changed {
		return nil
	}
	return s.writeLocked(doc)
}

// ApplyRefresh folds one refresh cycle's readings into the document,
// appending incidents for status transitions, pruning the flap window, and
// persisting atomically. It returns a deep copy of the resulting document
// together with the incidents appended during this cycle.
func (s *Store) ApplyRefresh(readings []status.ServiceStatus, observedAt time.Time) (Document, []Incident, error) {
	observedAt = observedAt.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.loadLocked()
	var appended []Incident

	for _, reading := range readings {
		if reading.ID == "" || !reading.Status.Valid() {
			continue
		}

		entry, exists := doc.Services[reading.ID]
		if !exists {
			// First sighting: seed without an incident.
			doc.Services[reading.ID] = seedObservation(reading.Status, observedAt)
			continue
		}

		if entry.LastStatus != reading.Status {
			incident := Incident{
				ServiceID: reading.ID,
				From:      entry.LastStatus,
				To:        reading.Status,
				At:        observedAt,
			}
			doc.IncidentHistory = append(doc.IncidentHistory, incident)
			if len(doc.IncidentHistory) > s.historyLimit {
				doc.IncidentHistory = doc.IncidentHistory[len(doc.IncidentHistory)-s.historyLimit:]
			}
			doc.LastIncident = &incident
			appended = append(appended, incident)

			changedAt := observedAt
			entry.LastChangedAt = &changedAt
			entry.ChangeTimestamps = append(entry.ChangeTimestamps, observedAt)
		}

		if entry.LastChangedAt == nil {
			changedAt := observedAt
			entry.LastChangedAt = &changedAt
		}

		entry.ChangeTimestamps = s.pruneTimestamps(entry.ChangeTimestamps, observedAt)
		entry.Flapping = len(entry.ChangeTimestamps) >= s.flapThreshold
		entry.LastStatus = reading.Status
		seenAt := observedAt
		entry.LastSeenAt = &seenAt

		doc.Services[reading.ID] = entry
	}

	if err := s.writeLocked(doc); err != nil {
		return Document{}, nil, err
	}
	return doc.Clone(), appended, nil
}

// Snapshot returns a deep copy of the full persisted document.
func (s *Store) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked().Clone()
}

// ServiceObservation returns the entry for one service id, if present.
func (s *Store) ServiceObservation(serviceID string) (ServiceObservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.loadLocked().Services[serviceID]
	if !ok {
		return ServiceObservation{}, false
	}
	return entry.clone(), true
}

// RecentIncidents returns the newest incidents for one service,
// most-recent-first, bounded by min(limit, history limit).
func (s *Store) RecentIncidents(serviceID string, limit int) []Incident {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.loadLocked().IncidentHistory
	filtered := make([]Incident, 0, len(history))
	for _, incident := range history {
		if incident.ServiceID == serviceID {
			filtered = append(filtered, incident)
		}
	}
	return newestFirst(filtered, s.boundLimit(limit))
}

// GlobalIncidents returns the newest incidents across all services,
// most-recent-first, bounded by min(limit, history limit).
func (s *Store) GlobalIncidents(limit int) []Incident {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.loadLocked().IncidentHistory
	return newestFirst(history, s.boundLimit(limit))
}

func (s *Store) boundLimit(limit int) int {
	if limit < 1 {
		limit = 1
	}
	if limit > s.historyLimit {
		limit = s.historyLimit
	}
	return limit
}

func newestFirst(history []Incident, limit int) []Incident {
	if limit > len(history) {
		limit = len(history)
	}
	out := make([]Incident, 0, limit)
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, history[i])
	}
	return out
}

// pruneTimestamps keeps only transition times inside the trailing flap
// window, capped at the retention limit with the oldest dropped first.
func (s *Store) pruneTimestamps(timestamps []time.Time, observedAt time.Time) []time.Time {
	cutoff := observedAt.Add(-s.flapWindow)
	kept := make([]time.Time, 0, len(timestamps))
	for _, ts := range timestamps {
		if !ts.Before(cutoff) && !ts.After(observedAt) {
			kept = append(kept, ts)
		}
	}
	if len(kept) > s.timestampsLimit {
		kept = kept[len(kept)-s.timestampsLimit:]
	}
	return kept
}

// loadLocked reads the document from disk. Missing or corrupt files reset
// to an empty default document; monitoring state is best-effort and must
// never fail the caller.
func (s *Store) loadLocked() Document {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Str("path", s.path).Err(err).Msg("observations file unreadable, starting fresh")
		}
		return defaultDocument()
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn().Str("path", s.path).Err(err).Msg("observations file corrupt, starting fresh")
		return defaultDocument()
	}
	doc.normalize(s.historyLimit)
	return doc
}

// writeLocked persists the document atomically: temp file in the same
// directory, flush, fsync, then rename over the target.
func (s *Store) writeLocked(doc Document) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, ".observations-*.json")
	if err != nil {
		return err
	}

	cleanup := func() {
		_ = os.Remove(tempFile.Name())
	}

	encoder := json.NewEncoder(tempFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		_ = tempFile.Close()
		cleanup()
		return err
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		cleanup()
		return err
	}
	if err := tempFile.Close(); err != nil {
		cleanup()
		return err
	}

	if err := os.Rename(tempFile.Name(), s.path); err != nil {
		cleanup()
		return err
	}

	if dirHandle, err := os.Open(dir); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}

	return nil
}

func seedObservation(current status.Status, observedAt time.Time) ServiceObservation {
	changedAt := observedAt
	seenAt := observedAt
	return ServiceObservation{
		LastStatus:       current,
		LastChangedAt:    &changedAt,
		LastSeenAt:       &seenAt,
		ChangeTimestamps: []time.Time{},
		Flapping:         false,
	}
}
