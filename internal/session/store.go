// ABOUTME: Durable map of instance id to session activity records.
// ABOUTME: Persists to and restores from a flat JSON snapshot, losslessly.

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record holds persisted metadata describing an instance's activity history.
// It survives disconnects until purged by the retention sweep.
type Record struct {
	InstanceID     string     `json:"instanceId"`
	ProjectPath    string     `json:"projectPath,omitempty"`
	MessageCount   int        `json:"messageCount"`
	ConnectedAt    time.Time  `json:"connectedAt"`
	LastActivity   time.Time  `json:"lastActivity"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
}

// Store is the session store. All mutation happens under one mutex; records
// handed out are copies.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
	logger  *slog.Logger
}

// NewStore creates an empty session store. Pass nil logger for default.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		records: make(map[string]*Record),
		logger:  logger.With("component", "session-store"),
	}
}

// Connect creates a record for the instance if absent and clears any earlier
// disconnect marker. It does not count as activity.
func (s *Store) Connect(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	rec, ok := s.records[instanceID]
	if !ok {
		s.records[instanceID] = &Record{
			InstanceID:   instanceID,
			ConnectedAt:  now,
			LastActivity: now,
		}
		return
	}
	rec.ConnectedAt = now
	rec.DisconnectedAt = nil
}

// Touch creates or updates the record for an instance: increments the
// message counter and stamps activity. A non-empty projectPath overwrites
// the stored path.
func (s *Store) Touch(instanceID, projectPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	rec, ok := s.records[instanceID]
	if !ok {
		rec = &Record{
			InstanceID:  instanceID,
			ConnectedAt: now,
		}
		s.records[instanceID] = rec
	}
	rec.MessageCount++
	rec.LastActivity = now
	rec.DisconnectedAt = nil
	if projectPath != "" {
		rec.ProjectPath = projectPath
	}
}

// Register creates or updates a record without counting it as message
// activity: the counter and any disconnect marker are left alone. Used by
// the side-channel registration API.
func (s *Store) Register(instanceID, projectPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[instanceID]
	if !ok {
		now := time.Now().UTC()
		rec = &Record{
			InstanceID:   instanceID,
			ConnectedAt:  now,
			LastActivity: now,
		}
		s.records[instanceID] = rec
	}
	if projectPath != "" {
		rec.ProjectPath = projectPath
	}
}

// Rename moves a record to a new instance id, merging message counts if a
// record already exists under the new id. Used when a client identifies
// itself with its own instance id after connecting under a generated one.
func (s *Store) Rename(oldID, newID string) {
	if oldID == newID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[oldID]
	if !ok {
		return
	}
	delete(s.records, oldID)

	if existing, ok := s.records[newID]; ok {
		existing.MessageCount += rec.MessageCount
		if rec.LastActivity.After(existing.LastActivity) {
			existing.LastActivity = rec.LastActivity
		}
		existing.DisconnectedAt = nil
		if rec.ProjectPath != "" {
			existing.ProjectPath = rec.ProjectPath
		}
		return
	}

	rec.InstanceID = newID
	s.records[newID] = rec
}

// MarkDisconnected stamps the disconnect time. The record is retained until
// the retention sweep removes it.
func (s *Store) MarkDisconnected(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[instanceID]; ok {
		now := time.Now().UTC()
		rec.DisconnectedAt = &now
	}
}

// Get returns a copy of the record for an instance.
func (s *Store) Get(instanceID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[instanceID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// List returns copies of all records.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	return out
}

// Count returns the number of records, live and disconnected.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// PurgeStale removes every record disconnected for longer than retention.
// Returns the number of records removed.
func (s *Store) PurgeStale(retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	purged := 0
	for id, rec := range s.records {
		if rec.DisconnectedAt == nil {
			continue
		}
		if now.Sub(*rec.DisconnectedAt) >= retention {
			delete(s.records, id)
			purged++
		}
	}
	if purged > 0 {
		s.logger.Info("purged stale sessions", "purged", purged, "remaining", len(s.records))
	}
	return purged
}

// Snapshot serializes the full record map.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return json.MarshalIndent(s.records, "", "  ")
}

// Restore replaces the store contents from a serialized snapshot. The round
// trip is lossless: every field survives.
func (s *Store) Restore(data []byte) error {
	records := make(map[string]*Record)
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("decoding session snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	return nil
}

// Save writes the snapshot atomically: temp file in the same directory,
// then rename.
func (s *Store) Save(path string) error {
	data, err := s.Snapshot()
	if err != nil {
		return fmt.Errorf("serializing sessions: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".sessions-*.json")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

// Load restores the store from a snapshot file. A missing file is not an
// error; the store starts empty.
func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading session snapshot: %w", err)
	}
	if err := s.Restore(data); err != nil {
		return err
	}
	s.logger.Info("restored session snapshot", "path", path, "sessions", s.Count())
	return nil
}
