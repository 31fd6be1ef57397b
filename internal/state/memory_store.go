package state

import (
	"context"
	"sort"
	"sync"

	"healthwatch/internal/domain"
)

// MemoryStore keeps alerts in process memory for single-instance mode.
// Params: in-memory alert map plus an active-alert index by dedupe key.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts map[string]memoryAlert
	active map[string]string
}

type memoryAlert struct {
	alert    domain.Alert
	revision uint64
}

// NewMemoryStore creates an in-memory alert store.
// Params: none.
// Returns: initialized store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts: make(map[string]memoryAlert),
		active: make(map[string]string),
	}
}

// Put writes a new alert snapshot unconditionally.
// Params: alert payload.
// Returns: first revision.
func (s *MemoryStore) Put(_ context.Context, alert domain.Alert) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rev := s.alerts[alert.ID].revision + 1
	s.alerts[alert.ID] = memoryAlert{alert: cloneAlert(alert), revision: rev}
	s.reindex(alert)
	return rev, nil
}

// Get returns one alert snapshot and revision.
// Params: alert id.
// Returns: stored alert, revision, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, alertID string) (domain.Alert, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.alerts[alertID]
	if !ok {
		return domain.Alert{}, 0, ErrNotFound
	}
	return cloneAlert(entry.alert), entry.revision, nil
}

// Update replaces an alert snapshot using expected revision CAS.
// Params: alert id, expected revision, and replacement payload.
// Returns: new revision, ErrNotFound, or ErrConflict.
func (s *MemoryStore) Update(_ context.Context, alertID string, expectedRevision uint64, alert domain.Alert) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.alerts[alertID]
	if !ok {
		return 0, ErrNotFound
	}
	if entry.revision != expectedRevision {
		return 0, ErrConflict
	}
	rev := expectedRevision + 1
	s.alerts[alertID] = memoryAlert{alert: cloneAlert(alert), revision: rev}
	s.reindex(alert)
	return rev, nil
}

// FindActive returns the active alert indexed under the dedupe key.
// Params: dedupe key.
// Returns: alert, revision, or ErrNotFound when no active alert exists.
func (s *MemoryStore) FindActive(_ context.Context, dedupeKey string) (domain.Alert, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alertID, ok := s.active[dedupeKey]
	if !ok {
		return domain.Alert{}, 0, ErrNotFound
	}
	entry, ok := s.alerts[alertID]
	if !ok || entry.alert.Status != domain.AlertStatusActive {
		return domain.Alert{}, 0, ErrNotFound
	}
	return cloneAlert(entry.alert), entry.revision, nil
}

// ListOpen lists unresolved alerts in stable creation order.
// Params: none.
// Returns: active and acknowledged alerts.
func (s *MemoryStore) ListOpen(_ context.Context) ([]domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Alert, 0)
	for _, entry := range s.alerts {
		if entry.alert.Status == domain.AlertStatusResolved {
			continue
		}
		out = append(out, cloneAlert(entry.alert))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Close releases memory store resources.
// Params: none.
// Returns: nil.
func (s *MemoryStore) Close() error {
	return nil
}

// reindex maintains the active-alert dedupe index after a write.
// Params: written alert snapshot; caller holds the write lock.
// Returns: none.
func (s *MemoryStore) reindex(alert domain.Alert) {
	if alert.DedupeKey == "" {
		return
	}
	if alert.Status == domain.AlertStatusActive {
		s.active[alert.DedupeKey] = alert.ID
		return
	}
	if indexed, ok := s.active[alert.DedupeKey]; ok && indexed == alert.ID {
		delete(s.active, alert.DedupeKey)
	}
}

// cloneAlert detaches the mutable report-id slice from a snapshot.
// Params: source alert.
// Returns: detached copy.
func cloneAlert(alert domain.Alert) domain.Alert {
	copied := alert
	copied.ReportIDs = append([]string(nil), alert.ReportIDs...)
	if alert.AcknowledgedAt != nil {
		at := *alert.AcknowledgedAt
		copied.AcknowledgedAt = &at
	}
	if alert.ResolvedAt != nil {
		at := *alert.ResolvedAt
		copied.ResolvedAt = &at
	}
	return copied
}
