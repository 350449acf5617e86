package settings

import (
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zeptac/subtronic-fleet/internal/logging"
)

// entry holds the cached configuration state for a single device.
type entry struct {
	mu         sync.Mutex
	baseline   map[string]any
	overlay    map[string]any
	lastUpdate time.Time
}

// Summary describes the staged changes for a device.
type Summary struct {
	Count      int            `json:"count"`
	Changes    map[string]any `json:"changes"`
	LastUpdate time.Time      `json:"lastUpdate"`
}

// Store owns the per-device configuration caches. Devices are independent;
// operations on the same device are linearized by the entry mutex.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewStore creates an empty settings store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
	}
}

// get returns the entry for deviceID, or nil if the device is not tracked.
func (s *Store) get(deviceID string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[deviceID]
}

// Initialize creates the cache for a device from its current settings.
// First write wins: a device that is already tracked is never silently
// re-baselined by a second call. Use UpdateBaseline for fresh snapshots.
func (s *Store) Initialize(deviceID string, current map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[deviceID]; ok {
		return
	}

	s.entries[deviceID] = &entry{
		baseline:   copyMap(current),
		overlay:    make(map[string]any),
		lastUpdate: time.Now(),
	}
	logging.Debug("initialized settings cache",
		zap.String("device_id", deviceID),
		zap.Int("fields", len(current)),
	)
}

// Tracked reports whether a cache exists for the device.
func (s *Store) Tracked(deviceID string) bool {
	return s.get(deviceID) != nil
}

// Devices returns the IDs of all tracked devices.
func (s *Store) Devices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// Stage records a single pending edit for a device without sending it.
// Staging against an uninitialized device is tolerated (it can race the
// first settings snapshot); the edit is dropped with a warning.
func (s *Store) Stage(deviceID, key string, value any) {
	e := s.get(deviceID)
	if e == nil {
		logging.Warn("stage on uninitialized device cache",
			zap.String("device_id", deviceID),
			zap.String("key", key),
		)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.overlay[key] = value
	e.lastUpdate = time.Now()
}

// StageBatch records several pending edits as one atomic overlay update.
// No partial application is observable by other operations on the device.
func (s *Store) StageBatch(deviceID string, updates map[string]any) {
	e := s.get(deviceID)
	if e == nil {
		logging.Warn("batch stage on uninitialized device cache",
			zap.String("device_id", deviceID),
			zap.Int("updates", len(updates)),
		)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range updates {
		e.overlay[k] = v
	}
	e.lastUpdate = time.Now()
}

// HasStaged reports whether the device has pending edits.
func (s *Store) HasStaged(deviceID string) bool {
	e := s.get(deviceID)
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.overlay) > 0
}

// StagedChanges returns a copy of the device's pending edits.
func (s *Store) StagedChanges(deviceID string) map[string]any {
	e := s.get(deviceID)
	if e == nil {
		return map[string]any{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return copyMap(e.overlay)
}

// StagedSummary returns the pending edits together with their count and the
// time of the most recent mutation.
func (s *Store) StagedSummary(deviceID string) Summary {
	e := s.get(deviceID)
	if e == nil {
		return Summary{Changes: map[string]any{}}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return Summary{
		Count:      len(e.overlay),
		Changes:    copyMap(e.overlay),
		LastUpdate: e.lastUpdate,
	}
}

// Baseline returns a copy of the device's last known-good settings.
func (s *Store) Baseline(deviceID string) map[string]any {
	e := s.get(deviceID)
	if e == nil {
		return map[string]any{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return copyMap(e.baseline)
}

// UpdateBaseline replaces the device's baseline with a fresh settings
// snapshot from the device. Staged edits are untouched.
func (s *Store) UpdateBaseline(deviceID string, fresh map[string]any) {
	e := s.get(deviceID)
	if e == nil {
		logging.Warn("baseline update for uninitialized device cache",
			zap.String("device_id", deviceID),
		)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseline = copyMap(fresh)
	e.lastUpdate = time.Now()
	logging.Debug("baseline replaced",
		zap.String("device_id", deviceID),
		zap.Int("fields", len(fresh)),
	)
}

// Commit folds the delivered changes into the baseline and removes them
// from the overlay. Only keys that were part of the delivered snapshot are
// removed: a key re-staged to a different value after the snapshot was
// taken stays pending, so no late edit is ever lost.
func (s *Store) Commit(deviceID string, delivered map[string]any) {
	e := s.get(deviceID)
	if e == nil {
		logging.Warn("commit for uninitialized device cache",
			zap.String("device_id", deviceID),
		)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for k, v := range delivered {
		e.baseline[k] = v
		if cur, ok := e.overlay[k]; ok && reflect.DeepEqual(cur, v) {
			delete(e.overlay, k)
		}
	}
	e.lastUpdate = time.Now()

	if len(e.overlay) > 0 {
		logging.Info("late staged edits survive commit",
			zap.String("device_id", deviceID),
			zap.Int("pending", len(e.overlay)),
		)
	}
}

// Discard clears the device's pending edits. The baseline is untouched,
// regardless of any prior delivery attempts.
func (s *Store) Discard(deviceID string) {
	e := s.get(deviceID)
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.overlay = make(map[string]any)
	e.lastUpdate = time.Now()
	logging.Debug("discarded staged changes", zap.String("device_id", deviceID))
}

// Remove drops the whole cache entry for a device.
func (s *Store) Remove(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, deviceID)
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
