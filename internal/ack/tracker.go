package ack

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/zeptac/subtronic-fleet/internal/logging"
)

// Status is the delivery confirmation state of a command.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusTimeout Status = "TIMEOUT"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusTimeout
}

// CommandRecord is the tracked state of one delivery attempt.
type CommandRecord struct {
	CommandID string         `json:"commandId"`
	DeviceID  string         `json:"deviceId"`
	Payload   map[string]any `json:"payload"`
	Changes   map[string]any `json:"changes,omitempty"`
	SentAt    time.Time      `json:"sentAt"`
	Timeout   time.Duration  `json:"timeout"`
	Status    Status         `json:"status"`
	// ResponseTime is the elapsed time between send and the terminal
	// status. Zero while the record is pending.
	ResponseTime time.Duration `json:"responseTime,omitempty"`
	Error        string        `json:"error,omitempty"`
	// Attempt is 1 for the original send and increments on each retry.
	Attempt int `json:"attempt"`
	// RetryOf holds the command ID this record was retried from, if any.
	RetryOf string `json:"retryOf,omitempty"`
}

// Stats aggregates acknowledgment outcomes for a device.
type Stats struct {
	DeviceID        string        `json:"deviceId,omitempty"`
	Total           int           `json:"total"`
	Pending         int           `json:"pending"`
	Success         int           `json:"success"`
	Failed          int           `json:"failed"`
	Timeout         int           `json:"timeout"`
	AvgResponseTime time.Duration `json:"avgResponseTime"`
}

// Tracker maintains command records and their state transitions. Records
// are retained in an expiring cache for query and history; eviction is
// purely age-based and independent of status.
type Tracker struct {
	mu      sync.RWMutex
	records *gocache.Cache
	// byDevice indexes command IDs per device, oldest first.
	byDevice map[string][]string

	subscribers []func(CommandRecord)

	// now is swappable for tests.
	now func() time.Time
}

// NewTracker creates a tracker retaining records for the given duration.
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	t := &Tracker{
		records:  gocache.New(retention, retention/4),
		byDevice: make(map[string][]string),
		now:      time.Now,
	}
	// The index must shrink with the cache, or command IDs accumulate for
	// the life of the daemon.
	t.records.OnEvicted(func(_ string, v any) {
		rec := v.(*CommandRecord)
		t.mu.Lock()
		defer t.mu.Unlock()
		t.unindex(rec)
	})
	return t
}

// unindex must be called with the write lock held.
func (t *Tracker) unindex(rec *CommandRecord) {
	ids := t.byDevice[rec.DeviceID]
	for i, id := range ids {
		if id == rec.CommandID {
			t.byDevice[rec.DeviceID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(t.byDevice[rec.DeviceID]) == 0 {
		delete(t.byDevice, rec.DeviceID)
	}
}

// Subscribe registers a callback invoked on every record creation and state
// transition. Callbacks run synchronously under the tracker lock and must
// not call back into the tracker.
func (t *Tracker) Subscribe(fn func(CommandRecord)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers = append(t.subscribers, fn)
}

func (t *Tracker) notify(rec *CommandRecord) {
	snapshot := *rec
	for _, fn := range t.subscribers {
		fn(snapshot)
	}
}

// RecordSent creates a PENDING record for a freshly delivered command.
func (t *Tracker) RecordSent(commandID, deviceID string, payload, changes map[string]any, timeout time.Duration) *CommandRecord {
	return t.record(commandID, deviceID, payload, changes, timeout, 1, "")
}

func (t *Tracker) record(commandID, deviceID string, payload, changes map[string]any, timeout time.Duration, attempt int, retryOf string) *CommandRecord {
	rec := &CommandRecord{
		CommandID: commandID,
		DeviceID:  deviceID,
		Payload:   payload,
		Changes:   changes,
		SentAt:    t.now(),
		Timeout:   timeout,
		Status:    StatusPending,
		Attempt:   attempt,
		RetryOf:   retryOf,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.records.SetDefault(commandID, rec)
	t.byDevice[deviceID] = append(t.byDevice[deviceID], commandID)
	t.notify(rec)

	logging.Info("command pending acknowledgment",
		zap.String("command_id", commandID),
		zap.String("device_id", deviceID),
		zap.Duration("timeout", timeout),
		zap.Int("attempt", attempt),
	)
	return rec
}

// RecordResult applies a device confirmation to a pending record. The
// outcome must be SUCCESS or FAILED. Confirmations for unknown or already
// terminal records are logged and discarded.
func (t *Tracker) RecordResult(commandID string, outcome Status, message string) error {
	if outcome != StatusSuccess && outcome != StatusFailed {
		return fmt.Errorf("invalid acknowledgment outcome %q for command %s", outcome, commandID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.lookup(commandID)
	if rec == nil {
		logging.Warn("acknowledgment for unknown command",
			zap.String("command_id", commandID),
			zap.String("outcome", string(outcome)),
		)
		return fmt.Errorf("unknown command %s", commandID)
	}
	if rec.Status.Terminal() {
		logging.Warn("duplicate acknowledgment discarded",
			zap.String("command_id", commandID),
			zap.String("status", string(rec.Status)),
			zap.String("late_outcome", string(outcome)),
		)
		return nil
	}

	rec.Status = outcome
	rec.ResponseTime = t.now().Sub(rec.SentAt)
	rec.Error = message
	t.notify(rec)

	logging.Info("command acknowledged",
		zap.String("command_id", commandID),
		zap.String("device_id", rec.DeviceID),
		zap.String("status", string(outcome)),
		zap.Duration("response_time", rec.ResponseTime),
	)
	return nil
}

// CheckTimeouts transitions every pending record whose deadline has passed
// to TIMEOUT and returns the records that timed out.
func (t *Tracker) CheckTimeouts() []CommandRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var expired []CommandRecord
	for _, item := range t.records.Items() {
		rec := item.Object.(*CommandRecord)
		if rec.Status != StatusPending {
			continue
		}
		if now.Sub(rec.SentAt) >= rec.Timeout {
			rec.Status = StatusTimeout
			rec.ResponseTime = now.Sub(rec.SentAt)
			t.notify(rec)
			expired = append(expired, *rec)

			logging.Warn("command timed out",
				zap.String("command_id", rec.CommandID),
				zap.String("device_id", rec.DeviceID),
				zap.Duration("timeout", rec.Timeout),
			)
		}
	}
	return expired
}

// RemainingTime returns the time left before a pending command times out,
// clamped at zero. This feeds UI countdowns only; the TIMEOUT transition
// itself happens in CheckTimeouts.
func (t *Tracker) RemainingTime(commandID string) (time.Duration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec := t.lookup(commandID)
	if rec == nil {
		return 0, false
	}
	remaining := rec.Timeout - t.now().Sub(rec.SentAt)
	if remaining < 0 || rec.Status.Terminal() {
		remaining = 0
	}
	return remaining, true
}

// Get returns a copy of the record for a command ID.
func (t *Tracker) Get(commandID string) (CommandRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec := t.lookup(commandID)
	if rec == nil {
		return CommandRecord{}, false
	}
	return *rec, true
}

// DeviceRecords returns the device's records, newest first, optionally
// filtered by status. offset/limit page through the filtered list;
// limit <= 0 means no limit.
func (t *Tracker) DeviceRecords(deviceID string, status Status, limit, offset int) []CommandRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []CommandRecord
	ids := t.byDevice[deviceID]
	for i := len(ids) - 1; i >= 0; i-- {
		rec := t.lookup(ids[i])
		if rec == nil {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, *rec)
	}

	if offset > 0 {
		if offset >= len(out) {
			return nil
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Pending returns the device's pending records, oldest first.
func (t *Tracker) Pending(deviceID string) []CommandRecord {
	recs := t.DeviceRecords(deviceID, StatusPending, 0, 0)
	sort.Slice(recs, func(i, j int) bool { return recs[i].SentAt.Before(recs[j].SentAt) })
	return recs
}

// DeviceStats aggregates outcomes for a device since the given time.
// A zero since covers the whole retained history.
func (t *Tracker) DeviceStats(deviceID string, since time.Time) Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Stats{DeviceID: deviceID}
	var totalResponse time.Duration
	var responded int

	for _, id := range t.byDevice[deviceID] {
		rec := t.lookup(id)
		if rec == nil || rec.SentAt.Before(since) {
			continue
		}
		tally(&stats, rec, &totalResponse, &responded)
	}
	if responded > 0 {
		stats.AvgResponseTime = totalResponse / time.Duration(responded)
	}
	return stats
}

// Overview aggregates outcomes across all devices since the given time.
func (t *Tracker) Overview(since time.Time) Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var stats Stats
	var totalResponse time.Duration
	var responded int

	for _, item := range t.records.Items() {
		rec := item.Object.(*CommandRecord)
		if rec.SentAt.Before(since) {
			continue
		}
		tally(&stats, rec, &totalResponse, &responded)
	}
	if responded > 0 {
		stats.AvgResponseTime = totalResponse / time.Duration(responded)
	}
	return stats
}

func tally(stats *Stats, rec *CommandRecord, totalResponse *time.Duration, responded *int) {
	stats.Total++
	switch rec.Status {
	case StatusPending:
		stats.Pending++
	case StatusSuccess:
		stats.Success++
	case StatusFailed:
		stats.Failed++
	case StatusTimeout:
		stats.Timeout++
	}
	if rec.Status == StatusSuccess || rec.Status == StatusFailed {
		*totalResponse += rec.ResponseTime
		*responded++
	}
}

// Clone creates a new PENDING record for a retry of an existing command.
// The original record is left untouched; the new record carries the same
// payload, a fresh command ID and an incremented attempt counter.
func (t *Tracker) Clone(original CommandRecord, newCommandID string) *CommandRecord {
	return t.record(
		newCommandID,
		original.DeviceID,
		original.Payload,
		original.Changes,
		original.Timeout,
		original.Attempt+1,
		original.CommandID,
	)
}

// Run sweeps for timeouts at the given interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.CheckTimeouts()
		case <-ctx.Done():
			logging.Debug("acknowledgment sweep stopped")
			return
		}
	}
}

// lookup must be called with at least the read lock held.
func (t *Tracker) lookup(commandID string) *CommandRecord {
	v, ok := t.records.Get(commandID)
	if !ok {
		return nil
	}
	return v.(*CommandRecord)
}
