package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zeptac/subtronic-fleet/internal/ack"
	"github.com/zeptac/subtronic-fleet/internal/settings"
)

type fakeTransport struct {
	mu       sync.Mutex
	err      error
	calls    int
	payloads []map[string]any
	// block, when non-nil, is closed by the test to let SendConfig return.
	block chan struct{}
	// started is signalled once SendConfig has been entered.
	started chan struct{}
}

func (f *fakeTransport) SendConfig(ctx context.Context, deviceID, commandID string, payload map[string]any) error {
	f.mu.Lock()
	f.calls++
	f.payloads = append(f.payloads, payload)
	block := f.block
	started := f.started
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block != nil {
		<-block
	}
	return f.err
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeArchive struct {
	err   error
	calls int
}

func (f *fakeArchive) SaveSettings(ctx context.Context, deviceID string, payload map[string]any) error {
	f.calls++
	return f.err
}

func newTestCoordinator(transport Transport, archive Archive) (*Coordinator, *settings.Store, *ack.Tracker) {
	store := settings.NewStore()
	tracker := ack.NewTracker(time.Hour)
	return NewCoordinator(store, tracker, transport, archive, 30*time.Second), store, tracker
}

func TestSendNoPendingChanges(t *testing.T) {
	transport := &fakeTransport{}
	coord, store, _ := newTestCoordinator(transport, nil)
	store.Initialize("D1", map[string]any{"Mode": "Survey"})

	result := coord.Send(context.Background(), "D1")

	if result.Sent {
		t.Error("Sent = true for empty overlay")
	}
	if result.Reason != ReasonNoPendingChanges {
		t.Errorf("Reason = %q, want %q", result.Reason, ReasonNoPendingChanges)
	}
	if result.Err != nil {
		t.Errorf("Err = %v, want nil", result.Err)
	}
	if transport.callCount() != 0 {
		t.Errorf("transport called %d times, want 0", transport.callCount())
	}
}

func TestSendCommitsOnAcceptance(t *testing.T) {
	transport := &fakeTransport{}
	coord, store, tracker := newTestCoordinator(transport, nil)
	store.Initialize("D1", map[string]any{"Mode": "Survey", "Output Voltage": 2.5})
	store.Stage("D1", "Mode", "Interrupt")

	result := coord.Send(context.Background(), "D1")

	if !result.Sent {
		t.Fatalf("Sent = false: %v", result.Err)
	}
	if result.CommandID == "" {
		t.Error("no command ID assigned")
	}
	if result.Payload["Mode"] != "Interrupt" || result.Payload["Output Voltage"] != 2.5 {
		t.Errorf("payload = %v, want composed frame", result.Payload)
	}
	if len(result.Changes) != 1 || result.Changes["Mode"] != "Interrupt" {
		t.Errorf("changes = %v", result.Changes)
	}

	// Commit folds the delivered key into the baseline and clears the overlay.
	if store.HasStaged("D1") {
		t.Error("overlay not cleared after acceptance")
	}
	if base := store.Baseline("D1"); base["Mode"] != "Interrupt" {
		t.Errorf("baseline Mode = %v, want Interrupt", base["Mode"])
	}

	rec, ok := tracker.Get(result.CommandID)
	if !ok {
		t.Fatal("no command record created")
	}
	if rec.Status != ack.StatusPending {
		t.Errorf("record status = %s, want PENDING", rec.Status)
	}
	if rec.DeviceID != "D1" {
		t.Errorf("record device = %s", rec.DeviceID)
	}
}

func TestSendTransportFailurePreservesOverlay(t *testing.T) {
	transport := &fakeTransport{err: errors.New("broker unreachable")}
	coord, store, tracker := newTestCoordinator(transport, nil)
	store.Initialize("D1", map[string]any{"Mode": "Survey"})
	store.Stage("D1", "Mode", "Interrupt")

	result := coord.Send(context.Background(), "D1")

	if result.Sent {
		t.Error("Sent = true despite transport failure")
	}
	if result.Err == nil || result.ErrMessage == "" {
		t.Error("failure not reported on the result")
	}

	// The overlay must survive so the operator can retry the send.
	if !store.HasStaged("D1") {
		t.Error("overlay lost on transport failure")
	}
	if base := store.Baseline("D1"); base["Mode"] != "Survey" {
		t.Errorf("baseline mutated on failure: %v", base["Mode"])
	}
	if _, ok := tracker.Get(result.CommandID); ok {
		t.Error("command record created for a rejected frame")
	}
}

func TestSendLateEditSurvivesCommit(t *testing.T) {
	transport := &fakeTransport{
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	coord, store, _ := newTestCoordinator(transport, nil)
	store.Initialize("D1", map[string]any{"Mode": "Survey", "Logging": "Off"})
	store.Stage("D1", "Mode", "Interrupt")

	done := make(chan SendResult, 1)
	go func() {
		done <- coord.Send(context.Background(), "D1")
	}()

	// Stage a further edit while the frame is in flight. It was not part
	// of the snapshot, so the commit must leave it pending.
	<-transport.started
	store.Stage("D1", "Logging", "On")
	close(transport.block)

	result := <-done
	if !result.Sent {
		t.Fatalf("Sent = false: %v", result.Err)
	}
	staged := store.StagedChanges("D1")
	if len(staged) != 1 || staged["Logging"] != "On" {
		t.Errorf("staged after commit = %v, want the late edit only", staged)
	}
}

func TestSendSerializedPerDevice(t *testing.T) {
	transport := &fakeTransport{
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	coord, store, _ := newTestCoordinator(transport, nil)
	store.Initialize("D1", map[string]any{"Mode": "Survey"})
	store.Stage("D1", "Mode", "Interrupt")

	done := make(chan SendResult, 1)
	go func() {
		done <- coord.Send(context.Background(), "D1")
	}()
	<-transport.started

	second := coord.Send(context.Background(), "D1")
	if second.Reason != ReasonDeliveryInProgress {
		t.Errorf("second send Reason = %q, want %q", second.Reason, ReasonDeliveryInProgress)
	}
	if !errors.Is(second.Err, ErrDeliveryInProgress) {
		t.Errorf("second send Err = %v", second.Err)
	}

	close(transport.block)
	<-done

	if transport.callCount() != 1 {
		t.Errorf("transport called %d times, want 1", transport.callCount())
	}
}

func TestRetryCreatesFreshRecord(t *testing.T) {
	transport := &fakeTransport{}
	coord, store, tracker := newTestCoordinator(transport, nil)
	store.Initialize("D1", map[string]any{"Mode": "Survey"})
	store.Stage("D1", "Mode", "Interrupt")

	first := coord.Send(context.Background(), "D1")
	if !first.Sent {
		t.Fatalf("initial send failed: %v", first.Err)
	}
	if err := tracker.RecordResult(first.CommandID, ack.StatusFailed, "device rejected"); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}

	retried, err := coord.Retry(context.Background(), first.CommandID)
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if !retried.Sent {
		t.Fatalf("retry not sent: %v", retried.Err)
	}
	if retried.CommandID == first.CommandID {
		t.Error("retry reused the original command ID")
	}
	if retried.Payload["Mode"] != "Interrupt" {
		t.Errorf("retry payload = %v, want original frame", retried.Payload)
	}

	clone, _ := tracker.Get(retried.CommandID)
	if clone.Attempt != 2 || clone.RetryOf != first.CommandID {
		t.Errorf("clone = %+v", clone)
	}
	original, _ := tracker.Get(first.CommandID)
	if original.Status != ack.StatusFailed || original.Error != "device rejected" {
		t.Errorf("original record mutated by retry: %+v", original)
	}
}

func TestRetryRejectsNonTerminal(t *testing.T) {
	transport := &fakeTransport{}
	coord, store, tracker := newTestCoordinator(transport, nil)
	store.Initialize("D1", map[string]any{"Mode": "Survey"})
	store.Stage("D1", "Mode", "Interrupt")

	first := coord.Send(context.Background(), "D1")

	if _, err := coord.Retry(context.Background(), first.CommandID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("Retry of PENDING err = %v, want ErrNotRetryable", err)
	}

	_ = tracker.RecordResult(first.CommandID, ack.StatusSuccess, "")
	if _, err := coord.Retry(context.Background(), first.CommandID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("Retry of SUCCESS err = %v, want ErrNotRetryable", err)
	}

	if _, err := coord.Retry(context.Background(), "no-such-command"); err == nil {
		t.Error("Retry accepted an unknown command")
	}
}

func TestArchiveFailureIsNonFatal(t *testing.T) {
	transport := &fakeTransport{}
	archive := &fakeArchive{err: errors.New("influx down")}
	coord, store, _ := newTestCoordinator(transport, archive)
	store.Initialize("D1", map[string]any{"Mode": "Survey"})
	store.Stage("D1", "Mode", "Interrupt")

	result := coord.Send(context.Background(), "D1")

	if !result.Sent {
		t.Fatalf("Sent = false: %v", result.Err)
	}
	if result.ArchiveErr == nil {
		t.Error("archive failure not surfaced")
	}
	if result.Err != nil {
		t.Errorf("archive failure escalated to delivery error: %v", result.Err)
	}
	if store.HasStaged("D1") {
		t.Error("commit skipped because of archive failure")
	}
	if archive.calls != 1 {
		t.Errorf("archive called %d times, want 1", archive.calls)
	}
}
