package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zeptac/subtronic-fleet/internal/ack"
	"github.com/zeptac/subtronic-fleet/internal/logging"
	"github.com/zeptac/subtronic-fleet/internal/settings"
)

// Transport ships a complete settings frame to a device and returns the
// command ID the frame was correlated with. A non-nil error means the frame
// was not accepted; the caller must not assume dedup on the wire.
type Transport interface {
	SendConfig(ctx context.Context, deviceID string, commandID string, payload map[string]any) error
}

// Archive persists delivered settings to a secondary store. Archival is
// best effort: a failure is reported on its own channel of the SendResult
// and never fails the delivery or the commit.
type Archive interface {
	SaveSettings(ctx context.Context, deviceID string, payload map[string]any) error
}

// Reasons for a send that completed without a delivery attempt.
const (
	ReasonNoPendingChanges   = "no_pending_changes"
	ReasonDeliveryInProgress = "delivery_in_progress"
)

// ErrDeliveryInProgress is returned when a send is requested for a device
// that already has one outstanding.
var ErrDeliveryInProgress = errors.New("delivery already in progress")

// ErrNotRetryable is returned when retry is requested for a command that is
// not in a FAILED or TIMEOUT state.
var ErrNotRetryable = errors.New("command is not in a retryable state")

// SendResult is the outcome of one send or retry invocation.
type SendResult struct {
	// Sent is true when a frame was accepted by the transport.
	Sent bool `json:"sent"`
	// Reason is set when no delivery was attempted.
	Reason string `json:"reason,omitempty"`
	// CommandID correlates the delivery with its acknowledgment.
	CommandID string `json:"commandId,omitempty"`
	// Payload is the complete frame that was (or would have been) sent.
	Payload map[string]any `json:"payload,omitempty"`
	// Changes is the overlay snapshot the frame carried.
	Changes map[string]any `json:"changes,omitempty"`
	// Err carries the transport failure, if any. The overlay is preserved.
	Err error `json:"-"`
	// ErrMessage is the human-readable form of Err for API responses.
	ErrMessage string `json:"error,omitempty"`
	// ArchiveErr reports a best-effort archival failure. Never fatal.
	ArchiveErr error `json:"-"`
}

// Coordinator serializes deliveries per device and owns the commit path
// from overlay to baseline.
type Coordinator struct {
	store     *settings.Store
	tracker   *ack.Tracker
	transport Transport
	archive   Archive // optional

	ackTimeout time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewCoordinator creates a coordinator. archive may be nil.
func NewCoordinator(store *settings.Store, tracker *ack.Tracker, transport Transport, archive Archive, ackTimeout time.Duration) *Coordinator {
	if ackTimeout <= 0 {
		ackTimeout = 30 * time.Second
	}
	return &Coordinator{
		store:      store,
		tracker:    tracker,
		transport:  transport,
		archive:    archive,
		ackTimeout: ackTimeout,
		inFlight:   make(map[string]struct{}),
	}
}

// acquire marks the device as having a delivery in flight.
func (c *Coordinator) acquire(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[deviceID]; busy {
		return false
	}
	c.inFlight[deviceID] = struct{}{}
	return true
}

func (c *Coordinator) release(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, deviceID)
}

// Send composes and delivers the device's staged changes as one complete
// settings frame.
//
// An empty overlay short-circuits with ReasonNoPendingChanges and no
// transport call. On acceptance the delivered changes are folded into the
// baseline and a PENDING command record is created; edits staged after the
// compose snapshot survive as a still-pending overlay. On failure the
// overlay is untouched and the result carries the error.
func (c *Coordinator) Send(ctx context.Context, deviceID string) SendResult {
	if !c.store.HasStaged(deviceID) {
		logging.Info("send skipped, no staged changes",
			zap.String("device_id", deviceID),
		)
		return SendResult{Sent: false, Reason: ReasonNoPendingChanges}
	}

	if !c.acquire(deviceID) {
		return SendResult{
			Sent:       false,
			Reason:     ReasonDeliveryInProgress,
			Err:        ErrDeliveryInProgress,
			ErrMessage: ErrDeliveryInProgress.Error(),
		}
	}
	defer c.release(deviceID)

	// One lock acquisition yields the frame and the overlay snapshot it
	// carries; commit later removes exactly these keys, so edits staged
	// after this point stay pending.
	payload, changes := c.store.ComposeSnapshot(deviceID)

	return c.deliver(ctx, deviceID, payload, changes, nil)
}

// Retry re-sends the payload of a failed or timed-out command under a
// brand-new command ID. The original record is never mutated.
func (c *Coordinator) Retry(ctx context.Context, commandID string) (SendResult, error) {
	original, ok := c.tracker.Get(commandID)
	if !ok {
		return SendResult{}, fmt.Errorf("unknown command %s", commandID)
	}
	if original.Status != ack.StatusFailed && original.Status != ack.StatusTimeout {
		return SendResult{}, fmt.Errorf("%w: command %s is %s", ErrNotRetryable, commandID, original.Status)
	}

	if !c.acquire(original.DeviceID) {
		return SendResult{
			Sent:       false,
			Reason:     ReasonDeliveryInProgress,
			Err:        ErrDeliveryInProgress,
			ErrMessage: ErrDeliveryInProgress.Error(),
		}, nil
	}
	defer c.release(original.DeviceID)

	logging.Info("retrying command",
		zap.String("device_id", original.DeviceID),
		zap.String("command_id", commandID),
		zap.Int("attempt", original.Attempt+1),
	)
	return c.deliver(ctx, original.DeviceID, original.Payload, original.Changes, &original), nil
}

// deliver ships a frame and, on acceptance, records it and commits.
// retryOf is nil for first attempts.
func (c *Coordinator) deliver(ctx context.Context, deviceID string, payload, changes map[string]any, retryOf *ack.CommandRecord) SendResult {
	commandID := uuid.NewString()

	if err := c.transport.SendConfig(ctx, deviceID, commandID, payload); err != nil {
		logging.Error("settings delivery failed",
			zap.String("device_id", deviceID),
			zap.String("command_id", commandID),
			zap.Error(err),
		)
		return SendResult{
			Sent:       false,
			CommandID:  commandID,
			Payload:    payload,
			Changes:    changes,
			Err:        err,
			ErrMessage: err.Error(),
		}
	}

	if retryOf != nil {
		c.tracker.Clone(*retryOf, commandID)
	} else {
		c.tracker.RecordSent(commandID, deviceID, payload, changes, c.ackTimeout)
	}

	// Transport acceptance commits the delivered snapshot. The device-level
	// acknowledgment is tracked separately by the PENDING record.
	c.store.Commit(deviceID, changes)

	result := SendResult{
		Sent:      true,
		CommandID: commandID,
		Payload:   payload,
		Changes:   changes,
	}

	if c.archive != nil {
		if err := c.archive.SaveSettings(ctx, deviceID, payload); err != nil {
			logging.Warn("settings archive failed",
				zap.String("device_id", deviceID),
				zap.String("command_id", commandID),
				zap.Error(err),
			)
			result.ArchiveErr = err
		}
	}

	logging.Info("settings delivered",
		zap.String("device_id", deviceID),
		zap.String("command_id", commandID),
		zap.Int("fields", len(payload)),
		zap.Int("changes", len(changes)),
	)
	return result
}
