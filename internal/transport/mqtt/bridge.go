package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/zeptac/subtronic-fleet/internal/ack"
	"github.com/zeptac/subtronic-fleet/internal/logging"
	"github.com/zeptac/subtronic-fleet/internal/settings"
)

// Options configures the broker connection.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
	// PublishTimeout bounds how long SendConfig waits for the broker to
	// accept a frame.
	PublishTimeout time.Duration
}

// commandEnvelope wraps an outbound settings frame.
type commandEnvelope struct {
	CommandID string         `json:"commandId"`
	DeviceID  string         `json:"deviceId"`
	Timestamp string         `json:"timestamp"`
	Settings  map[string]any `json:"settings"`
}

// ackFrame is the device's acknowledgment of a command.
type ackFrame struct {
	CommandID   string `json:"commandId"`
	Status      string `json:"status"`
	RespondedAt string `json:"respondedAt"`
	Error       string `json:"error,omitempty"`
}

// stateFrame is a device-originated settings snapshot. Older firmware
// nests the parameters and identifies the device in the body.
type stateFrame struct {
	DeviceID     string         `json:"deviceId"`
	SerialNumber string         `json:"OTSM-2 Serial Number"`
	Parameters   map[string]any `json:"Parameters"`
}

// Bridge connects the daemon to the MQTT broker. It implements
// delivery.Transport for outbound frames and feeds inbound acknowledgments
// and settings snapshots into the tracker and store.
type Bridge struct {
	client  paho.Client
	opts    Options
	store   *settings.Store
	tracker *ack.Tracker
}

// NewBridge creates a bridge. Connect must be called before use.
func NewBridge(opts Options, store *settings.Store, tracker *ack.Tracker) *Bridge {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 10 * time.Second
	}

	b := &Bridge{opts: opts, store: store, tracker: tracker}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	clientOpts.OnConnect = func(c paho.Client) {
		logging.Info("connected to broker", zap.String("broker", opts.BrokerURL))
		b.subscribe(c)
	}
	clientOpts.OnConnectionLost = func(_ paho.Client, err error) {
		logging.Error("broker connection lost", zap.Error(err))
	}

	b.client = paho.NewClient(clientOpts)
	return b
}

// Connect dials the broker, retrying with backoff until it succeeds or ctx
// is cancelled.
func (b *Bridge) Connect(ctx context.Context) error {
	backoff := 2 * time.Second
	const maxBackoff = 30 * time.Second

	for {
		token := b.client.Connect()
		if token.Wait() && token.Error() == nil {
			return nil
		}
		logging.Warn("broker connect failed, retrying",
			zap.Error(token.Error()),
			zap.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
			if backoff < maxBackoff {
				backoff *= 2
			}
		case <-ctx.Done():
			return fmt.Errorf("broker connect cancelled: %w", ctx.Err())
		}
	}
}

// Disconnect closes the broker connection, allowing in-flight work to
// finish.
func (b *Bridge) Disconnect() {
	b.client.Disconnect(250)
}

func (b *Bridge) subscribe(c paho.Client) {
	subs := map[string]paho.MessageHandler{
		AckTopicFilter():   b.handleAck,
		StateTopicFilter(): b.handleState,
		LegacyDataTopic:    b.handleState,
	}
	for topic, handler := range subs {
		if token := c.Subscribe(topic, b.opts.QoS, handler); token.Wait() && token.Error() != nil {
			logging.Error("subscribe failed",
				zap.String("topic", topic),
				zap.Error(token.Error()),
			)
			continue
		}
		logging.Info("subscribed", zap.String("topic", topic), zap.Uint8("qos", b.opts.QoS))
	}
}

// SendConfig publishes a complete settings frame to the device's settings
// topic. It implements delivery.Transport.
func (b *Bridge) SendConfig(ctx context.Context, deviceID string, commandID string, payload map[string]any) error {
	envelope := commandEnvelope{
		CommandID: commandID,
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Settings:  payload,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode settings frame: %w", err)
	}

	token := b.client.Publish(SettingsTopic(deviceID), b.opts.QoS, false, data)

	timeout := b.opts.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("broker did not accept frame within %s", timeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("publish to %s failed: %w", SettingsTopic(deviceID), token.Error())
	}
	return nil
}

// handleAck feeds a device acknowledgment into the tracker.
func (b *Bridge) handleAck(_ paho.Client, msg paho.Message) {
	var frame ackFrame
	if err := json.Unmarshal(msg.Payload(), &frame); err != nil {
		logging.Warn("malformed acknowledgment frame",
			zap.String("topic", msg.Topic()),
			zap.Error(err),
		)
		return
	}
	if frame.CommandID == "" {
		logging.Warn("acknowledgment without command id", zap.String("topic", msg.Topic()))
		return
	}

	var outcome ack.Status
	switch frame.Status {
	case string(ack.StatusSuccess):
		outcome = ack.StatusSuccess
	case string(ack.StatusFailed):
		outcome = ack.StatusFailed
	default:
		logging.Warn("acknowledgment with unknown status",
			zap.String("command_id", frame.CommandID),
			zap.String("status", frame.Status),
		)
		return
	}

	// Errors here are expected operational noise (late or duplicate acks).
	_ = b.tracker.RecordResult(frame.CommandID, outcome, frame.Error)
}

// handleState replaces the device's baseline with a fresh snapshot,
// creating the cache entry the first time a device is seen.
func (b *Bridge) handleState(_ paho.Client, msg paho.Message) {
	var frame stateFrame
	if err := json.Unmarshal(msg.Payload(), &frame); err != nil {
		logging.Warn("malformed settings snapshot",
			zap.String("topic", msg.Topic()),
			zap.Error(err),
		)
		return
	}

	deviceID, ok := DeviceFromTopic(msg.Topic())
	if !ok {
		// Legacy shared topic: the device identifies itself in the body.
		deviceID = frame.DeviceID
		if deviceID == "" {
			deviceID = frame.SerialNumber
		}
	}
	if deviceID == "" {
		logging.Warn("settings snapshot without device id", zap.String("topic", msg.Topic()))
		return
	}
	if len(frame.Parameters) == 0 {
		logging.Debug("settings snapshot without parameters",
			zap.String("device_id", deviceID),
		)
		return
	}

	if !b.store.Tracked(deviceID) {
		b.store.Initialize(deviceID, frame.Parameters)
		return
	}
	b.store.UpdateBaseline(deviceID, frame.Parameters)
}
