package mqtt

import (
	"fmt"
	"strings"
)

const (
	topicRoot = "SubTronics"

	// LegacyDataTopic is the shared telemetry topic older firmware
	// publishes on. The device is identified inside the frame body.
	LegacyDataTopic = topicRoot + "/data"
)

// SettingsTopic is the per-device topic configuration frames are
// published to.
func SettingsTopic(deviceID string) string {
	return fmt.Sprintf("%s/%s/settings", topicRoot, deviceID)
}

// AckTopicFilter matches every device's acknowledgment topic.
func AckTopicFilter() string {
	return topicRoot + "/+/ack"
}

// StateTopicFilter matches every device's settings snapshot topic.
func StateTopicFilter() string {
	return topicRoot + "/+/settings/state"
}

// DeviceFromTopic extracts the device ID from a per-device topic such as
// SubTronics/OTSM-0114/ack. It returns false for the legacy shared topic
// and anything else not rooted at SubTronics/<device>/...
func DeviceFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != topicRoot {
		return "", false
	}
	if parts[1] == "" || parts[1] == "data" {
		return "", false
	}
	return parts[1], true
}
