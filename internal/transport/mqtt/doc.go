// Package mqtt bridges the fleet daemon to the device broker.
//
// Outbound, the Bridge implements delivery.Transport: complete settings
// frames are published to SubTronics/<device>/settings wrapped in a
// command envelope carrying the command ID and timestamp.
//
// Inbound, the Bridge subscribes to three topic families:
//
//	SubTronics/+/ack             device acknowledgments -> ack.Tracker
//	SubTronics/+/settings/state  full settings snapshots -> settings.Store
//	SubTronics/data              legacy shared telemetry topic; frames
//	                             identify the device in the body
//
// The connection uses automatic reconnect with exponential backoff;
// subscriptions are re-established from the OnConnect hook so a broker
// restart does not silently drop the feeds.
package mqtt
