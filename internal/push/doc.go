// Package push streams command acknowledgment transitions to console
// clients over WebSocket.
//
// The Hub tracks connected clients and broadcasts one JSON event per
// command record transition (created, acknowledged, failed, timed out).
// Clients are write-only from the hub's perspective; a client that cannot
// keep up is dropped rather than allowed to stall the broadcast path.
package push
