// Package api exposes the staging, delivery and acknowledgment surfaces of
// the daemon over HTTP for the fleet console.
package api

import (
	"context"

	"github.com/zeptac/subtronic-fleet/internal/ack"
	"github.com/zeptac/subtronic-fleet/internal/delivery"
	"github.com/zeptac/subtronic-fleet/internal/push"
	"github.com/zeptac/subtronic-fleet/internal/settings"
)

// Sender is the slice of the delivery coordinator the API needs.
type Sender interface {
	Send(ctx context.Context, deviceID string) delivery.SendResult
	Retry(ctx context.Context, commandID string) (delivery.SendResult, error)
}

// Handler holds the dependencies for the API handlers.
type Handler struct {
	store   *settings.Store
	tracker *ack.Tracker
	sender  Sender
	hub     *push.Hub
}

// NewHandler creates a new API handler. hub may be nil when the push
// endpoint is not served.
func NewHandler(store *settings.Store, tracker *ack.Tracker, sender Sender, hub *push.Hub) *Handler {
	return &Handler{
		store:   store,
		tracker: tracker,
		sender:  sender,
		hub:     hub,
	}
}
