package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zeptac/subtronic-fleet/internal/delivery"
)

// stageRequest is the body of POST .../settings/stage.
type stageRequest struct {
	Key   string `json:"key" binding:"required"`
	Value any    `json:"value"`
}

// batchRequest is the body of POST .../settings/batch.
type batchRequest struct {
	Updates map[string]any `json:"updates" binding:"required"`
}

// StageSetting handles POST /api/devices/:device_id/settings/stage.
// The edit is staged locally; nothing is sent to the device.
func (h *Handler) StageSetting(c *gin.Context) {
	deviceID := c.Param("device_id")

	var req stageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if !h.store.Tracked(deviceID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "device not tracked"})
		return
	}

	h.store.Stage(deviceID, req.Key, req.Value)
	c.JSON(http.StatusOK, h.store.StagedSummary(deviceID))
}

// StageBatch handles POST /api/devices/:device_id/settings/batch.
func (h *Handler) StageBatch(c *gin.Context) {
	deviceID := c.Param("device_id")

	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if !h.store.Tracked(deviceID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "device not tracked"})
		return
	}

	h.store.StageBatch(deviceID, req.Updates)
	c.JSON(http.StatusOK, h.store.StagedSummary(deviceID))
}

// GetStagedSummary handles GET /api/devices/:device_id/settings/staged.
func (h *Handler) GetStagedSummary(c *gin.Context) {
	deviceID := c.Param("device_id")
	summary := h.store.StagedSummary(deviceID)
	c.JSON(http.StatusOK, gin.H{
		"count":      summary.Count,
		"changes":    summary.Changes,
		"lastUpdate": summary.LastUpdate,
		"hasPending": summary.Count > 0,
	})
}

// GetComposedPayload handles GET /api/devices/:device_id/settings/payload.
// Returns the complete frame that a send would transmit right now.
func (h *Handler) GetComposedPayload(c *gin.Context) {
	deviceID := c.Param("device_id")
	c.JSON(http.StatusOK, h.store.Compose(deviceID))
}

// SendSettings handles POST /api/devices/:device_id/settings/complete.
// Composes and delivers the staged changes as one complete settings frame.
func (h *Handler) SendSettings(c *gin.Context) {
	deviceID := c.Param("device_id")

	result := h.sender.Send(c.Request.Context(), deviceID)
	switch {
	case result.Sent:
		c.JSON(http.StatusOK, result)
	case result.Reason == delivery.ReasonNoPendingChanges:
		// A distinct non-error outcome, not a failure.
		c.JSON(http.StatusOK, result)
	case result.Reason == delivery.ReasonDeliveryInProgress:
		c.JSON(http.StatusConflict, result)
	default:
		c.JSON(http.StatusBadGateway, result)
	}
}

// DiscardStaged handles DELETE /api/devices/:device_id/settings/staged.
// The confirmation prompt lives in the console; the overlay clears
// unconditionally here.
func (h *Handler) DiscardStaged(c *gin.Context) {
	deviceID := c.Param("device_id")
	h.store.Discard(deviceID)
	c.JSON(http.StatusOK, gin.H{"discarded": true})
}

// ListDevices handles GET /api/devices.
func (h *Handler) ListDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": h.store.Devices()})
}

// RetryCommand handles POST /api/device-acknowledgment/command/:command_id/retry.
func (h *Handler) RetryCommand(c *gin.Context) {
	commandID := c.Param("command_id")

	result, err := h.sender.Retry(c.Request.Context(), commandID)
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, delivery.ErrNotRetryable) {
			status = http.StatusConflict
		}
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}

	switch {
	case result.Sent:
		c.JSON(http.StatusOK, result)
	case result.Reason == delivery.ReasonDeliveryInProgress:
		c.JSON(http.StatusConflict, result)
	default:
		c.JSON(http.StatusBadGateway, result)
	}
}
