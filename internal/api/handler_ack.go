package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zeptac/subtronic-fleet/internal/ack"
)

// GetCommandStatus handles GET /api/device-acknowledgment/command/:command_id.
func (h *Handler) GetCommandStatus(c *gin.Context) {
	commandID := c.Param("command_id")

	rec, ok := h.tracker.Get(commandID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown command"})
		return
	}

	remaining, _ := h.tracker.RemainingTime(commandID)
	c.JSON(http.StatusOK, gin.H{
		"command":       rec,
		"remainingMs":   remaining.Milliseconds(),
		"statusLabel":   ack.StatusLabel(rec.Status),
		"responseLabel": ack.FormatResponseTime(rec.ResponseTime),
	})
}

// GetDeviceAcknowledgments handles GET /api/device-acknowledgment/device/:device_id.
// Supports status, limit and offset query parameters.
func (h *Handler) GetDeviceAcknowledgments(c *gin.Context) {
	deviceID := c.Param("device_id")

	var status ack.Status
	if s := c.Query("status"); s != "" {
		status = ack.Status(s)
		switch status {
		case ack.StatusPending, ack.StatusSuccess, ack.StatusFailed, ack.StatusTimeout:
		default:
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
			return
		}
	}

	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}

	records := h.tracker.DeviceRecords(deviceID, status, limit, offset)
	c.JSON(http.StatusOK, gin.H{
		"deviceId": deviceID,
		"count":    len(records),
		"commands": records,
	})
}

// GetPendingAcknowledgments handles GET /api/device-acknowledgment/device/:device_id/pending.
func (h *Handler) GetPendingAcknowledgments(c *gin.Context) {
	deviceID := c.Param("device_id")
	pending := h.tracker.Pending(deviceID)

	type pendingEntry struct {
		Command     ack.CommandRecord `json:"command"`
		RemainingMs int64             `json:"remainingMs"`
	}
	entries := make([]pendingEntry, 0, len(pending))
	for _, rec := range pending {
		remaining, _ := h.tracker.RemainingTime(rec.CommandID)
		entries = append(entries, pendingEntry{Command: rec, RemainingMs: remaining.Milliseconds()})
	}

	c.JSON(http.StatusOK, gin.H{
		"deviceId": deviceID,
		"count":    len(entries),
		"pending":  entries,
	})
}

// GetDeviceAckStats handles GET /api/device-acknowledgment/device/:device_id/stats.
// Accepts an optional fromDate query parameter in RFC3339.
func (h *Handler) GetDeviceAckStats(c *gin.Context) {
	deviceID := c.Param("device_id")

	since, err := queryTime(c, "fromDate")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid fromDate, use RFC3339"})
		return
	}

	c.JSON(http.StatusOK, h.tracker.DeviceStats(deviceID, since))
}

// GetSystemAckOverview handles GET /api/device-acknowledgment/system/overview.
func (h *Handler) GetSystemAckOverview(c *gin.Context) {
	since, err := queryTime(c, "fromDate")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid fromDate, use RFC3339"})
		return
	}

	c.JSON(http.StatusOK, h.tracker.Overview(since))
}

// HandlePush handles GET /ws, upgrading to the acknowledgment push feed.
func (h *Handler) HandlePush(c *gin.Context) {
	if h.hub == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "push not enabled"})
		return
	}
	h.hub.HandleUpgrade(c.Writer, c.Request)
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func queryTime(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
