package api

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/zeptac/subtronic-fleet/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, rateLimit rate.Limit, burst int) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rateLimit, burst)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/devices", h.ListDevices)

		devices := api.Group("/devices/:device_id")
		{
			devices.POST("/settings/stage", h.StageSetting)
			devices.POST("/settings/batch", h.StageBatch)
			devices.GET("/settings/staged", h.GetStagedSummary)
			devices.GET("/settings/payload", h.GetComposedPayload)
			devices.POST("/settings/complete", h.SendSettings)
			devices.DELETE("/settings/staged", h.DiscardStaged)
		}

		acks := api.Group("/device-acknowledgment")
		{
			acks.GET("/command/:command_id", h.GetCommandStatus)
			acks.POST("/command/:command_id/retry", h.RetryCommand)
			acks.GET("/device/:device_id", h.GetDeviceAcknowledgments)
			acks.GET("/device/:device_id/pending", h.GetPendingAcknowledgments)
			acks.GET("/device/:device_id/stats", h.GetDeviceAckStats)
			acks.GET("/system/overview", h.GetSystemAckOverview)
		}
	}

	// Acknowledgment push feed for the console; not rate limited, one
	// long-lived connection per client.
	r.GET("/ws", h.HandlePush)

	return r
}
