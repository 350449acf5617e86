package ack

import (
	"fmt"
	"time"
)

// FormatResponseTime renders a response time for display.
// Sub-second times are shown in milliseconds, longer ones in seconds.
func FormatResponseTime(d time.Duration) string {
	if d <= 0 {
		return "N/A"
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// FormatRemainingTime renders a countdown for display.
func FormatRemainingTime(d time.Duration) string {
	if d <= 0 {
		return "Expired"
	}

	seconds := int((d + time.Second - 1) / time.Second)
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
}

// StatusLabel returns the display text for a status.
func StatusLabel(s Status) string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusSuccess:
		return "Acknowledged"
	case StatusFailed:
		return "Failed"
	case StatusTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}
