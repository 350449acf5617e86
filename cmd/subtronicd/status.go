package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/zeptac/subtronic-fleet/internal/ack"
)

var (
	daemonAddr   string
	statusFilter string
	statusLimit  int
)

// Status badge colors matching the console's acknowledgment palette
var (
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA500")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#43BF6D")).Bold(true)
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true)
	timeoutStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
	deviceStyle  = lipgloss.NewStyle().Bold(true)
)

var statusCmd = &cobra.Command{
	Use:   "status <device-id>",
	Short: "Show command acknowledgment status for a device",
	Long: `Query a running daemon for a device's command history and render
the acknowledgment state of each delivery attempt.`,
	Example: `  # Last 10 commands for a device
  subtronicd status OTSM-0114

  # Only pending commands
  subtronicd status OTSM-0114 --filter PENDING`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&daemonAddr, "addr", "http://localhost:3001", "Address of the running daemon")
	statusCmd.Flags().StringVar(&statusFilter, "filter", "", "Filter by status (PENDING, SUCCESS, FAILED, TIMEOUT)")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "Maximum number of commands to show")
}

// deviceAckResponse mirrors the daemon's device acknowledgment endpoint.
type deviceAckResponse struct {
	DeviceID string              `json:"deviceId"`
	Count    int                 `json:"count"`
	Commands []ack.CommandRecord `json:"commands"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	deviceID := args[0]

	endpoint := fmt.Sprintf("%s/api/device-acknowledgment/device/%s?limit=%d",
		daemonAddr, url.PathEscape(deviceID), statusLimit)
	if statusFilter != "" {
		endpoint += "&status=" + url.QueryEscape(statusFilter)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", daemonAddr, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	var body deviceAckResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Println(deviceStyle.Render(deviceID))
	if len(body.Commands) == 0 {
		fmt.Println(mutedStyle.Render("  no tracked commands"))
		return nil
	}

	for _, rec := range body.Commands {
		badge := statusBadge(rec.Status)
		line := fmt.Sprintf("  %s  %s  attempt %d  %s",
			badge,
			rec.CommandID,
			rec.Attempt,
			mutedStyle.Render(rec.SentAt.Format(time.RFC3339)),
		)
		if rec.Status.Terminal() {
			line += "  " + mutedStyle.Render(ack.FormatResponseTime(rec.ResponseTime))
		}
		if rec.Error != "" {
			line += "  " + failedStyle.Render(rec.Error)
		}
		fmt.Println(line)
	}
	return nil
}

func statusBadge(s ack.Status) string {
	label := ack.StatusLabel(s)
	switch s {
	case ack.StatusPending:
		return pendingStyle.Render(label)
	case ack.StatusSuccess:
		return successStyle.Render(label)
	case ack.StatusFailed:
		return failedStyle.Render(label)
	case ack.StatusTimeout:
		return timeoutStyle.Render(label)
	default:
		return mutedStyle.Render(label)
	}
}
