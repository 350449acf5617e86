// Package archive persists delivered settings frames to disk.
//
// Each device's most recent frame is kept as one JSON document, written
// atomically so a crash mid-write never leaves a torn file. Archival is
// best effort by contract: the delivery path treats a failed save as a
// warning, never as a delivery failure.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Frame is the archived form of one delivered settings payload.
type Frame struct {
	DeviceID    string         `json:"deviceId"`
	DeliveredAt time.Time      `json:"deliveredAt"`
	Settings    map[string]any `json:"settings"`
}

// FileArchive stores one JSON frame per device under a directory. It
// implements delivery.Archive.
type FileArchive struct {
	dir string
}

// NewFileArchive creates the archive directory if needed.
func NewFileArchive(dir string) (*FileArchive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &FileArchive{dir: dir}, nil
}

// SaveSettings writes the delivered frame for a device, replacing any
// previous one.
func (a *FileArchive) SaveSettings(ctx context.Context, deviceID string, payload map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	frame := Frame{
		DeviceID:    deviceID,
		DeliveredAt: time.Now().UTC(),
		Settings:    payload,
	}
	data, err := json.MarshalIndent(frame, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode archive frame: %w", err)
	}

	// Write to temp file then rename for atomic replacement
	path := a.path(deviceID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write archive frame: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace archive frame: %w", err)
	}
	return nil
}

// Load returns the archived frame for a device, or false if none exists.
func (a *FileArchive) Load(deviceID string) (Frame, bool, error) {
	data, err := os.ReadFile(a.path(deviceID))
	if os.IsNotExist(err) {
		return Frame{}, false, nil
	}
	if err != nil {
		return Frame{}, false, err
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, false, fmt.Errorf("corrupt archive frame for %s: %w", deviceID, err)
	}
	return frame, true, nil
}

// path maps a device ID to its archive file. Separators in the ID are
// flattened so it can never escape the archive directory.
func (a *FileArchive) path(deviceID string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, deviceID)
	return filepath.Join(a.dir, safe+".json")
}
