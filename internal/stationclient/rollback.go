package stationclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pluvion/provision/internal/logging"
	"github.com/pluvion/provision/internal/portal"
)

// Snapshot is a station's settings captured before a change.
type Snapshot struct {
	Settings  Settings
	StationID string
	Timestamp time.Time
}

// SettingsFromInfo extracts the form settings from station info.
func SettingsFromInfo(info *portal.Info) Settings {
	return Settings{
		Name:           info.Name,
		Latitude:       info.Latitude,
		Longitude:      info.Longitude,
		BucketVolume:   info.BucketVolume,
		ResetCountdown: info.ResetCountdown,
	}
}

// TakeSnapshot reads the station's current settings.
func (c *Client) TakeSnapshot(ctx context.Context) (*Snapshot, error) {
	info, err := c.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings for snapshot: %w", err)
	}
	return &Snapshot{
		Settings:  SettingsFromInfo(info),
		StationID: info.StationID,
		Timestamp: time.Now(),
	}, nil
}

// SafeSaveResult reports a SafeSave.
type SafeSaveResult struct {
	*VerificationResult

	// Snapshot is what the station held before the save
	Snapshot *Snapshot

	// RolledBack is set when the save failed verification and the snapshot
	// was written back and verified.
	RolledBack bool

	// RollbackError is set when restoring the snapshot failed too
	RollbackError error
}

// SafeSave snapshots the station, saves s and, if the new values do not
// read back, writes the snapshot again. The snapshot is restored without
// local validation since it came from the station.
func (c *Client) SafeSave(ctx context.Context, s Settings, opts *VerificationOptions) *SafeSaveResult {
	if err := s.Validate(); err != nil {
		return &SafeSaveResult{VerificationResult: &VerificationResult{Error: err}}
	}
	snap, err := c.TakeSnapshot(ctx)
	if err != nil {
		return &SafeSaveResult{VerificationResult: &VerificationResult{Error: err}}
	}

	result := &SafeSaveResult{Snapshot: snap}
	result.VerificationResult = c.SaveAndVerify(ctx, s, opts)
	if result.Success {
		return result
	}

	logging.Warn("Settings did not verify, restoring snapshot",
		zap.String("station", snap.StationID),
		zap.Error(result.Error))
	if err := c.SaveSettings(ctx, snap.Settings); err != nil {
		result.RollbackError = fmt.Errorf("restore failed: %w", err)
		return result
	}
	restored := c.VerifySettings(ctx, snap.Settings, opts)
	if !restored.Success {
		result.RollbackError = restored.Error
		return result
	}
	result.RolledBack = true
	return result
}
