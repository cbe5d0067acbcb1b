package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// minimalConfig returns the smallest valid configuration.
func minimalConfig() *Config {
	return &Config{
		Cameras: []Camera{
			{Key: "camera1", IP: "192.168.1.10"},
		},
	}
}

// TestValidateAppliesDefaults verifies that Validate fills omitted fields.
func TestValidateAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg := minimalConfig()
	require.NoError(t, Validate(cfg))

	require.Equal(t, DefaultDBFilename, cfg.DBPath)
	require.Equal(t, DefaultRetentionDays, cfg.RetentionDays)
	require.Equal(t, DefaultReadTimeout, cfg.Event.ReadTimeout)
	require.Equal(t, DefaultBackoffMin, cfg.Event.BackoffMin)
	require.Equal(t, DefaultBackoffMax, cfg.Event.BackoffMax)
	require.Equal(t, DefaultDebounce, cfg.Event.Debounce)
	require.Equal(t, RetriggerExtend, cfg.Pulse.Retrigger)
	require.Equal(t, DefaultPulsePin, cfg.Pulse.Pin)
	require.Equal(t, DefaultPulseChip, cfg.Pulse.Chip)
	require.Equal(t, DefaultSweepInterval, cfg.Health.SweepInterval)

	cam := cfg.Cameras[0]
	require.Equal(t, 80, cam.HTTPPort)
	require.Equal(t, "admin", cam.Username)
	require.Equal(t, 1, cam.Channel)
}

// TestValidateRejectsBadInput verifies required-field and enum checks.
func TestValidateRejectsBadInput(t *testing.T) {
	t.Parallel()

	require.Error(t, Validate(nil))
	require.ErrorIs(t, Validate(&Config{}), errNoCameras)

	cfg := minimalConfig()
	cfg.Cameras[0].Key = ""
	require.ErrorIs(t, Validate(cfg), errCameraKeyRequired)

	cfg = minimalConfig()
	cfg.Cameras[0].IP = ""
	require.ErrorIs(t, Validate(cfg), errCameraIPRequired)

	cfg = minimalConfig()
	cfg.Cameras = append(cfg.Cameras, Camera{Key: "camera1", IP: "192.168.1.11"})
	require.Error(t, Validate(cfg))

	cfg = minimalConfig()
	cfg.Pulse.Retrigger = "restart"
	require.Error(t, Validate(cfg))
}

// TestLoadSaveRoundTrip verifies YAML round-tripping through the filesystem.
func TestLoadSaveRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "zonewatch.yaml")

	cfg := minimalConfig()
	cfg.Cameras[0].Zones = map[int]ZonePolicy{
		2: {StayTrigger: true},
	}
	cfg.Event.Cooldown = 5 * time.Second

	require.NoError(t, Save(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(DefaultFilePermissions), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, loaded.Event.Cooldown)
	require.True(t, loaded.Cameras[0].Zone(2).StayTrigger)
	require.False(t, loaded.Cameras[0].Zone(2).PeopleTrigger)

	// Unconfigured zones default to all-false.
	require.False(t, loaded.Cameras[0].Zone(1).StayTrigger)
}

// TestLoadMissingFile verifies the error path for a missing settings file.
func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
