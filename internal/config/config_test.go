package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))

	require.True(t, cfg.Enabled)
	require.Equal(t, DefaultHTTPPort, cfg.HTTPPort)
	require.Equal(t, DefaultCastPort, cfg.CastPort)
	require.Equal(t, DefaultSSDPAddr, cfg.SSDPAddr)
	require.Equal(t, DefaultBeaconAddr, cfg.BeaconAddr)
	require.Equal(t, time.Second, cfg.AdvertiseInterval)
	require.Equal(t, DefaultVolume, cfg.Volume)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CASTLINK_ENABLED", "false")
	t.Setenv("CASTLINK_HTTP_PORT", "10000")
	t.Setenv("CASTLINK_ADVERTISE_INTERVAL", "250ms")
	t.Setenv("CASTLINK_DEVICE_NAME", "Living Room")

	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))

	require.False(t, cfg.Enabled)
	require.Equal(t, 10000, cfg.HTTPPort)
	require.Equal(t, 250*time.Millisecond, cfg.AdvertiseInterval)
	require.Equal(t, "Living Room", cfg.DeviceName)
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "castlink.env")
	require.NoError(t, os.WriteFile(path, []byte("CASTLINK_CAST_PORT=9100\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("CASTLINK_CAST_PORT") })

	cfg := Load(path)
	require.Equal(t, 9100, cfg.CastPort)
}

func TestValidate_ResetsInvalidValues(t *testing.T) {
	cfg := Config{
		HTTPPort:   70000,
		CastPort:   70000,
		SSDPAddr:   "bogus",
		BeaconAddr: DefaultSSDPAddr,
		Volume:     400,
	}
	cfg.Validate()

	require.Equal(t, DefaultHTTPPort, cfg.HTTPPort)
	require.Equal(t, DefaultCastPort, cfg.CastPort)
	require.Equal(t, DefaultSSDPAddr, cfg.SSDPAddr)
	require.Equal(t, DefaultBeaconAddr, cfg.BeaconAddr)
	require.Equal(t, DefaultAdvertiseInterval, cfg.AdvertiseInterval)
	require.Equal(t, DefaultVolume, cfg.Volume)
	require.Equal(t, DefaultDeviceName, cfg.DeviceName)
}
