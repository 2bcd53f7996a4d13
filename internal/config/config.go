package config

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultHTTPPort          = 9958
	DefaultCastPort          = 9959
	DefaultSSDPAddr          = "239.255.255.250:1900"
	DefaultBeaconAddr        = "239.255.255.250:1901"
	DefaultAdvertiseInterval = time.Second
	DefaultUUIDPath          = ".local/castlink/dmr_uuid.txt"
	DefaultDeviceName        = "CastLink TV"
	DefaultDeviceModel       = "CastLink"
	DefaultVolume            = 30

	envPrefix = "CASTLINK_"
)

type Config struct {
	// Enabled is the feature flag read once at start time.
	Enabled bool

	HTTPPort          int
	CastPort          int
	SSDPAddr          string
	BeaconAddr        string
	AdvertiseInterval time.Duration

	UUIDPath    string
	DeviceName  string
	DeviceModel string
	LogDir      string

	HandshakeTimeout time.Duration
	CommandTimeout   time.Duration
	DiscoveryTimeout time.Duration

	Volume    int
	PlayerBin string
}

// Load reads an optional .env file and then the CASTLINK_* environment.
// A missing .env is not an error.
func Load(paths ...string) Config {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	_ = godotenv.Load(paths...)

	home, _ := os.UserHomeDir()
	cfg := Config{
		Enabled:           envVar("ENABLED", true),
		HTTPPort:          envVar("HTTP_PORT", DefaultHTTPPort),
		CastPort:          envVar("CAST_PORT", DefaultCastPort),
		SSDPAddr:          envVar("SSDP_ADDR", DefaultSSDPAddr),
		BeaconAddr:        envVar("BEACON_ADDR", DefaultBeaconAddr),
		AdvertiseInterval: envVar("ADVERTISE_INTERVAL", DefaultAdvertiseInterval),
		UUIDPath:          envVar("UUID_PATH", filepath.Join(home, DefaultUUIDPath)),
		DeviceName:        envVar("DEVICE_NAME", DefaultDeviceName),
		DeviceModel:       envVar("DEVICE_MODEL", DefaultDeviceModel),
		LogDir:            envVar("LOG_DIR", ""),
		HandshakeTimeout:  envVar("HANDSHAKE_TIMEOUT", 10*time.Second),
		CommandTimeout:    envVar("COMMAND_TIMEOUT", 10*time.Second),
		DiscoveryTimeout:  envVar("DISCOVERY_TIMEOUT", 5*time.Second),
		Volume:            envVar("VOLUME", DefaultVolume),
		PlayerBin:         envVar("PLAYER_BIN", "mpv"),
	}

	cfg.Validate()

	return cfg
}

func envVar[T ~string | ~bool | ~int | ~int64](key string, def T) T {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def
	}

	switch any(def).(type) {
	case string:
		return any(v).(T)
	case bool:
		if b, err := strconv.ParseBool(v); err == nil {
			return any(b).(T)
		}
	case int:
		if i, err := strconv.Atoi(v); err == nil {
			return any(i).(T)
		}
	case time.Duration:
		if d, err := time.ParseDuration(v); err == nil {
			return any(d).(T)
		}
	case int64:
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return any(i).(T)
		}
	}
	return def
}

// Validate resets out-of-range values to their defaults.
func (c *Config) Validate() {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		c.HTTPPort = DefaultHTTPPort
	}
	if c.CastPort < 1 || c.CastPort > 65535 || c.CastPort == c.HTTPPort {
		c.CastPort = DefaultCastPort
	}
	if _, _, err := net.SplitHostPort(c.SSDPAddr); err != nil {
		c.SSDPAddr = DefaultSSDPAddr
	}
	if _, _, err := net.SplitHostPort(c.BeaconAddr); err != nil || c.BeaconAddr == c.SSDPAddr {
		c.BeaconAddr = DefaultBeaconAddr
	}
	if c.AdvertiseInterval <= 0 {
		c.AdvertiseInterval = DefaultAdvertiseInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 10 * time.Second
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = 5 * time.Second
	}
	if c.Volume < 0 || c.Volume > 100 {
		c.Volume = DefaultVolume
	}
	if c.DeviceName == "" {
		c.DeviceName = DefaultDeviceName
	}
	if c.DeviceModel == "" {
		c.DeviceModel = DefaultDeviceModel
	}
}
