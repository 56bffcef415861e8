package config

import (
	"os"
	"time"

	"github.com/google/uuid"
)

// Config holds service configuration.
type Config struct {
	ServerAddr         string
	DataPath           string
	DeviceID           string
	DeviceName         string
	MinSession         time.Duration
	TransitionDelay    time.Duration
	SyncInterval       time.Duration
	SignatureTolerance time.Duration
	// AdminAPIKey, when set, is provisioned as an active admin key on
	// startup so a fresh install can be administered.
	AdminAPIKey string
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	deviceID := os.Getenv("DEVICE_ID")
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	return &Config{
		ServerAddr:         getenv("SERVER_ADDR", "0.0.0.0:8080"),
		DataPath:           getenv("DATA_PATH", "roleclock.db"),
		DeviceID:           deviceID,
		DeviceName:         getenv("DEVICE_NAME", hostname()),
		MinSession:         parseDuration(getenv("MIN_SESSION", "5m"), 5*time.Minute),
		TransitionDelay:    parseDuration(getenv("TRANSITION_DELAY", "30s"), 30*time.Second),
		SyncInterval:       parseDuration(getenv("SYNC_INTERVAL", "5m"), 5*time.Minute),
		SignatureTolerance: parseDuration(getenv("SIGNATURE_TOLERANCE", "5m"), 5*time.Minute),
		AdminAPIKey:        os.Getenv("ADMIN_API_KEY"),
	}, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "roleclock"
	}
	return h
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}
