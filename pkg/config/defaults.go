package config

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/cliproom/cliproom/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Zero values (0, "", false, nil) are replaced; explicit values are
// preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyServerDefaults(&cfg.Server)
	applyMetricsDefaults(&cfg.Metrics)
	applyRoomDefaults(&cfg.Room)
	applyFilesDefaults(&cfg.Files)
	applyShareDefaults(&cfg.Share)
	applySnapshotDefaults(&cfg.Snapshot)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.AppURL == "" {
		cfg.AppURL = "http://localhost:8080"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	// WriteTimeout stays zero unless configured: a global write bound
	// aborts large downloads on slow links.
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyRoomDefaults(cfg *RoomConfig) {
	// Salt has no static default: a generated one only holds for the
	// process lifetime, so `cliproom init` persists one instead.
	if cfg.Salt == "" {
		cfg.Salt = GenerateSalt()
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.IdleTTL == 0 {
		cfg.IdleTTL = 24 * time.Hour
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.DisconnectGrace == 0 {
		cfg.DisconnectGrace = 30 * time.Second
	}
}

func applyFilesDefaults(cfg *FilesConfig) {
	if cfg.Dir == "" {
		cfg.Dir = "/var/lib/cliproom/uploads"
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 100 * bytesize.MiB
	}
	if cfg.TTL == 0 {
		cfg.TTL = 12 * time.Hour
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 10 * time.Minute
	}
}

func applyShareDefaults(cfg *ShareConfig) {
	if cfg.GCInterval == 0 {
		cfg.GCInterval = time.Hour
	}
	if cfg.RecordRetention == 0 {
		cfg.RecordRetention = 7 * 24 * time.Hour
	}
	if cfg.LogRetention == 0 {
		cfg.LogRetention = 30 * 24 * time.Hour
	}
}

func applySnapshotDefaults(cfg *SnapshotConfig) {
	if cfg.Enabled && cfg.Path == "" {
		cfg.Path = "/var/lib/cliproom/snapshot"
	}
}

// GenerateSalt produces a random hex salt for user-id derivation.
func GenerateSalt() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform is broken; an empty salt
		// would silently merge identities, so give up loudly.
		panic("failed to read random salt: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// GetDefaultConfig returns a Config with all default values applied. The
// snapshot store is enabled by default so state survives restarts.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Snapshot: SnapshotConfig{Enabled: true},
	}
	ApplyDefaults(cfg)
	return cfg
}
