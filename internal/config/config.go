// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ProviderConfig holds the OAuth client settings for one provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string
}

// Configured reports whether this provider can be synced: all four settings
// must be present.
func (p ProviderConfig) Configured() bool {
	return p.ClientID != "" && p.ClientSecret != "" && p.BaseURL != "" && p.TokenURL != ""
}

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr   string
	DBPath       string
	SyncInterval time.Duration
	SyncWorkers  int

	// SecretKey is the 32-byte AES-256 key protecting stored OAuth tokens.
	// nil disables credential storage entirely.
	SecretKey []byte

	Workout  ProviderConfig
	Recovery ProviderConfig
}

// Load reads configuration from environment variables and returns a validated
// Config. Provider settings are optional; an unconfigured provider simply
// never syncs. Optional variables with defaults: HEALTHDECK_SYNC_INTERVAL (1h),
// HEALTHDECK_SYNC_WORKERS (4), HEALTHDECK_LISTEN_ADDR (127.0.0.1:8080),
// HEALTHDECK_DB_PATH (healthdeck.db). HEALTHDECK_SECRET_KEY, when set, must be
// 64 hex characters (a 32-byte AES-256 key).
func Load() (*Config, error) {
	syncInterval := time.Hour
	if v, ok := os.LookupEnv("HEALTHDECK_SYNC_INTERVAL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("HEALTHDECK_SYNC_INTERVAL has invalid duration %q: %w", v, err)
		}
		syncInterval = parsed
	}

	syncWorkers := 4
	if v, ok := os.LookupEnv("HEALTHDECK_SYNC_WORKERS"); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			return nil, fmt.Errorf("HEALTHDECK_SYNC_WORKERS has invalid value %q", v)
		}
		syncWorkers = parsed
	}

	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("HEALTHDECK_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "healthdeck.db"
	if v, ok := os.LookupEnv("HEALTHDECK_DB_PATH"); ok {
		dbPath = v
	}

	var secretKey []byte
	if v, ok := os.LookupEnv("HEALTHDECK_SECRET_KEY"); ok && v != "" {
		decoded, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("HEALTHDECK_SECRET_KEY is not valid hex: %w", err)
		}
		if len(decoded) != 32 {
			return nil, fmt.Errorf("HEALTHDECK_SECRET_KEY must decode to 32 bytes, got %d", len(decoded))
		}
		secretKey = decoded
	}

	return &Config{
		ListenAddr:   listenAddr,
		DBPath:       dbPath,
		SyncInterval: syncInterval,
		SyncWorkers:  syncWorkers,
		SecretKey:    secretKey,
		Workout:      loadProvider("WORKOUT"),
		Recovery:     loadProvider("RECOVERY"),
	}, nil
}

func loadProvider(prefix string) ProviderConfig {
	return ProviderConfig{
		ClientID:     os.Getenv("HEALTHDECK_" + prefix + "_CLIENT_ID"),
		ClientSecret: os.Getenv("HEALTHDECK_" + prefix + "_CLIENT_SECRET"),
		BaseURL:      os.Getenv("HEALTHDECK_" + prefix + "_BASE_URL"),
		TokenURL:     os.Getenv("HEALTHDECK_" + prefix + "_TOKEN_URL"),
	}
}
