// Package config provides environment-aware configuration management for the
// backend: a JSON/YAML file (optional), overridden by environment variables,
// overridden in turn by CLI flags wired in cmd/appserver.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	slruntime "github.com/nearloop/backend/internal/runtime"
)

// Config holds all application configuration.
type Config struct {
	Env        slruntime.Environment `json:"-" yaml:"-"`
	Server     ServerConfig     `json:"server" yaml:"server"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Security   SecurityConfig   `json:"security" yaml:"security"`
	Location   LocationConfig   `json:"location" yaml:"location"`
	Scheduler  SchedulerConfig  `json:"scheduler" yaml:"scheduler"`
	Push       PushConfig       `json:"push" yaml:"push"`
	NodeManager NodeManagerConfig `json:"node_manager" yaml:"node_manager"`
	Moderation ModerationConfig `json:"moderation" yaml:"moderation"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig controls the SQLite storage substrate (C1).
type StorageConfig struct {
	// DataDir holds current.db, history.db and per-account tmp/export dirs.
	DataDir string `json:"data_dir" yaml:"data_dir"`
	// BusyTimeoutMS is the SQLite busy_timeout pragma in milliseconds.
	BusyTimeoutMS int `json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
	// ReplicationMode is "none" or "litestream". In "litestream" mode WAL
	// checkpointing ownership is handed to the external replicator and
	// auto-checkpoint is disabled.
	ReplicationMode string `json:"replication_mode" yaml:"replication_mode"`
	// MaxOpenConns bounds the current.db read pool; the write handle is
	// always a single connection.
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns"`
	// InMemory opens both databases as shared-cache in-RAM SQLite, for tests.
	InMemory bool `json:"in_memory" yaml:"in_memory"`
}

// UsesReplication reports whether an external WAL replicator owns checkpointing.
func (s StorageConfig) UsesReplication() bool {
	return strings.EqualFold(s.ReplicationMode, "litestream")
}

// LoggingConfig controls the logrus-backed logger.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"`
	Output     string `json:"output" yaml:"output"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix"`
}

// SecurityConfig controls auth/rate-limit/CORS ambient behavior.
type SecurityConfig struct {
	AccessTokenTTL      time.Duration `json:"access_token_ttl" yaml:"access_token_ttl"`
	RefreshTokenTTL     time.Duration `json:"refresh_token_ttl" yaml:"refresh_token_ttl"`
	RateLimitEnabled    bool          `json:"rate_limit_enabled" yaml:"rate_limit_enabled"`
	RateLimitRequests   int           `json:"rate_limit_requests" yaml:"rate_limit_requests"`
	RateLimitWindow     time.Duration `json:"rate_limit_window" yaml:"rate_limit_window"`
	CORSOrigins         []string      `json:"cors_origins" yaml:"cors_origins"`
	SecretEncryptionKey string        `json:"secret_encryption_key" yaml:"secret_encryption_key"`
	// MessagingSigningKeyPath is the server's long-term ECDSA envelope-
	// signing key (C6), created on first run if absent.
	MessagingSigningKeyPath string `json:"messaging_signing_key_path" yaml:"messaging_signing_key_path"`
}

// LocationConfig controls the geospatial grid index (C3) and the profile
// engine's concurrent write handle (C4).
type LocationConfig struct {
	CellSizeKM          float64 `json:"cell_size_km" yaml:"cell_size_km"`
	WriteSemaphoreSize  int     `json:"write_semaphore_size" yaml:"write_semaphore_size"`
}

// SchedulerConfig controls the daily wake-up task runner (C8).
type SchedulerConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	DailyWakeUp string `json:"daily_wake_up" yaml:"daily_wake_up"` // "HH:MM" wall clock, UTC
	// AutomaticSearchWaveEnd is the wall clock (UTC, "HH:MM") by which the
	// automatic-profile-search wave must finish distributing its
	// per-account slices (spec.md §4.8). Must be after DailyWakeUp; wraps
	// to the next day if not.
	AutomaticSearchWaveEnd string `json:"automatic_search_wave_end" yaml:"automatic_search_wave_end"`
	// AutomaticSearchBatchSize accounts are dispatched back-to-back
	// before the wave sleeps off the rest of their combined slice, so a
	// large population doesn't pay one time.Sleep per account.
	AutomaticSearchBatchSize int `json:"automatic_search_batch_size" yaml:"automatic_search_batch_size"`
	// DataExportRetention bounds how long a generated export manifest
	// survives under an account's tmp dir before daily cleanup deletes it.
	DataExportRetention time.Duration `json:"data_export_retention" yaml:"data_export_retention"`
}

// PushConfig controls the FCM sender (C7).
type PushConfig struct {
	FCMServiceAccountPath string        `json:"fcm_service_account_path" yaml:"fcm_service_account_path"`
	InitialBackoff        time.Duration `json:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff            time.Duration `json:"max_backoff" yaml:"max_backoff"`
}

// NodeManagerConfig controls the sibling node-manager process (C10).
type NodeManagerConfig struct {
	ListenAddr            string   `json:"listen_addr" yaml:"listen_addr"`
	AdminAddr             string   `json:"admin_addr" yaml:"admin_addr"`
	PeerAddresses         []string `json:"peer_addresses" yaml:"peer_addresses"`
	EncryptedVolumePath   string   `json:"encrypted_volume_path" yaml:"encrypted_volume_path"`
	KeyVaultURL           string   `json:"key_vault_url" yaml:"key_vault_url"`
	KeyVaultSecretName    string   `json:"key_vault_secret_name" yaml:"key_vault_secret_name"`
	LocalKeyFallbackPath  string   `json:"local_key_fallback_path" yaml:"local_key_fallback_path"`
	MountScript           string   `json:"mount_script" yaml:"mount_script"`
	DefaultMountKey       string   `json:"default_mount_key" yaml:"default_mount_key"`
	BackendServiceName    string   `json:"backend_service_name" yaml:"backend_service_name"`
	AllowBackendDataReset bool     `json:"allow_backend_data_reset" yaml:"allow_backend_data_reset"`
}

// ModerationConfig controls the bot moderator (C5).
type ModerationConfig struct {
	BotModerationEnabled bool     `json:"bot_moderation_enabled" yaml:"bot_moderation_enabled"`
	AllowedCategories    []string `json:"allowed_categories" yaml:"allowed_categories"`
	// ImageWorkerCommand/Args launch the single-instance image-processing
	// subprocess (spec.md §6's framed stdin/stdout protocol).
	ImageWorkerCommand string   `json:"image_worker_command" yaml:"image_worker_command"`
	ImageWorkerArgs    []string `json:"image_worker_args" yaml:"image_worker_args"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Env: slruntime.Env(),
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			DataDir:         "./data",
			BusyTimeoutMS:   5000,
			ReplicationMode: "none",
			MaxOpenConns:    10,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "nearloop-backend",
		},
		Security: SecurityConfig{
			AccessTokenTTL:    15 * time.Minute,
			RefreshTokenTTL:   30 * 24 * time.Hour,
			RateLimitEnabled:  true,
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
			CORSOrigins:       []string{"*"},
		},
		Location: LocationConfig{
			CellSizeKM:         100,
			WriteSemaphoreSize: 32,
		},
		Scheduler: SchedulerConfig{
			Enabled:                  true,
			DailyWakeUp:              "03:00",
			AutomaticSearchWaveEnd:   "05:00",
			AutomaticSearchBatchSize: 50,
			DataExportRetention:      7 * 24 * time.Hour,
		},
		Push: PushConfig{
			InitialBackoff: time.Second,
			MaxBackoff:     60 * time.Second,
		},
		NodeManager: NodeManagerConfig{
			ListenAddr:         "127.0.0.1:9000",
			AdminAddr:          "127.0.0.1:9001",
			KeyVaultSecretName: "encrypted-volume-passphrase",
			BackendServiceName: "nearloop-backend.service",
		},
		Moderation: ModerationConfig{
			BotModerationEnabled: true,
			AllowedCategories:    []string{"nudity", "violence", "spam"},
			ImageWorkerCommand:   "",
		},
	}
}

// LoadFile loads configuration from a JSON or YAML file (selected by
// extension) layered on top of the defaults. A missing file is not an
// error; LoadFile returns the defaults in that case.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		// Try JSON first, then YAML, so callers without an extension still work.
		if err := json.Unmarshal(data, cfg); err != nil {
			if yerr := yaml.Unmarshal(data, cfg); yerr != nil {
				return nil, fmt.Errorf("parse config (tried json and yaml): %w", err)
			}
		}
	}

	return cfg, nil
}

// LoadConfig loads a config file and returns an error when the file is
// missing or malformed, applying DATABASE_URL-style env overrides on top.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := New()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json config: %w", err)
		}
	}

	applyDataDirEnv(cfg)
	return cfg, nil
}

// Load loads configuration based on the CONFIG_FILE environment variable
// (if set), then applies individual environment variable overrides. Missing
// or unset CONFIG_FILE is not an error.
func Load() (*Config, error) {
	cfg, err := LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := getIntEnv("SERVER_PORT", 0); v != 0 {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_HOST"); v != "" {
		// Kept for operator familiarity with the ambient platform's naming;
		// SQLite has no host, so this only feeds Storage.DataDir.
		cfg.Storage.DataDir = v
	}
	applyDataDirEnv(cfg)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	return cfg, nil
}

func applyDataDirEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DataDir = v
	}
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// IsProduction reports whether the process is running in production.
func (c *Config) IsProduction() bool {
	return c.Env == slruntime.Production
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Storage.DataDir == "" && !c.Storage.InMemory {
		return fmt.Errorf("storage.data_dir is required unless storage.in_memory is set")
	}
	if c.Storage.ReplicationMode != "none" && c.Storage.ReplicationMode != "litestream" {
		return fmt.Errorf("invalid storage.replication_mode: %s", c.Storage.ReplicationMode)
	}
	if c.Location.CellSizeKM <= 0 {
		return fmt.Errorf("location.cell_size_km must be positive")
	}
	return nil
}
