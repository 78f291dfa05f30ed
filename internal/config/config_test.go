package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	cfg := New()
	if cfg == nil {
		t.Fatal("New() should return non-nil config")
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Storage.ReplicationMode != "none" {
		t.Errorf("expected default replication mode none, got %s", cfg.Storage.ReplicationMode)
	}
	if cfg.Storage.BusyTimeoutMS != 5000 {
		t.Errorf("expected default busy timeout 5000, got %d", cfg.Storage.BusyTimeoutMS)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("expected default log format text, got %s", cfg.Logging.Format)
	}
	if cfg.Location.CellSizeKM != 100 {
		t.Errorf("expected default cell size 100, got %v", cfg.Location.CellSizeKM)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 9000}
	if got := cfg.Addr(); got != "127.0.0.1:9000" {
		t.Fatalf("Addr() = %q, want 127.0.0.1:9000", got)
	}
}

func TestLoadFile_ValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := `
server:
  host: "192.168.1.1"
  port: 9000
storage:
  data_dir: "/var/lib/nearloop"
  replication_mode: "litestream"
logging:
  level: "debug"
  format: "json"
`
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	if cfg.Server.Host != "192.168.1.1" {
		t.Errorf("expected host 192.168.1.1, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/var/lib/nearloop" {
		t.Errorf("expected data dir override, got %s", cfg.Storage.DataDir)
	}
	if !cfg.Storage.UsesReplication() {
		t.Errorf("expected litestream replication to be detected")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(path, []byte(`{not: valid: yaml:`), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	_, err := LoadFile(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	cfg, err := LoadFile("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("LoadFile should not error on missing file: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invalid.json")
	if err := os.WriteFile(path, []byte(`{invalid json}`), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoadConfig_AllFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "full_config.json")
	jsonContent := `{
		"server": {"host": "test", "port": 5000},
		"storage": {
			"data_dir": "/data/nearloop",
			"busy_timeout_ms": 8000,
			"replication_mode": "litestream",
			"max_open_conns": 20
		},
		"logging": {
			"level": "error",
			"format": "json",
			"output": "file",
			"file_prefix": "test-app"
		},
		"security": {
			"secret_encryption_key": "test-key-123"
		}
	}`
	if err := os.WriteFile(path, []byte(jsonContent), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Server.Host != "test" || cfg.Server.Port != 5000 {
		t.Errorf("server section mismatch: %+v", cfg.Server)
	}
	if cfg.Storage.DataDir != "/data/nearloop" {
		t.Errorf("storage data_dir mismatch")
	}
	if cfg.Storage.MaxOpenConns != 20 {
		t.Errorf("storage max_open_conns mismatch")
	}
	if cfg.Logging.FilePrefix != "test-app" {
		t.Errorf("logging file_prefix mismatch")
	}
	if cfg.Security.SecretEncryptionKey != "test-key-123" {
		t.Errorf("security secret_encryption_key mismatch")
	}
}

func TestLoad_WithEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SERVER_HOST", "test.local")
	t.Setenv("SERVER_PORT", "3000")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Server.Host != "test.local" {
		t.Errorf("expected SERVER_HOST override test.local, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("expected SERVER_PORT override 3000, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected LOG_LEVEL override warn, got %s", cfg.Logging.Level)
	}
}

func TestLoad_WithConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test_config.yaml")
	yamlContent := `
server:
  host: "config-file-host"
  port: 4000
`
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SERVER_HOST", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Server.Host != "config-file-host" {
		t.Errorf("expected host from config file, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("expected port from config file, got %d", cfg.Server.Port)
	}
}

func TestValidate_RejectsBadReplicationMode(t *testing.T) {
	cfg := New()
	cfg.Storage.ReplicationMode = "postgres-logical"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown replication mode")
	}
}

func TestValidate_RejectsZeroCellSize(t *testing.T) {
	cfg := New()
	cfg.Location.CellSizeKM = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero cell size")
	}
}
