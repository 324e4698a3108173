// Verifies the configuration loading logic using Viper.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults when no config file", func(t *testing.T) {
		t.Chdir(t.TempDir())

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() returned an error: %v", err)
		}

		if cfg.BackendURL != "http://localhost:8000" {
			t.Errorf("Expected default backend url, got '%s'", cfg.BackendURL)
		}
		if cfg.Database.Path != "./jobwatch.db" {
			t.Errorf("Expected default db path './jobwatch.db', got '%s'", cfg.Database.Path)
		}
		if cfg.Progress.HeartbeatInterval != 10*time.Second {
			t.Errorf("Expected default heartbeat 10s, got %s", cfg.Progress.HeartbeatInterval)
		}
		if cfg.Progress.Reconnect.MaxAttempts != 5 {
			t.Errorf("Expected 5 reconnect attempts, got %d", cfg.Progress.Reconnect.MaxAttempts)
		}
		if cfg.Devserver.Port != 8000 {
			t.Errorf("Expected devserver port 8000, got %d", cfg.Devserver.Port)
		}
	})

	t.Run("Loads from config file", func(t *testing.T) {
		configContent := `
backend_url: "https://api.example.com"
database:
  path: "/tmp/test.db"
progress:
  poll_interval: 8s
  reconnect:
    base: 1s
    max_attempts: 3
log:
  format: json
unknown_setting: "should be ignored"
`
		configPath := filepath.Join(t.TempDir(), "jobwatch.yml")
		if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
			t.Fatalf("Failed to write test config file: %v", err)
		}

		cfg, err := Load(configPath)
		if err != nil {
			t.Fatalf("Load() returned an error: %v", err)
		}

		if cfg.BackendURL != "https://api.example.com" {
			t.Errorf("Expected backend url from file, got '%s'", cfg.BackendURL)
		}
		if cfg.Database.Path != "/tmp/test.db" {
			t.Errorf("Expected db path '/tmp/test.db', got '%s'", cfg.Database.Path)
		}
		if cfg.Progress.PollInterval != 8*time.Second {
			t.Errorf("Expected poll interval 8s, got %s", cfg.Progress.PollInterval)
		}
		if cfg.Log.Format != "json" {
			t.Errorf("Expected json log format, got '%s'", cfg.Log.Format)
		}

		pc := cfg.ProgressConfig()
		if pc.ReconnectBase != time.Second || pc.MaxReconnectAttempts != 3 {
			t.Errorf("Unexpected reconnect settings: %+v", pc)
		}
		if pc.ReconnectCap != 3*time.Second {
			t.Errorf("Expected default reconnect cap of 3s, got %s", pc.ReconnectCap)
		}
	})

	t.Run("Environment overrides", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("JOBWATCH_BACKEND_URL", "http://env:9000")
		t.Setenv("JOBWATCH_PROGRESS_OPEN_TIMEOUT", "2s")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() returned an error: %v", err)
		}
		if cfg.BackendURL != "http://env:9000" {
			t.Errorf("Expected env backend url, got '%s'", cfg.BackendURL)
		}
		if cfg.Progress.OpenTimeout != 2*time.Second {
			t.Errorf("Expected env open timeout 2s, got %s", cfg.Progress.OpenTimeout)
		}
	})

	t.Run("Malformed file is an error", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "bad.yml")
		if err := os.WriteFile(configPath, []byte("progress: [unterminated"), 0644); err != nil {
			t.Fatalf("Failed to write test config file: %v", err)
		}
		if _, err := Load(configPath); err == nil {
			t.Error("Expected an error for malformed config")
		}
	})
}
