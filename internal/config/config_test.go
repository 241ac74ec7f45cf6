package config

import (
	"os"
	"path/filepath"
	"testing"
)

func mockEnv(env map[string]string) func(string) string {
	return func(key string) string {
		return env[key]
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() returned nil")
	}
	if cfg.Compress.ThresholdPercent != 100 {
		t.Errorf("Compress.ThresholdPercent = %d, want 100", cfg.Compress.ThresholdPercent)
	}
	if cfg.Compress.MinIntervalSecs != 300 {
		t.Errorf("Compress.MinIntervalSecs = %d, want 300", cfg.Compress.MinIntervalSecs)
	}
	if cfg.Compress.MaxIntervalSecs != 86400 {
		t.Errorf("Compress.MaxIntervalSecs = %d, want 86400", cfg.Compress.MaxIntervalSecs)
	}
	if !cfg.Compress.EnableWALCompact || !cfg.Compress.EnableBlobCleanup || !cfg.Compress.EnableIndexOptimize {
		t.Error("DefaultConfig() should enable all compress feature gates")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "contexthub")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `
data_dir: /srv/contexthub/data
compress:
  threshold_percent: 50
  min_interval_secs: 120
log:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	env := mockEnv(map[string]string{"XDG_CONFIG_HOME": tmpDir})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.DataDir != "/srv/contexthub/data" {
		t.Errorf("DataDir = %q, want /srv/contexthub/data", cfg.DataDir)
	}
	if cfg.Compress.ThresholdPercent != 50 {
		t.Errorf("Compress.ThresholdPercent = %d, want 50", cfg.Compress.ThresholdPercent)
	}
	if cfg.Compress.MinIntervalSecs != 120 {
		t.Errorf("Compress.MinIntervalSecs = %d, want 120", cfg.Compress.MinIntervalSecs)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	// Untouched field should keep its default.
	if cfg.Compress.MaxIntervalSecs != 86400 {
		t.Errorf("Compress.MaxIntervalSecs = %d, want default 86400", cfg.Compress.MaxIntervalSecs)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "contexthub")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(`data_dir: /from/file`), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
		"DATA_DIR":        "/from/env",
		"SNAPSHOT_RETENTION": "25",
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}
	if cfg.DataDir != "/from/env" {
		t.Errorf("DataDir = %q, want env override /from/env", cfg.DataDir)
	}
	if cfg.Snapshot.Retention != 25 {
		t.Errorf("Snapshot.Retention = %d, want 25", cfg.Snapshot.Retention)
	}
}

func TestLoadNoConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	env := mockEnv(map[string]string{"XDG_CONFIG_HOME": tmpDir})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}
	if cfg.Compress.ThresholdPercent != 100 {
		t.Errorf("should fall back to defaults, got ThresholdPercent=%d", cfg.Compress.ThresholdPercent)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "contexthub")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")
	invalid := "data_dir: [this is invalid yaml"
	if err := os.WriteFile(configPath, []byte(invalid), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	env := mockEnv(map[string]string{"XDG_CONFIG_HOME": tmpDir})
	if _, err := LoadWithEnv(env); err == nil {
		t.Error("LoadWithEnv() with invalid YAML should return an error")
	}
}

func TestGetConfigPathXDG(t *testing.T) {
	t.Parallel()
	env := mockEnv(map[string]string{"XDG_CONFIG_HOME": "/custom/config/path"})
	path := getConfigPathWithEnv(env)
	want := filepath.Join("/custom/config/path", "contexthub", "config.yaml")
	if path != want {
		t.Errorf("getConfigPathWithEnv() = %q, want %q", path, want)
	}
}

func TestGetConfigPathFallback(t *testing.T) {
	t.Parallel()
	env := mockEnv(map[string]string{})
	path := getConfigPathWithEnv(env)
	home, _ := os.UserHomeDir()
	want := filepath.Join(home, ".config", "contexthub", "config.yaml")
	if path != want {
		t.Errorf("getConfigPathWithEnv() = %q, want %q", path, want)
	}
}
