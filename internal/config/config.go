// Package config loads contexthub's configuration: a YAML file merged
// with environment variable overrides, following the same shape as the
// teacher's config loader (a DefaultConfig, a getenv-injectable
// LoadWithEnv for test isolation, and file-then-env precedence).
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jra3/contexthub/internal/errs"
)

// Config is contexthub's full node configuration.
type Config struct {
	DataDir     string `yaml:"data_dir"`
	SnapshotDir string `yaml:"snapshot_dir"`
	IndexDir    string `yaml:"index_dir"`
	BlobDir     string `yaml:"blob_dir"`
	WALDir      string `yaml:"wal_dir"`

	Snapshot SnapshotConfig `yaml:"snapshot"`
	Compress CompressConfig `yaml:"compress"`
	Log      LogConfig      `yaml:"log"`
	Shards   []ShardConfig  `yaml:"shards"`
}

// ShardConfig is one entry of the static shard topology the route
// command's router is seeded from (spec §4.6). A real deployment would
// source this from a coordination service; a node operating alone reads
// it straight from its own config file.
type ShardConfig struct {
	ID       uint32 `yaml:"id"`
	Address  string `yaml:"address"`
	Status   string `yaml:"status"`
	Capacity uint64 `yaml:"capacity"`
	Replicas int    `yaml:"replicas"`
}

type SnapshotConfig struct {
	IntervalSecs int `yaml:"interval_secs"`
	Retention    int `yaml:"retention"`
}

// CompressConfig mirrors spec §4.5's option table.
type CompressConfig struct {
	ThresholdPercent    int  `yaml:"threshold_percent"`
	MinIntervalSecs     int  `yaml:"min_interval_secs"`
	MaxIntervalSecs     int  `yaml:"max_interval_secs"`
	SnapshotRetention   int  `yaml:"snapshot_retention"`
	EnableWALCompact    bool `yaml:"enable_wal_compact"`
	EnableBlobCleanup   bool `yaml:"enable_blob_cleanup"`
	EnableIndexOptimize bool `yaml:"enable_index_optimize"`
	CheckIntervalSecs   int  `yaml:"check_interval_secs"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the configuration used when no file or env
// override is present, matching the defaults tabulated in spec §4.5.
func DefaultConfig() *Config {
	return &Config{
		DataDir:     "./data/documents",
		SnapshotDir: "./data/snapshot",
		IndexDir:    "./data/index",
		BlobDir:     "./data/blobs",
		WALDir:      "./data/wal",
		Snapshot: SnapshotConfig{
			IntervalSecs: 3600,
			Retention:    10,
		},
		Compress: CompressConfig{
			ThresholdPercent:    100,
			MinIntervalSecs:     300,
			MaxIntervalSecs:     86400,
			SnapshotRetention:   10,
			EnableWALCompact:    true,
			EnableBlobCleanup:   true,
			EnableIndexOptimize: true,
			CheckIntervalSecs:   60,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration using the real environment.
func Load() (*Config, error) {
	return LoadWithEnv(os.Getenv)
}

// LoadWithEnv loads configuration using the provided environment lookup
// function, so tests can supply an isolated environment instead of
// mutating process-global state.
func LoadWithEnv(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	if data, err := os.ReadFile(getConfigPathWithEnv(getenv)); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errs.Wrapf("config.load", errs.Serialization, err, "failed to parse config file")
		}
	}

	applyEnvOverrides(cfg, getenv)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	strVar(&cfg.DataDir, getenv("DATA_DIR"))
	strVar(&cfg.SnapshotDir, getenv("SNAPSHOT_DIR"))
	strVar(&cfg.IndexDir, getenv("INDEX_DIR"))
	strVar(&cfg.BlobDir, getenv("BLOB_DIR"))
	strVar(&cfg.WALDir, getenv("WAL_DIR"))
	intVar(&cfg.Snapshot.IntervalSecs, getenv("SNAPSHOT_INTERVAL_SECS"))
	intVar(&cfg.Snapshot.Retention, getenv("SNAPSHOT_RETENTION"))
}

func strVar(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func intVar(dst *int, v string) {
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func getConfigPath() string {
	return getConfigPathWithEnv(os.Getenv)
}

func getConfigPathWithEnv(getenv func(string) string) string {
	if xdgConfig := getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "contexthub", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "contexthub", "config.yaml")
}

// Duration parses a duration-bearing int-seconds field; kept as a small
// helper since the YAML config stores plain integers (per spec §4.5's
// "thresholds integer-or-percentage"), not time.Duration strings.
func Duration(secs int) time.Duration {
	return time.Duration(secs) * time.Second
}
