package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

const (
	defaultConfigPath = "~/.config/devengine/config.json"
	defaultWorkers    = 2
)

// Config holds user-editable settings for the develop engine.
type Config struct {
	Processing Processing `json:"processing"`
	Logging    Logging    `json:"logging"`
	Paths      Paths      `json:"paths"`
	Undo       Undo       `json:"undo"`
	Autosave   Autosave   `json:"autosave"`
	HashWait   HashWait   `json:"hash_wait"`
}

// Processing captures pipeline execution preferences.
type Processing struct {
	WorkerPerPipeline int     `json:"worker_per_pipeline"`
	PreviewDownsample float64 `json:"preview_downsample"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
	MaxSize    int    `json:"max_size"`    // Max size in MB before rotation
	MaxBackups int    `json:"max_backups"` // Number of backup files to keep
	MaxAge     int    `json:"max_age"`     // Days to keep log files
}

// Paths configures on-disk locations the engine reads and writes.
type Paths struct {
	DatabasePath string `json:"database_path"`
	SidecarDir   string `json:"sidecar_dir"`
}

// Undo configures how closely-spaced history entries coalesce into a
// single undo step, per history.CoalesceWindow.
type Undo struct {
	MergeSameSecs int `json:"merge_same_secs"`
	ReviewSecs    int `json:"review_secs"`
}

// Autosave configures the develop controller's background history writer.
type Autosave struct {
	Enabled              bool `json:"enabled"`
	DelaySeconds         int  `json:"delay_seconds"`
	SlowWriteThresholdMS int  `json:"slow_write_threshold_ms"`
}

// HashWait sets the poll interval and timeout Controller.WaitHash uses: how
// often the expected fingerprint is re-checked, and how long the wait lasts
// before it returns WaitTimedOut.
type HashWait struct {
	PollIntervalMS int `json:"poll_interval_ms"`
	TimeoutMS      int `json:"timeout_ms"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("DEVENGINE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Processing: Processing{
			WorkerPerPipeline: defaultWorkers,
			PreviewDownsample: 0.5,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     "./logs",
			MaxSize:    100, // 100MB
			MaxBackups: 5,
			MaxAge:     30, // 30 days
		},
		Paths: Paths{
			DatabasePath: filepath.Join(os.TempDir(), "devengine.db"),
			SidecarDir:   filepath.Join(os.TempDir(), "devengine-sidecars"),
		},
		Undo: Undo{
			MergeSameSecs: 1,
			ReviewSecs:    5,
		},
		Autosave: Autosave{
			Enabled:              true,
			DelaySeconds:         3,
			SlowWriteThresholdMS: 500,
		},
		HashWait: HashWait{
			PollIntervalMS: 10,
			TimeoutMS:      200,
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
