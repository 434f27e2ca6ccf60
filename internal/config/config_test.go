package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFallsBackToDefaultsWhenConfigFileAbsent(t *testing.T) {
	t.Setenv("DEVENGINE_CONFIG", filepath.Join(t.TempDir(), "missing.json"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := defaultConfig()
	if cfg.Processing.WorkerPerPipeline != want.Processing.WorkerPerPipeline {
		t.Fatalf("want default worker count %d, got %d", want.Processing.WorkerPerPipeline, cfg.Processing.WorkerPerPipeline)
	}
	if cfg.Autosave.Enabled != want.Autosave.Enabled {
		t.Fatal("want default autosave.enabled preserved")
	}
}

func TestLoadOverridesFromConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	blob, _ := json.Marshal(map[string]any{
		"processing": map[string]any{"worker_per_pipeline": 7},
	})
	if err := os.WriteFile(path, blob, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("DEVENGINE_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Processing.WorkerPerPipeline != 7 {
		t.Fatalf("want the file's override (7) applied, got %d", cfg.Processing.WorkerPerPipeline)
	}
	if cfg.Undo.MergeSameSecs != defaultConfig().Undo.MergeSameSecs {
		t.Fatalf("want fields absent from the file to keep their defaults, got %d", cfg.Undo.MergeSameSecs)
	}
}

func TestLoadRejectsMalformedConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("DEVENGINE_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatal("want an error for a malformed config file")
	}
}

func TestExpandUserExpandsHomeRelativePaths(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory available: %v", err)
	}
	got, err := expandUser("~/foo/bar")
	if err != nil {
		t.Fatalf("expandUser: %v", err)
	}
	want := filepath.Join(home, "foo/bar")
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestExpandUserLeavesNonTildePathsUnchanged(t *testing.T) {
	got, err := expandUser("/absolute/path")
	if err != nil {
		t.Fatalf("expandUser: %v", err)
	}
	if got != "/absolute/path" {
		t.Fatalf("want an absolute path left unchanged, got %q", got)
	}
}
