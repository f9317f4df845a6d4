package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"podscribe/internal/config"
)

func TestLoadDefaultConfigUsesEnvKeysAndExpandsPaths(t *testing.T) {
	t.Setenv("TRANSCRIBER_API_KEY", "transcriber-key")
	t.Setenv("LLM_API_KEY", "llm-key")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantStaging := filepath.Join(tempHome, ".local", "share", "podscribe", "staging")
	if cfg.Paths.StagingDir != wantStaging {
		t.Fatalf("unexpected staging dir: got %q want %q", cfg.Paths.StagingDir, wantStaging)
	}
	if cfg.Transcriber.APIKey != "transcriber-key" {
		t.Fatalf("expected transcriber key from env, got %q", cfg.Transcriber.APIKey)
	}
	if cfg.LLM.APIKey != "llm-key" {
		t.Fatalf("expected llm key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Transcriber.BaseURL != config.Default().Transcriber.BaseURL {
		t.Fatalf("unexpected transcriber base url: %q", cfg.Transcriber.BaseURL)
	}
	if cfg.Poller.MaxConcurrentChecks != 5 {
		t.Fatalf("unexpected max concurrent checks: %d", cfg.Poller.MaxConcurrentChecks)
	}
	if cfg.Poller.FetchDelayMS != 500 {
		t.Fatalf("unexpected fetch delay: %d", cfg.Poller.FetchDelayMS)
	}
	if cfg.Workflow.MaxBatchSize != 19 {
		t.Fatalf("unexpected max batch size: %d", cfg.Workflow.MaxBatchSize)
	}
	if cfg.DatabasePath() != filepath.Join(tempHome, ".local", "share", "podscribe", "podscribe.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
}

func TestLoadParsesFileAndNormalizes(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("TRANSCRIBER_API_KEY", "")
	t.Setenv("LLM_API_KEY", "")

	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[paths]
staging_dir = "~/staging"

[transcriber]
api_key = "abc"
base_url = "https://example.test/v2/"

[llm]
api_key = "def"
model = "  test/model  "

[poller]
episode_limit = 900
max_episode_limit = 500

[logging]
format = "JSON"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if cfg.Paths.StagingDir != filepath.Join(tempHome, "staging") {
		t.Fatalf("expected tilde expansion, got %q", cfg.Paths.StagingDir)
	}
	if cfg.Transcriber.BaseURL != "https://example.test/v2" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Transcriber.BaseURL)
	}
	if cfg.LLM.Model != "test/model" {
		t.Fatalf("expected trimmed model, got %q", cfg.LLM.Model)
	}
	if cfg.Poller.EpisodeLimit != 500 {
		t.Fatalf("expected episode limit clamped to max, got %d", cfg.Poller.EpisodeLimit)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected lowercased format, got %q", cfg.Logging.Format)
	}
}

func TestLoadRejectsMissingTranscriberKey(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("TRANSCRIBER_API_KEY", "")
	t.Setenv("ASSEMBLYAI_API_KEY", "")
	t.Setenv("LLM_API_KEY", "llm-key")

	_, _, _, err := config.Load("")
	if err == nil {
		t.Fatal("expected error for missing transcriber key")
	}
	if !strings.Contains(err.Error(), "transcriber.api_key") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsBadLogFormat(t *testing.T) {
	cfg := config.Default()
	cfg.Transcriber.APIKey = "x"
	cfg.LLM.APIKey = "y"
	cfg.Logging.Format = "yaml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported log format")
	}
}

func TestCreateSampleWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[transcriber]") {
		t.Fatal("expected sample to include transcriber section")
	}
}
