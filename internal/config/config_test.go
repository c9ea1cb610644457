package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"reelswap/internal/config"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPENAI_API_KEY", "PERPLEXITY_API_KEY", "SUPABASE_URL", "SUPABASE_SECRET_KEY",
		"SUPABASE_BUCKET", "FRONTEND_URL", "REELSWAP_NTFY_TOPIC", "REELSWAP_API_TOKEN",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	clearProviderEnv(t)
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

	wantData := filepath.Join(tempHome, ".local", "share", "reelswap")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "reelswap.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Pipeline.ChunkSeconds != 20 {
		t.Fatalf("expected 20s chunks by default, got %d", cfg.Pipeline.ChunkSeconds)
	}
	if cfg.JobTTL().Hours() != 48 {
		t.Fatalf("expected 48h job ttl, got %s", cfg.JobTTL())
	}
	if cfg.Worker.MaxJobs != 10 {
		t.Fatalf("expected max_jobs 10, got %d", cfg.Worker.MaxJobs)
	}
	if cfg.Storage.Backend != config.StorageFilesystem || cfg.Storage.Bucket != "uploads" {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if len(cfg.API.AllowedOrigins) != 1 || cfg.API.AllowedOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected allowed origins: %v", cfg.API.AllowedOrigins)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.WorkDir, cfg.Paths.LogDir, cfg.Storage.LocalRoot} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	clearProviderEnv(t)
	configPath := filepath.Join(t.TempDir(), "reelswap.toml")

	type payload struct {
		Pipeline struct {
			ChunkSeconds     int `toml:"chunk_seconds"`
			MaxSourceSeconds int `toml:"max_source_seconds"`
		} `toml:"pipeline"`
		Worker struct {
			MaxJobs int `toml:"max_jobs"`
		} `toml:"worker"`
		Reference struct {
			APIKey string `toml:"api_key"`
		} `toml:"reference"`
	}
	custom := payload{}
	custom.Pipeline.ChunkSeconds = 15
	custom.Pipeline.MaxSourceSeconds = 120
	custom.Worker.MaxJobs = 4
	custom.Reference.APIKey = "pplx-file"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Pipeline.ChunkSeconds != 15 || cfg.MaxSourceDuration().Seconds() != 120 {
		t.Fatalf("unexpected pipeline config: %+v", cfg.Pipeline)
	}
	if cfg.Worker.MaxJobs != 4 {
		t.Fatalf("expected max_jobs override, got %d", cfg.Worker.MaxJobs)
	}
	if cfg.Reference.APIKey != "pplx-file" {
		t.Fatalf("expected reference key from file, got %q", cfg.Reference.APIKey)
	}
	if cfg.Reference.Model != "sonar" {
		t.Fatalf("expected default reference model, got %q", cfg.Reference.Model)
	}
}

func TestEnvFallbacks(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("PERPLEXITY_API_KEY", "pplx-env")
	t.Setenv("SUPABASE_URL", "https://example.supabase.co/")
	t.Setenv("SUPABASE_SECRET_KEY", "service-role")
	t.Setenv("SUPABASE_BUCKET", "media")
	t.Setenv("FRONTEND_URL", "https://app.example.com/")

	configPath := filepath.Join(t.TempDir(), "reelswap.toml")
	if err := os.WriteFile(configPath, []byte("[storage]\nbackend = \"supabase\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Transcription.APIKey != "sk-env" {
		t.Fatalf("expected transcription key from env, got %q", cfg.Transcription.APIKey)
	}
	if cfg.Reference.APIKey != "pplx-env" {
		t.Fatalf("expected reference key from env, got %q", cfg.Reference.APIKey)
	}
	if cfg.Storage.SupabaseURL != "https://example.supabase.co" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Storage.SupabaseURL)
	}
	if cfg.Storage.Bucket != "media" {
		t.Fatalf("expected bucket from env, got %q", cfg.Storage.Bucket)
	}
	if cfg.API.AllowedOrigins[0] != "https://app.example.com" {
		t.Fatalf("expected FRONTEND_URL first, got %v", cfg.API.AllowedOrigins)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"chunk", func(c *config.Config) { c.Pipeline.ChunkSeconds = 0 }, "pipeline.chunk_seconds"},
		{"max source", func(c *config.Config) { c.Pipeline.MaxSourceSeconds = 5 }, "max_source_seconds"},
		{"max jobs", func(c *config.Config) { c.Worker.MaxJobs = 0 }, "worker.max_jobs"},
		{"attempts", func(c *config.Config) { c.Retry.TranscriptionAttempts = 0 }, "retry.transcription_attempts"},
		{"backoff", func(c *config.Config) { c.Retry.MaxBackoffMillis = 1; c.Retry.InitialBackoffMillis = 10 }, "max_backoff_ms"},
		{"backend", func(c *config.Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"supabase", func(c *config.Config) { c.Storage.Backend = config.StorageSupabase }, "storage.supabase_url"},
		{"level", func(c *config.Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tc := range cases {
		cfg := config.Default()
		cfg.Storage.LocalRoot = t.TempDir()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected %q in %q", tc.name, tc.want, err.Error())
		}
	}
}

func TestCreateSampleLoads(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Pipeline.ChunkSeconds != 20 {
		t.Fatalf("unexpected sample chunk seconds: %d", cfg.Pipeline.ChunkSeconds)
	}
}
