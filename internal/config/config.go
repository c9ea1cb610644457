package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains local directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	WorkDir string `toml:"work_dir"`
	LogDir  string `toml:"log_dir"`
}

// API contains HTTP front door settings.
type API struct {
	Bind           string   `toml:"bind"`
	AllowedOrigins []string `toml:"allowed_origins"`
	Token          string   `toml:"token"`
}

// Pipeline contains clip splitting and ledger retention settings.
type Pipeline struct {
	ChunkSeconds     int    `toml:"chunk_seconds"`
	MaxSourceSeconds int    `toml:"max_source_seconds"`
	JobTTLHours      int    `toml:"job_ttl_hours"`
	FFmpegBinary     string `toml:"ffmpeg_binary"`
	FFprobeBinary    string `toml:"ffprobe_binary"`
}

// Worker contains task queue consumption settings.
type Worker struct {
	MaxJobs              int `toml:"max_jobs"`
	PollIntervalMillis   int `toml:"poll_interval_ms"`
	JobTimeoutSeconds    int `toml:"job_timeout_seconds"`
	LeaseSeconds         int `toml:"lease_seconds"`
	MaxAttempts          int `toml:"max_attempts"`
	RetryBackoffSeconds  int `toml:"retry_backoff_seconds"`
	PurgeIntervalSeconds int `toml:"purge_interval_seconds"`
}

// Retry contains the per-call retry budgets applied inside task handlers.
type Retry struct {
	TranscriptionAttempts int `toml:"transcription_attempts"`
	LookupAttempts        int `toml:"lookup_attempts"`
	DownloadAttempts      int `toml:"download_attempts"`
	InitialBackoffMillis  int `toml:"initial_backoff_ms"`
	MaxBackoffMillis      int `toml:"max_backoff_ms"`
}

// Storage selects and configures the object store backend.
type Storage struct {
	Backend        string `toml:"backend"`
	Bucket         string `toml:"bucket"`
	SupabaseURL    string `toml:"supabase_url"`
	SupabaseKey    string `toml:"supabase_key"`
	LocalRoot      string `toml:"local_root"`
	PublicBaseURL  string `toml:"public_base_url"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Transcription contains speech-to-text provider settings.
type Transcription struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Language       string `toml:"language"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Reference contains reference lookup provider settings.
type Reference struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobFinished    bool   `toml:"job_finished"`
	JobFailed      bool   `toml:"job_failed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for reelswap.
//
// Configuration sections by subsystem:
//   - Paths: database, scratch, and log directories
//   - API: HTTP bind address and CORS origins
//   - Pipeline: clip length, source truncation, ledger TTL, ffmpeg binaries
//   - Worker: concurrency, polling, leases, and queue-level retries
//   - Retry: per-call retry budgets for external providers
//   - Storage: object store backend (filesystem or Supabase)
//   - Transcription: OpenAI-compatible speech-to-text
//   - Reference: Perplexity reference lookup
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Worker        Worker        `toml:"worker"`
	Retry         Retry         `toml:"retry"`
	Storage       Storage       `toml:"storage"`
	Transcription Transcription `toml:"transcription"`
	Reference     Reference     `toml:"reference"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/reelswap/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("reelswap.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the worker and API write into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.WorkDir, c.Paths.LogDir}
	if c.Storage.Backend == StorageFilesystem {
		dirs = append(dirs, c.Storage.LocalRoot)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite file backing the job ledger and task queue.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "reelswap.db")
}

// JobTTL is how long ledger rows survive after their last write.
func (c *Config) JobTTL() time.Duration {
	return time.Duration(c.Pipeline.JobTTLHours) * time.Hour
}

// ChunkDuration is the fixed clip length used by split.
func (c *Config) ChunkDuration() time.Duration {
	return time.Duration(c.Pipeline.ChunkSeconds) * time.Second
}

// MaxSourceDuration returns the source truncation limit, zero meaning unlimited.
func (c *Config) MaxSourceDuration() time.Duration {
	return time.Duration(c.Pipeline.MaxSourceSeconds) * time.Second
}

// PollInterval is how often an idle worker checks the queue.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalMillis) * time.Millisecond
}

// JobTimeout is the wall-clock budget for a single task invocation.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Worker.JobTimeoutSeconds) * time.Second
}

// LeaseDuration is how long a claimed task stays invisible to other workers
// without a heartbeat.
func (c *Config) LeaseDuration() time.Duration {
	return time.Duration(c.Worker.LeaseSeconds) * time.Second
}

// RetryBackoff is the base delay before a nacked task becomes available again.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Worker.RetryBackoffSeconds) * time.Second
}

// PurgeInterval is how often expired ledger rows and leases are swept.
func (c *Config) PurgeInterval() time.Duration {
	return time.Duration(c.Worker.PurgeIntervalSeconds) * time.Second
}

// InitialBackoff is the first delay of a per-call retry budget.
func (c *Config) InitialBackoff() time.Duration {
	return time.Duration(c.Retry.InitialBackoffMillis) * time.Millisecond
}

// MaxBackoff caps per-call retry delays.
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.Retry.MaxBackoffMillis) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
