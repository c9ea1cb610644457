package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable. Provider credentials are not
// required here; the worker's preflight checks them so read-only CLI commands
// keep working without secrets.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePipeline() error {
	if err := ensurePositiveMap(map[string]int{
		"pipeline.chunk_seconds": c.Pipeline.ChunkSeconds,
		"pipeline.job_ttl_hours": c.Pipeline.JobTTLHours,
	}); err != nil {
		return err
	}
	if c.Pipeline.MaxSourceSeconds > 0 && c.Pipeline.MaxSourceSeconds < c.Pipeline.ChunkSeconds {
		return errors.New("pipeline.max_source_seconds must be 0 or at least pipeline.chunk_seconds")
	}
	return nil
}

func (c *Config) validateWorker() error {
	if err := ensurePositiveMap(map[string]int{
		"worker.max_jobs":               c.Worker.MaxJobs,
		"worker.poll_interval_ms":       c.Worker.PollIntervalMillis,
		"worker.job_timeout_seconds":    c.Worker.JobTimeoutSeconds,
		"worker.lease_seconds":          c.Worker.LeaseSeconds,
		"worker.max_attempts":           c.Worker.MaxAttempts,
		"worker.purge_interval_seconds": c.Worker.PurgeIntervalSeconds,
	}); err != nil {
		return err
	}
	if c.Worker.RetryBackoffSeconds < 0 {
		return errors.New("worker.retry_backoff_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if err := ensurePositiveMap(map[string]int{
		"retry.transcription_attempts": c.Retry.TranscriptionAttempts,
		"retry.lookup_attempts":        c.Retry.LookupAttempts,
		"retry.download_attempts":      c.Retry.DownloadAttempts,
	}); err != nil {
		return err
	}
	if c.Retry.InitialBackoffMillis < 0 || c.Retry.MaxBackoffMillis < 0 {
		return errors.New("retry backoff values must be >= 0")
	}
	if c.Retry.MaxBackoffMillis > 0 && c.Retry.MaxBackoffMillis < c.Retry.InitialBackoffMillis {
		return errors.New("retry.max_backoff_ms must be >= retry.initial_backoff_ms")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageFilesystem:
		if strings.TrimSpace(c.Storage.LocalRoot) == "" {
			return errors.New("storage.local_root must be set when storage.backend is filesystem")
		}
	case StorageSupabase:
		if c.Storage.SupabaseURL == "" {
			return errors.New("storage.supabase_url must be set when storage.backend is supabase (or set SUPABASE_URL)")
		}
		if _, err := url.ParseRequestURI(c.Storage.SupabaseURL); err != nil {
			return fmt.Errorf("storage.supabase_url: %w", err)
		}
		if c.Storage.SupabaseKey == "" {
			return errors.New("storage.supabase_key must be set when storage.backend is supabase (or set SUPABASE_SECRET_KEY)")
		}
	default:
		return fmt.Errorf("storage.backend: unsupported value %q", c.Storage.Backend)
	}
	if c.Storage.RequestTimeout <= 0 {
		return errors.New("storage.request_timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
