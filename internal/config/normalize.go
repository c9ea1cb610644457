package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizePipeline()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeTranscription()
	c.normalizeReference()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("REELSWAP_API_TOKEN"); ok {
			c.API.Token = value
		}
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if value, ok := os.LookupEnv("FRONTEND_URL"); ok && strings.TrimSpace(value) != "" {
		c.API.AllowedOrigins = append([]string{strings.TrimSpace(value)}, c.API.AllowedOrigins...)
	}
	origins := make([]string, 0, len(c.API.AllowedOrigins))
	seen := make(map[string]struct{}, len(c.API.AllowedOrigins))
	for _, origin := range c.API.AllowedOrigins {
		normalized := strings.TrimRight(strings.TrimSpace(origin), "/")
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		origins = append(origins, normalized)
	}
	if len(origins) == 0 {
		origins = []string{defaultAllowedOrigin}
	}
	c.API.AllowedOrigins = origins
}

func (c *Config) normalizePipeline() {
	c.Pipeline.FFmpegBinary = strings.TrimSpace(c.Pipeline.FFmpegBinary)
	if c.Pipeline.FFmpegBinary == "" {
		c.Pipeline.FFmpegBinary = defaultFFmpegBinary
	}
	c.Pipeline.FFprobeBinary = strings.TrimSpace(c.Pipeline.FFprobeBinary)
	if c.Pipeline.FFprobeBinary == "" {
		c.Pipeline.FFprobeBinary = defaultFFprobeBinary
	}
	if c.Pipeline.MaxSourceSeconds < 0 {
		c.Pipeline.MaxSourceSeconds = 0
	}
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaultStorageBackend
	}
	if c.Storage.SupabaseURL == "" {
		if value, ok := os.LookupEnv("SUPABASE_URL"); ok {
			c.Storage.SupabaseURL = value
		}
	}
	c.Storage.SupabaseURL = strings.TrimRight(strings.TrimSpace(c.Storage.SupabaseURL), "/")
	if c.Storage.SupabaseKey == "" {
		if value, ok := os.LookupEnv("SUPABASE_SECRET_KEY"); ok {
			c.Storage.SupabaseKey = value
		}
	}
	c.Storage.SupabaseKey = strings.TrimSpace(c.Storage.SupabaseKey)
	if value, ok := os.LookupEnv("SUPABASE_BUCKET"); ok && strings.TrimSpace(value) != "" {
		c.Storage.Bucket = value
	}
	c.Storage.Bucket = strings.Trim(strings.TrimSpace(c.Storage.Bucket), "/")
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = defaultStorageBucket
	}
	if strings.TrimSpace(c.Storage.LocalRoot) == "" {
		c.Storage.LocalRoot = defaultLocalStorageRoot
	}
	var err error
	if c.Storage.LocalRoot, err = expandPath(c.Storage.LocalRoot); err != nil {
		return fmt.Errorf("storage.local_root: %w", err)
	}
	c.Storage.PublicBaseURL = strings.TrimSpace(c.Storage.PublicBaseURL)
	return nil
}

func (c *Config) normalizeTranscription() {
	if c.Transcription.APIKey == "" {
		if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			c.Transcription.APIKey = value
		}
	}
	c.Transcription.APIKey = strings.TrimSpace(c.Transcription.APIKey)
	c.Transcription.BaseURL = strings.TrimSpace(c.Transcription.BaseURL)
	if c.Transcription.BaseURL == "" {
		c.Transcription.BaseURL = defaultTranscriptionBaseURL
	}
	c.Transcription.Model = strings.TrimSpace(c.Transcription.Model)
	if c.Transcription.Model == "" {
		c.Transcription.Model = defaultTranscriptionModel
	}
	c.Transcription.Language = strings.ToLower(strings.TrimSpace(c.Transcription.Language))
	if c.Transcription.TimeoutSeconds <= 0 {
		c.Transcription.TimeoutSeconds = defaultTranscriptionTimeout
	}
}

func (c *Config) normalizeReference() {
	if c.Reference.APIKey == "" {
		if value, ok := os.LookupEnv("PERPLEXITY_API_KEY"); ok {
			c.Reference.APIKey = value
		}
	}
	c.Reference.APIKey = strings.TrimSpace(c.Reference.APIKey)
	c.Reference.BaseURL = strings.TrimSpace(c.Reference.BaseURL)
	if c.Reference.BaseURL == "" {
		c.Reference.BaseURL = defaultReferenceBaseURL
	}
	c.Reference.Model = strings.TrimSpace(c.Reference.Model)
	if c.Reference.Model == "" {
		c.Reference.Model = defaultReferenceModel
	}
	if c.Reference.TimeoutSeconds <= 0 {
		c.Reference.TimeoutSeconds = defaultReferenceTimeout
	}
}

func (c *Config) normalizeNotifications() {
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("REELSWAP_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = value
		}
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
