package config

const (
	defaultDataDir               = "~/.local/share/reelswap"
	defaultWorkDir               = "~/.local/share/reelswap/work"
	defaultLogDir                = "~/.local/share/reelswap/logs"
	defaultLocalStorageRoot      = "~/.local/share/reelswap/objects"
	defaultAPIBind               = "0.0.0.0:8080"
	defaultAllowedOrigin         = "http://localhost:3000"
	defaultChunkSeconds          = 20
	defaultJobTTLHours           = 48
	defaultFFmpegBinary          = "ffmpeg"
	defaultFFprobeBinary         = "ffprobe"
	defaultMaxJobs               = 10
	defaultPollIntervalMillis    = 500
	defaultJobTimeoutSeconds     = 600
	defaultLeaseSeconds          = 60
	defaultMaxAttempts           = 3
	defaultRetryBackoffSeconds   = 5
	defaultPurgeIntervalSeconds  = 300
	defaultTranscriptionAttempts = 3
	defaultLookupAttempts        = 2
	defaultDownloadAttempts      = 3
	defaultInitialBackoffMillis  = 500
	defaultMaxBackoffMillis      = 8000
	defaultStorageBackend        = StorageFilesystem
	defaultStorageBucket         = "uploads"
	defaultStorageRequestTimeout = 120
	defaultTranscriptionBaseURL  = "https://api.openai.com/v1"
	defaultTranscriptionModel    = "whisper-1"
	defaultTranscriptionTimeout  = 120
	defaultReferenceBaseURL      = "https://api.perplexity.ai/chat/completions"
	defaultReferenceModel        = "sonar"
	defaultReferenceTimeout      = 60
	defaultNotifyRequestTimeout  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Storage backends.
const (
	StorageFilesystem = "filesystem"
	StorageSupabase   = "supabase"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
		},
		API: API{
			Bind:           defaultAPIBind,
			AllowedOrigins: []string{defaultAllowedOrigin},
		},
		Pipeline: Pipeline{
			ChunkSeconds:  defaultChunkSeconds,
			JobTTLHours:   defaultJobTTLHours,
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
		},
		Worker: Worker{
			MaxJobs:              defaultMaxJobs,
			PollIntervalMillis:   defaultPollIntervalMillis,
			JobTimeoutSeconds:    defaultJobTimeoutSeconds,
			LeaseSeconds:         defaultLeaseSeconds,
			MaxAttempts:          defaultMaxAttempts,
			RetryBackoffSeconds:  defaultRetryBackoffSeconds,
			PurgeIntervalSeconds: defaultPurgeIntervalSeconds,
		},
		Retry: Retry{
			TranscriptionAttempts: defaultTranscriptionAttempts,
			LookupAttempts:        defaultLookupAttempts,
			DownloadAttempts:      defaultDownloadAttempts,
			InitialBackoffMillis:  defaultInitialBackoffMillis,
			MaxBackoffMillis:      defaultMaxBackoffMillis,
		},
		Storage: Storage{
			Backend:        defaultStorageBackend,
			Bucket:         defaultStorageBucket,
			LocalRoot:      defaultLocalStorageRoot,
			RequestTimeout: defaultStorageRequestTimeout,
		},
		Transcription: Transcription{
			BaseURL:        defaultTranscriptionBaseURL,
			Model:          defaultTranscriptionModel,
			TimeoutSeconds: defaultTranscriptionTimeout,
		},
		Reference: Reference{
			BaseURL:        defaultReferenceBaseURL,
			Model:          defaultReferenceModel,
			TimeoutSeconds: defaultReferenceTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			JobFinished:    true,
			JobFailed:      true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
