package preflight

import (
	"context"

	"reelswap/internal/config"
)

// MinWorkDirFree is the free space the worker needs for clip scratch files.
const MinWorkDirFree uint64 = 1 << 30

// Role selects which checks apply.
type Role string

const (
	RoleWorker Role = "worker"
	RoleAPI    Role = "api"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the checks relevant to role. An empty role runs every
// check.
func RunAll(ctx context.Context, cfg *config.Config, role Role) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	if cfg.Storage.Backend == config.StorageFilesystem {
		results = append(results, CheckDirectoryAccess("Object store root", cfg.Storage.LocalRoot))
	}
	if role == RoleAPI {
		return results
	}

	results = append(results, CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir))
	results = append(results, CheckFreeSpace("Work directory space", cfg.Paths.WorkDir, MinWorkDirFree))
	results = append(results, CheckMediaBinaries(cfg)...)
	if cfg.Storage.Backend == config.StorageSupabase {
		results = append(results, CheckSupabase(ctx, cfg.Storage))
	}
	results = append(results,
		CheckCredential("Transcription API key", cfg.Transcription.APIKey, "OPENAI_API_KEY"),
		CheckCredential("Reference API key", cfg.Reference.APIKey, "PERPLEXITY_API_KEY"),
	)
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
