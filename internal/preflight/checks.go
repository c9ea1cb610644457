package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"reelswap/internal/config"
	"reelswap/internal/deps"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies that the filesystem holding path has at least min
// bytes available to unprivileged users.
func CheckFreeSpace(name, path string, min uint64) Result {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := uint64(st.Bavail) * uint64(st.Bsize)
	if free < min {
		return Result{Name: name, Detail: fmt.Sprintf("%s free, need %s", formatBytes(free), formatBytes(min))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s free", formatBytes(free))}
}

// CheckMediaBinaries resolves the configured ffmpeg and ffprobe binaries.
func CheckMediaBinaries(cfg *config.Config) []Result {
	statuses := deps.CheckBinaries(deps.MediaRequirements(cfg.Pipeline.FFmpegBinary, cfg.Pipeline.FFprobeBinary))
	results := make([]Result, 0, len(statuses))
	for _, status := range statuses {
		if status.Available {
			results = append(results, Result{Name: status.Name, Passed: true, Detail: status.Path})
			continue
		}
		results = append(results, Result{Name: status.Name, Passed: status.Optional, Detail: status.Detail})
	}
	return results
}

// CheckCredential reports whether a provider key is set.
func CheckCredential(name, value, envVar string) Result {
	if strings.TrimSpace(value) == "" {
		return Result{Name: name, Detail: fmt.Sprintf("missing (set it in the config file or %s)", envVar)}
	}
	return Result{Name: name, Passed: true, Detail: "configured"}
}

// CheckSupabase verifies the storage credentials and that the bucket exists.
func CheckSupabase(ctx context.Context, storage config.Storage) Result {
	const name = "Supabase storage"

	base := strings.TrimRight(strings.TrimSpace(storage.SupabaseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing url (SUPABASE_URL)"}
	}
	key := strings.TrimSpace(storage.SupabaseKey)
	if key == "" {
		return Result{Name: name, Detail: "missing key (SUPABASE_SECRET_KEY)"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/storage/v1/bucket/"+storage.Bucket, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("bucket check failed (%v)", err)}
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("apikey", key)

	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("bucket %q reachable", storage.Bucket)}
	case http.StatusUnauthorized, http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (invalid key)"}
	case http.StatusNotFound, http.StatusBadRequest:
		return Result{Name: name, Detail: fmt.Sprintf("bucket %q not found", storage.Bucket)}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("bucket check failed (%d)", resp.StatusCode)}
	}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "bucket check timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "bucket check timed out (storage unreachable)"
	}
	return err.Error()
}

func formatBytes(n uint64) string {
	const gib = 1 << 30
	if n >= gib {
		return fmt.Sprintf("%.1f GiB", float64(n)/gib)
	}
	return fmt.Sprintf("%d MiB", n>>20)
}
