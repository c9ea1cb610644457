// Package deps resolves and reports the external binaries the worker shells
// out to.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names an external binary the pipeline needs.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of one Requirement.
type Status struct {
	Name        string
	Command     string
	Path        string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// MediaRequirements lists the transcoding tools for the configured binaries.
// Empty commands fall back to the PATH names.
func MediaRequirements(ffmpegCommand, ffprobeCommand string) []Requirement {
	return []Requirement{
		{Name: "FFmpeg", Command: orDefault(ffmpegCommand, "ffmpeg"), Description: "cuts clips, extracts audio, composes replacements and concatenates"},
		{Name: "FFprobe", Command: orDefault(ffprobeCommand, "ffprobe"), Description: "probes source duration"},
	}
}

// CheckBinaries resolves each requirement on PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		resolved, err := Resolve(cmd)
		if err != nil {
			status.Detail = err.Error()
			results = append(results, status)
			continue
		}
		status.Path = resolved
		status.Available = true
		results = append(results, status)
	}
	return results
}

// Missing returns the required statuses that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status)
		}
	}
	return missing
}

// Resolve returns the absolute path of command.
func Resolve(command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", fmt.Errorf("command not configured")
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return "", fmt.Errorf("binary %q not found", command)
	}
	return path, nil
}

func orDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
