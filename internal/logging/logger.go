package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"reelswap/internal/config"
)

// Options describes logger construction parameters. Paths accepts file paths
// plus the names "stdout" and "stderr"; an empty list means stdout.
type Options struct {
	Level  string
	Format string
	Paths  []string
	Source bool
}

// New constructs a slog logger using the provided options. Caller locations
// are attached when Source is set or the level is debug.
func New(opts Options) (*slog.Logger, error) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLevel(opts.Level))

	w, err := openOutputs(opts.Paths)
	if err != nil {
		return nil, err
	}
	source := opts.Source || levelVar.Level() <= slog.LevelDebug

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "console":
		return slog.New(newConsoleHandler(w, levelVar, source)), nil
	case "json":
		return slog.New(newJSONHandler(w, levelVar, source)), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewFromConfig creates a logger writing to stdout and, when a log directory
// is configured, to reelswap-<role>.log inside it.
func NewFromConfig(cfg *config.Config, role string) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{})
	}
	paths := []string{"stdout"}
	role = strings.TrimSpace(role)
	if cfg.Paths.LogDir != "" && role != "" {
		paths = append(paths, filepath.Join(cfg.Paths.LogDir, "reelswap-"+role+".log"))
	}
	return New(Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Paths:  paths,
	})
}

func parseLevel(level string) slog.Level {
	var lvl slog.Level
	value := strings.ToLower(strings.TrimSpace(level))
	if value == "warning" {
		value = "warn"
	}
	if err := lvl.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func openOutputs(paths []string) (io.Writer, error) {
	var (
		writers []io.Writer
		seen    []string
	)
	for _, raw := range paths {
		path := strings.TrimSpace(raw)
		if path == "" || slices.Contains(seen, path) {
			continue
		}
		seen = append(seen, path)
		w, err := openOutput(path)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}
	if len(writers) == 0 {
		return os.Stdout, nil
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func openOutput(path string) (io.Writer, error) {
	switch path {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, nil
}
