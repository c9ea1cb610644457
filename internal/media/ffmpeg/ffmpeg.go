package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"reelswap/internal/media/ffprobe"
	"reelswap/internal/services"
)

const component = "ffmpeg"

// Output geometry and codecs shared by every produced clip.
const (
	frameWidth   = 1280
	frameHeight  = 720
	audioBitrate = "192k"
)

// CommandRunner executes name with args and returns stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Span is one clip's window in the source.
type Span struct {
	Start  time.Duration
	Length time.Duration
}

// Toolkit runs media transforms with the configured binaries.
type Toolkit struct {
	ffmpeg  string
	ffprobe string
	run     CommandRunner
}

// Option customises a Toolkit.
type Option func(*Toolkit)

// WithCommandRunner overrides process execution (tests).
func WithCommandRunner(run CommandRunner) Option {
	return func(t *Toolkit) {
		if run != nil {
			t.run = run
		}
	}
}

// New returns a Toolkit. Empty binaries resolve from PATH.
func New(ffmpegBinary, ffprobeBinary string, opts ...Option) *Toolkit {
	t := &Toolkit{
		ffmpeg:  strings.TrimSpace(ffmpegBinary),
		ffprobe: strings.TrimSpace(ffprobeBinary),
		run:     defaultCommandRunner,
	}
	if t.ffmpeg == "" {
		t.ffmpeg = "ffmpeg"
	}
	if t.ffprobe == "" {
		t.ffprobe = "ffprobe"
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ProbeDuration returns the duration of the media file at path.
func (t *Toolkit) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	output, err := t.run(ctx, t.ffprobe, ffprobe.Args(path)...)
	if err != nil {
		return 0, services.Wrap(services.ErrExternalTool, component, "probe", path, err)
	}
	result, err := ffprobe.Parse(output)
	if err != nil {
		return 0, services.Wrap(services.ErrExternalTool, component, "probe", path, err)
	}
	if !result.HasVideo() {
		return 0, services.Wrap(services.ErrValidation, component, "probe", "no video stream in "+path, nil)
	}
	duration, err := result.Duration()
	if err != nil {
		return 0, services.Wrap(services.ErrValidation, component, "probe", path, err)
	}
	return duration, nil
}

// PlanChunks partitions duration into consecutive spans of length chunk; the
// last span holds the remainder. When limit is positive the source is
// truncated to it first.
func PlanChunks(duration, chunk, limit time.Duration) ([]Span, error) {
	if chunk <= 0 {
		return nil, fmt.Errorf("plan chunks: chunk length must be positive, got %s", chunk)
	}
	if limit > 0 && duration > limit {
		duration = limit
	}
	if duration <= 0 {
		return nil, fmt.Errorf("plan chunks: source duration must be positive, got %s", duration)
	}
	count := int(math.Ceil(float64(duration) / float64(chunk)))
	spans := make([]Span, 0, count)
	for start := time.Duration(0); start < duration; start += chunk {
		length := chunk
		if remaining := duration - start; remaining < length {
			length = remaining
		}
		spans = append(spans, Span{Start: start, Length: length})
	}
	return spans, nil
}

// Split probes src, plans clips and cuts each one into dir as {idx}.mp4.
// The returned paths are in index order.
func (t *Toolkit) Split(ctx context.Context, src, dir string, chunk, limit time.Duration) ([]string, error) {
	duration, err := t.ProbeDuration(ctx, src)
	if err != nil {
		return nil, err
	}
	spans, err := PlanChunks(duration, chunk, limit)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, component, "split", "", err)
	}
	paths := make([]string, 0, len(spans))
	for idx, span := range spans {
		dst := filepath.Join(dir, strconv.Itoa(idx)+".mp4")
		if err := t.Cut(ctx, src, dst, span); err != nil {
			return nil, err
		}
		paths = append(paths, dst)
	}
	return paths, nil
}

// Cut re-encodes span of src into dst.
func (t *Toolkit) Cut(ctx context.Context, src, dst string, span Span) error {
	if span.Length <= 0 {
		return services.Wrap(services.ErrValidation, component, "cut", "span length must be positive", nil)
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", src,
		"-ss", formatSeconds(span.Start),
		"-t", formatSeconds(span.Length),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", audioBitrate,
		dst,
	}
	return t.ffmpegRun(ctx, "cut", args)
}

// ExtractAudio writes src's audio track to dst as MP3.
func (t *Toolkit) ExtractAudio(ctx context.Context, src, dst string) error {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", src,
		"-vn",
		"-acodec", "libmp3lame",
		"-ab", audioBitrate,
		dst,
	}
	return t.ffmpegRun(ctx, "extract audio", args)
}

// ComposeStill renders image over audio as a 1280x720 video whose length is
// the audio's.
func (t *Toolkit) ComposeStill(ctx context.Context, image, audio, dst string) error {
	filter := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d", frameWidth, frameHeight, frameWidth, frameHeight)
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-loop", "1",
		"-i", image,
		"-i", audio,
		"-vf", filter,
		"-c:v", "libx264",
		"-tune", "stillimage",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", audioBitrate,
		"-shortest",
		dst,
	}
	return t.ffmpegRun(ctx, "compose", args)
}

// Concat joins inputs in order into dst without re-encoding.
func (t *Toolkit) Concat(ctx context.Context, inputs []string, dst string) error {
	if len(inputs) == 0 {
		return services.Wrap(services.ErrValidation, component, "concat", "no inputs", nil)
	}
	list, err := writeConcatList(filepath.Dir(dst), inputs)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, component, "concat", "write list", err)
	}
	defer os.Remove(list)
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", list,
		"-c", "copy",
		dst,
	}
	return t.ffmpegRun(ctx, "concat", args)
}

func (t *Toolkit) ffmpegRun(ctx context.Context, op string, args []string) error {
	if _, err := t.run(ctx, t.ffmpeg, args...); err != nil {
		marker := services.ErrExternalTool
		if errors.Is(err, context.DeadlineExceeded) {
			marker = services.ErrTimeout
		}
		return services.Wrap(marker, component, op, "", err)
	}
	return nil
}

// ConcatList renders the concat demuxer list for inputs.
func ConcatList(inputs []string) (string, error) {
	var b strings.Builder
	for _, input := range inputs {
		abs, err := filepath.Abs(input)
		if err != nil {
			return "", err
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String(), nil
}

func writeConcatList(dir string, inputs []string) (string, error) {
	content, err := ConcatList(inputs)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "concat-*.txt")
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", name, ctxErr)
		}
		return nil, fmt.Errorf("%s: %w: %s", name, err, services.Snippet(stderr.String(), 400))
	}
	return stdout.Bytes(), nil
}
