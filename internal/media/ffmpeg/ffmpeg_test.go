package ffmpeg_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reelswap/internal/media/ffmpeg"
	"reelswap/internal/services"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls   []call
	ffprobe string
	fail    string
	onCall  func(args []string)
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: append([]string(nil), args...)})
	if f.onCall != nil {
		f.onCall(args)
	}
	if f.fail != "" && name == f.fail {
		return nil, errors.New("exit status 1")
	}
	if name == "ffprobe" {
		return []byte(f.ffprobe), nil
	}
	return nil, nil
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestPlanChunks(t *testing.T) {
	spans, err := ffmpeg.PlanChunks(45*time.Second, 20*time.Second, 0)
	if err != nil {
		t.Fatalf("PlanChunks: %v", err)
	}
	want := []ffmpeg.Span{
		{Start: 0, Length: 20 * time.Second},
		{Start: 20 * time.Second, Length: 20 * time.Second},
		{Start: 40 * time.Second, Length: 5 * time.Second},
	}
	if len(spans) != len(want) {
		t.Fatalf("got %d spans, want %d", len(spans), len(want))
	}
	for i := range want {
		if spans[i] != want[i] {
			t.Fatalf("span %d = %+v, want %+v", i, spans[i], want[i])
		}
	}
}

func TestPlanChunksExactAndTruncated(t *testing.T) {
	spans, _ := ffmpeg.PlanChunks(40*time.Second, 20*time.Second, 0)
	if len(spans) != 2 {
		t.Fatalf("exact multiple should give 2 spans, got %d", len(spans))
	}
	spans, _ = ffmpeg.PlanChunks(10*time.Minute, 20*time.Second, 30*time.Second)
	if len(spans) != 2 || spans[1].Length != 10*time.Second {
		t.Fatalf("truncated plan = %+v", spans)
	}
	if _, err := ffmpeg.PlanChunks(0, 20*time.Second, 0); err == nil {
		t.Fatal("expected error for empty source")
	}
	if _, err := ffmpeg.PlanChunks(time.Second, 0, 0); err == nil {
		t.Fatal("expected error for zero chunk")
	}
}

func TestSplitCutsEverySpan(t *testing.T) {
	runner := &fakeRunner{ffprobe: `{"streams":[{"codec_type":"video"}],"format":{"duration":"45.0"}}`}
	kit := ffmpeg.New("", "", ffmpeg.WithCommandRunner(runner.run))
	dir := t.TempDir()

	paths, err := kit.Split(context.Background(), "/src/in.mp4", dir, 20*time.Second, 0)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("expected 3 clips, got %d", len(paths))
	}
	for i, path := range paths {
		if path != filepath.Join(dir, []string{"0", "1", "2"}[i]+".mp4") {
			t.Fatalf("unexpected path %q", path)
		}
	}
	if len(runner.calls) != 4 || runner.calls[0].name != "ffprobe" {
		t.Fatalf("expected ffprobe plus three cuts, got %+v", runner.calls)
	}
	last := runner.calls[3].args
	if argValue(last, "-ss") != "40.000" || argValue(last, "-t") != "5.000" || argValue(last, "-c:v") != "libx264" {
		t.Fatalf("unexpected cut args %v", last)
	}
}

func TestDurationRejectsAudioOnly(t *testing.T) {
	runner := &fakeRunner{ffprobe: `{"streams":[{"codec_type":"audio"}],"format":{"duration":"12"}}`}
	kit := ffmpeg.New("ffmpeg", "ffprobe", ffmpeg.WithCommandRunner(runner.run))
	_, err := kit.ProbeDuration(context.Background(), "in.mp3")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestComposeStillArgs(t *testing.T) {
	runner := &fakeRunner{}
	kit := ffmpeg.New("ffmpeg", "ffprobe", ffmpeg.WithCommandRunner(runner.run))
	if err := kit.ComposeStill(context.Background(), "img.jpg", "a.mp3", "out.mp4"); err != nil {
		t.Fatalf("ComposeStill: %v", err)
	}
	args := runner.calls[0].args
	if argValue(args, "-loop") != "1" || argValue(args, "-tune") != "stillimage" || argValue(args, "-pix_fmt") != "yuv420p" {
		t.Fatalf("unexpected compose args %v", args)
	}
	if !strings.Contains(argValue(args, "-vf"), "crop=1280:720") {
		t.Fatalf("expected 1280x720 crop, got %q", argValue(args, "-vf"))
	}
	if args[len(args)-1] != "out.mp4" || args[len(args)-2] != "-shortest" {
		t.Fatalf("expected -shortest before output, got %v", args)
	}
}

func TestConcatWritesOrderedList(t *testing.T) {
	dir := t.TempDir()
	var listed string
	runner := &fakeRunner{onCall: func(args []string) {
		data, err := os.ReadFile(argValue(args, "-i"))
		if err == nil {
			listed = string(data)
		}
	}}
	kit := ffmpeg.New("ffmpeg", "ffprobe", ffmpeg.WithCommandRunner(runner.run))
	inputs := []string{filepath.Join(dir, "0.mp4"), filepath.Join(dir, "it's.mp4")}
	if err := kit.Concat(context.Background(), inputs, filepath.Join(dir, "final.mp4")); err != nil {
		t.Fatalf("Concat: %v", err)
	}
	want := "file '" + inputs[0] + "'\nfile '" + filepath.Join(dir, `it'\''s.mp4`) + "'\n"
	if listed != want {
		t.Fatalf("concat list = %q, want %q", listed, want)
	}
	if argValue(runner.calls[0].args, "-c") != "copy" {
		t.Fatalf("concat must stream copy: %v", runner.calls[0].args)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "concat-*.txt"))
	if len(matches) != 0 {
		t.Fatalf("list file should be removed, found %v", matches)
	}
}

func TestFailuresAreExternalToolErrors(t *testing.T) {
	runner := &fakeRunner{fail: "ffmpeg"}
	kit := ffmpeg.New("ffmpeg", "ffprobe", ffmpeg.WithCommandRunner(runner.run))
	err := kit.ExtractAudio(context.Background(), "in.mp4", "out.mp3")
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if err := kit.Concat(context.Background(), nil, "out.mp4"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty concat, got %v", err)
	}
}
