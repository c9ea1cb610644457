package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"reelswap/internal/ledger"
	"reelswap/internal/logging"
	"reelswap/internal/objectstore"
	"reelswap/internal/taskqueue"
)

// split downloads the job's source, cuts it into fixed-length clips, uploads
// them and fans out one process_clip task per clip. Every delivery starts a
// new generation, so a redelivered split rebuilds the clip set from scratch
// and tasks from the abandoned generation drop themselves.
func (p *Pipeline) split(ctx context.Context, task *taskqueue.Task) Result {
	logger := logging.WithContext(ctx, p.logger)

	job, err := p.ledger.BeginSplit(ctx, task.JobID)
	switch {
	case errors.Is(err, ledger.ErrJobNotFound):
		return Result{Kind: KindFatal, Err: err}
	case errors.Is(err, ledger.ErrInvalidTransition):
		logger.Info("split skipped", logging.String("reason", err.Error()))
		return ok()
	case err != nil:
		return Result{Kind: KindRetry, Err: err}
	}

	dir, err := p.workDir(task)
	if err != nil {
		return p.escalate(ctx, job.ID, task.Name, err)
	}
	defer p.removeDir(ctx, dir)

	source := filepath.Join(dir, "source"+sourceExt(job.SourceRef))
	if err := p.download(ctx, job.SourceRef, source); err != nil {
		return p.escalate(ctx, job.ID, task.Name, fmt.Errorf("download source: %w", err))
	}

	chunkDir := filepath.Join(dir, "chunks")
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return p.escalate(ctx, job.ID, task.Name, fmt.Errorf("create chunk dir: %w", err))
	}
	chunks, err := p.media.Split(ctx, source, chunkDir, p.cfg.ChunkDuration(), p.cfg.MaxSourceDuration())
	if err != nil {
		return p.escalate(ctx, job.ID, task.Name, err)
	}
	if len(chunks) == 0 {
		return p.escalate(ctx, job.ID, task.Name, errors.New("source produced no clips"))
	}

	for idx, chunk := range chunks {
		if err := p.upload(ctx, objectstore.ChunkKey(job.ID, job.Generation, idx), chunk); err != nil {
			return p.escalate(ctx, job.ID, task.Name, fmt.Errorf("upload clip %d: %w", idx, err))
		}
	}

	if err := p.ledger.SetClipCount(ctx, job.ID, job.Generation, len(chunks)); err != nil {
		if errors.Is(err, ledger.ErrStaleGeneration) || errors.Is(err, ledger.ErrInvalidTransition) {
			logger.Info("split superseded", logging.String("reason", err.Error()))
			return ok()
		}
		return Result{Kind: KindRetry, Err: err}
	}

	for idx := range chunks {
		if _, err := p.queue.Enqueue(ctx, taskqueue.Task{
			Name:       taskqueue.TaskProcessClip,
			JobID:      job.ID,
			ClipIndex:  idx,
			Generation: job.Generation,
		}); err != nil {
			return Result{Kind: KindRetry, Err: fmt.Errorf("enqueue clip %d: %w", idx, err)}
		}
	}

	logger.Info("source split",
		logging.String(logging.FieldEventType, "split_complete"),
		logging.Int("clip_count", len(chunks)),
		logging.Int("generation", job.Generation),
	)
	return ok()
}

// sourceExt keeps the source's extension so ffmpeg's demuxer probing gets a
// hint; it defaults to .mp4.
func sourceExt(ref string) string {
	name := ref
	if parsed, err := url.Parse(ref); err == nil && parsed.Path != "" {
		name = parsed.Path
	}
	ext := strings.ToLower(path.Ext(name))
	if ext == "" || len(ext) > 5 || strings.ContainsAny(ext, `/\`) {
		return ".mp4"
	}
	return ext
}
