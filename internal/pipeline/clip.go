package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"reelswap/internal/ledger"
	"reelswap/internal/logging"
	"reelswap/internal/objectstore"
	"reelswap/internal/retry"
	"reelswap/internal/services"
	"reelswap/internal/taskqueue"
)

// processClip resolves one clip to either its original footage or a still
// image replacement, records that outcome once, then runs fan-in.
func (p *Pipeline) processClip(ctx context.Context, task *taskqueue.Task) (res Result) {
	logger := logging.WithContext(ctx, p.logger)

	job, err := p.ledger.GetJob(ctx, task.JobID)
	switch {
	case errors.Is(err, ledger.ErrJobNotFound):
		return Result{Kind: KindFatal, Err: err}
	case err != nil:
		return Result{Kind: KindRetry, Err: err}
	}
	if job.Generation != task.Generation || job.Status != ledger.StatusProcessing {
		logger.Info("clip task dropped",
			logging.String("job_status", string(job.Status)),
			logging.Int("job_generation", job.Generation),
			logging.Int("task_generation", task.Generation),
		)
		return ok()
	}

	clip, err := p.ledger.Clip(ctx, job.ID, task.ClipIndex)
	switch {
	case errors.Is(err, ledger.ErrStaleGeneration):
		logger.Info("clip task dropped", logging.String("reason", err.Error()))
		return ok()
	case err != nil:
		return Result{Kind: KindRetry, Err: err}
	}
	if clip.Generation != task.Generation {
		return ok()
	}
	if clip.Resolved() {
		// Redelivery after the outcome was written: only fan-in is left.
		return p.settleClip(ctx, task, ledger.ClipOutcome{})
	}

	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(logger, "clip handler panicked", "clip_crashed",
				logging.String("panic", fmt.Sprint(r)),
			)
			res = p.settleClip(ctx, task, ledger.ClipOutcome{
				JobID:      job.ID,
				Index:      task.ClipIndex,
				Generation: job.Generation,
				Error:      ledger.ClipErrCrashed,
			})
		}
	}()

	outcome, err := p.resolveClip(ctx, task, job)
	if errors.Is(err, ledger.ErrStaleGeneration) || errors.Is(err, ledger.ErrJobNotFound) {
		logger.Info("clip task dropped", logging.String("reason", err.Error()))
		return ok()
	}
	if err != nil {
		if requeueable(err) {
			return Result{Kind: KindRetry, Err: err}
		}
		outcome.Error = ledger.ClipErrTranscription
		logging.WarnWithContext(logger, "clip unreadable; keeping original", "clip_unreadable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "clip keeps its original footage"),
		)
	}
	return p.settleClip(ctx, task, outcome)
}

// resolveClip produces the clip's outcome. Only failures to read the clip
// itself are returned as errors; every later failure degrades the outcome.
func (p *Pipeline) resolveClip(ctx context.Context, task *taskqueue.Task, job *ledger.Job) (ledger.ClipOutcome, error) {
	logger := logging.WithContext(ctx, p.logger)
	idx := task.ClipIndex
	outcome := ledger.ClipOutcome{JobID: job.ID, Index: idx, Generation: job.Generation}

	dir, err := p.workDir(task)
	if err != nil {
		return outcome, err
	}
	defer p.removeDir(ctx, dir)

	chunk := filepath.Join(dir, "clip.mp4")
	if err := p.download(ctx, objectstore.ChunkKey(job.ID, job.Generation, idx), chunk); err != nil {
		return outcome, fmt.Errorf("download clip: %w", err)
	}

	degrade := func(code, msg string, err error) (ledger.ClipOutcome, error) {
		outcome.Error = code
		outcome.HasReplacement = false
		logging.WarnWithContext(logger, msg, code,
			logging.Error(err),
			logging.String(logging.FieldImpact, "clip keeps its original footage"),
		)
		return outcome, nil
	}

	audio := filepath.Join(dir, "audio.mp3")
	if err := p.media.ExtractAudio(ctx, chunk, audio); err != nil {
		return degrade(ledger.ClipErrTranscription, "audio extraction failed", err)
	}
	var transcript string
	err = retry.Do(ctx, p.budget(p.cfg.Retry.TranscriptionAttempts), func(ctx context.Context) error {
		text, err := p.transcriber.Transcribe(ctx, audio)
		transcript = text
		return err
	}, p.retryOpts...)
	if err != nil {
		return degrade(ledger.ClipErrTranscription, "transcription failed", err)
	}
	if strings.TrimSpace(transcript) == "" {
		logger.Debug("empty transcript")
		return outcome, nil
	}

	ref, err := p.lookup.First(ctx, transcript)
	if err != nil {
		return degrade(ledger.ClipErrLookup, "reference lookup failed", err)
	}
	if ref == nil || !ref.HasImage() {
		logger.Debug("no reference with an image")
		return outcome, nil
	}
	outcome.ImageURL = ref.ImageURL
	outcome.ReferenceKind = string(ref.Kind)
	outcome.ReferenceLabel = firstNonEmpty(ref.Title, ref.Description)
	outcome.SourceURL = ref.SourceURL

	owned, err := p.ledger.ClaimImage(ctx, job.ID, job.Generation, idx, ref.ImageURL)
	switch {
	case errors.Is(err, ledger.ErrStaleGeneration), errors.Is(err, ledger.ErrJobNotFound):
		return outcome, err
	case err != nil:
		return outcome, services.Wrap(services.ErrTransient, "pipeline", "claim image", "", err)
	}
	if !owned {
		outcome.Error = ledger.ClipErrImageUsed
		logger.Info("reference image already used by another clip",
			logging.String(logging.FieldEventType, "image_already_used"),
			logging.String("image_url", ref.ImageURL),
		)
		return outcome, nil
	}

	image := filepath.Join(dir, "image")
	if err := p.download(ctx, ref.ImageURL, image); err != nil {
		return degrade(ledger.ClipErrReplacement, "reference image download failed", err)
	}
	replacement := filepath.Join(dir, "replacement.mp4")
	if err := p.media.ComposeStill(ctx, image, audio, replacement); err != nil {
		return degrade(ledger.ClipErrReplacement, "replacement compose failed", err)
	}
	if err := p.upload(ctx, objectstore.ReplacementKey(job.ID, job.Generation, idx), replacement); err != nil {
		return degrade(ledger.ClipErrReplacement, "replacement upload failed", err)
	}

	outcome.HasReplacement = true
	logger.Info("clip replaced",
		logging.String(logging.FieldEventType, "clip_replaced"),
		logging.String("reference_kind", outcome.ReferenceKind),
		logging.String("reference", outcome.ReferenceLabel),
	)
	return outcome, nil
}

// settleClip records outcome (when it carries a job id) and performs the
// fan-in step. Whichever delivery observes done == total enqueues stitch;
// the enqueue is idempotent, so a redelivery that finds the counter already
// complete re-enqueues safely in case the first attempt died before it.
func (p *Pipeline) settleClip(ctx context.Context, task *taskqueue.Task, outcome ledger.ClipOutcome) Result {
	logger := logging.WithContext(ctx, p.logger)

	if outcome.JobID != "" {
		if _, err := p.ledger.RecordClipOutcome(ctx, outcome); err != nil {
			if errors.Is(err, ledger.ErrStaleGeneration) || errors.Is(err, ledger.ErrJobNotFound) {
				logger.Info("clip outcome dropped", logging.String("reason", err.Error()))
				return ok()
			}
			return Result{Kind: KindRetry, Err: err}
		}
	}

	fan, err := p.ledger.CompleteClip(ctx, task.JobID, task.ClipIndex, task.Generation)
	if err != nil {
		if errors.Is(err, ledger.ErrStaleGeneration) || errors.Is(err, ledger.ErrInvalidTransition) || errors.Is(err, ledger.ErrJobNotFound) {
			logger.Info("clip fan-in dropped", logging.String("reason", err.Error()))
			return ok()
		}
		return Result{Kind: KindRetry, Err: err}
	}
	logger.Debug("clip counted",
		logging.Int("done", fan.Done),
		logging.Int("total", fan.Total),
		logging.Bool("counted", fan.Counted),
	)

	if fan.Ready || (!fan.Counted && fan.Total > 0 && fan.Done == fan.Total) {
		if _, err := p.queue.Enqueue(ctx, taskqueue.Task{
			Name:       taskqueue.TaskStitch,
			JobID:      task.JobID,
			Generation: task.Generation,
		}); err != nil {
			return Result{Kind: KindRetry, Err: fmt.Errorf("enqueue stitch: %w", err)}
		}
		logger.Info("all clips done; stitch enqueued",
			logging.String(logging.FieldEventType, "stitch_enqueued"),
			logging.Int("clip_count", fan.Total),
		)
	}

	if outcome.Error != "" {
		return Result{Kind: KindDegraded, Err: errors.New(outcome.Error)}
	}
	return ok()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
