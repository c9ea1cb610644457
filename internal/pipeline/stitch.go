package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"reelswap/internal/ledger"
	"reelswap/internal/logging"
	"reelswap/internal/notifications"
	"reelswap/internal/objectstore"
	"reelswap/internal/services"
	"reelswap/internal/taskqueue"
)

// stitch concatenates every clip, replacement first, in ascending index order
// and records the final artifact.
func (p *Pipeline) stitch(ctx context.Context, task *taskqueue.Task) Result {
	logger := logging.WithContext(ctx, p.logger)

	job, proceed, err := p.ledger.BeginStitch(ctx, task.JobID)
	switch {
	case errors.Is(err, ledger.ErrJobNotFound):
		return Result{Kind: KindFatal, Err: err}
	case errors.Is(err, ledger.ErrInvalidTransition):
		logger.Info("stitch skipped", logging.String("reason", err.Error()))
		return ok()
	case err != nil:
		return Result{Kind: KindRetry, Err: err}
	}
	if !proceed {
		logger.Info("job already finished", logging.String("final_ref", job.FinalRef))
		return ok()
	}

	clips, err := p.ledger.Clips(ctx, job.ID)
	if err != nil {
		return Result{Kind: KindRetry, Err: err}
	}
	if err := checkClips(job, clips); err != nil {
		return p.escalate(ctx, job.ID, task.Name, err)
	}

	dir, err := p.workDir(task)
	if err != nil {
		return p.escalate(ctx, job.ID, task.Name, err)
	}
	defer p.removeDir(ctx, dir)

	inputs := make([]string, 0, len(clips))
	replaced := 0
	for _, clip := range clips {
		local := filepath.Join(dir, fmt.Sprintf("%05d.mp4", clip.Index))
		if err := p.fetchClip(ctx, job.ID, clip, local); err != nil {
			return p.escalate(ctx, job.ID, task.Name, err)
		}
		if clip.UsesReplacement() {
			replaced++
		}
		inputs = append(inputs, local)
	}

	output := filepath.Join(dir, "final.mp4")
	if err := p.media.Concat(ctx, inputs, output); err != nil {
		return p.escalate(ctx, job.ID, task.Name, err)
	}
	key := objectstore.FinalKey(job.ID)
	if err := p.upload(ctx, key, output); err != nil {
		return p.escalate(ctx, job.ID, task.Name, fmt.Errorf("upload final: %w", err))
	}

	finished, err := p.ledger.Finish(ctx, job.ID, key)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidTransition) {
			logger.Info("finish skipped", logging.String("reason", err.Error()))
			return ok()
		}
		return Result{Kind: KindRetry, Err: err}
	}

	finalURL := p.store.PublicURL(finished.FinalRef)
	logger.Info("job finished",
		logging.String(logging.FieldEventType, "job_finished"),
		logging.Int("clip_count", len(clips)),
		logging.Int("replaced", replaced),
		logging.String("final_url", finalURL),
	)
	if err := p.notifier.Publish(ctx, notifications.EventJobFinished, notifications.Payload{
		"job_id":    job.ID,
		"final_url": finalURL,
		"clips":     len(clips),
		"replaced":  replaced,
	}); err != nil {
		logger.Warn("job finished notification not sent", logging.Error(err))
	}
	return ok()
}

// checkClips verifies that every index in [0, clip_count) has a recorded
// outcome in the job's generation.
func checkClips(job *ledger.Job, clips []ledger.Clip) error {
	if len(clips) != job.ClipCount {
		return fmt.Errorf("job has %d clip rows, expected %d", len(clips), job.ClipCount)
	}
	for i, clip := range clips {
		if clip.Index != i {
			return fmt.Errorf("clip index %d missing", i)
		}
		if clip.Generation != job.Generation {
			return fmt.Errorf("clip %d is from generation %d, job is at %d", i, clip.Generation, job.Generation)
		}
		if !clip.Resolved() {
			return fmt.Errorf("clip %d has no recorded outcome", i)
		}
	}
	return nil
}

// fetchClip downloads the replacement when the clip has one, falling back to
// the original if the replacement object is gone.
func (p *Pipeline) fetchClip(ctx context.Context, jobID string, clip ledger.Clip, local string) error {
	if clip.UsesReplacement() {
		err := p.download(ctx, objectstore.ReplacementKey(jobID, clip.Generation, clip.Index), local)
		if err == nil {
			return nil
		}
		if !errors.Is(err, services.ErrNotFound) {
			return fmt.Errorf("download replacement %d: %w", clip.Index, err)
		}
		logging.WarnWithContext(logging.WithContext(ctx, p.logger), "replacement missing; using original", "replacement_missing",
			logging.Int(logging.FieldClipIndex, clip.Index),
			logging.String(logging.FieldImpact, "clip keeps its original footage"),
		)
	}
	if err := p.download(ctx, objectstore.ChunkKey(jobID, clip.Generation, clip.Index), local); err != nil {
		return fmt.Errorf("download clip %d: %w", clip.Index, err)
	}
	return nil
}
