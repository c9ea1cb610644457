package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (l *Ledger) currentJob(ctx context.Context, q queryer, id string) (*Job, error) {
	now, _ := l.stamps()
	job, err := scanJob(q.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE id = ? AND expires_at > ?", id, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return job, err
}

func invalidTransition(job *Job, to Status) error {
	return fmt.Errorf("%w: job %s is %s, cannot move to %s", ErrInvalidTransition, job.ID, job.Status, to)
}

// BeginSplit moves a queued (or re-delivered processing) job to processing and
// starts a new split generation: clip_count and done_count return to zero and
// clip rows and used images from earlier generations are dropped, all in one
// transaction.
func (l *Ledger) BeginSplit(ctx context.Context, id string) (*Job, error) {
	var job *Job
	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		now, expires := l.stamps()
		updated, err := scanJob(tx.QueryRowContext(ctx,
			`UPDATE jobs
             SET status = ?, generation = generation + 1, clip_count = 0, done_count = 0,
                 error_message = NULL, updated_at = ?, expires_at = ?
             WHERE id = ? AND expires_at > ? AND status IN (?, ?)
             RETURNING `+jobColumns,
			StatusProcessing, now, expires, id, now, StatusQueued, StatusProcessing,
		))
		if errors.Is(err, sql.ErrNoRows) {
			current, lookupErr := l.currentJob(ctx, tx, id)
			if lookupErr != nil {
				return lookupErr
			}
			return invalidTransition(current, StatusProcessing)
		}
		if err != nil {
			return fmt.Errorf("begin split: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM clips WHERE job_id = ?", id); err != nil {
			return fmt.Errorf("reset clips: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM used_images WHERE job_id = ? AND generation < ?", id, updated.Generation); err != nil {
			return fmt.Errorf("reset used images: %w", err)
		}
		job = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// SetClipCount fixes the number of clips for the job's current generation and
// creates one unresolved clip row per index.
func (l *Ledger) SetClipCount(ctx context.Context, id string, generation, count int) error {
	if count <= 0 {
		return fmt.Errorf("set clip count: count must be positive, got %d", count)
	}
	return l.db.WithTx(ctx, func(tx *sql.Tx) error {
		now, expires := l.stamps()
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET clip_count = ?, updated_at = ?, expires_at = ?
             WHERE id = ? AND generation = ? AND status = ? AND clip_count = 0`,
			count, now, expires, id, generation, StatusProcessing,
		)
		if err != nil {
			return fmt.Errorf("set clip count: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			current, lookupErr := l.currentJob(ctx, tx, id)
			if lookupErr != nil {
				return lookupErr
			}
			if current.Generation != generation {
				return fmt.Errorf("%w: job %s is at generation %d, not %d", ErrStaleGeneration, id, current.Generation, generation)
			}
			if current.Status != StatusProcessing {
				return invalidTransition(current, StatusProcessing)
			}
			return fmt.Errorf("set clip count: job %s already has %d clips", id, current.ClipCount)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO clips (job_id, idx, generation, updated_at, expires_at) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare clip insert: %w", err)
		}
		defer stmt.Close()
		for idx := 0; idx < count; idx++ {
			if _, err := stmt.ExecContext(ctx, id, idx, generation, now, expires); err != nil {
				return fmt.Errorf("insert clip %d: %w", idx, err)
			}
		}
		return nil
	})
}

// BeginStitch moves a fully processed job to stitching. It returns proceed=false
// when the job already finished, and proceed=true when the job is already
// stitching so a redelivered stitch task can resume.
func (l *Ledger) BeginStitch(ctx context.Context, id string) (job *Job, proceed bool, err error) {
	err = l.db.WithTx(ctx, func(tx *sql.Tx) error {
		now, expires := l.stamps()
		updated, scanErr := scanJob(tx.QueryRowContext(ctx,
			`UPDATE jobs SET status = ?, updated_at = ?, expires_at = ?
             WHERE id = ? AND expires_at > ? AND status = ? AND clip_count > 0 AND done_count = clip_count
             RETURNING `+jobColumns,
			StatusStitching, now, expires, id, now, StatusProcessing,
		))
		if scanErr == nil {
			job, proceed = updated, true
			return nil
		}
		if !errors.Is(scanErr, sql.ErrNoRows) {
			return fmt.Errorf("begin stitch: %w", scanErr)
		}
		current, lookupErr := l.currentJob(ctx, tx, id)
		if lookupErr != nil {
			return lookupErr
		}
		switch current.Status {
		case StatusStitching:
			job, proceed = current, true
			return nil
		case StatusFinished:
			job, proceed = current, false
			return nil
		default:
			if current.Status == StatusProcessing {
				return fmt.Errorf("%w: job %s has %d of %d clips done", ErrInvalidTransition, id, current.DoneCount, current.ClipCount)
			}
			return invalidTransition(current, StatusStitching)
		}
	})
	return job, proceed, err
}

// Finish records the final artifact and marks the job finished.
func (l *Ledger) Finish(ctx context.Context, id, finalRef string) (*Job, error) {
	if finalRef == "" {
		return nil, errors.New("finish job: final ref is required")
	}
	var job *Job
	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		now, expires := l.stamps()
		updated, err := scanJob(tx.QueryRowContext(ctx,
			`UPDATE jobs SET status = ?, final_ref = ?, error_message = NULL, updated_at = ?, expires_at = ?
             WHERE id = ? AND expires_at > ? AND status = ?
             RETURNING `+jobColumns,
			StatusFinished, finalRef, now, expires, id, now, StatusStitching,
		))
		if err == nil {
			job = updated
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("finish job: %w", err)
		}
		current, lookupErr := l.currentJob(ctx, tx, id)
		if lookupErr != nil {
			return lookupErr
		}
		if current.Status == StatusFinished && current.FinalRef == finalRef {
			job = current
			return nil
		}
		return invalidTransition(current, StatusFinished)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Fail marks a non-terminal job failed with a diagnostic message. Failing an
// already failed job is a no-op that returns the job unchanged.
func (l *Ledger) Fail(ctx context.Context, id, message string) (*Job, error) {
	if message == "" {
		message = "unknown error"
	}
	var job *Job
	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		now, expires := l.stamps()
		updated, err := scanJob(tx.QueryRowContext(ctx,
			`UPDATE jobs SET status = ?, error_message = ?, updated_at = ?, expires_at = ?
             WHERE id = ? AND expires_at > ? AND status IN (?, ?, ?)
             RETURNING `+jobColumns,
			StatusFailed, message, now, expires, id, now, StatusQueued, StatusProcessing, StatusStitching,
		))
		if err == nil {
			job = updated
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("fail job: %w", err)
		}
		current, lookupErr := l.currentJob(ctx, tx, id)
		if lookupErr != nil {
			return lookupErr
		}
		if current.Status == StatusFailed {
			job = current
			return nil
		}
		return invalidTransition(current, StatusFailed)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}
