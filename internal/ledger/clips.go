package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"reelswap/internal/database"
)

const clipColumns = "job_id, idx, generation, has_replacement, clip_error, image_url, reference_kind, reference_label, source_url, counted, updated_at"

// RecordClipOutcome stores a clip's terminal outcome. The outcome is written
// at most once per generation; a second call for an already resolved clip
// returns recorded=false and leaves the first outcome in place.
func (l *Ledger) RecordClipOutcome(ctx context.Context, outcome ClipOutcome) (recorded bool, err error) {
	err = l.db.WithTx(ctx, func(tx *sql.Tx) error {
		now, expires := l.stamps()
		res, err := tx.ExecContext(ctx,
			`UPDATE clips
             SET has_replacement = ?, clip_error = ?, image_url = ?, reference_kind = ?,
                 reference_label = ?, source_url = ?, updated_at = ?, expires_at = ?
             WHERE job_id = ? AND idx = ? AND generation = ? AND has_replacement IS NULL`,
			boolToInt(outcome.HasReplacement),
			database.NullableString(outcome.Error),
			database.NullableString(outcome.ImageURL),
			database.NullableString(outcome.ReferenceKind),
			database.NullableString(outcome.ReferenceLabel),
			database.NullableString(outcome.SourceURL),
			now, expires,
			outcome.JobID, outcome.Index, outcome.Generation,
		)
		if err != nil {
			return fmt.Errorf("record clip outcome: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 1 {
			recorded = true
			return nil
		}
		clip, err := l.clip(ctx, tx, outcome.JobID, outcome.Index)
		if err != nil {
			return err
		}
		if clip.Generation != outcome.Generation {
			return staleClip(outcome.JobID, outcome.Index, clip.Generation, outcome.Generation)
		}
		return nil
	})
	return recorded, err
}

// CompleteClip is the fan-in step. Inside one transaction it marks the clip
// counted and increments done_count with a single UPDATE ... RETURNING, so
// exactly one caller per generation observes Done == Total. A clip that was
// already counted returns Counted=false without touching the counter.
func (l *Ledger) CompleteClip(ctx context.Context, jobID string, idx, generation int) (FanIn, error) {
	var result FanIn
	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		result = FanIn{}
		now, expires := l.stamps()
		res, err := tx.ExecContext(ctx,
			`UPDATE clips SET counted = 1, updated_at = ?, expires_at = ?
             WHERE job_id = ? AND idx = ? AND generation = ? AND counted = 0 AND has_replacement IS NOT NULL`,
			now, expires, jobID, idx, generation,
		)
		if err != nil {
			return fmt.Errorf("mark clip counted: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			clip, err := l.clip(ctx, tx, jobID, idx)
			if err != nil {
				return err
			}
			if clip.Generation != generation {
				return staleClip(jobID, idx, clip.Generation, generation)
			}
			if !clip.Resolved() {
				return fmt.Errorf("complete clip: job %s clip %d has no recorded outcome", jobID, idx)
			}
			job, err := l.currentJob(ctx, tx, jobID)
			if err != nil {
				return err
			}
			result.Done, result.Total = job.DoneCount, job.ClipCount
			return nil
		}

		err = tx.QueryRowContext(ctx,
			`UPDATE jobs SET done_count = done_count + 1, updated_at = ?, expires_at = ?
             WHERE id = ? AND generation = ? AND status = ?
             RETURNING done_count, clip_count`,
			now, expires, jobID, generation, StatusProcessing,
		).Scan(&result.Done, &result.Total)
		if errors.Is(err, sql.ErrNoRows) {
			job, lookupErr := l.currentJob(ctx, tx, jobID)
			if lookupErr != nil {
				return lookupErr
			}
			if job.Generation != generation {
				return fmt.Errorf("%w: job %s is at generation %d, not %d", ErrStaleGeneration, jobID, job.Generation, generation)
			}
			return invalidTransition(job, StatusProcessing)
		}
		if err != nil {
			return fmt.Errorf("increment done count: %w", err)
		}
		result.Counted = true
		result.Ready = result.Done == result.Total
		return nil
	})
	return result, err
}

// ClaimImage atomically adds imageURL to the job's used-image set for the
// given generation. It returns true when clip idx owns the image: either this
// call inserted it or an earlier delivery of the same clip did. Claims for a
// generation the job has moved past fail with ErrStaleGeneration.
func (l *Ledger) ClaimImage(ctx context.Context, jobID string, generation, idx int, imageURL string) (bool, error) {
	if imageURL == "" {
		return false, errors.New("claim image: image url is required")
	}
	var owned bool
	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		now, expires := l.stamps()
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO used_images (job_id, generation, image_url, clip_idx, claimed_at, expires_at)
             SELECT id, generation, ?, ?, ?, ? FROM jobs WHERE id = ? AND generation = ?`,
			imageURL, idx, now, expires, jobID, generation,
		)
		if err != nil {
			return fmt.Errorf("claim image: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 1 {
			owned = true
			return nil
		}
		var current int
		err = tx.QueryRowContext(ctx, "SELECT generation FROM jobs WHERE id = ?", jobID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("read job generation: %w", err)
		}
		if current != generation {
			return fmt.Errorf("%w: job %s is at generation %d, not %d", ErrStaleGeneration, jobID, current, generation)
		}
		var owner int
		if err := tx.QueryRowContext(ctx,
			"SELECT clip_idx FROM used_images WHERE job_id = ? AND generation = ? AND image_url = ?",
			jobID, generation, imageURL,
		).Scan(&owner); err != nil {
			return fmt.Errorf("read image owner: %w", err)
		}
		owned = owner == idx
		return nil
	})
	return owned, err
}

// UsedImages lists the image URLs claimed in the job's current generation.
func (l *Ledger) UsedImages(ctx context.Context, jobID string) (map[string]int, error) {
	rows, err := l.db.Conn().QueryContext(ctx,
		`SELECT u.image_url, u.clip_idx FROM used_images u
         JOIN jobs j ON j.id = u.job_id AND j.generation = u.generation
         WHERE u.job_id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list used images: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var (
			url string
			idx int
		)
		if err := rows.Scan(&url, &idx); err != nil {
			return nil, fmt.Errorf("scan used image: %w", err)
		}
		out[url] = idx
	}
	return out, rows.Err()
}

// Clips returns the job's clips in ascending index order.
func (l *Ledger) Clips(ctx context.Context, jobID string) ([]Clip, error) {
	rows, err := l.db.Conn().QueryContext(ctx,
		"SELECT "+clipColumns+" FROM clips WHERE job_id = ? ORDER BY idx ASC", jobID)
	if err != nil {
		return nil, fmt.Errorf("list clips: %w", err)
	}
	defer rows.Close()
	var clips []Clip
	for rows.Next() {
		clip, err := scanClip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan clip: %w", err)
		}
		clips = append(clips, *clip)
	}
	return clips, rows.Err()
}

// Clip returns clip idx of the job's current generation.
func (l *Ledger) Clip(ctx context.Context, jobID string, idx int) (*Clip, error) {
	return l.clip(ctx, l.db.Conn(), jobID, idx)
}

func (l *Ledger) clip(ctx context.Context, q queryer, jobID string, idx int) (*Clip, error) {
	clip, err := scanClip(q.QueryRowContext(ctx,
		"SELECT "+clipColumns+" FROM clips WHERE job_id = ? AND idx = ?", jobID, idx))
	if errors.Is(err, sql.ErrNoRows) {
		if _, jobErr := l.currentJob(ctx, q, jobID); jobErr != nil {
			return nil, jobErr
		}
		return nil, fmt.Errorf("%w: job %s has no clip %d", ErrStaleGeneration, jobID, idx)
	}
	if err != nil {
		return nil, fmt.Errorf("read clip: %w", err)
	}
	return clip, nil
}

func staleClip(jobID string, idx, current, got int) error {
	return fmt.Errorf("%w: job %s clip %d is at generation %d, not %d", ErrStaleGeneration, jobID, idx, current, got)
}

func scanClip(row scanner) (*Clip, error) {
	var (
		clip                                   Clip
		hasReplacement                         sql.NullInt64
		clipErr, imageURL, kind, label, source sql.NullString
		counted                                int
		updated                                int64
	)
	if err := row.Scan(
		&clip.JobID,
		&clip.Index,
		&clip.Generation,
		&hasReplacement,
		&clipErr,
		&imageURL,
		&kind,
		&label,
		&source,
		&counted,
		&updated,
	); err != nil {
		return nil, err
	}
	if hasReplacement.Valid {
		value := hasReplacement.Int64 != 0
		clip.HasReplacement = &value
	}
	clip.Error = clipErr.String
	clip.ImageURL = imageURL.String
	clip.ReferenceKind = kind.String
	clip.ReferenceLabel = label.String
	clip.SourceURL = source.String
	clip.Counted = counted != 0
	clip.UpdatedAt = database.FromMillis(updated)
	return &clip, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
