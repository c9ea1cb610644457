package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"reelswap/internal/database"
)

const jobColumns = "id, source_ref, status, generation, clip_count, done_count, error_message, final_ref, created_at, updated_at, expires_at"

// Ledger reads and writes job state.
type Ledger struct {
	db  *database.DB
	ttl time.Duration
	now func() time.Time
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New returns a Ledger over db whose rows expire ttl after their last write.
func New(db *database.DB, ttl time.Duration, opts ...Option) *Ledger {
	l := &Ledger{db: db, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) stamps() (now int64, expires int64) {
	t := l.now()
	return database.Millis(t), database.Millis(t.Add(l.ttl))
}

// CreateJob records a new queued job for sourceRef.
func (l *Ledger) CreateJob(ctx context.Context, sourceRef string) (*Job, error) {
	if sourceRef == "" {
		return nil, errors.New("create job: source ref is required")
	}
	id := uuid.NewString()
	now, expires := l.stamps()
	if _, err := l.db.Exec(ctx,
		`INSERT INTO jobs (id, source_ref, status, created_at, updated_at, expires_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		id, sourceRef, StatusQueued, now, now, expires,
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return l.GetJob(ctx, id)
}

// GetJob fetches a job by id. Unknown and expired jobs return ErrJobNotFound.
func (l *Ledger) GetJob(ctx context.Context, id string) (*Job, error) {
	now, _ := l.stamps()
	row := l.db.Conn().QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE id = ? AND expires_at > ?", id, now)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns live jobs, newest first, optionally filtered by status.
func (l *Ledger) ListJobs(ctx context.Context, statuses ...Status) ([]*Job, error) {
	now, _ := l.stamps()
	query := "SELECT " + jobColumns + " FROM jobs WHERE expires_at > ?"
	args := []any{now}
	if len(statuses) > 0 {
		query += " AND status IN (" + database.Placeholders(len(statuses)) + ")"
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := l.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats returns live job counts per status.
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	now, _ := l.stamps()
	rows, err := l.db.Conn().QueryContext(ctx,
		"SELECT status, COUNT(*) FROM jobs WHERE expires_at > ? GROUP BY status", now)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(Stats, len(allStatuses))
	for _, status := range allStatuses {
		stats[status] = 0
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

// PurgeExpired deletes jobs whose TTL has lapsed together with their clips and
// used images.
func (l *Ledger) PurgeExpired(ctx context.Context) (int64, error) {
	now, _ := l.stamps()
	res, err := l.db.Exec(ctx, "DELETE FROM jobs WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("purge expired jobs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job                       Job
		status                    string
		errMsg, finalRef          sql.NullString
		created, updated, expires int64
	)
	if err := row.Scan(
		&job.ID,
		&job.SourceRef,
		&status,
		&job.Generation,
		&job.ClipCount,
		&job.DoneCount,
		&errMsg,
		&finalRef,
		&created,
		&updated,
		&expires,
	); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	job.Error = errMsg.String
	job.FinalRef = finalRef.String
	job.CreatedAt = database.FromMillis(created)
	job.UpdatedAt = database.FromMillis(updated)
	job.ExpiresAt = database.FromMillis(expires)
	return &job, nil
}
