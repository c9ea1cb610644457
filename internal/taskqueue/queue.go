package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"reelswap/internal/database"
)

const taskColumns = "id, name, job_id, clip_idx, generation, state, attempts, max_attempts, available_at, lease_owner, lease_expires_at, last_error, created_at, updated_at"

// ErrLeaseLost is returned when a worker acknowledges or extends a task it no
// longer holds.
var ErrLeaseLost = errors.New("task lease lost")

// Options configures a Queue.
type Options struct {
	MaxAttempts int
	TTL         time.Duration
	Now         func() time.Time
}

// Queue persists tasks in SQLite.
type Queue struct {
	db          *database.DB
	maxAttempts int
	ttl         time.Duration
	now         func() time.Time
}

// New returns a Queue over db.
func New(db *database.DB, opts Options) *Queue {
	q := &Queue{db: db, maxAttempts: opts.MaxAttempts, ttl: opts.TTL, now: opts.Now}
	if q.maxAttempts <= 0 {
		q.maxAttempts = 3
	}
	if q.ttl <= 0 {
		q.ttl = 48 * time.Hour
	}
	if q.now == nil {
		q.now = time.Now
	}
	return q
}

// Enqueue adds a task and returns its id. A task is identified by name, job,
// generation and clip index; enqueueing an identity that already exists is a
// no-op that returns the existing id.
func (q *Queue) Enqueue(ctx context.Context, task Task) (int64, error) {
	if task.Name == "" || task.JobID == "" {
		return 0, errors.New("enqueue: task name and job id are required")
	}
	if task.Name != TaskProcessClip {
		task.ClipIndex = -1
	}
	maxAttempts := task.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.maxAttempts
	}
	var id int64
	err := q.db.WithTx(ctx, func(tx *sql.Tx) error {
		t := q.now()
		now := database.Millis(t)
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO tasks (name, job_id, clip_idx, generation, state, max_attempts, available_at, created_at, updated_at, expires_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			task.Name, task.JobID, task.ClipIndex, task.Generation, StatePending, maxAttempts,
			now, now, now, database.Millis(t.Add(q.ttl)),
		)
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", task.Name, err)
		}
		if affected, _ := res.RowsAffected(); affected == 1 {
			id, err = res.LastInsertId()
			return err
		}
		return tx.QueryRowContext(ctx,
			"SELECT id FROM tasks WHERE name = ? AND job_id = ? AND generation = ? AND clip_idx = ?",
			task.Name, task.JobID, task.Generation, task.ClipIndex,
		).Scan(&id)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Claim leases the oldest available pending task to owner. It returns nil
// when nothing is available.
func (q *Queue) Claim(ctx context.Context, owner string, lease time.Duration) (*Task, error) {
	t := q.now()
	now := database.Millis(t)
	var task *Task
	err := q.db.WithTx(ctx, func(tx *sql.Tx) error {
		claimed, err := scanTask(tx.QueryRowContext(ctx,
			`UPDATE tasks
             SET state = ?, attempts = attempts + 1, lease_owner = ?, lease_expires_at = ?, updated_at = ?
             WHERE id = (
                 SELECT id FROM tasks
                 WHERE state = ? AND available_at <= ?
                 ORDER BY available_at ASC, id ASC
                 LIMIT 1
             )
             RETURNING `+taskColumns,
			StateRunning, owner, database.Millis(t.Add(lease)), now,
			StatePending, now,
		))
		if errors.Is(err, sql.ErrNoRows) {
			task = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("claim task: %w", err)
		}
		task = claimed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Extend pushes the lease of a running task forward.
func (q *Queue) Extend(ctx context.Context, id int64, owner string, lease time.Duration) error {
	t := q.now()
	res, err := q.db.Exec(ctx,
		`UPDATE tasks SET lease_expires_at = ?, updated_at = ?
         WHERE id = ? AND state = ? AND lease_owner = ?`,
		database.Millis(t.Add(lease)), database.Millis(t), id, StateRunning, owner,
	)
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: task %d", ErrLeaseLost, id)
	}
	return nil
}

// Ack marks a task done.
func (q *Queue) Ack(ctx context.Context, id int64, owner string) error {
	t := q.now()
	res, err := q.db.Exec(ctx,
		`UPDATE tasks SET state = ?, lease_owner = NULL, lease_expires_at = NULL, updated_at = ?, expires_at = ?
         WHERE id = ? AND state = ? AND lease_owner = ?`,
		StateDone, database.Millis(t), database.Millis(t.Add(q.ttl)), id, StateRunning, owner,
	)
	if err != nil {
		return fmt.Errorf("ack task: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: task %d", ErrLeaseLost, id)
	}
	return nil
}

// Nack hands a task back after a failed delivery. While attempts remain the
// task becomes available again after base * 2^(attempts-1); otherwise it is
// dead-lettered and dead=true is returned.
func (q *Queue) Nack(ctx context.Context, id int64, owner string, cause error, base time.Duration) (dead bool, err error) {
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	err = q.db.WithTx(ctx, func(tx *sql.Tx) error {
		var attempts, maxAttempts int
		if err := tx.QueryRowContext(ctx,
			"SELECT attempts, max_attempts FROM tasks WHERE id = ? AND state = ? AND lease_owner = ?",
			id, StateRunning, owner,
		).Scan(&attempts, &maxAttempts); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: task %d", ErrLeaseLost, id)
			}
			return fmt.Errorf("read task attempts: %w", err)
		}
		t := q.now()
		next := StatePending
		dead = attempts >= maxAttempts
		if dead {
			next = StateDead
		}
		available := t.Add(Backoff(base, attempts))
		_, err := tx.ExecContext(ctx,
			`UPDATE tasks SET state = ?, last_error = ?, available_at = ?, lease_owner = NULL,
                 lease_expires_at = NULL, updated_at = ?, expires_at = ?
             WHERE id = ?`,
			next, message, database.Millis(available), database.Millis(t), database.Millis(t.Add(q.ttl)), id,
		)
		if err != nil {
			return fmt.Errorf("nack task: %w", err)
		}
		return nil
	})
	return dead, err
}

// Bury dead-letters a running task immediately, skipping remaining attempts.
func (q *Queue) Bury(ctx context.Context, id int64, owner string, cause error) error {
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	t := q.now()
	res, err := q.db.Exec(ctx,
		`UPDATE tasks SET state = ?, last_error = ?, lease_owner = NULL, lease_expires_at = NULL,
             updated_at = ?, expires_at = ?
         WHERE id = ? AND state = ? AND lease_owner = ?`,
		StateDead, message, database.Millis(t), database.Millis(t.Add(q.ttl)), id, StateRunning, owner,
	)
	if err != nil {
		return fmt.Errorf("bury task: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: task %d", ErrLeaseLost, id)
	}
	return nil
}

// ReclaimExpired returns running tasks whose lease lapsed to pending so
// another worker can pick them up. Tasks that already used their last
// attempt are dead-lettered instead and returned so the caller can run its
// dead-letter handling.
func (q *Queue) ReclaimExpired(ctx context.Context) (requeued int64, dead []*Task, err error) {
	err = q.db.WithTx(ctx, func(tx *sql.Tx) error {
		requeued, dead = 0, nil
		now := database.Millis(q.now())
		expires := database.Millis(q.now().Add(q.ttl))
		rows, err := tx.QueryContext(ctx,
			`UPDATE tasks SET state = ?, lease_owner = NULL, lease_expires_at = NULL,
                 last_error = 'lease expired', updated_at = ?, expires_at = ?
             WHERE state = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ? AND attempts >= max_attempts
             RETURNING `+taskColumns,
			StateDead, now, expires, StateRunning, now,
		)
		if err != nil {
			return fmt.Errorf("dead-letter expired leases: %w", err)
		}
		for rows.Next() {
			task, err := scanTask(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan dead task: %w", err)
			}
			dead = append(dead, task)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET state = ?, lease_owner = NULL, lease_expires_at = NULL,
                 last_error = 'lease expired', available_at = ?, updated_at = ?
             WHERE state = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?`,
			StatePending, now, now, StateRunning, now,
		)
		if err != nil {
			return fmt.Errorf("reclaim expired leases: %w", err)
		}
		requeued, err = res.RowsAffected()
		return err
	})
	return requeued, dead, err
}

// RetryDead moves a dead task back to pending with a fresh attempt budget.
func (q *Queue) RetryDead(ctx context.Context, id int64) error {
	t := q.now()
	res, err := q.db.Exec(ctx,
		`UPDATE tasks SET state = ?, attempts = 0, available_at = ?, updated_at = ?, expires_at = ?
         WHERE id = ? AND state = ?`,
		StatePending, database.Millis(t), database.Millis(t), database.Millis(t.Add(q.ttl)), id, StateDead,
	)
	if err != nil {
		return fmt.Errorf("retry dead task: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("no dead task with id %d", id)
	}
	return nil
}

// Purge deletes finished and dead tasks whose TTL has lapsed.
func (q *Queue) Purge(ctx context.Context) (int64, error) {
	res, err := q.db.Exec(ctx,
		"DELETE FROM tasks WHERE state IN (?, ?) AND expires_at <= ?",
		StateDone, StateDead, database.Millis(q.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	return res.RowsAffected()
}

// Get fetches a task by id.
func (q *Queue) Get(ctx context.Context, id int64) (*Task, error) {
	task, err := scanTask(q.db.Conn().QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// List returns tasks ordered by id, optionally filtered by job and state.
func (q *Queue) List(ctx context.Context, jobID string, states ...State) ([]*Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks WHERE 1=1"
	var args []any
	if jobID != "" {
		query += " AND job_id = ?"
		args = append(args, jobID)
	}
	if len(states) > 0 {
		query += " AND state IN (" + database.Placeholders(len(states)) + ")"
		for _, state := range states {
			args = append(args, state)
		}
	}
	query += " ORDER BY id ASC"

	rows, err := q.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Stats returns task counts per state.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	rows, err := q.db.Conn().QueryContext(ctx, "SELECT state, COUNT(*) FROM tasks GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()
	stats := make(Stats, len(allStates))
	for _, state := range allStates {
		stats[state] = 0
	}
	for rows.Next() {
		var (
			state string
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan task stats: %w", err)
		}
		stats[State(state)] = count
	}
	return stats, rows.Err()
}

// Backoff returns base * 2^(attempt-1), capped at one hour.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= time.Hour {
			return time.Hour
		}
	}
	return delay
}

func scanTask(row interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		task                       Task
		state                      string
		leaseOwner, lastErr        sql.NullString
		leaseExpires               sql.NullInt64
		available, created, update int64
	)
	if err := row.Scan(
		&task.ID,
		&task.Name,
		&task.JobID,
		&task.ClipIndex,
		&task.Generation,
		&state,
		&task.Attempts,
		&task.MaxAttempts,
		&available,
		&leaseOwner,
		&leaseExpires,
		&lastErr,
		&created,
		&update,
	); err != nil {
		return nil, err
	}
	task.State = State(state)
	task.AvailableAt = database.FromMillis(available)
	task.LeaseOwner = leaseOwner.String
	task.LeaseExpiresAt = database.NullMillis(leaseExpires)
	task.LastError = lastErr.String
	task.CreatedAt = database.FromMillis(created)
	task.UpdatedAt = database.FromMillis(update)
	return &task, nil
}
