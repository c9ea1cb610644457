package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"reelswap/internal/logging"
)

// SweepResult counts what one sweep changed.
type SweepResult struct {
	Requeued     int64
	DeadLettered int
	PurgedTasks  int64
	PurgedJobs   int64
}

// Reclaim returns lapsed leases to the queue and runs dead-letter handling
// for tasks that had no attempts left.
func (w *Worker) Reclaim(ctx context.Context) (requeued int64, deadLettered int, err error) {
	requeued, dead, err := w.queue.ReclaimExpired(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, task := range dead {
		logging.ErrorWithContext(w.taskLogger(task), "task lease expired with no attempts left", "task_dead",
			logging.Int("attempts", task.Attempts),
		)
		w.handler.OnDead(ctx, task, errors.New(task.LastError))
	}
	return requeued, len(dead), nil
}

// Sweep reclaims leases and purges expired ledger and queue rows.
func (w *Worker) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	var err error
	if res.Requeued, res.DeadLettered, err = w.Reclaim(ctx); err != nil {
		return res, err
	}
	if res.PurgedTasks, err = w.queue.Purge(ctx); err != nil {
		return res, err
	}
	if w.ledger != nil {
		if res.PurgedJobs, err = w.ledger.PurgeExpired(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}

// sweepLoop reclaims leases at lease cadence and purges at PurgeInterval.
func (w *Worker) sweepLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	w.sweepOnce(ctx)

	reclaim := time.NewTicker(w.opts.Lease)
	defer reclaim.Stop()
	purge := time.NewTicker(w.opts.PurgeInterval)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reclaim.C:
			requeued, dead, err := w.Reclaim(ctx)
			if err != nil {
				w.logSweepError(ctx, err)
				continue
			}
			if requeued > 0 || dead > 0 {
				w.logger.Info("reclaimed expired leases",
					logging.Int64("requeued", requeued),
					logging.Int("dead_lettered", dead),
				)
			}
		case <-purge.C:
			w.sweepOnce(ctx)
		}
	}
}

func (w *Worker) sweepOnce(ctx context.Context) {
	res, err := w.Sweep(ctx)
	if err != nil {
		w.logSweepError(ctx, err)
		return
	}
	if res != (SweepResult{}) {
		w.logger.Info("sweep complete",
			logging.String(logging.FieldEventType, "sweep_complete"),
			logging.Int64("requeued", res.Requeued),
			logging.Int("dead_lettered", res.DeadLettered),
			logging.Int64("purged_tasks", res.PurgedTasks),
			logging.Int64("purged_jobs", res.PurgedJobs),
		)
	}
}

func (w *Worker) logSweepError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	logging.WarnWithContext(w.logger, "sweep failed", "sweep_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check database access"),
		logging.String(logging.FieldImpact, "expired leases and rows linger until the next sweep"),
	)
}
