package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"reelswap/internal/config"
	"reelswap/internal/ledger"
	"reelswap/internal/logging"
	"reelswap/internal/pipeline"
	"reelswap/internal/taskqueue"
)

// Handler runs tasks and reacts to dead-lettered ones.
type Handler interface {
	Handle(ctx context.Context, task *taskqueue.Task) pipeline.Result
	OnDead(ctx context.Context, task *taskqueue.Task, cause error)
}

// Options tunes a Worker.
type Options struct {
	ID            string
	MaxJobs       int
	PollInterval  time.Duration
	JobTimeout    time.Duration
	Lease         time.Duration
	RetryBackoff  time.Duration
	PurgeInterval time.Duration
}

// OptionsFromConfig maps the [worker] section onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxJobs:       cfg.Worker.MaxJobs,
		PollInterval:  cfg.PollInterval(),
		JobTimeout:    cfg.JobTimeout(),
		Lease:         cfg.LeaseDuration(),
		RetryBackoff:  cfg.RetryBackoff(),
		PurgeInterval: cfg.PurgeInterval(),
	}
}

func (o Options) withDefaults() Options {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.MaxJobs <= 0 {
		o.MaxJobs = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 10 * time.Minute
	}
	if o.Lease <= 0 {
		o.Lease = time.Minute
	}
	if o.PurgeInterval <= 0 {
		o.PurgeInterval = 5 * time.Minute
	}
	return o
}

// Worker consumes the task queue.
type Worker struct {
	queue   *taskqueue.Queue
	ledger  *ledger.Ledger
	handler Handler
	logger  *slog.Logger
	opts    Options

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// New builds a Worker. The ledger is only used by the sweeper and may be nil.
func New(queue *taskqueue.Queue, l *ledger.Ledger, handler Handler, logger *slog.Logger, opts Options) *Worker {
	opts = opts.withDefaults()
	return &Worker{
		queue:   queue,
		ledger:  l,
		handler: handler,
		logger:  logging.NewComponentLogger(logger, "worker").With(logging.String("worker_id", opts.ID)),
		opts:    opts,
	}
}

// ID returns the lease owner name used by this worker.
func (w *Worker) ID() string {
	return w.opts.ID
}

// Start runs the worker in the background until Stop or ctx ends.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if err := w.Run(runCtx); err != nil {
			w.setLastError(err)
		}
	}(w.done)
	return nil
}

// Stop stops claiming and waits for in-flight tasks to settle.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	<-done
}

// LastError reports the most recent loop-level failure.
func (w *Worker) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

func (w *Worker) setLastError(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
}

// Run claims and executes tasks until ctx ends, then drains in-flight work.
// Task contexts are detached from ctx so a shutdown does not cut a running
// task short; each one is still bounded by JobTimeout.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		logging.String(logging.FieldEventType, "worker_start"),
		logging.Int("max_jobs", w.opts.MaxJobs),
		logging.Duration("job_timeout", w.opts.JobTimeout),
	)

	var sweepWG sync.WaitGroup
	sweepWG.Add(1)
	go w.sweepLoop(ctx, &sweepWG)

	taskBase := context.WithoutCancel(ctx)
	slots := make(chan struct{}, w.opts.MaxJobs)
	var g errgroup.Group
	g.SetLimit(w.opts.MaxJobs)

	for ctx.Err() == nil {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			continue
		}
		task, err := w.queue.Claim(ctx, w.opts.ID, w.opts.Lease)
		if err != nil || task == nil {
			<-slots
			if err != nil && !errors.Is(err, context.Canceled) {
				w.setLastError(err)
				logging.ErrorWithContext(w.logger, "failed to claim task", "task_claim_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check database access"),
				)
			}
			w.wait(ctx, w.opts.PollInterval)
			continue
		}
		g.Go(func() error {
			defer func() { <-slots }()
			w.execute(taskBase, task)
			return nil
		})
	}

	w.logger.Info("worker draining", logging.String(logging.FieldEventType, "worker_drain"))
	err := g.Wait()
	sweepWG.Wait()
	w.logger.Info("worker stopped", logging.String(logging.FieldEventType, "worker_stop"))
	return err
}

func (w *Worker) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// execute runs one task under its timeout and lease heartbeat, then settles
// it on base so settlement survives the task deadline.
func (w *Worker) execute(base context.Context, task *taskqueue.Task) {
	ctx, cancel := context.WithTimeout(base, w.opts.JobTimeout)
	defer cancel()

	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go w.heartbeat(hbCtx, &hbWG, task)

	res := w.run(ctx, task)
	hbCancel()
	hbWG.Wait()

	w.settle(base, task, res)
}

func (w *Worker) run(ctx context.Context, task *taskqueue.Task) (res pipeline.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = pipeline.Result{Kind: pipeline.KindRetry, Err: fmt.Errorf("task panicked: %v", r)}
		}
	}()
	return w.handler.Handle(ctx, task)
}

func (w *Worker) settle(ctx context.Context, task *taskqueue.Task, res pipeline.Result) {
	logger := w.taskLogger(task)
	switch res.Kind {
	case pipeline.KindRetry:
	case pipeline.KindFatal:
		// The handler already failed the job; the task is kept as a dead
		// letter so `reelswap tasks --state dead` shows why.
		if err := w.queue.Bury(ctx, task.ID, w.opts.ID, res.Err); err != nil {
			logger.Warn("task bury failed", logging.Error(err))
		}
		return
	default:
		if err := w.queue.Ack(ctx, task.ID, w.opts.ID); err != nil {
			logger.Warn("task ack failed", logging.Error(err))
		}
		return
	}

	dead, err := w.queue.Nack(ctx, task.ID, w.opts.ID, res.Err, w.opts.RetryBackoff)
	if err != nil {
		logger.Warn("task nack failed", logging.Error(err))
		return
	}
	if !dead {
		logging.WarnWithContext(logger, "task will be retried", "task_retry",
			logging.Error(res.Err),
			logging.Int("attempt", task.Attempts),
			logging.Int("max_attempts", task.MaxAttempts),
			logging.String(logging.FieldImpact, "task redelivered after backoff"),
		)
		return
	}
	logging.ErrorWithContext(logger, "task dead-lettered", "task_dead",
		logging.Error(res.Err),
		logging.Int("attempts", task.Attempts),
		logging.String(logging.FieldErrorHint, "inspect with `reelswap tasks --state dead`"),
	)
	w.handler.OnDead(ctx, task, res.Err)
}

// heartbeat extends the task lease every third of the lease until ctx ends.
func (w *Worker) heartbeat(ctx context.Context, wg *sync.WaitGroup, task *taskqueue.Task) {
	defer wg.Done()
	ticker := time.NewTicker(w.opts.Lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.Extend(ctx, task.ID, w.opts.ID, w.opts.Lease); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				w.taskLogger(task).Warn("lease heartbeat failed", logging.Error(err))
				if errors.Is(err, taskqueue.ErrLeaseLost) {
					return
				}
			}
		}
	}
}

func (w *Worker) taskLogger(task *taskqueue.Task) *slog.Logger {
	return w.logger.With(
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldTask, task.Name),
		logging.String(logging.FieldJobID, task.JobID),
	)
}
