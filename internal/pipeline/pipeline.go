package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"reelswap/internal/config"
	"reelswap/internal/ledger"
	"reelswap/internal/logging"
	"reelswap/internal/notifications"
	"reelswap/internal/objectstore"
	"reelswap/internal/reference"
	"reelswap/internal/retry"
	"reelswap/internal/services"
	"reelswap/internal/taskqueue"
)

// Kind tells the worker how to settle a task.
type Kind int

const (
	// KindOK means the task did its work, or found nothing left to do.
	KindOK Kind = iota
	// KindDegraded means a clip fell back to its original footage.
	KindDegraded
	// KindFatal means the job was marked failed; the task must not be retried.
	KindFatal
	// KindRetry means the task should be redelivered after a backoff.
	KindRetry
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindDegraded:
		return "degraded"
	case KindFatal:
		return "fatal"
	case KindRetry:
		return "retry"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the outcome of one handler invocation.
type Result struct {
	Kind Kind
	Err  error
}

func ok() Result { return Result{Kind: KindOK} }

// Enqueuer is the part of the task queue the handlers write to.
type Enqueuer interface {
	Enqueue(ctx context.Context, task taskqueue.Task) (int64, error)
}

// Media is the set of local-file transforms the handlers need.
type Media interface {
	Split(ctx context.Context, src, dir string, chunk, limit time.Duration) ([]string, error)
	ExtractAudio(ctx context.Context, src, dst string) error
	ComposeStill(ctx context.Context, image, audio, dst string) error
	Concat(ctx context.Context, inputs []string, dst string) error
}

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Lookup returns the first reference in a transcript that carries an image,
// or nil when there is none.
type Lookup interface {
	First(ctx context.Context, transcript string) (*reference.Reference, error)
}

// Deps are the collaborators injected by the worker process.
type Deps struct {
	Config      *config.Config
	Ledger      *ledger.Ledger
	Queue       Enqueuer
	Store       objectstore.Store
	Media       Media
	Transcriber Transcriber
	Lookup      Lookup
	Notifier    notifications.Service
	Logger      *slog.Logger
	HTTPClient  *http.Client

	// RetryOptions are applied to every per-call retry budget.
	RetryOptions []retry.Option
}

// Pipeline dispatches tasks to the stage handlers.
type Pipeline struct {
	cfg         *config.Config
	ledger      *ledger.Ledger
	queue       Enqueuer
	store       objectstore.Store
	media       Media
	transcriber Transcriber
	lookup      Lookup
	notifier    notifications.Service
	logger      *slog.Logger
	http        *http.Client
	retryOpts   []retry.Option
}

// New validates deps and builds a Pipeline.
func New(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Config == nil:
		return nil, errors.New("pipeline: config is required")
	case deps.Ledger == nil:
		return nil, errors.New("pipeline: ledger is required")
	case deps.Queue == nil:
		return nil, errors.New("pipeline: queue is required")
	case deps.Store == nil:
		return nil, errors.New("pipeline: object store is required")
	case deps.Media == nil:
		return nil, errors.New("pipeline: media toolkit is required")
	case deps.Transcriber == nil:
		return nil, errors.New("pipeline: transcriber is required")
	case deps.Lookup == nil:
		return nil, errors.New("pipeline: reference lookup is required")
	}
	p := &Pipeline{
		cfg:         deps.Config,
		ledger:      deps.Ledger,
		queue:       deps.Queue,
		store:       deps.Store,
		media:       deps.Media,
		transcriber: deps.Transcriber,
		lookup:      deps.Lookup,
		notifier:    deps.Notifier,
		logger:      logging.NewComponentLogger(deps.Logger, "pipeline"),
		http:        deps.HTTPClient,
		retryOpts:   deps.RetryOptions,
	}
	if p.notifier == nil {
		p.notifier = notifications.NewService(nil)
	}
	if p.http == nil {
		p.http = &http.Client{Timeout: time.Duration(deps.Config.Storage.RequestTimeout) * time.Second}
	}
	return p, nil
}

// Handle runs the handler registered for task.Name.
func (p *Pipeline) Handle(ctx context.Context, task *taskqueue.Task) Result {
	if task == nil {
		return Result{Kind: KindFatal, Err: errors.New("pipeline: nil task")}
	}
	ctx = taskContext(ctx, task)
	logger := logging.WithContext(ctx, p.logger)
	start := time.Now()
	logger.Info("task started",
		logging.String(logging.FieldEventType, "task_start"),
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.Int("attempt", task.Attempts),
		logging.Int("generation", task.Generation),
	)

	var res Result
	switch task.Name {
	case taskqueue.TaskSplit:
		res = p.split(ctx, task)
	case taskqueue.TaskProcessClip:
		res = p.processClip(ctx, task)
	case taskqueue.TaskStitch:
		res = p.stitch(ctx, task)
	default:
		res = Result{Kind: KindFatal, Err: fmt.Errorf("pipeline: unknown task %q", task.Name)}
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "task_complete"),
		logging.String("result", res.Kind.String()),
		logging.Duration("task_duration", time.Since(start)),
	}
	if res.Err != nil {
		attrs = append(attrs, logging.Error(res.Err))
	}
	logger.Info("task completed", logging.Args(attrs...)...)
	return res
}

// OnDead is called once the queue gives up on a task. Job-scoped tasks fail
// their job. A dead process_clip task records a crashed outcome and still
// runs fan-in, so the rest of the job is not held back by one clip.
func (p *Pipeline) OnDead(ctx context.Context, task *taskqueue.Task, cause error) {
	if task == nil {
		return
	}
	ctx = taskContext(ctx, task)
	logger := logging.WithContext(ctx, p.logger)
	switch task.Name {
	case taskqueue.TaskProcessClip:
		res := p.settleClip(ctx, task, ledger.ClipOutcome{
			JobID:      task.JobID,
			Index:      task.ClipIndex,
			Generation: task.Generation,
			Error:      ledger.ClipErrCrashed,
		})
		if res.Kind == KindRetry {
			logging.ErrorWithContext(logger, "dead clip could not be settled", "clip_settle_failed",
				logging.Error(res.Err),
				logging.String(logging.FieldErrorHint, "requeue the dead task with `reelswap tasks retry`"),
			)
		}
	default:
		p.failJob(ctx, task.JobID, task.Name, fmt.Errorf("retries exhausted: %w", cause))
	}
}

func taskContext(ctx context.Context, task *taskqueue.Task) context.Context {
	ctx = services.WithJobID(ctx, task.JobID)
	ctx = services.WithTask(ctx, task.Name)
	if task.Name == taskqueue.TaskProcessClip {
		ctx = services.WithClipIndex(ctx, task.ClipIndex)
	}
	return ctx
}

// escalate turns a job-fatal error into a Result. Transient failures are
// handed back to the queue; anything else fails the job now.
func (p *Pipeline) escalate(ctx context.Context, jobID, op string, err error) Result {
	if requeueable(err) {
		return Result{Kind: KindRetry, Err: err}
	}
	p.failJob(ctx, jobID, op, err)
	return Result{Kind: KindFatal, Err: err}
}

func requeueable(err error) bool {
	return services.IsTransient(err) || errors.Is(err, context.Canceled)
}

// failJob marks the job failed and publishes job_failed. It runs on a context
// detached from the task deadline so a timed-out task still records why.
func (p *Pipeline) failJob(ctx context.Context, jobID, op string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	logger := logging.WithContext(ctx, p.logger)

	message := fmt.Sprintf("%s: %v", op, cause)
	job, err := p.ledger.Fail(ctx, jobID, message)
	if err != nil {
		if errors.Is(err, ledger.ErrJobNotFound) || errors.Is(err, ledger.ErrInvalidTransition) {
			logger.Info("job not failed", logging.String("reason", err.Error()))
			return
		}
		logging.ErrorWithContext(logger, "failed to mark job failed", "job_fail_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database access"),
		)
		return
	}
	logging.ErrorWithContext(logger, "job failed", "job_failed",
		logging.String("stage", op),
		logging.Error(cause),
	)
	if err := p.notifier.Publish(ctx, notifications.EventJobFailed, notifications.Payload{
		"job_id": job.ID,
		"error":  job.Error,
	}); err != nil {
		logger.Warn("job failed notification not sent", logging.Error(err))
	}
}

// workDir creates a scratch directory for one task invocation. The caller
// removes it on every exit path.
func (p *Pipeline) workDir(task *taskqueue.Task) (string, error) {
	if err := os.MkdirAll(p.cfg.Paths.WorkDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "pipeline", "work dir", p.cfg.Paths.WorkDir, err)
	}
	prefix := fmt.Sprintf("%s-%s-", task.Name, task.JobID)
	dir, err := os.MkdirTemp(p.cfg.Paths.WorkDir, prefix)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "pipeline", "work dir", "", err)
	}
	return dir, nil
}

func (p *Pipeline) removeDir(ctx context.Context, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logging.WithContext(ctx, p.logger).Warn("scratch directory not removed",
			logging.String("path", dir),
			logging.Error(err),
		)
	}
}

func (p *Pipeline) budget(attempts int) retry.Budget {
	return retry.Budget{Attempts: attempts, Initial: p.cfg.InitialBackoff(), Max: p.cfg.MaxBackoff()}
}

// download materialises ref (a URL or store key) at path under the download
// retry budget.
func (p *Pipeline) download(ctx context.Context, ref, path string) error {
	return retry.Do(ctx, p.budget(p.cfg.Retry.DownloadAttempts), func(ctx context.Context) error {
		return objectstore.Fetch(ctx, p.store, p.http, ref, path)
	}, p.retryOpts...)
}

// upload stores the file at path under key using the download retry budget.
func (p *Pipeline) upload(ctx context.Context, key, path string) error {
	return retry.Do(ctx, p.budget(p.cfg.Retry.DownloadAttempts), func(ctx context.Context) error {
		return objectstore.PutFile(ctx, p.store, key, path, objectstore.ContentTypeMP4)
	}, p.retryOpts...)
}
