package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"reelswap/internal/config"
	"reelswap/internal/logging"
	"reelswap/internal/media/ffmpeg"
	"reelswap/internal/notifications"
	"reelswap/internal/objectstore"
	"reelswap/internal/pipeline"
	"reelswap/internal/preflight"
	"reelswap/internal/reference"
	"reelswap/internal/retry"
	"reelswap/internal/transcribe"
	"reelswap/internal/worker"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var skipPreflight bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued split, clip, and stitch tasks until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), ctx, skipPreflight)
		},
	}
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Start even when startup checks fail")
	return cmd
}

func runWorker(cmdCtx context.Context, ctx *commandContext, skipPreflight bool) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewFromConfig(cfg, "worker")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := checkReadiness(signalCtx, cfg, preflight.RoleWorker, logger, skipPreflight); err != nil {
		return err
	}

	_, st, err := ctx.openStores(signalCtx)
	if err != nil {
		return err
	}
	defer st.Close()

	p, err := buildPipeline(cfg, st, logger)
	if err != nil {
		return err
	}
	w := worker.New(st.queue, st.ledger, p, logger, worker.OptionsFromConfig(cfg))
	logger.Info("reelswap worker starting",
		logging.String("worker_id", w.ID()),
		logging.String("database", cfg.DatabasePath()),
	)
	return w.Run(signalCtx)
}

func buildPipeline(cfg *config.Config, st *stores, logger *slog.Logger) (*pipeline.Pipeline, error) {
	store, err := objectstore.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	transcriber, err := transcribe.New(cfg.Transcription)
	if err != nil {
		return nil, fmt.Errorf("transcription client: %w", err)
	}
	lookup, err := newReferenceClient(cfg)
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Deps{
		Config:      cfg,
		Ledger:      st.ledger,
		Queue:       st.queue,
		Store:       store,
		Media:       ffmpeg.New(cfg.Pipeline.FFmpegBinary, cfg.Pipeline.FFprobeBinary),
		Transcriber: transcriber,
		Lookup:      lookup,
		Notifier:    notifications.NewService(cfg),
		Logger:      logger,
	})
}

// checkReadiness runs the startup checks for role and refuses to continue
// when one fails, unless skip is set.
func checkReadiness(ctx context.Context, cfg *config.Config, role preflight.Role, logger *slog.Logger, skip bool) error {
	failed := preflight.Failed(preflight.RunAll(ctx, cfg, role))
	if len(failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(failed))
	for _, r := range failed {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "run `reelswap preflight` for details"),
		)
		names = append(names, r.Name)
	}
	if skip {
		return nil
	}
	return fmt.Errorf("preflight failed: %s (use --skip-preflight to start anyway)", strings.Join(names, ", "))
}

func newReferenceClient(cfg *config.Config) (*reference.Client, error) {
	client, err := reference.New(cfg.Reference, reference.WithRetryBudget(retry.Budget{
		Attempts: cfg.Retry.LookupAttempts,
		Initial:  cfg.InitialBackoff(),
		Max:      cfg.MaxBackoff(),
	}))
	if err != nil {
		return nil, fmt.Errorf("reference client: %w", err)
	}
	return client, nil
}
