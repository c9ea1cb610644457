package main

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"reelswap/internal/config"
	"reelswap/internal/objectstore"
	"reelswap/internal/taskqueue"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "submit <video>",
		Short: "Queue a video for processing",
		Long: `Queue a video for processing.

The argument may be a URL, a key already in the object store, or a local
file. Local files are uploaded under the configured bucket's uploads/ prefix
first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := ctx.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			sourceRef, uploaded, err := resolveSource(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			job, err := st.ledger.CreateJob(cmd.Context(), sourceRef)
			if err != nil {
				return fmt.Errorf("create job: %w", err)
			}
			taskID, err := st.queue.Enqueue(cmd.Context(), taskqueue.Task{Name: taskqueue.TaskSplit, JobID: job.ID})
			if err != nil {
				_, _ = st.ledger.Fail(context.WithoutCancel(cmd.Context()), job.ID, fmt.Sprintf("submit: %v", err))
				return fmt.Errorf("enqueue split: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{
					"job_id":     job.ID,
					"status":     job.Status,
					"source_ref": sourceRef,
					"uploaded":   uploaded,
					"task_id":    taskID,
				})
			}
			out := cmd.OutOrStdout()
			if uploaded {
				fmt.Fprintf(out, "Uploaded %s as %s\n", args[0], sourceRef)
			}
			fmt.Fprintf(out, "Job %s queued\n", job.ID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

// resolveSource uploads arg when it names a local file and otherwise returns
// it unchanged as a URL or object key.
func resolveSource(ctx context.Context, cfg *config.Config, arg string) (string, bool, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", false, fmt.Errorf("video is required")
	}
	if objectstore.IsURL(arg) {
		return arg, false, nil
	}
	local, err := config.ExpandPath(arg)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(local)
	if err != nil || info.IsDir() {
		return arg, false, nil
	}

	store, err := objectstore.New(cfg)
	if err != nil {
		return "", false, fmt.Errorf("object store: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(local))
	if ext == "" {
		ext = ".mp4"
	}
	key := path.Join("uploads", uuid.NewString()+ext)
	if err := objectstore.PutFile(ctx, store, key, local, objectstore.ContentTypeMP4); err != nil {
		return "", false, fmt.Errorf("upload %s: %w", local, err)
	}
	return key, true, nil
}
