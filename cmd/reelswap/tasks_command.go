package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reelswap/internal/taskqueue"
)

type taskView struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	JobID       string    `json:"job_id"`
	ClipIndex   *int      `json:"clip_idx,omitempty"`
	Generation  int       `json:"generation"`
	State       string    `json:"state"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LeaseOwner  string    `json:"lease_owner,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	AvailableAt time.Time `json:"available_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newTaskView(task *taskqueue.Task) taskView {
	view := taskView{
		ID:          task.ID,
		Name:        task.Name,
		JobID:       task.JobID,
		Generation:  task.Generation,
		State:       string(task.State),
		Attempts:    task.Attempts,
		MaxAttempts: task.MaxAttempts,
		LeaseOwner:  task.LeaseOwner,
		LastError:   task.LastError,
		AvailableAt: task.AvailableAt,
		UpdatedAt:   task.UpdatedAt,
	}
	if task.Name == taskqueue.TaskProcessClip {
		idx := task.ClipIndex
		view.ClipIndex = &idx
	}
	return view
}

func newTasksCommand(ctx *commandContext) *cobra.Command {
	var jobFlag string
	var stateFlags []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect the task queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			var states []taskqueue.State
			for _, value := range stateFlags {
				state, ok := taskqueue.ParseState(value)
				if !ok {
					return fmt.Errorf("unknown state %q", value)
				}
				states = append(states, state)
			}

			_, st, err := ctx.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			tasks, err := st.queue.List(cmd.Context(), strings.TrimSpace(jobFlag), states...)
			if err != nil {
				return err
			}
			stats, err := st.queue.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				views := make([]taskView, 0, len(tasks))
				for _, task := range tasks {
					views = append(views, newTaskView(task))
				}
				return writeJSON(cmd, map[string]any{"tasks": views, "stats": stats})
			}
			printTasks(cmd.OutOrStdout(), tasks, stats)
			return nil
		},
	}
	cmd.Flags().StringVarP(&jobFlag, "job", "j", "", "Only show tasks for this job")
	cmd.Flags().StringSliceVarP(&stateFlags, "state", "s", nil, "Filter by state (pending, running, done, dead)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	cmd.AddCommand(newTasksRetryCommand(ctx))
	return cmd
}

func newTasksRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <task-id>...",
		Short: "Return dead-lettered tasks to the queue with a fresh attempt budget",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid task id %q", arg)
				}
				ids = append(ids, id)
			}

			_, st, err := ctx.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			var failed int
			for _, id := range ids {
				task, err := st.queue.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				if task == nil {
					fmt.Fprintf(out, "Task %d not found\n", id)
					failed++
					continue
				}
				if task.State != taskqueue.StateDead {
					fmt.Fprintf(out, "Task %d is %s (only dead tasks can be retried)\n", id, task.State)
					failed++
					continue
				}
				if err := st.queue.RetryDead(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(out, "Task %d reset for retry\n", id)
				if job, err := st.ledger.GetJob(cmd.Context(), task.JobID); err == nil && job.Status.IsTerminal() {
					fmt.Fprintf(out, "  note: job %s is already %s; the task will be skipped\n", job.ID, job.Status)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d tasks not retried", failed, len(ids))
			}
			return nil
		},
	}
}

func printTasks(out io.Writer, tasks []*taskqueue.Task, stats taskqueue.Stats) {
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No tasks")
	} else {
		rows := make([][]string, 0, len(tasks))
		for _, task := range tasks {
			clip := "-"
			if task.Name == taskqueue.TaskProcessClip {
				clip = strconv.Itoa(task.ClipIndex)
			}
			rows = append(rows, []string{
				strconv.FormatInt(task.ID, 10),
				displayLabel(task.Name),
				shortJobID(task.JobID),
				clip,
				displayLabel(string(task.State)),
				fmt.Sprintf("%d/%d", task.Attempts, task.MaxAttempts),
				task.UpdatedAt.Local().Format(time.DateTime),
				orDash(truncate(task.LastError, 60)),
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"ID", "Task", "Job", "Clip", "State", "Attempts", "Updated", "Last Error"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft, alignLeft},
		))
	}

	parts := make([]string, 0, len(stats))
	for _, state := range taskqueue.AllStates() {
		parts = append(parts, fmt.Sprintf("%s: %d", displayLabel(string(state)), stats[state]))
	}
	fmt.Fprintln(out, strings.Join(parts, "  "))
}

func shortJobID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
