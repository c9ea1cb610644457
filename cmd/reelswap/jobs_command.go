package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reelswap/internal/ledger"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List live jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []ledger.Status
			for _, value := range statusFlags {
				status, ok := ledger.ParseStatus(value)
				if !ok {
					return fmt.Errorf("unknown status %q", value)
				}
				statuses = append(statuses, status)
			}

			_, st, err := ctx.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			jobs, err := st.ledger.ListJobs(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			stats, err := st.ledger.Stats(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				views := make([]jobView, 0, len(jobs))
				for _, job := range jobs {
					views = append(views, newJobView(job, nil))
				}
				return writeJSON(cmd, map[string]any{"jobs": views, "stats": stats})
			}
			printJobs(cmd.OutOrStdout(), jobs, stats)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (queued, processing, stitching, finished, failed)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func printJobs(out io.Writer, jobs []*ledger.Job, stats ledger.Stats) {
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs")
	} else {
		rows := make([][]string, 0, len(jobs))
		for _, job := range jobs {
			rows = append(rows, []string{
				job.ID,
				displayLabel(string(job.Status)),
				fmt.Sprintf("%d/%d", job.DoneCount, job.ClipCount),
				job.SourceRef,
				job.UpdatedAt.Local().Format(time.DateTime),
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Job", "Status", "Clips", "Source", "Updated"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
		))
	}

	parts := make([]string, 0, len(stats))
	for _, status := range ledger.AllStatuses() {
		parts = append(parts, displayLabel(string(status))+": "+strconv.Itoa(stats[status]))
	}
	fmt.Fprintln(out, strings.Join(parts, "  "))
}
