package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"reelswap/internal/ledger"
	"reelswap/internal/objectstore"
)

type jobView struct {
	ID         string     `json:"job_id"`
	Status     string     `json:"status"`
	SourceRef  string     `json:"source_ref"`
	Generation int        `json:"generation"`
	Total      int        `json:"total"`
	Done       int        `json:"done"`
	Error      string     `json:"error,omitempty"`
	FinalURL   string     `json:"final_url,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Clips      []clipView `json:"clips,omitempty"`
}

type clipView struct {
	Index          int    `json:"idx"`
	Resolved       bool   `json:"resolved"`
	HasReplacement bool   `json:"has_replacement"`
	Error          string `json:"error,omitempty"`
	ReferenceKind  string `json:"reference_kind,omitempty"`
	ReferenceLabel string `json:"reference_label,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
	ImageOwner     *int   `json:"image_owner,omitempty"`
	SourceURL      string `json:"source_url,omitempty"`
}

func newJobView(job *ledger.Job, store objectstore.Store) jobView {
	view := jobView{
		ID:         job.ID,
		Status:     string(job.Status),
		SourceRef:  job.SourceRef,
		Generation: job.Generation,
		Total:      job.ClipCount,
		Done:       job.DoneCount,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
		ExpiresAt:  job.ExpiresAt,
	}
	if job.FinalRef != "" {
		view.FinalURL = job.FinalRef
		if store != nil {
			view.FinalURL = store.PublicURL(job.FinalRef)
		}
	}
	return view
}

func newClipView(c ledger.Clip) clipView {
	return clipView{
		Index:          c.Index,
		Resolved:       c.Resolved(),
		HasReplacement: c.UsesReplacement(),
		Error:          c.Error,
		ReferenceKind:  c.ReferenceKind,
		ReferenceLabel: c.ReferenceLabel,
		ImageURL:       c.ImageURL,
		SourceURL:      c.SourceURL,
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job and its per-clip outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := ctx.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			job, err := st.ledger.GetJob(cmd.Context(), args[0])
			if errors.Is(err, ledger.ErrJobNotFound) {
				return fmt.Errorf("job %s not found (unknown or expired)", args[0])
			}
			if err != nil {
				return err
			}
			clips, err := st.ledger.Clips(cmd.Context(), job.ID)
			if err != nil {
				return err
			}
			used, err := st.ledger.UsedImages(cmd.Context(), job.ID)
			if err != nil {
				return err
			}
			// A misconfigured store only costs the public URL here.
			store, _ := objectstore.New(cfg)

			view := newJobView(job, store)
			for _, c := range clips {
				cv := newClipView(c)
				if owner, ok := used[c.ImageURL]; ok && c.ImageURL != "" && owner != c.Index {
					cv.ImageOwner = &owner
				}
				view.Clips = append(view.Clips, cv)
			}
			if jsonOut {
				return writeJSON(cmd, view)
			}
			out := cmd.OutOrStdout()
			printJobStatus(out, view, shouldColorize(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func printJobStatus(out io.Writer, view jobView, colorize bool) {
	fmt.Fprintf(out, "Job:        %s\n", view.ID)
	fmt.Fprintf(out, "Status:     %s\n", displayLabel(view.Status))
	fmt.Fprintf(out, "Source:     %s\n", view.SourceRef)
	fmt.Fprintf(out, "Progress:   %d/%d clips\n", view.Done, view.Total)
	if view.Error != "" {
		fmt.Fprintf(out, "Error:      %s\n", view.Error)
	}
	if view.FinalURL != "" {
		fmt.Fprintf(out, "Final:      %s\n", view.FinalURL)
	}
	fmt.Fprintf(out, "Expires:    %s\n", view.ExpiresAt.Local().Format(time.DateTime))
	if len(view.Clips) == 0 {
		return
	}

	rows := make([][]string, 0, len(view.Clips))
	for _, c := range view.Clips {
		outcome, t := clipOutcome(c)
		rows = append(rows, []string{
			strconv.Itoa(c.Index),
			paint(displayLabel(outcome), t, colorize),
			orDash(c.ReferenceLabel),
			orDash(c.ReferenceKind),
			clipErrorDetail(c),
		})
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable(
		[]string{"Clip", "Outcome", "Reference", "Kind", "Error"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
	))
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
