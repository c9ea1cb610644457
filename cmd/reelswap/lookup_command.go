package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type referenceView struct {
	Kind        string `json:"kind"`
	ContentType string `json:"content_type,omitempty"`
	Description string `json:"description"`
	Title       string `json:"title,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	SourceURL   string `json:"source_url,omitempty"`
}

func newLookupCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "lookup <transcript>...",
		Short: "Run the reference lookup against a transcript",
		Long: "Extracts the people, organisations, content and events a transcript mentions\n" +
			"and searches each one, in the order clips would try them.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := newReferenceClient(cfg)
			if err != nil {
				return err
			}
			refs, err := client.FindReferences(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			views := make([]referenceView, 0, len(refs))
			for _, r := range refs {
				views = append(views, referenceView{
					Kind:        string(r.Kind),
					ContentType: r.ContentType,
					Description: r.Description,
					Title:       r.Title,
					ImageURL:    r.ImageURL,
					SourceURL:   r.SourceURL,
				})
			}
			if jsonOut {
				return writeJSON(cmd, map[string]any{"references": views})
			}

			out := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintln(out, "No references found")
				return nil
			}
			rows := make([][]string, 0, len(views))
			for i, v := range views {
				rows = append(rows, []string{
					fmt.Sprint(i + 1),
					displayLabel(v.Kind),
					v.Description,
					yesNo(v.ImageURL != ""),
					orDash(v.SourceURL),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Kind", "Mention", "Image", "Source"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
