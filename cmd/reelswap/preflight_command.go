package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"reelswap/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	var roleFlag string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check binaries, directories, and credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			role := preflight.Role(roleFlag)
			switch role {
			case "", preflight.RoleWorker, preflight.RoleAPI:
			default:
				return fmt.Errorf("unknown role %q (worker or api)", roleFlag)
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg, role)
			failed := preflight.Failed(results)

			if jsonOut {
				type jsonResult struct {
					Name   string `json:"name"`
					Passed bool   `json:"passed"`
					Detail string `json:"detail"`
				}
				items := make([]jsonResult, 0, len(results))
				for _, r := range results {
					items = append(items, jsonResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
				}
				if err := writeJSON(cmd, map[string]any{"checks": items, "passed": len(failed) == 0}); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintf(out, "Config: %s (file present: %s)\n", ctx.configPath, yesNo(ctx.configSeen))
				for _, r := range results {
					fmt.Fprintln(out, renderCheck(r, colorize))
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failed), len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&roleFlag, "role", "", "Limit checks to a role (worker or api)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
