package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPurgeCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired jobs and settled tasks now instead of waiting for the worker sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := ctx.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			jobs, err := st.ledger.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			tasks, err := st.queue.Purge(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, map[string]int64{"jobs": jobs, "tasks": tasks})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired jobs and %d tasks\n", jobs, tasks)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
