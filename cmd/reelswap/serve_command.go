package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"reelswap/internal/httpapi"
	"reelswap/internal/logging"
	"reelswap/internal/objectstore"
	"reelswap/internal/preflight"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string
	var skipPreflight bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API that accepts jobs and reports their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := cmd.Context()
			if cmdCtx == nil {
				cmdCtx = context.Background()
			}
			signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if bind != "" {
				cfg.API.Bind = bind
			}
			logger, err := logging.NewFromConfig(cfg, "api")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			if err := checkReadiness(signalCtx, cfg, preflight.RoleAPI, logger, skipPreflight); err != nil {
				return err
			}

			_, st, err := ctx.openStores(signalCtx)
			if err != nil {
				return err
			}
			defer st.Close()
			store, err := objectstore.New(cfg)
			if err != nil {
				return fmt.Errorf("object store: %w", err)
			}

			srv, err := httpapi.New(cfg, httpapi.Deps{
				Jobs:   st.ledger,
				Queue:  st.queue,
				Store:  store,
				Health: st.db,
				Logger: logger,
			})
			if err != nil {
				return err
			}
			if err := srv.Start(signalCtx); err != nil {
				return err
			}
			<-signalCtx.Done()
			srv.Stop()
			logger.Info("reelswap api shutting down")
			return nil
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Override api.bind (host:port)")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Start even when startup checks fail")
	return cmd
}
