package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"reelswap/internal/config"
	"reelswap/internal/database"
	"reelswap/internal/ledger"
	"reelswap/internal/taskqueue"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configSeen bool
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configSeen = exists
	})
	return c.config, c.configErr
}

// stores bundles the ledger and queue opened over one database handle.
type stores struct {
	db     *database.DB
	ledger *ledger.Ledger
	queue  *taskqueue.Queue
}

func (s *stores) Close() {
	if s != nil && s.db != nil {
		_ = s.db.Close()
	}
}

func (c *commandContext) openStores(ctx context.Context) (*config.Config, *stores, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, &stores{
		db:     db,
		ledger: ledger.New(db, cfg.JobTTL()),
		queue: taskqueue.New(db, taskqueue.Options{
			MaxAttempts: cfg.Worker.MaxAttempts,
			TTL:         cfg.JobTTL(),
		}),
	}, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
