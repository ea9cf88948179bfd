package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"listing-snapshot-api/internal/config"
	"listing-snapshot-api/internal/logger"
	"listing-snapshot-api/internal/queue"
	"listing-snapshot-api/internal/scheduler"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// env holds lazily built dependencies shared by subcommands.
type env struct {
	cfg       *config.Config
	log       *zap.Logger
	client    *redis.Client
	scheduler *scheduler.Scheduler
}

func (e *env) load() error {
	if e.cfg != nil {
		return nil
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.App)
	if err != nil {
		return err
	}
	e.cfg, e.log = cfg, log
	return nil
}

// queueScheduler connects to the job store on first use.
func (e *env) queueScheduler() (*scheduler.Scheduler, error) {
	if e.scheduler != nil {
		return e.scheduler, nil
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	e.client = redis.NewClient(&redis.Options{
		Addr:     e.cfg.Queue.Address(),
		Password: e.cfg.Queue.Password,
		DB:       e.cfg.Queue.DB,
	})
	store := queue.NewRedisStore(e.client, e.cfg.Queue.Prefix)
	e.scheduler = scheduler.New(store, scheduler.Config{OpTimeout: e.cfg.Queue.OpTimeout}, nil, e.log)
	return e.scheduler, nil
}

func (e *env) close() {
	if e.client != nil {
		_ = e.client.Close()
	}
	if e.log != nil {
		_ = e.log.Sync()
	}
}

func newRootCmd() *cobra.Command {
	e := &env{}
	timeout := 10 * time.Second

	root := &cobra.Command{
		Use:           "snapshotctl",
		Short:         "Operate the listing snapshot service",
		SilenceUsage: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			e.close()
		},
	}
	root.PersistentFlags().DurationVar(&timeout, "timeout", timeout, "timeout for remote calls")

	ctx := func(cmd *cobra.Command) (context.Context, context.CancelFunc) {
		return context.WithTimeout(cmd.Context(), timeout)
	}

	root.AddCommand(skuCmd(e, ctx))
	root.AddCommand(validateCmd())
	root.AddCommand(refreshCmd(e, ctx))
	root.AddCommand(queueCmd(e, ctx))
	return root
}

type ctxFunc func(cmd *cobra.Command) (context.Context, context.CancelFunc)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
