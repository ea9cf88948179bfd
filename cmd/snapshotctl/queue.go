package main

import (
	"fmt"
	"time"

	"listing-snapshot-api/internal/scheduler"

	"github.com/spf13/cobra"
)

func refreshCmd(e *env, ctx ctxFunc) *cobra.Command {
	var (
		delay    time.Duration
		priority int
		replace  bool
	)

	cmd := &cobra.Command{
		Use:   "refresh <sku>",
		Short: "Request a refresh job for a SKU",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := e.queueScheduler()
			if err != nil {
				return err
			}
			opts := scheduler.Options{Priority: priority, Replace: replace}
			if cmd.Flags().Changed("delay") {
				opts.Delay = &delay
			}

			c, cancel := ctx(cmd)
			defer cancel()
			res, err := s.RequestRefresh(c, args[0], opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", 0, "run the job no earlier than this from now")
	cmd.Flags().IntVar(&priority, "priority", 0, "job priority, lower runs first, 0 runs last")
	cmd.Flags().BoolVar(&replace, "replace", true, "replace an existing waiting, delayed or finished job")
	return cmd
}

func queueCmd(e *env, ctx ctxFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and control the refresh queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "counts",
		Short: "Print job counts per state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := e.queueScheduler()
			if err != nil {
				return err
			}
			c, cancel := ctx(cmd)
			defer cancel()
			counts, err := s.Counts(c)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), counts)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "paused",
		Short: "Print whether the queue is paused",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := e.queueScheduler()
			if err != nil {
				return err
			}
			c, cancel := ctx(cmd)
			defer cancel()
			paused, err := s.IsPaused(c)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), paused)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "pause",
		Short: "Stop workers from claiming jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := e.queueScheduler()
			if err != nil {
				return err
			}
			c, cancel := ctx(cmd)
			defer cancel()
			if err := s.Pause(c); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "queue paused")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resume",
		Short: "Let workers claim jobs again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := e.queueScheduler()
			if err != nil {
				return err
			}
			c, cancel := ctx(cmd)
			defer cancel()
			if err := s.Resume(c); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "queue resumed")
			return nil
		},
	})
	return cmd
}
