package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codeintelhq/codeintel/internal/pipeline"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the repository and run the pipeline on new commits",
	Long: `Run continuously: poll the repository for new commits on the
configured branch, trigger the analysis pipeline when they appear, and
run the weekly code-quality audit on schedule. Stop with Ctrl+C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		sched := pipeline.NewScheduler(a.graph, a.runlog, logger)
		runner, err := pipeline.NewAuditRunner(a.auditGraph, a.runlog, logger)
		if err != nil {
			return err
		}
		watcher := pipeline.NewWatcher(cfg, a.detector, sched, runner, a.runlog, logger)

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Watching %s (branch %s), polling every %s\n",
			green("●"), cfg.RepoPath, cfg.Branch, cfg.PollInterval())

		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		fmt.Println("\nStopped.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
