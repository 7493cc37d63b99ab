package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codeintelhq/codeintel/internal/types"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		runs, err := a.runlog.ListRuns(ctx, historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()

		for _, r := range runs {
			status := string(r.Status)
			switch r.Status {
			case types.RunSucceeded:
				status = green(status)
			case types.RunFailed:
				status = red(status)
			default:
				status = yellow(status)
			}

			dur := "running"
			if r.CompletedAt != nil {
				dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
			}
			fmt.Printf("%s  %-9s %-8s %-10s %s\n",
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				status, r.TriggerKind, dur, r.Fingerprint)
			for name, st := range r.Stages {
				if st == types.StageFailed {
					fmt.Printf("    %s %s: %s\n", red("✗"), name, r.StageErrors[name])
				}
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum runs to show")
	rootCmd.AddCommand(historyCmd)
}
