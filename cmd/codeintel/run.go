package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codeintelhq/codeintel/internal/pipeline"
	"github.com/codeintelhq/codeintel/internal/stages"
	"github.com/codeintelhq/codeintel/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the analysis pipeline once over recent commits",
	Long: `Detect commits within the configured lookback window, assess their
impact with the analysis agent, and update documentation and the
knowledge graph. If a run for the same commit range is already in
flight, attaches to it instead of starting another.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		since := time.Now().Add(-cfg.Lookback())
		records, err := a.detector.Detect(ctx, cfg.RepoPath, cfg.Branch, since)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			gray := color.New(color.FgHiBlack).SprintFunc()
			fmt.Printf("%s\n", gray(fmt.Sprintf("No commits on %s in the last %s", cfg.Branch, cfg.Lookback())))
			return nil
		}

		fp := pipeline.Fingerprint(cfg.Branch, records)
		sched := pipeline.NewScheduler(a.graph, a.runlog, logger)
		run, started := sched.Trigger(ctx, fp, types.TriggerEvent)
		if !started {
			fmt.Printf("Attached to in-flight run %s\n", run.Record().RunID)
		} else {
			fmt.Printf("Started run %s (%d commits)\n", run.Record().RunID, len(records))
		}

		record, err := run.Wait(ctx)
		if err != nil {
			return err
		}
		printRunRecord(record)
		return runOutcome(record)
	},
}

// runOutcome turns a failed run into a command error so the failure
// reaches the exit code through RunE and deferred cleanup still runs.
func runOutcome(r *types.RunRecord) error {
	if r.Status != types.RunSucceeded {
		return fmt.Errorf("run %s finished with status %s", r.RunID, r.Status)
	}
	return nil
}

func printRunRecord(r *types.RunRecord) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Println()
	fmt.Printf("Run %s (%s)\n", r.RunID, r.Fingerprint)
	for _, name := range stageOrder(r) {
		status := r.Stages[name]
		line := fmt.Sprintf("  %-28s %s", name, status)
		switch status {
		case types.StageSucceeded:
			fmt.Printf("%s %s\n", green("✓"), line)
		case types.StageFailed:
			fmt.Printf("%s %s (%s)\n", red("✗"), line, r.StageErrors[name])
		case types.StageSkipped:
			fmt.Printf("%s %s\n", yellow("–"), line)
		default:
			fmt.Printf("%s %s\n", gray("○"), line)
		}
	}
	if r.CompletedAt != nil {
		fmt.Printf("  completed in %s, status %s\n", r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond), r.Status)
	}
}

// stageOrder lists the record's stages in pipeline order with any
// unknown ones appended, so output stays stable across versions.
func stageOrder(r *types.RunRecord) []string {
	known := []string{
		stages.StageCodeChanges,
		stages.StageImpact,
		stages.StageDocumentation,
		stages.StageKnowledgeGraph,
	}
	seen := make(map[string]bool, len(known))
	var out []string
	for _, name := range known {
		if _, ok := r.Stages[name]; ok {
			out = append(out, name)
			seen[name] = true
		}
	}
	for name := range r.Stages {
		if !seen[name] {
			out = append(out, name)
		}
	}
	return out
}

func init() {
	rootCmd.AddCommand(runCmd)
}
