package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codeintelhq/codeintel/internal/pipeline"
	"github.com/codeintelhq/codeintel/internal/types"
)

var (
	auditWeek  string
	auditForce bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run the weekly code-quality audit",
	Long: `Run the code-quality audit for one week partition. A partition runs
at most once; pass --force to re-run and overwrite its record.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		week := auditWeek
		if week == "" {
			week = pipeline.WeekStart(time.Now())
		}

		runner, err := pipeline.NewAuditRunner(a.auditGraph, a.runlog, logger)
		if err != nil {
			return err
		}
		record, err := runner.RunPartition(ctx, week, auditForce)
		if err != nil {
			return err
		}

		printFindings(week, record.Findings)
		return nil
	},
}

func printFindings(week string, findings []types.AuditFinding) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("\n%s\n\n", cyan(fmt.Sprintf("=== Code Quality Audit (week of %s) ===", week)))

	if len(findings) == 0 {
		fmt.Println("No findings.")
		return
	}

	red := color.New(color.FgRed, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	for _, f := range findings {
		sev := string(f.Severity)
		switch f.Severity {
		case types.SeverityCritical, types.SeverityHigh:
			sev = red(sev)
		case types.SeverityMedium:
			sev = yellow(sev)
		default:
			sev = gray(sev)
		}
		fmt.Printf("[%s] %s: %s\n", sev, f.Category, f.Description)
		if f.FilePath != "" {
			fmt.Printf("        %s\n", gray(f.FilePath))
		}
		if f.SuggestedFix != "" {
			fmt.Printf("        fix: %s\n", f.SuggestedFix)
		}
	}
	fmt.Printf("\n%d findings\n", len(findings))
}

func init() {
	auditCmd.Flags().StringVar(&auditWeek, "week", "", "week partition to run (YYYY-MM-DD, a Monday; default current week)")
	auditCmd.Flags().BoolVar(&auditForce, "force", false, "re-run even if the partition already completed")
	rootCmd.AddCommand(auditCmd)
}
