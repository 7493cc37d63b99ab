package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codeintelhq/codeintel/internal/graphstore"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Inspect the knowledge-graph store",
}

var graphListCmd = &cobra.Command{
	Use:   "list",
	Short: "List published knowledge-graph versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		versions, err := a.graphs.Versions()
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			fmt.Println("No snapshots published.")
			return nil
		}
		for _, v := range versions {
			fmt.Printf("v%04d\n", v)
		}
		return nil
	},
}

var graphShowCmd = &cobra.Command{
	Use:   "show [version]",
	Short: "Show one knowledge-graph snapshot (latest by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		version := graphstore.Latest
		if len(args) == 1 {
			version, err = parseVersion(args[0])
			if err != nil {
				return err
			}
		}

		snap, err := a.graphs.Read(version)
		if err != nil {
			return err
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s\n", yellow("Nodes:"))
		for _, n := range snap.Nodes {
			fmt.Printf("  %-10s %s\n", n.Kind, n.ID)
		}
		fmt.Printf("%s\n", yellow("Edges:"))
		for _, e := range snap.Edges {
			fmt.Printf("  %s -[%s]-> %s\n", e.FromID, e.Kind, e.ToID)
		}
		fmt.Printf("%s\n", yellow("Metrics:"))
		for k, v := range snap.Metrics.Values {
			fmt.Printf("  %-22s %g\n", k, v)
		}
		return nil
	},
}

var graphDiffCmd = &cobra.Command{
	Use:   "diff <old> <new>",
	Short: "Compare two knowledge-graph versions",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		oldV, err := parseVersion(args[0])
		if err != nil {
			return err
		}
		newV, err := parseVersion(args[1])
		if err != nil {
			return err
		}

		d, err := a.graphs.Diff(oldV, newV)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		for _, id := range d.AddedNodes {
			fmt.Printf("%s %s\n", green("+"), id)
		}
		for _, id := range d.RemovedNodes {
			fmt.Printf("%s %s\n", red("-"), id)
		}
		for _, id := range d.ModifiedNodes {
			fmt.Printf("%s %s\n", yellow("~"), id)
		}
		fmt.Printf("%d changes\n", d.Total())
		return nil
	},
}

func parseVersion(s string) (int, error) {
	if len(s) > 1 && s[0] == 'v' {
		s = s[1:]
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	return v, nil
}

func init() {
	graphCmd.AddCommand(graphListCmd, graphShowCmd, graphDiffCmd)
	rootCmd.AddCommand(graphCmd)
}
