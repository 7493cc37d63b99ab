package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/codeintelhq/codeintel/internal/agent"
	"github.com/codeintelhq/codeintel/internal/changes"
	"github.com/codeintelhq/codeintel/internal/config"
	"github.com/codeintelhq/codeintel/internal/docs"
	"github.com/codeintelhq/codeintel/internal/graphstore"
	"github.com/codeintelhq/codeintel/internal/pipeline"
	"github.com/codeintelhq/codeintel/internal/runlog"
	"github.com/codeintelhq/codeintel/internal/stages"
)

var (
	cfgPath string
	verbose bool

	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "codeintel",
	Short: "Codebase intelligence pipeline",
	Long: `codeintel watches a git repository, asks a code-analysis agent to
interpret new commits, and maintains generated documentation and a
versioned knowledge graph of the codebase.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "codeintel.yaml", "path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// app holds the wired components a command needs. Commands build only
// what they use; openApp wires everything.
type app struct {
	detector   *changes.Detector
	agent      *agent.Client
	docs       *docs.Manager
	graphs     *graphstore.Store
	runlog     *runlog.Store
	pipeline   *stages.Pipeline
	graph      *pipeline.Graph
	auditGraph *pipeline.Graph
}

func openApp(ctx context.Context) (*app, error) {
	detector, err := changes.NewDetector(ctx, logger)
	if err != nil {
		return nil, err
	}
	docsMgr, err := docs.NewManager(cfg.DocsRoot, logger)
	if err != nil {
		return nil, err
	}
	graphs, err := graphstore.New(cfg.GraphStoreRoot, logger)
	if err != nil {
		return nil, err
	}
	log, err := runlog.Open(cfg.RunLogPath)
	if err != nil {
		return nil, err
	}

	client := agent.NewClient(cfg.Agent, logger)
	p := stages.New(cfg, detector, client, docsMgr, graphs, logger)
	graph, err := p.Graph()
	if err != nil {
		log.Close()
		return nil, err
	}
	auditGraph, err := p.AuditGraph()
	if err != nil {
		log.Close()
		return nil, err
	}

	return &app{
		detector:   detector,
		agent:      client,
		docs:       docsMgr,
		graphs:     graphs,
		runlog:     log,
		pipeline:   p,
		graph:      graph,
		auditGraph: auditGraph,
	}, nil
}

func (a *app) close() {
	if err := a.runlog.Close(); err != nil {
		logger.Warn("closing run log", slog.String("error", err.Error()))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
