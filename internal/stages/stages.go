// Package stages binds the repository components into the concrete
// asset graph: change detection feeds an agent impact assessment, which
// fans out into documentation updates and a knowledge-graph snapshot,
// with an independent weekly code-quality audit alongside.
package stages

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codeintelhq/codeintel/internal/agent"
	"github.com/codeintelhq/codeintel/internal/changes"
	"github.com/codeintelhq/codeintel/internal/config"
	"github.com/codeintelhq/codeintel/internal/docs"
	"github.com/codeintelhq/codeintel/internal/graphstore"
	"github.com/codeintelhq/codeintel/internal/pipeline"
	"github.com/codeintelhq/codeintel/internal/types"
)

// Stage names, also the keys under which outputs travel between stages
const (
	StageCodeChanges    = "code_changes"
	StageImpact         = "impact_assessment"
	StageDocumentation  = "documentation_updates"
	StageKnowledgeGraph = "codebase_knowledge_graph"
)

// GraphResult is the knowledge-graph stage's output: the snapshot that
// was published and the version it landed at.
type GraphResult struct {
	Version  int
	Snapshot *types.KnowledgeGraphSnapshot
}

// Pipeline owns the components the stage compute functions close over
type Pipeline struct {
	cfg      config.Config
	detector *changes.Detector
	agent    *agent.Client
	docs     *docs.Manager
	graphs   *graphstore.Store
	logger   *slog.Logger
}

// New binds the components into a pipeline
func New(cfg config.Config, detector *changes.Detector, client *agent.Client, docsMgr *docs.Manager, graphs *graphstore.Store, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		detector: detector,
		agent:    client,
		docs:     docsMgr,
		graphs:   graphs,
		logger:   logger,
	}
}

// Graph declares the change-triggered stage topology
func (p *Pipeline) Graph() (*pipeline.Graph, error) {
	return pipeline.NewGraph(
		pipeline.Stage{
			Name:    StageCodeChanges,
			Compute: p.computeCodeChanges,
		},
		pipeline.Stage{
			Name:     StageImpact,
			Upstream: []string{StageCodeChanges},
			Compute:  p.computeImpactAssessment,
		},
		pipeline.Stage{
			Name:     StageDocumentation,
			Upstream: []string{StageImpact},
			Compute:  p.computeDocumentationUpdates,
		},
		pipeline.Stage{
			Name:     StageKnowledgeGraph,
			Upstream: []string{StageCodeChanges, StageImpact},
			Compute:  p.computeKnowledgeGraph,
		},
	)
}

// AuditGraph declares the weekly audit as its own single-stage graph.
// It shares nothing with the change-triggered chain and is driven by
// the partition runner, not the commit sensor.
func (p *Pipeline) AuditGraph() (*pipeline.Graph, error) {
	return pipeline.NewGraph(pipeline.Stage{
		Name:    pipeline.AuditStageName,
		Compute: p.computeQualityAudit,
	})
}

func (p *Pipeline) computeCodeChanges(ctx context.Context, _ pipeline.Inputs) (any, error) {
	since := time.Now().Add(-p.cfg.Lookback())
	records, err := p.detector.Detect(ctx, p.cfg.RepoPath, p.cfg.Branch, since)
	if err != nil {
		return nil, err
	}
	p.logger.Info("detected changes",
		slog.String("branch", p.cfg.Branch),
		slog.Int("commits", len(records)))
	return records, nil
}

func (p *Pipeline) computeImpactAssessment(ctx context.Context, in pipeline.Inputs) (any, error) {
	records, err := inputAs[[]types.ChangeRecord](in, StageCodeChanges)
	if err != nil {
		return nil, err
	}

	assessment := &types.ImpactAssessment{
		ID:        uuid.NewString(),
		RiskLevel: types.RiskLow,
		ChangeIDs: changeIDs(records),
	}
	if len(records) == 0 {
		// Nothing to assess. An empty assessment is a valid output and
		// downstream stages still run with it.
		return assessment, nil
	}

	prompt, err := impactPrompt(records)
	if err != nil {
		return nil, err
	}
	result, err := p.agent.Invoke(ctx, agent.Request{
		Prompt:     prompt,
		WorkingDir: p.cfg.RepoPath,
		MaxRetries: -1,
	})
	if err != nil {
		return nil, err
	}

	decoded, err := decodeAssessment(result.Structured)
	if err != nil {
		return nil, err
	}
	decoded.ID = assessment.ID
	decoded.ChangeIDs = assessment.ChangeIDs
	if err := decoded.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedResponse, err)
	}
	p.logger.Info("impact assessed",
		slog.String("assessment", decoded.ID),
		slog.String("risk", string(decoded.RiskLevel)),
		slog.Int("components", len(decoded.AffectedComponents)))
	return decoded, nil
}

func (p *Pipeline) computeDocumentationUpdates(ctx context.Context, in pipeline.Inputs) (any, error) {
	assessment, err := inputAs[*types.ImpactAssessment](in, StageImpact)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	artifacts, err := p.docs.Apply(assessment)
	if err != nil {
		return artifacts, err
	}
	p.logger.Info("documentation updated", slog.Int("artifacts", len(artifacts)))
	return artifacts, nil
}

func (p *Pipeline) computeKnowledgeGraph(ctx context.Context, in pipeline.Inputs) (any, error) {
	records, err := inputAs[[]types.ChangeRecord](in, StageCodeChanges)
	if err != nil {
		return nil, err
	}
	assessment, err := inputAs[*types.ImpactAssessment](in, StageImpact)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snapshot := buildSnapshot(records, assessment, time.Now().UTC())
	version, err := p.graphs.Write(snapshot)
	if err != nil {
		return nil, err
	}
	p.logger.Info("knowledge graph published",
		slog.Int("version", version),
		slog.Int("nodes", len(snapshot.Nodes)),
		slog.Int("edges", len(snapshot.Edges)))
	return GraphResult{Version: version, Snapshot: snapshot}, nil
}

func (p *Pipeline) computeQualityAudit(ctx context.Context, _ pipeline.Inputs) (any, error) {
	files, err := sourceFiles(p.cfg.RepoPath)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		p.logger.Warn("no source files found for audit", slog.String("repo", p.cfg.RepoPath))
		return []types.AuditFinding{}, nil
	}

	result, err := p.agent.Invoke(ctx, agent.Request{
		Prompt:     auditPrompt(p.cfg.RepoPath, files),
		WorkingDir: p.cfg.RepoPath,
		MaxRetries: -1,
	})
	if err != nil {
		return nil, err
	}

	findings, err := decodeFindings(result.Structured)
	if err != nil {
		return nil, err
	}
	p.logger.Info("audit completed",
		slog.Int("files", len(files)),
		slog.Int("findings", len(findings)))
	return findings, nil
}

// inputAs pulls a typed upstream output out of the stage inputs
func inputAs[T any](in pipeline.Inputs, stage string) (T, error) {
	var zero T
	raw, ok := in[stage]
	if !ok {
		return zero, fmt.Errorf("missing upstream output %s", stage)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("upstream %s produced %T, want %T", stage, raw, zero)
	}
	return v, nil
}

func changeIDs(records []types.ChangeRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}
