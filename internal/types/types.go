package types

import (
	"fmt"
	"time"
)

// ChangeRecord represents one commit detected in the watched repository.
// Records are immutable once produced by the change detector.
type ChangeRecord struct {
	ID           string    `json:"id"` // commit hash
	Timestamp    time.Time `json:"timestamp"`
	Author       string    `json:"author"`
	Message      string    `json:"message"`
	FilesChanged []string  `json:"files_changed"`
	Additions    int       `json:"additions"`
	Deletions    int       `json:"deletions"`
	DiffExcerpt  string    `json:"diff_excerpt,omitempty"`
}

// RiskLevel classifies the overall risk of a set of changes
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// IsValid checks if the risk level value is valid
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// ImpactAssessment is the agent's structured interpretation of a batch of changes.
// An assessment with empty lists is valid: it means the agent found nothing
// noteworthy, which is distinct from the agent failing or replying garbage.
type ImpactAssessment struct {
	ID                      string    `json:"id"` // assigned by the run that produced it
	ArchitecturalChanges    []string  `json:"architectural_changes"`
	BreakingChanges         []string  `json:"breaking_changes"`
	NewPatterns             []string  `json:"new_patterns"`
	PerformanceImplications []string  `json:"performance_implications"`
	AffectedComponents      []string  `json:"affected_components"`
	RiskLevel               RiskLevel `json:"risk_level"`
	ChangeIDs               []string  `json:"change_ids"` // commits this assessment covers
}

// Validate checks the assessment's field values
func (a *ImpactAssessment) Validate() error {
	if !a.RiskLevel.IsValid() {
		return fmt.Errorf("invalid risk_level: %q", a.RiskLevel)
	}
	return nil
}

// Empty reports whether the assessment carries no findings at all
func (a *ImpactAssessment) Empty() bool {
	return len(a.ArchitecturalChanges) == 0 &&
		len(a.BreakingChanges) == 0 &&
		len(a.NewPatterns) == 0 &&
		len(a.PerformanceImplications) == 0 &&
		len(a.AffectedComponents) == 0
}

// DocumentationArtifact describes one generated or updated documentation file
type DocumentationArtifact struct {
	RelativePath       string    `json:"relative_path"`
	Content            string    `json:"content"`
	GeneratedAt        time.Time `json:"generated_at"`
	SourceAssessmentID string    `json:"source_assessment_id"`
}

// NodeKind classifies knowledge-graph nodes
type NodeKind string

const (
	NodeComponent NodeKind = "component"
	NodeModule    NodeKind = "module"
	NodeClass     NodeKind = "class"
	NodeFunction  NodeKind = "function"
)

// IsValid checks if the node kind value is valid
func (k NodeKind) IsValid() bool {
	switch k {
	case NodeComponent, NodeModule, NodeClass, NodeFunction:
		return true
	}
	return false
}

// EdgeKind classifies knowledge-graph edges
type EdgeKind string

const (
	EdgeDependsOn EdgeKind = "depends_on"
	EdgeCalls     EdgeKind = "calls"
	EdgeContains  EdgeKind = "contains"
)

// IsValid checks if the edge kind value is valid
func (k EdgeKind) IsValid() bool {
	switch k {
	case EdgeDependsOn, EdgeCalls, EdgeContains:
		return true
	}
	return false
}

// GraphNode is one node in the codebase knowledge graph
type GraphNode struct {
	ID         string            `json:"id"`
	Kind       NodeKind          `json:"kind"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// GraphEdge is a directed relationship between two graph nodes
type GraphEdge struct {
	FromID string   `json:"from_id"`
	ToID   string   `json:"to_id"`
	Kind   EdgeKind `json:"kind"`
}

// Metrics holds the numeric measurements captured by one run
type Metrics struct {
	RunID     string             `json:"run_id"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

// KnowledgeGraphSnapshot is the unit of persistence for one run's graph output.
// Snapshots are append-versioned: a new run publishes a new version and never
// mutates a prior one.
type KnowledgeGraphSnapshot struct {
	Nodes   []GraphNode `json:"nodes"`
	Edges   []GraphEdge `json:"edges"`
	Metrics Metrics     `json:"metrics"`
}

// Validate enforces the referential invariant: every edge endpoint must
// reference a node id present in the same snapshot.
func (s *KnowledgeGraphSnapshot) Validate() error {
	ids := make(map[string]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node with empty id")
		}
		if !n.Kind.IsValid() {
			return fmt.Errorf("node %s: invalid kind %q", n.ID, n.Kind)
		}
		if ids[n.ID] {
			return fmt.Errorf("duplicate node id %s", n.ID)
		}
		ids[n.ID] = true
	}
	for _, e := range s.Edges {
		if !e.Kind.IsValid() {
			return fmt.Errorf("edge %s->%s: invalid kind %q", e.FromID, e.ToID, e.Kind)
		}
		if !ids[e.FromID] {
			return fmt.Errorf("edge references unknown node %s", e.FromID)
		}
		if !ids[e.ToID] {
			return fmt.Errorf("edge references unknown node %s", e.ToID)
		}
	}
	return nil
}

// Severity classifies audit findings
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AuditCategory classifies what kind of problem an audit finding describes
type AuditCategory string

const (
	CategoryTechDebt    AuditCategory = "tech_debt"
	CategorySecurity    AuditCategory = "security"
	CategoryPerformance AuditCategory = "performance"
	CategoryConsistency AuditCategory = "consistency"
)

// AuditFinding is one issue reported by the weekly code-quality audit
type AuditFinding struct {
	Severity     Severity      `json:"severity"`
	Category     AuditCategory `json:"category"`
	FilePath     string        `json:"file_path,omitempty"`
	Description  string        `json:"description"`
	SuggestedFix string        `json:"suggested_fix,omitempty"`
}

// TriggerKind says what started a run
type TriggerKind string

const (
	TriggerEvent    TriggerKind = "event"
	TriggerSchedule TriggerKind = "schedule"
)

// StageStatus is the lifecycle state of one stage within a run
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// Terminal reports whether the stage has reached a final state
func (s StageStatus) Terminal() bool {
	switch s {
	case StageSucceeded, StageFailed, StageSkipped:
		return true
	}
	return false
}

// RunStatus is the overall outcome of a run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunRecord tracks one end-to-end execution of the stage graph.
// It is created at run start and mutated only by the scheduler that owns it.
type RunRecord struct {
	RunID       string                 `json:"run_id"`
	Fingerprint string                 `json:"fingerprint"`
	TriggerKind TriggerKind            `json:"trigger_kind"`
	Partition   string                 `json:"partition,omitempty"` // week-start date for scheduled audits
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Status      RunStatus              `json:"status"`
	Stages      map[string]StageStatus `json:"stage_statuses"`
	StageErrors map[string]string      `json:"stage_errors,omitempty"` // stage name -> terminal error kind
}

// Clone returns a deep copy so callers can inspect a record without racing
// the scheduler that owns the original.
func (r *RunRecord) Clone() *RunRecord {
	out := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	out.Stages = make(map[string]StageStatus, len(r.Stages))
	for k, v := range r.Stages {
		out.Stages[k] = v
	}
	out.StageErrors = make(map[string]string, len(r.StageErrors))
	for k, v := range r.StageErrors {
		out.StageErrors[k] = v
	}
	return &out
}
