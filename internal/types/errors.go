package types

import (
	"context"
	"errors"
)

// Error taxonomy for the pipeline. Stage failures are classified by which of
// these sentinels the stage error wraps; the kind ends up in the RunRecord.
var (
	// ErrRepositoryUnavailable means the repo path or branch is bad.
	// Local precondition, never retried, fatal to the run.
	ErrRepositoryUnavailable = errors.New("repository unavailable")

	// ErrAgentUnavailable means the external agent kept failing at the
	// process level until the retry budget was exhausted.
	ErrAgentUnavailable = errors.New("agent unavailable")

	// ErrMalformedResponse means the agent process ran but its output could
	// not be parsed. Retrying would reproduce the same prompt/parse mismatch,
	// so this is never retried.
	ErrMalformedResponse = errors.New("malformed agent response")

	// ErrInvalidGraph means a snapshot violated the node/edge referential
	// invariant. The write is discarded and the prior latest stays authoritative.
	ErrInvalidGraph = errors.New("invalid knowledge graph")

	// ErrPathTraversal means a documentation artifact tried to escape the
	// docs root. Only that artifact's write is aborted.
	ErrPathTraversal = errors.New("path traversal")
)

// ErrorKind maps an error to the taxonomy name recorded in RunRecords.
// Unclassified errors are reported as "internal".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRepositoryUnavailable):
		return "repository_unavailable"
	case errors.Is(err, ErrAgentUnavailable):
		return "agent_unavailable"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrInvalidGraph):
		return "invalid_graph"
	case errors.Is(err, ErrPathTraversal):
		return "path_traversal"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
