package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeintelhq/codeintel/internal/stages"
	"github.com/codeintelhq/codeintel/internal/types"
)

func TestRunOutcome(t *testing.T) {
	ok := &types.RunRecord{RunID: "r1", Status: types.RunSucceeded}
	assert.NoError(t, runOutcome(ok))

	failed := &types.RunRecord{RunID: "r2", Status: types.RunFailed}
	err := runOutcome(failed)
	assert.ErrorContains(t, err, "r2")
	assert.ErrorContains(t, err, string(types.RunFailed))
}

func TestStageOrder(t *testing.T) {
	r := &types.RunRecord{Stages: map[string]types.StageStatus{
		stages.StageKnowledgeGraph: types.StageSucceeded,
		stages.StageCodeChanges:    types.StageSucceeded,
		stages.StageImpact:         types.StageFailed,
		"extra_stage":              types.StageSkipped,
	}}
	assert.Equal(t, []string{
		stages.StageCodeChanges,
		stages.StageImpact,
		stages.StageKnowledgeGraph,
		"extra_stage",
	}, stageOrder(r))
}
