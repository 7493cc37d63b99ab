package stages

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeintelhq/codeintel/internal/types"
)

func TestDecodeAssessmentDirect(t *testing.T) {
	raw := json.RawMessage(`{
		"architectural_changes": ["split auth"],
		"breaking_changes": [],
		"affected_components": ["auth"],
		"risk_level": "medium"
	}`)

	a, err := decodeAssessment(raw)
	require.NoError(t, err)
	assert.Equal(t, types.RiskMedium, a.RiskLevel)
	assert.Equal(t, []string{"split auth"}, a.ArchitecturalChanges)
	assert.Equal(t, []string{"auth"}, a.AffectedComponents)
}

func TestDecodeAssessmentEnvelope(t *testing.T) {
	raw := json.RawMessage(`{"type": "result", "result": {"risk_level": "high"}}`)

	a, err := decodeAssessment(raw)
	require.NoError(t, err)
	assert.Equal(t, types.RiskHigh, a.RiskLevel)
}

func TestDecodeAssessmentStringEnvelope(t *testing.T) {
	inner := `{"risk_level": "low", "affected_components": ["billing"]}`
	outer, err := json.Marshal(map[string]string{"result": inner})
	require.NoError(t, err)

	a, err := decodeAssessment(outer)
	require.NoError(t, err)
	assert.Equal(t, types.RiskLow, a.RiskLevel)
	assert.Equal(t, []string{"billing"}, a.AffectedComponents)
}

func TestDecodeAssessmentRiskDefaults(t *testing.T) {
	a, err := decodeAssessment(json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, types.RiskLow, a.RiskLevel)

	a, err = decodeAssessment(json.RawMessage(`{"risk_level": "critical"}`))
	require.NoError(t, err)
	assert.Equal(t, types.RiskHigh, a.RiskLevel)

	a, err = decodeAssessment(json.RawMessage(`{"risk_level": "none"}`))
	require.NoError(t, err)
	assert.Equal(t, types.RiskLow, a.RiskLevel)
}

func TestDecodeAssessmentMalformed(t *testing.T) {
	for _, raw := range []string{
		``,
		`"just prose, no json inside"`,
		`{"risk_level": "purple"}`,
		`{"architectural_changes": "not a list"}`,
	} {
		_, err := decodeAssessment(json.RawMessage(raw))
		assert.ErrorIs(t, err, types.ErrMalformedResponse, "raw: %s", raw)
	}
}

func TestDecodeFindingsArray(t *testing.T) {
	raw := json.RawMessage(`[
		{"severity": "critical", "category": "security", "description": "injection", "file_path": "db.go"},
		{"severity": "low", "category": "tech_debt", "description": "dead code"}
	]`)

	findings, err := decodeFindings(raw)
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, types.SeverityCritical, findings[0].Severity)
	assert.Equal(t, "db.go", findings[0].FilePath)
}

func TestDecodeFindingsWrapped(t *testing.T) {
	raw := json.RawMessage(`{"findings": [{"description": "slow loop", "category": "performance"}]}`)

	findings, err := decodeFindings(raw)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	// Missing severity gets the default
	assert.Equal(t, types.SeverityLow, findings[0].Severity)
	assert.Equal(t, types.CategoryPerformance, findings[0].Category)
}

func TestDecodeFindingsDropsEmptyDescriptions(t *testing.T) {
	raw := json.RawMessage(`[{"description": "  "}, {"description": "real issue"}]`)

	findings, err := decodeFindings(raw)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "real issue", findings[0].Description)
	assert.Equal(t, types.CategoryTechDebt, findings[0].Category)
}

func TestDecodeFindingsEmptyReport(t *testing.T) {
	findings, err := decodeFindings(json.RawMessage(`[]`))
	require.NoError(t, err)
	assert.Empty(t, findings)

	findings, err = decodeFindings(json.RawMessage(`{"findings": []}`))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestDecodeFindingsMalformed(t *testing.T) {
	_, err := decodeFindings(json.RawMessage(`{"not": "findings"}`))
	require.NoError(t, err) // an object without findings decodes to none
	_, err = decodeFindings(json.RawMessage(`"prose"`))
	assert.ErrorIs(t, err, types.ErrMalformedResponse)
}
