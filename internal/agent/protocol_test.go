package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractStructuredMarkers(t *testing.T) {
	output := `some preamble
=== AGENT REPORT ===
{"risk_level": "low", "affected_components": []}
=== END AGENT REPORT ===
trailing chatter`

	doc := extractStructured(output)
	require.NotNil(t, doc)
	assert.JSONEq(t, `{"risk_level": "low", "affected_components": []}`, string(doc))
}

func TestExtractStructuredCodeFence(t *testing.T) {
	output := "Here is the assessment:\n```json\n{\"risk_level\": \"high\"}\n```\nDone."

	doc := extractStructured(output)
	require.NotNil(t, doc)
	assert.JSONEq(t, `{"risk_level": "high"}`, string(doc))
}

func TestExtractStructuredTrailingJSON(t *testing.T) {
	output := `Analysis complete.
{"risk_level": "medium", "breaking_changes": ["renamed API"]}`

	doc := extractStructured(output)
	require.NotNil(t, doc)
	assert.Contains(t, string(doc), "renamed API")
}

func TestExtractStructuredMarkersWinOverFence(t *testing.T) {
	output := "```json\n{\"from\": \"fence\"}\n```\n" +
		"=== AGENT REPORT ===\n{\"from\": \"markers\"}\n=== END AGENT REPORT ===\n"

	doc := extractStructured(output)
	require.NotNil(t, doc)
	assert.JSONEq(t, `{"from": "markers"}`, string(doc))
}

func TestExtractStructuredNoDocument(t *testing.T) {
	for _, output := range []string{
		"",
		"no json here at all",
		"=== AGENT REPORT ===\nnot json\n=== END AGENT REPORT ===",
		"{\"unterminated\": ",
	} {
		assert.Nil(t, extractStructured(output), "output: %q", output)
	}
}

func TestExtractStructuredArray(t *testing.T) {
	doc := extractStructured(`[{"severity": "low", "description": "x"}]`)
	require.NotNil(t, doc)
	assert.JSONEq(t, `[{"severity": "low", "description": "x"}]`, string(doc))
}
