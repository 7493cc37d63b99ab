package stages

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codeintelhq/codeintel/internal/types"
)

// The agent CLI in --output-format json mode may wrap its answer in a
// transcript envelope, emit the document directly, or emit it as a
// JSON-encoded string inside the envelope. The decoders unwrap each of
// those forms before giving up.

// decodeAssessment turns an extracted agent document into an
// ImpactAssessment. Unknown risk levels default to low rather than
// failing the stage; a document that is not an assessment at all is
// ErrMalformedResponse.
func decodeAssessment(raw json.RawMessage) (*types.ImpactAssessment, error) {
	doc, err := unwrap(raw)
	if err != nil {
		return nil, err
	}

	var a types.ImpactAssessment
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedResponse, err)
	}
	if a.RiskLevel == "" {
		a.RiskLevel = types.RiskLow
	}
	if !a.RiskLevel.IsValid() {
		// Agents occasionally report "none" or "critical"; clamp into
		// the model's range instead of discarding the whole assessment.
		switch strings.ToLower(string(a.RiskLevel)) {
		case "none", "minimal":
			a.RiskLevel = types.RiskLow
		case "critical", "severe":
			a.RiskLevel = types.RiskHigh
		default:
			return nil, fmt.Errorf("%w: unknown risk_level %q", types.ErrMalformedResponse, a.RiskLevel)
		}
	}
	return &a, nil
}

// decodeFindings turns an extracted agent document into audit findings.
// Accepts a bare array or an object with a findings/issues key. Entries
// with no description are dropped; missing enum values get defaults.
func decodeFindings(raw json.RawMessage) ([]types.AuditFinding, error) {
	doc, err := unwrap(raw)
	if err != nil {
		return nil, err
	}

	var findings []types.AuditFinding
	if err := json.Unmarshal(doc, &findings); err != nil {
		var wrapper struct {
			Findings []types.AuditFinding `json:"findings"`
			Issues   []types.AuditFinding `json:"issues"`
		}
		if err := json.Unmarshal(doc, &wrapper); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrMalformedResponse, err)
		}
		findings = wrapper.Findings
		if len(findings) == 0 {
			findings = wrapper.Issues
		}
	}

	out := make([]types.AuditFinding, 0, len(findings))
	for _, f := range findings {
		if strings.TrimSpace(f.Description) == "" {
			continue
		}
		if f.Severity == "" {
			f.Severity = types.SeverityLow
		}
		if f.Category == "" {
			f.Category = types.CategoryTechDebt
		}
		out = append(out, f)
	}
	return out, nil
}

// unwrap peels agent transcript envelopes off a document. A {"result":
// ...} envelope is unwrapped recursively; a JSON string is decoded and
// its contents treated as the document.
func unwrap(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := json.RawMessage(strings.TrimSpace(string(raw)))
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", types.ErrMalformedResponse)
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrMalformedResponse, err)
		}
		inner := strings.TrimSpace(s)
		if !strings.HasPrefix(inner, "{") && !strings.HasPrefix(inner, "[") {
			return nil, fmt.Errorf("%w: string payload is not JSON", types.ErrMalformedResponse)
		}
		return unwrap(json.RawMessage(inner))
	case '{':
		var envelope struct {
			Result json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err == nil && len(envelope.Result) > 0 {
			return unwrap(envelope.Result)
		}
	}
	return trimmed, nil
}
