package agent

import (
	"encoding/json"
	"strings"
)

// The agent's stdout is free-form text with a structured JSON document
// embedded somewhere in it. Extraction tries three strategies, most
// explicit first:
//
//  1. marker block:  === AGENT REPORT === {...} === END AGENT REPORT ===
//  2. fenced block:  ```json ... ```
//  3. trailing bare JSON object in the output
//
// Failing all three means the response is malformed.

const (
	reportStartMarker = "=== AGENT REPORT ==="
	reportEndMarker   = "=== END AGENT REPORT ==="
)

// extractStructured pulls the structured JSON document out of raw agent output.
// Returns nil if no valid JSON document is found.
func extractStructured(output string) json.RawMessage {
	if doc := extractBetweenMarkers(output, reportStartMarker, reportEndMarker); doc != nil {
		return doc
	}
	if doc := extractFromCodeFence(output, "json"); doc != nil {
		return doc
	}
	return extractTrailingJSON(output)
}

// extractBetweenMarkers extracts JSON between explicit start/end markers
func extractBetweenMarkers(text, startMarker, endMarker string) json.RawMessage {
	startIdx := strings.Index(text, startMarker)
	if startIdx == -1 {
		return nil
	}
	searchStart := startIdx + len(startMarker)
	endIdx := strings.Index(text[searchStart:], endMarker)
	if endIdx == -1 {
		return nil
	}
	return validJSON(text[searchStart : searchStart+endIdx])
}

// extractFromCodeFence extracts JSON from a ```language fenced block
func extractFromCodeFence(text, language string) json.RawMessage {
	marker := "```" + language
	startIdx := strings.Index(text, marker)
	if startIdx == -1 {
		return nil
	}
	body := text[startIdx+len(marker):]
	if nl := strings.IndexByte(body, '\n'); nl != -1 {
		body = body[nl+1:]
	}
	endIdx := strings.Index(body, "```")
	if endIdx == -1 {
		return nil
	}
	return validJSON(body[:endIdx])
}

// extractTrailingJSON finds the last balanced top-level JSON object or array
// in the output. Handles agents that print the document raw, possibly with
// prose before it.
func extractTrailingJSON(text string) json.RawMessage {
	// Walk backwards over candidate opening braces so that the last
	// complete document wins.
	for end := len(text); end > 0; {
		closeIdx := strings.LastIndexAny(text[:end], "}]")
		if closeIdx == -1 {
			return nil
		}
		open := byte('{')
		if text[closeIdx] == ']' {
			open = '['
		}
		openIdx := matchingOpen(text[:closeIdx+1], open, text[closeIdx])
		if openIdx != -1 {
			if doc := validJSON(text[openIdx : closeIdx+1]); doc != nil {
				return doc
			}
		}
		end = closeIdx
	}
	return nil
}

// matchingOpen scans backwards from the final close delimiter to find its
// matching opener, ignoring nesting of the same pair. Returns -1 if unbalanced.
func matchingOpen(text string, open, close byte) int {
	depth := 0
	for i := len(text) - 1; i >= 0; i-- {
		switch text[i] {
		case close:
			depth++
		case open:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// validJSON trims the candidate and verifies it parses; returns nil otherwise
func validJSON(candidate string) json.RawMessage {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return nil
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return nil
	}
	if !json.Valid([]byte(trimmed)) {
		return nil
	}
	return json.RawMessage(trimmed)
}
