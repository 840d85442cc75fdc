package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// The decoders in this file isolate free-form model output behind a strict
// schema: callers get a parsed value or a reason, never a panic. Malformed
// output is a parse failure, not a crash.

// MoveOutput is the schema the generative fallback must produce.
type MoveOutput struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Reason  string `json:"reason,omitempty"`
}

// VerificationOutput is the schema of the post-win verification pass.
type VerificationOutput struct {
	Items []VerificationOutputItem `json:"items"`
}

type VerificationOutputItem struct {
	Index           int     `json:"index"`
	Question        string  `json:"question"`
	UserAnswer      string  `json:"userAnswer"`
	SuggestedAnswer string  `json:"suggestedAnswer"`
	Confidence      float64 `json:"confidence"`
	Reason          string  `json:"reason"`
}

// FactOutput is the schema of a knowledge-gap answer batch.
type FactOutput struct {
	Items []FactOutputItem `json:"items"`
}

type FactOutputItem struct {
	EntityID   string  `json:"candidate_id"`
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

// extractJSON trims anything around the outermost JSON object. Models often
// wrap JSON in prose or code fences.
func extractJSON(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in output")
	}
	return raw[start : end+1], nil
}

// DecodeMove parses the generative fallback output.
func DecodeMove(raw string) (*MoveOutput, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	var out MoveOutput
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("malformed move JSON: %w", err)
	}
	out.Type = strings.ToLower(strings.TrimSpace(out.Type))
	out.Content = strings.TrimSpace(out.Content)
	if out.Type != "question" && out.Type != "guess" {
		return nil, fmt.Errorf("unexpected move type %q", out.Type)
	}
	if out.Content == "" {
		return nil, fmt.Errorf("empty move content")
	}
	return &out, nil
}

// DecodeVerification parses the verification pass output. Items with an
// index outside [1, historyLen] are dropped.
func DecodeVerification(raw string, historyLen int) (*VerificationOutput, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	var out VerificationOutput
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("malformed verification JSON: %w", err)
	}
	kept := out.Items[:0]
	for _, it := range out.Items {
		if it.Index >= 1 && it.Index <= historyLen {
			kept = append(kept, it)
		}
	}
	out.Items = kept
	return &out, nil
}

// DecodeFacts parses a knowledge-gap answer batch.
func DecodeFacts(raw string) (*FactOutput, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	var out FactOutput
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("malformed facts JSON: %w", err)
	}
	return &out, nil
}
