// Package ai wraps the LLM backends used to generate and analyze tasks.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	ProviderGemini = "gemini"
)

// ErrNoProvider is returned when an AI-backed operation has no provider configured.
var ErrNoProvider = errors.New("no AI provider configured")

// Request is a single structured-generation call.
type Request struct {
	Prompt       string
	SystemPrompt string
	// Provider optionally names the backend when several are configured.
	Provider string
}

// Provider generates structured data from a prompt.
type Provider interface {
	Name() string
	GenerateStructuredData(ctx context.Context, req Request) (map[string]any, error)
}

// ProviderError wraps any failure of an AI backend.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (map[string]any, error)

func (f ProviderFunc) Name() string { return "func" }

func (f ProviderFunc) GenerateStructuredData(ctx context.Context, req Request) (map[string]any, error) {
	return f(ctx, req)
}

// DecodeObject parses a model reply into a JSON object. Replies wrapped in a
// markdown code fence or surrounded by prose are tolerated; a top-level array
// is returned under the "items" key.
func DecodeObject(text string) (map[string]any, error) {
	body := extractJSON(text)
	if body == "" {
		return nil, fmt.Errorf("no JSON found in response")
	}

	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return nil, fmt.Errorf("parse response JSON: %w", err)
	}
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case []any:
		return map[string]any{"items": t}, nil
	default:
		return nil, fmt.Errorf("response JSON is %T, want object", v)
	}
}

func extractJSON(text string) string {
	text = strings.TrimSpace(text)

	if start := strings.Index(text, "```"); start >= 0 {
		rest := text[start+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}

	objStart := strings.IndexByte(text, '{')
	arrStart := strings.IndexByte(text, '[')
	switch {
	case objStart >= 0 && (arrStart < 0 || objStart < arrStart):
		if end := strings.LastIndexByte(text, '}'); end > objStart {
			return text[objStart : end+1]
		}
	case arrStart >= 0:
		if end := strings.LastIndexByte(text, ']'); end > arrStart {
			return text[arrStart : end+1]
		}
	}
	return ""
}
