package ai

import (
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
)

func TestDecodeObject(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string
		wantErr bool
	}{
		{name: "plain object", input: `{"tasks":[]}`, wantKey: "tasks"},
		{name: "fenced json", input: "Here you go:\n```json\n{\"tasks\": [1]}\n```\nThanks", wantKey: "tasks"},
		{name: "fence without language", input: "```\n{\"score\": 4}\n```", wantKey: "score"},
		{name: "prose around object", input: `Result: {"a": {"b": 1}} done`, wantKey: "a"},
		{name: "array", input: `[{"title":"x"}]`, wantKey: "items"},
		{name: "no json", input: "sorry, I cannot", wantErr: true},
		{name: "broken json", input: `{"a": }`, wantErr: true},
		{name: "scalar", input: "```\n42\n```", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeObject(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, ok := got[tt.wantKey]; !ok {
				t.Errorf("missing key %q in %v", tt.wantKey, got)
			}
		})
	}
}

func TestProviderError(t *testing.T) {
	cause := errors.New("quota exceeded")
	err := error(&ProviderError{Provider: ProviderGemini, Op: "generate", Err: cause})

	if !errors.Is(err, cause) {
		t.Error("ProviderError should unwrap to its cause")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Provider != ProviderGemini {
		t.Errorf("errors.As failed: %v", err)
	}
	if got, want := err.Error(), "gemini provider: generate: quota exceeded"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewGeminiRequiresKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	if _, err := NewGemini(GeminiConfig{}); err == nil {
		t.Error("expected error without an API key")
	}

	g, err := NewGemini(GeminiConfig{APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if g.model != DefaultGeminiModel {
		t.Errorf("model = %q, want default", g.model)
	}
	if err := g.Close(); err != nil {
		t.Errorf("Close on unused provider: %v", err)
	}
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"a":`), genai.Text(`1}`)}}},
			{Content: &genai.Content{Parts: []genai.Part{genai.Text("ignored")}}},
		},
	}
	if got := responseText(resp); got != `{"a":1}` {
		t.Errorf("responseText = %q", got)
	}
	if got := responseText(nil); got != "" {
		t.Errorf("responseText(nil) = %q", got)
	}
}

func TestJoinPrompts(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"", "  "}, ""},
		{[]string{"base", ""}, "base"},
		{[]string{" base ", "task"}, "base\n\ntask"},
	}
	for _, tt := range tests {
		if got := joinPrompts(tt.in...); got != tt.want {
			t.Errorf("joinPrompts(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
