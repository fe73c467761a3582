package ai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey string
	Model  string
	// SystemPrompt is prepended to every request's system prompt.
	SystemPrompt string
}

// Gemini generates structured data with the Google Gemini API.
type Gemini struct {
	apiKey string
	model  string
	system string

	once   sync.Once
	client *genai.Client
	err    error
}

// NewGemini creates a Gemini provider. The client is created on first use.
func NewGemini(cfg GeminiConfig) (*Gemini, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{apiKey: key, model: model, system: strings.TrimSpace(cfg.SystemPrompt)}, nil
}

func (g *Gemini) Name() string { return ProviderGemini }

func (g *Gemini) getClient(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		g.client, g.err = genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	})
	return g.client, g.err
}

// GenerateStructuredData asks the model for a JSON object.
func (g *Gemini) GenerateStructuredData(ctx context.Context, req Request) (map[string]any, error) {
	client, err := g.getClient(ctx)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderGemini, Op: "create client", Err: err}
	}

	model := client.GenerativeModel(g.model)
	model.ResponseMIMEType = "application/json"
	if system := joinPrompts(g.system, req.SystemPrompt); system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, &ProviderError{Provider: ProviderGemini, Op: "generate", Err: err}
	}

	text := responseText(resp)
	if text == "" {
		return nil, &ProviderError{Provider: ProviderGemini, Op: "generate", Err: errors.New("empty response")}
	}
	data, err := DecodeObject(text)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderGemini, Op: "decode", Err: err}
	}
	return data, nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		break
	}
	return sb.String()
}

func joinPrompts(prompts ...string) string {
	var parts []string
	for _, p := range prompts {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}
