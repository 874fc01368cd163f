// Package llm provides the text generation backend.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"
)

// ErrEmptyResponse is returned when the model answers without any text.
var ErrEmptyResponse = errors.New("no text in model response")

// GeminiProvider generates text with a Gemini model.
type GeminiProvider struct {
	llm    model.LLM
	model  string
	config *genai.GenerateContentConfig
}

// GeminiConfig holds configuration for the Gemini provider.
type GeminiConfig struct {
	APIKey      string
	Model       string  // e.g., "gemini-flash-latest"
	Temperature float32 // 0 keeps the model default
	MaxTokens   int32   // 0 keeps the model default
}

// NewGeminiProvider creates a provider backed by the Gemini API.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key not set")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini model not set")
	}

	m, err := gemini.NewModel(ctx, cfg.Model, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini model (%s): %w", cfg.Model, err)
	}
	return NewProvider(m, cfg), nil
}

// NewProvider wraps an existing model. Used with mock models in tests.
func NewProvider(m model.LLM, cfg GeminiConfig) *GeminiProvider {
	name := cfg.Model
	if name == "" {
		name = m.Name()
	}

	var genCfg *genai.GenerateContentConfig
	if cfg.Temperature > 0 || cfg.MaxTokens > 0 {
		genCfg = &genai.GenerateContentConfig{}
		if cfg.Temperature > 0 {
			genCfg.Temperature = genai.Ptr(cfg.Temperature)
		}
		if cfg.MaxTokens > 0 {
			genCfg.MaxOutputTokens = cfg.MaxTokens
		}
	}

	return &GeminiProvider{
		llm:    m,
		model:  name,
		config: genCfg,
	}
}

// Generate produces a response for the prompt.
func (p *GeminiProvider) Generate(ctx context.Context, prompt string) (string, error) {
	req := &model.LLMRequest{
		Model:    p.model,
		Contents: genai.Text(prompt),
		Config:   p.config,
	}

	var b strings.Builder
	for resp, err := range p.llm.GenerateContent(ctx, req, false) {
		if err != nil {
			return "", fmt.Errorf("gemini generate failed: %w", err)
		}
		if resp == nil {
			continue
		}
		if resp.ErrorCode != "" {
			return "", fmt.Errorf("gemini generate failed: %s: %s", resp.ErrorCode, resp.ErrorMessage)
		}
		if resp.Content == nil {
			continue
		}
		for _, part := range resp.Content.Parts {
			if part != nil && part.Text != "" && !part.Thought {
				b.WriteString(part.Text)
			}
		}
	}

	if strings.TrimSpace(b.String()) == "" {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

// Model returns the model name.
func (p *GeminiProvider) Model() string {
	return p.model
}
