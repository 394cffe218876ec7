package provider

import (
	"context"
	"fmt"
)

// GeminiProvider is a placeholder for Google Gemini.
type GeminiProvider struct {
	apiKey string
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(apiKey string) *GeminiProvider {
	return &GeminiProvider{apiKey: apiKey}
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// SupportsTools reports tool-use support.
func (p *GeminiProvider) SupportsTools() bool {
	return false
}

// SupportsVision reports image-input support.
func (p *GeminiProvider) SupportsVision() bool {
	return false
}

// Generate is not available yet for Gemini.
func (p *GeminiProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	return nil, wrapError(p.Name(), ClassFatal, fmt.Errorf("gemini provider not yet implemented - use anthropic or openai"))
}

// GenerateStream is not available yet for Gemini.
func (p *GeminiProvider) GenerateStream(ctx context.Context, req Request) (*Stream, error) {
	return nil, wrapError(p.Name(), ClassFatal, fmt.Errorf("gemini provider not yet implemented - use anthropic or openai"))
}
