package llm

import (
	"context"
	"net/http"
	"time"
)

// Provider names form a closed set selected by a lookup table
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderXAI    = "xai"
)

// providerPriority is the built-in substitution order, used as the
// backstop when the configuration does not order a provider
var providerPriority = []string{ProviderGemini, ProviderOpenAI, ProviderClaude, ProviderXAI}

// Generator is the uniform capability every provider implements
type Generator interface {
	Name() string
	Model() string
	Generate(ctx context.Context, prompt, text string) (string, error)
}

// newHTTPClient returns the shared client configuration for provider calls
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 120 * time.Second,
	}
}

// truncate shortens provider error bodies for logs and error messages
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
