package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/narraform-go/internal/config"
	"github.com/narraform-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

// Gemini calls Google's generateContent endpoint
type Gemini struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *logrus.Logger
}

func NewGemini(cfg *config.ProviderConfig, logger *logrus.Logger) *Gemini {
	return &Gemini{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  newHTTPClient(),
		logger:      logger,
	}
}

func (g *Gemini) Name() string  { return ProviderGemini }
func (g *Gemini) Model() string { return g.model }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

// Generate performs a single generateContent call. HTTP and parse
// failures are returned as typed errors for the router to classify.
func (g *Gemini) Generate(ctx context.Context, prompt, text string) (string, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: prompt + "\n\n" + text}}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     g.temperature,
			MaxOutputTokens: g.maxTokens,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	logger.WithRequest(g.logger, ProviderGemini, g.model).Debug("Sending AI request")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", &Error{
			Kind:     KindTransport,
			Provider: ProviderGemini,
			Model:    g.model,
			Message:  err.Error(),
			Err:      err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{
			Kind:     KindTransport,
			Provider: ProviderGemini,
			Model:    g.model,
			Message:  "failed to read response: " + err.Error(),
			Err:      err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &Error{
			Kind:       KindUpstream,
			Provider:   ProviderGemini,
			Model:      g.model,
			StatusCode: resp.StatusCode,
			Message:    truncate(string(body), 500),
		}
	}

	out := parseGeminiResponse(body)
	if out == "" {
		return "", &Error{
			Kind:     KindEmptyResult,
			Provider: ProviderGemini,
			Model:    g.model,
			Message:  "no text in response",
		}
	}

	return out, nil
}

// parseGeminiResponse probes the candidate structures Gemini has been
// observed to return; the shape is not identical call-to-call
func parseGeminiResponse(body []byte) string {
	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			Output string `json:"output"`
			Text   string `json:"text"`
		} `json:"candidates"`
		Text string `json:"text"`
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return ""
	}

	for _, candidate := range result.Candidates {
		var sb strings.Builder
		for _, part := range candidate.Content.Parts {
			sb.WriteString(part.Text)
		}
		if sb.Len() > 0 {
			return sb.String()
		}
		if candidate.Output != "" {
			return candidate.Output
		}
		if candidate.Text != "" {
			return candidate.Text
		}
	}

	return result.Text
}
