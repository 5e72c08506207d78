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

const anthropicVersion = "2023-06-01"

// Claude calls Anthropic's messages endpoint
type Claude struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *logrus.Logger
}

func NewClaude(cfg *config.ProviderConfig, logger *logrus.Logger) *Claude {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		// max_tokens is mandatory for the messages API
		maxTokens = 8192
	}
	return &Claude{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		httpClient:  newHTTPClient(),
		logger:      logger,
	}
}

func (c *Claude) Name() string  { return ProviderClaude }
func (c *Claude) Model() string { return c.model }

type claudeRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

func (c *Claude) Generate(ctx context.Context, prompt, text string) (string, error) {
	reqBody := claudeRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    prompt,
		Messages: []chatMessage{
			{Role: "user", Content: text},
		},
		Temperature: c.temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/messages"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	logger.WithRequest(c.logger, ProviderClaude, c.model).Debug("Sending AI request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{
			Kind:     KindTransport,
			Provider: ProviderClaude,
			Model:    c.model,
			Message:  err.Error(),
			Err:      err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{
			Kind:     KindTransport,
			Provider: ProviderClaude,
			Model:    c.model,
			Message:  "failed to read response: " + err.Error(),
			Err:      err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &Error{
			Kind:       KindUpstream,
			Provider:   ProviderClaude,
			Model:      c.model,
			StatusCode: resp.StatusCode,
			Message:    truncate(string(body), 500),
		}
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &Error{
			Kind:     KindEmptyResult,
			Provider: ProviderClaude,
			Model:    c.model,
			Message:  "unparseable response body",
			Err:      err,
		}
	}

	if result.Error.Message != "" {
		return "", &Error{
			Kind:     KindUpstream,
			Provider: ProviderClaude,
			Model:    c.model,
			Message:  result.Error.Message,
		}
	}

	var sb strings.Builder
	for _, block := range result.Content {
		if block.Type == "" || block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", &Error{
			Kind:     KindEmptyResult,
			Provider: ProviderClaude,
			Model:    c.model,
			Message:  "no text in response",
		}
	}

	return sb.String(), nil
}
