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

// chatClient implements the chat-completions wire shape shared by
// OpenAI-compatible providers
type chatClient struct {
	name        string
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *logrus.Logger
}

// OpenAI calls the chat completions endpoint
type OpenAI struct {
	chatClient
}

func NewOpenAI(cfg *config.ProviderConfig, logger *logrus.Logger) *OpenAI {
	return &OpenAI{chatClient{
		name:        ProviderOpenAI,
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  newHTTPClient(),
		logger:      logger,
	}}
}

func (c *chatClient) Name() string  { return c.name }
func (c *chatClient) Model() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// usesCompletionTokens reports whether the model family takes
// max_completion_tokens instead of max_tokens and rejects temperature
func usesCompletionTokens(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

func (c *chatClient) Generate(ctx context.Context, prompt, text string) (string, error) {
	reqBody := map[string]interface{}{
		"model": c.model,
		"messages": []chatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: text},
		},
	}
	if usesCompletionTokens(c.model) {
		if c.maxTokens > 0 {
			reqBody["max_completion_tokens"] = c.maxTokens
		}
	} else {
		if c.maxTokens > 0 {
			reqBody["max_tokens"] = c.maxTokens
		}
		reqBody["temperature"] = c.temperature
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	logger.WithRequest(c.logger, c.name, c.model).Debug("Sending AI request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{
			Kind:     KindTransport,
			Provider: c.name,
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
			Provider: c.name,
			Model:    c.model,
			Message:  "failed to read response: " + err.Error(),
			Err:      err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &Error{
			Kind:       KindUpstream,
			Provider:   c.name,
			Model:      c.model,
			StatusCode: resp.StatusCode,
			Message:    truncate(string(body), 500),
		}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Text string `json:"text"`
		} `json:"choices"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &Error{
			Kind:     KindEmptyResult,
			Provider: c.name,
			Model:    c.model,
			Message:  "unparseable response body",
			Err:      err,
		}
	}

	if result.Error.Message != "" {
		return "", &Error{
			Kind:     KindUpstream,
			Provider: c.name,
			Model:    c.model,
			Message:  result.Error.Message,
		}
	}

	for _, choice := range result.Choices {
		if choice.Message.Content != "" {
			return choice.Message.Content, nil
		}
		if choice.Text != "" {
			return choice.Text, nil
		}
	}

	return "", &Error{
		Kind:     KindEmptyResult,
		Provider: c.name,
		Model:    c.model,
		Message:  "no text in response",
	}
}
