package llm

import (
	"strings"

	"github.com/narraform-go/internal/config"
	"github.com/sirupsen/logrus"
)

// XAI mirrors the OpenAI chat-completions wire shape
type XAI struct {
	chatClient
}

func NewXAI(cfg *config.ProviderConfig, logger *logrus.Logger) *XAI {
	return &XAI{chatClient{
		name:        ProviderXAI,
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  newHTTPClient(),
		logger:      logger,
	}}
}
