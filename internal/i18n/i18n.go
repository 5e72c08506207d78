package i18n

import (
	"encoding/json"
	"fmt"

	"github.com/narraform-go/internal/config"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// Localizer manages internationalization of user-facing guidance
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	// Load language files
	for _, lang := range cfg.Languages {
		if _, err := bundle.LoadMessageFile(fmt.Sprintf("%s/%s.json", cfg.Directory, lang)); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range cfg.Languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
	}, nil
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Message IDs
const (
	MsgNotConfigured     = "not_configured"
	MsgQuotaExceeded     = "quota_exceeded"
	MsgRateLimited       = "rate_limited"
	MsgUpstreamError     = "upstream_error"
	MsgEmptyResult       = "empty_result"
	MsgTransportError    = "transport_error"
	MsgChapterNotFound   = "chapter_not_found"
	MsgInvalidRequest    = "invalid_request"
	MsgCacheCleared      = "cache_cleared"
	MsgQuotaReset        = "quota_reset"
	MsgInternalError     = "internal_error"
)
