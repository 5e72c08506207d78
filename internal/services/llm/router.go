package llm

import (
	"context"
	"strings"
	"time"

	"github.com/narraform-go/internal/config"
	"github.com/narraform-go/internal/models"
	"github.com/narraform-go/internal/services/ratelimit"
	"github.com/sirupsen/logrus"
)

// RetryPolicy holds the retry ceiling and backoff caps so they are
// independently testable instead of living as magic numbers in the loop
type RetryPolicy struct {
	MaxAttempts          int
	RateBackoffBase      time.Duration
	RateBackoffCap       time.Duration
	TransportBackoffBase time.Duration
	TransportBackoffCap  time.Duration
	EmptyRetryDelay      time.Duration
}

// DefaultRetryPolicy returns the production retry configuration
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:          3,
		RateBackoffBase:      2 * time.Second,
		RateBackoffCap:       30 * time.Second,
		TransportBackoffBase: time.Second,
		TransportBackoffCap:  10 * time.Second,
		EmptyRetryDelay:      2 * time.Second,
	}
}

// PromptSource builds the conversion instruction for a content type
type PromptSource interface {
	Build(contentType models.ContentType, custom string) string
}

// Router selects a configured provider, applies rate governance and
// performs the call with retry and provider fallback
type Router struct {
	governor        *ratelimit.Governor
	prompts         PromptSource
	providers       map[string]Generator
	defaultProvider string
	priority        []string
	policy          RetryPolicy
	logger          *logrus.Logger
}

// NewRouter builds the provider lookup table from configuration.
// Providers without credentials are left out of the table entirely.
func NewRouter(cfg *config.ProvidersConfig, governor *ratelimit.Governor, prompts PromptSource, logger *logrus.Logger) *Router {
	providers := make(map[string]Generator)
	if cfg.Gemini.Configured() {
		providers[ProviderGemini] = NewGemini(&cfg.Gemini, logger)
	}
	if cfg.OpenAI.Configured() {
		providers[ProviderOpenAI] = NewOpenAI(&cfg.OpenAI, logger)
	}
	if cfg.Claude.Configured() {
		providers[ProviderClaude] = NewClaude(&cfg.Claude, logger)
	}
	if cfg.XAI.Configured() {
		providers[ProviderXAI] = NewXAI(&cfg.XAI, logger)
	}

	logger.WithField("providers", len(providers)).Info("LLM router initialized")

	return &Router{
		governor:        governor,
		prompts:         prompts,
		providers:       providers,
		defaultProvider: cfg.Default,
		priority:        mergePriority(cfg.Priority),
		policy:          DefaultRetryPolicy(),
		logger:          logger,
	}
}

// mergePriority puts the configured order first and appends any known
// provider the configuration left out, so substitution always has a
// complete candidate list
func mergePriority(configured []string) []string {
	merged := make([]string, 0, len(providerPriority))
	seen := make(map[string]bool)
	for _, name := range append(append([]string{}, configured...), providerPriority...) {
		if seen[name] {
			continue
		}
		seen[name] = true
		merged = append(merged, name)
	}
	return merged
}

// SetRetryPolicy overrides the default retry configuration
func (r *Router) SetRetryPolicy(policy RetryPolicy) {
	r.policy = policy
}

// Providers returns the names of providers with credentials configured
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for _, name := range r.priority {
		if _, ok := r.providers[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Process converts text using the requested provider, substituting the
// first configured provider when the requested one lacks credentials
func (r *Router) Process(ctx context.Context, text string, contentType models.ContentType, providerName, customPrompt string) (*models.ProcessResult, error) {
	gen, err := r.resolve(providerName)
	if err != nil {
		return nil, err
	}

	prompt := r.prompts.Build(contentType, customPrompt)
	return r.process(ctx, gen, prompt, text, time.Now())
}

func (r *Router) process(ctx context.Context, gen Generator, prompt, text string, start time.Time) (*models.ProcessResult, error) {
	var out string
	var err error
	if gen.Name() == ProviderGemini {
		out, err = r.processGemini(ctx, gen, prompt, text)
	} else {
		out, err = r.processSingle(ctx, gen, prompt, text)
	}
	if err != nil {
		return nil, err
	}

	return &models.ProcessResult{
		Text:       strings.TrimSpace(out),
		Provider:   gen.Name(),
		Model:      gen.Model(),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// resolve picks the generator for a provider name. An explicitly
// requested provider without credentials degrades gracefully to the
// first configured provider in priority order.
func (r *Router) resolve(name string) (Generator, error) {
	if len(r.providers) == 0 {
		return nil, &Error{
			Kind:    KindNotConfigured,
			Message: "no AI provider has credentials configured",
		}
	}

	if name == "" {
		name = r.defaultProvider
	}

	if gen, ok := r.providers[name]; ok {
		return gen, nil
	}

	for _, candidate := range r.priority {
		if gen, ok := r.providers[candidate]; ok {
			r.logger.WithFields(logrus.Fields{
				"requested":  name,
				"substitute": candidate,
			}).Info("Requested provider not configured, substituting")
			return gen, nil
		}
	}

	return nil, &Error{
		Kind:    KindNotConfigured,
		Message: "no AI provider has credentials configured",
	}
}

// processGemini is the governed retry loop: consult the governor before
// each attempt, classify 429s by quota language, back off on transient
// failures, and record the request only on success
func (r *Router) processGemini(ctx context.Context, gen Generator, prompt, text string) (string, error) {
	model := gen.Model()
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if !r.governor.CanMakeRequest(model) {
			status := r.governor.GetRateLimitStatus(model)
			if status.QuotaExceeded {
				return "", r.quotaError(gen, &status)
			}
			if attempt == r.policy.MaxAttempts {
				// Waiting on the final attempt would just stall the
				// caller; fail with the counters instead
				return "", &Error{
					Kind:     KindRateLimited,
					Provider: gen.Name(),
					Model:    model,
					Message:  "rate limit exhausted after retries",
					Status:   &status,
				}
			}
			if err := r.governor.WaitForRateLimit(ctx, model); err != nil {
				return "", &Error{
					Kind:     KindTransport,
					Provider: gen.Name(),
					Model:    model,
					Message:  "cancelled while waiting for rate limit",
					Err:      err,
				}
			}
		}

		out, err := gen.Generate(ctx, prompt, text)
		if err == nil {
			r.governor.RecordRequest(ctx, model)
			return out, nil
		}
		lastErr = err

		typed, ok := AsError(err)
		if !ok {
			// Non-classified failures are not retriable
			return "", err
		}

		switch {
		case typed.Kind == KindUpstream && typed.StatusCode == 429 && hasQuotaLanguage(typed.Message):
			// Waiting cannot help inside this call; surface immediately
			// with the suggested fallback and current usage
			status := r.governor.GetRateLimitStatus(model)
			return "", r.quotaError(gen, &status)

		case typed.Kind == KindUpstream && typed.StatusCode == 429:
			// Rate-limit race with another caller; back off and retry
			r.logger.WithFields(logrus.Fields{
				"model":   model,
				"attempt": attempt,
			}).Warn("Rate limited upstream, backing off")
			if err := r.sleep(ctx, backoff(r.policy.RateBackoffBase, attempt, r.policy.RateBackoffCap)); err != nil {
				return "", err
			}

		case typed.Kind == KindEmptyResult:
			r.logger.WithFields(logrus.Fields{
				"model":   model,
				"attempt": attempt,
			}).Warn("Empty AI response, retrying")
			if err := r.sleep(ctx, r.policy.EmptyRetryDelay); err != nil {
				return "", err
			}

		case typed.Kind == KindTransport:
			r.logger.WithFields(logrus.Fields{
				"model":   model,
				"attempt": attempt,
				"error":   typed.Message,
			}).Warn("Network error, backing off")
			if err := r.sleep(ctx, backoff(r.policy.TransportBackoffBase, attempt, r.policy.TransportBackoffCap)); err != nil {
				return "", err
			}

		default:
			// Any other upstream status is not retriable
			return "", err
		}
	}

	return "", lastErr
}

// processSingle is the one-attempt path used by non-Gemini providers
func (r *Router) processSingle(ctx context.Context, gen Generator, prompt, text string) (string, error) {
	model := gen.Model()

	if !r.governor.CanMakeRequest(model) {
		status := r.governor.GetRateLimitStatus(model)
		if status.QuotaExceeded {
			return "", r.quotaError(gen, &status)
		}
		if err := r.governor.WaitForRateLimit(ctx, model); err != nil {
			return "", &Error{
				Kind:     KindTransport,
				Provider: gen.Name(),
				Model:    model,
				Message:  "cancelled while waiting for rate limit",
				Err:      err,
			}
		}
	}

	out, err := gen.Generate(ctx, prompt, text)
	if err != nil {
		return "", err
	}

	r.governor.RecordRequest(ctx, model)
	return out, nil
}

func (r *Router) quotaError(gen Generator, status *models.RateLimitStatus) error {
	return &Error{
		Kind:             KindQuotaExceeded,
		Provider:         gen.Name(),
		Model:            gen.Model(),
		Message:          "daily quota exhausted",
		AlternativeModel: r.governor.GetAlternativeModel(gen.Model()),
		Status:           status,
	}
}

// sleep blocks for d or until the context is cancelled
func (r *Router) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff doubles the base per attempt, capped
func backoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	d := base << uint(attempt-1)
	if d > max {
		return max
	}
	return d
}

// hasQuotaLanguage reports whether a 429 body talks about daily quota
// rather than a transient per-minute limit
func hasQuotaLanguage(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "quota") || strings.Contains(lower, "daily")
}
