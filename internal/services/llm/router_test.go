package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/narraform-go/internal/config"
	"github.com/narraform-go/internal/models"
	"github.com/narraform-go/internal/services/ratelimit"
	"github.com/sirupsen/logrus"
)

type staticPrompts struct{}

func (staticPrompts) Build(contentType models.ContentType, custom string) string {
	if custom != "" {
		return custom
	}
	return "convert this"
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testGovernor(t *testing.T) *ratelimit.Governor {
	t.Helper()
	cfg := &config.RateLimitConfig{
		Models: map[string]config.ModelLimit{
			"gemini-2.5-pro": {RequestsPerMinute: 100, DailyQuota: 1000},
		},
		Default: config.ModelLimit{RequestsPerMinute: 100, DailyQuota: 1000},
		Alternatives: map[string]string{
			"gemini-2.5-pro": "gemini-2.5-flash",
		},
	}
	return ratelimit.NewGovernor(cfg, ratelimit.NewMemoryStore(), testLogger())
}

// fastPolicy keeps retry delays negligible in tests
func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:          3,
		RateBackoffBase:      time.Millisecond,
		RateBackoffCap:       10 * time.Millisecond,
		TransportBackoffBase: time.Millisecond,
		TransportBackoffCap:  5 * time.Millisecond,
		EmptyRetryDelay:      time.Millisecond,
	}
}

func newTestRouter(t *testing.T, cfg *config.ProvidersConfig, governor *ratelimit.Governor) *Router {
	t.Helper()
	if governor == nil {
		governor = testGovernor(t)
	}
	r := NewRouter(cfg, governor, staticPrompts{}, testLogger())
	r.SetRetryPolicy(fastPolicy())
	return r
}

func geminiConfig(serverURL string) *config.ProvidersConfig {
	return &config.ProvidersConfig{
		Default: "gemini",
		Gemini: config.ProviderConfig{
			APIKey:  "test-key",
			BaseURL: serverURL,
			Model:   "gemini-2.5-pro",
		},
	}
}

const geminiOK = `{"candidates":[{"content":{"parts":[{"text":"  NARRATOR: It begins.  "}]}}]}`

func TestProcessGeminiSuccess(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(geminiOK))
	}))
	defer server.Close()

	governor := testGovernor(t)
	router := newTestRouter(t, geminiConfig(server.URL), governor)

	result, err := router.Process(context.Background(), "chapter text", models.ContentTypeNovel, "", "")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Text != "NARRATOR: It begins." {
		t.Errorf("expected trimmed text, got %q", result.Text)
	}
	if result.Provider != "gemini" {
		t.Errorf("expected gemini provider, got %s", result.Provider)
	}
	if calls != 1 {
		t.Errorf("expected 1 HTTP call, got %d", calls)
	}

	// Success records exactly one request with the governor
	status := governor.GetRateLimitStatus("gemini-2.5-pro")
	if status.RequestsToday != 1 {
		t.Errorf("expected 1 recorded request, got %d", status.RequestsToday)
	}
}

func TestProcessNoProvidersConfigured(t *testing.T) {
	router := newTestRouter(t, &config.ProvidersConfig{Default: "gemini"}, nil)

	_, err := router.Process(context.Background(), "text", models.ContentTypeNovel, "", "")
	typed, ok := AsError(err)
	if !ok || typed.Kind != KindNotConfigured {
		t.Fatalf("expected NotConfigured error, got %v", err)
	}
}

func TestProcessFallsBackToConfiguredProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"shot list"}}]}`))
	}))
	defer server.Close()

	cfg := &config.ProvidersConfig{
		Default: "gemini",
		OpenAI: config.ProviderConfig{
			APIKey:  "test-key",
			BaseURL: server.URL,
			Model:   "gpt-4o",
		},
	}
	router := newTestRouter(t, cfg, nil)

	// Gemini is requested explicitly but has no credentials
	result, err := router.Process(context.Background(), "scene", models.ContentTypeScreenplay, "gemini", "")
	if err != nil {
		t.Fatalf("expected graceful substitution, got %v", err)
	}
	if result.Provider != "openai" {
		t.Errorf("expected openai substitute, got %s", result.Provider)
	}
	if result.Text != "shot list" {
		t.Errorf("unexpected text %q", result.Text)
	}
}

func TestConfiguredPriorityDrivesSubstitution(t *testing.T) {
	claudeServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[{"type":"text","text":"from claude"}]}`))
	}))
	defer claudeServer.Close()
	openaiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"from openai"}}]}`))
	}))
	defer openaiServer.Close()

	cfg := &config.ProvidersConfig{
		Default:  "gemini",
		Priority: []string{"claude", "openai"},
		OpenAI: config.ProviderConfig{
			APIKey:  "test-key",
			BaseURL: openaiServer.URL,
			Model:   "gpt-4o",
		},
		Claude: config.ProviderConfig{
			APIKey:  "test-key",
			BaseURL: claudeServer.URL,
			Model:   "claude-sonnet-4-20250514",
		},
	}
	router := newTestRouter(t, cfg, nil)

	// Configured order wins over the built-in one
	if names := router.Providers(); len(names) != 2 || names[0] != "claude" || names[1] != "openai" {
		t.Fatalf("expected configured priority order, got %v", names)
	}

	// Gemini has no credentials; the substitute follows the configured order
	result, err := router.Process(context.Background(), "scene", models.ContentTypeScreenplay, "gemini", "")
	if err != nil {
		t.Fatalf("expected graceful substitution, got %v", err)
	}
	if result.Provider != "claude" {
		t.Errorf("expected claude substitute, got %s", result.Provider)
	}
	if result.Text != "from claude" {
		t.Errorf("unexpected text %q", result.Text)
	}
}

func TestProcessQuota429SingleAttempt(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"You have exceeded your daily quota for this model"}}`))
	}))
	defer server.Close()

	router := newTestRouter(t, geminiConfig(server.URL), nil)

	_, err := router.Process(context.Background(), "text", models.ContentTypeNovel, "", "")
	typed, ok := AsError(err)
	if !ok || typed.Kind != KindQuotaExceeded {
		t.Fatalf("expected QuotaExceeded, got %v", err)
	}
	if typed.AlternativeModel != "gemini-2.5-flash" {
		t.Errorf("expected flash suggested, got %q", typed.AlternativeModel)
	}
	if typed.Status == nil {
		t.Error("expected usage counters attached to quota error")
	}
	if calls != 1 {
		t.Errorf("quota 429 must not be retried, got %d attempts", calls)
	}
}

func TestProcessTransient429Retries(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"resource temporarily unavailable"}}`))
	}))
	defer server.Close()

	router := newTestRouter(t, geminiConfig(server.URL), nil)

	_, err := router.Process(context.Background(), "text", models.ContentTypeNovel, "", "")
	typed, ok := AsError(err)
	if !ok || typed.Kind != KindUpstream || typed.StatusCode != 429 {
		t.Fatalf("expected surfaced 429 after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts for transient 429s, got %d", calls)
	}
}

func TestProcessEmptyResponseRetriesThenSucceeds(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.Write([]byte(`{}`))
			return
		}
		w.Write([]byte(geminiOK))
	}))
	defer server.Close()

	router := newTestRouter(t, geminiConfig(server.URL), nil)

	result, err := router.Process(context.Background(), "text", models.ContentTypeNovel, "", "")
	if err != nil {
		t.Fatalf("expected success after empty-response retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if result.Text == "" {
		t.Error("expected non-empty result")
	}
}

func TestProcessNonRetriableUpstreamError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"invalid request"}}`))
	}))
	defer server.Close()

	router := newTestRouter(t, geminiConfig(server.URL), nil)

	_, err := router.Process(context.Background(), "text", models.ContentTypeNovel, "", "")
	typed, ok := AsError(err)
	if !ok || typed.Kind != KindUpstream || typed.StatusCode != 400 {
		t.Fatalf("expected upstream 400, got %v", err)
	}
	if calls != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", calls)
	}
}

func TestProcessQuotaExhaustedBeforeCall(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(geminiOK))
	}))
	defer server.Close()

	cfg := &config.RateLimitConfig{
		Models: map[string]config.ModelLimit{
			"gemini-2.5-pro": {RequestsPerMinute: 100, DailyQuota: 1},
		},
		Default:      config.ModelLimit{RequestsPerMinute: 5, DailyQuota: 100},
		Alternatives: map[string]string{"gemini-2.5-pro": "gemini-2.5-flash"},
	}
	governor := ratelimit.NewGovernor(cfg, ratelimit.NewMemoryStore(), testLogger())
	governor.RecordRequest(context.Background(), "gemini-2.5-pro")

	router := newTestRouter(t, geminiConfig(server.URL), governor)

	_, err := router.Process(context.Background(), "text", models.ContentTypeNovel, "", "")
	typed, ok := AsError(err)
	if !ok || typed.Kind != KindQuotaExceeded {
		t.Fatalf("expected QuotaExceeded before any HTTP call, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no HTTP calls, got %d", calls)
	}
}

func TestProcessRateLimitFailFastOnLastAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(geminiOK))
	}))
	defer server.Close()

	cfg := &config.RateLimitConfig{
		Models: map[string]config.ModelLimit{
			"gemini-2.5-pro": {RequestsPerMinute: 1, DailyQuota: 1000},
		},
		Default: config.ModelLimit{RequestsPerMinute: 5, DailyQuota: 100},
	}
	governor := ratelimit.NewGovernor(cfg, ratelimit.NewMemoryStore(), testLogger())
	governor.RecordRequest(context.Background(), "gemini-2.5-pro")

	router := newTestRouter(t, geminiConfig(server.URL), governor)
	policy := fastPolicy()
	policy.MaxAttempts = 1
	router.SetRetryPolicy(policy)

	start := time.Now()
	_, err := router.Process(context.Background(), "text", models.ContentTypeNovel, "", "")
	typed, ok := AsError(err)
	if !ok || typed.Kind != KindRateLimited {
		t.Fatalf("expected RateLimited fail-fast, got %v", err)
	}
	if typed.Status == nil {
		t.Error("expected counters attached to rate limit error")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("fail-fast path must not wait out the window")
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	base := 2 * time.Second
	max := 30 * time.Second

	prev := time.Duration(0)
	for attempt := 1; attempt <= 4; attempt++ {
		d := backoff(base, attempt, max)
		if d <= prev && d != max {
			t.Errorf("attempt %d: expected strictly increasing delay, got %s after %s", attempt, d, prev)
		}
		if d > max {
			t.Errorf("attempt %d: delay %s exceeds cap", attempt, d)
		}
		prev = d
	}

	if d := backoff(base, 10, max); d != max {
		t.Errorf("expected cap at %s, got %s", max, d)
	}
}

func TestHasQuotaLanguage(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"You exceeded your current quota", true},
		{"Daily limit reached for this model", true},
		{"Resource has been exhausted (e.g. check quota)", true},
		{"Too many requests, slow down", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := hasQuotaLanguage(tt.message); got != tt.want {
			t.Errorf("hasQuotaLanguage(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}

func TestCustomPromptOverride(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = buf
		w.Write([]byte(geminiOK))
	}))
	defer server.Close()

	router := newTestRouter(t, geminiConfig(server.URL), nil)

	_, err := router.Process(context.Background(), "text", models.ContentTypeNovel, "", "rewrite as haiku")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if body := string(gotBody); !strings.Contains(body, "rewrite as haiku") {
		t.Errorf("expected custom prompt in request body, got %s", body)
	}
}
