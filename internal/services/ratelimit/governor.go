package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/narraform-go/internal/config"
	"github.com/narraform-go/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	// slidingWindow is the trailing interval counted against the per-minute limit
	slidingWindow = 60 * time.Second
	// retention is how long records are kept before being purged on load
	retention = 24 * time.Hour
)

// Governor tracks per-model request history and enforces a sliding
// 60-second rate limit plus a calendar-day quota
type Governor struct {
	store        HistoryStore
	limits       map[string]config.ModelLimit
	defaultLimit config.ModelLimit
	alternatives map[string]string
	history      []models.RequestRecord
	mu           sync.Mutex
	logger       *logrus.Logger
	now          func() time.Time
}

// NewGovernor creates a governor and loads persisted history from the store.
// Records older than the retention window are purged immediately.
func NewGovernor(cfg *config.RateLimitConfig, store HistoryStore, logger *logrus.Logger) *Governor {
	return newGovernor(cfg, store, logger, time.Now)
}

// newGovernor takes the clock explicitly so the load-time purge and all
// window arithmetic run on the same time source
func newGovernor(cfg *config.RateLimitConfig, store HistoryStore, logger *logrus.Logger, now func() time.Time) *Governor {
	g := &Governor{
		store:        store,
		limits:       cfg.Models,
		defaultLimit: cfg.Default,
		alternatives: cfg.Alternatives,
		logger:       logger,
		now:          now,
	}

	if g.alternatives == nil {
		g.alternatives = map[string]string{
			"gemini-2.5-pro": "gemini-2.5-flash",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	records, err := store.Load(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to load rate limit history, starting empty")
		records = nil
	}

	cutoff := g.now().Add(-retention).UnixMilli()
	for _, r := range records {
		if r.Timestamp >= cutoff {
			g.history = append(g.history, r)
		}
	}

	if len(g.history) != len(records) {
		logger.WithFields(logrus.Fields{
			"loaded": len(records),
			"kept":   len(g.history),
		}).Debug("Purged expired rate limit records")
		g.persist(ctx)
	}

	return g
}

// limitFor returns the configured limit for a model, falling back to the
// conservative default for unknown models
func (g *Governor) limitFor(model string) config.ModelLimit {
	if limit, ok := g.limits[model]; ok {
		return limit
	}
	return g.defaultLimit
}

// CanMakeRequest reports whether a request to the model is currently
// allowed under both the per-minute limit and the daily quota
func (g *Governor) CanMakeRequest(model string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canMakeRequestLocked(model)
}

func (g *Governor) canMakeRequestLocked(model string) bool {
	limit := g.limitFor(model)
	minuteCount, dayCount := g.countsLocked(model)
	return minuteCount < limit.RequestsPerMinute && dayCount < limit.DailyQuota
}

// countsLocked returns the number of records for the model inside the
// sliding window and on today's calendar date
func (g *Governor) countsLocked(model string) (minuteCount, dayCount int) {
	now := g.now()
	windowStart := now.Add(-slidingWindow).UnixMilli()
	today := localDate(now)

	for _, r := range g.history {
		if r.Model != model {
			continue
		}
		if r.Timestamp > windowStart {
			minuteCount++
		}
		if r.Date == today {
			dayCount++
		}
	}
	return minuteCount, dayCount
}

// GetWaitTime returns how long the caller must wait before the model may
// be called again. Zero means the request is allowed now. A daily quota
// exhaustion waits until local midnight, since quotas reset on calendar
// day rollover rather than 24 hours after the first request.
func (g *Governor) GetWaitTime(model string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waitTimeLocked(model)
}

func (g *Governor) waitTimeLocked(model string) time.Duration {
	limit := g.limitFor(model)
	minuteCount, dayCount := g.countsLocked(model)
	now := g.now()

	if dayCount >= limit.DailyQuota {
		return timeUntilMidnight(now)
	}

	if minuteCount >= limit.RequestsPerMinute {
		windowStart := now.Add(-slidingWindow).UnixMilli()
		oldest := int64(0)
		for _, r := range g.history {
			if r.Model != model || r.Timestamp <= windowStart {
				continue
			}
			if oldest == 0 || r.Timestamp < oldest {
				oldest = r.Timestamp
			}
		}
		if oldest > 0 {
			wait := time.UnixMilli(oldest).Add(slidingWindow).Sub(now)
			if wait > 0 {
				return wait
			}
		}
	}

	return 0
}

// RecordRequest appends a record for the model and persists the history.
// Persistence failures are logged and swallowed; in-memory accounting
// keeps working for the lifetime of the process.
func (g *Governor) RecordRequest(ctx context.Context, model string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.history = append(g.history, models.RequestRecord{
		Timestamp: now.UnixMilli(),
		Model:     model,
		Date:      localDate(now),
	})
	g.persist(ctx)
}

func (g *Governor) persist(ctx context.Context) {
	if err := g.store.Save(ctx, g.history); err != nil {
		g.logger.WithError(err).Warn("Failed to persist rate limit history")
	}
}

// GetRateLimitStatus returns a snapshot of all counters for UI display
func (g *Governor) GetRateLimitStatus(model string) models.RateLimitStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	limit := g.limitFor(model)
	minuteCount, dayCount := g.countsLocked(model)

	return models.RateLimitStatus{
		Model:              model,
		RequestsThisMinute: minuteCount,
		MinuteLimit:        limit.RequestsPerMinute,
		RequestsToday:      dayCount,
		DailyQuota:         limit.DailyQuota,
		WaitMs:             g.waitTimeLocked(model).Milliseconds(),
		CanRequest:         g.canMakeRequestLocked(model),
		QuotaExceeded:      dayCount >= limit.DailyQuota,
	}
}

// WaitForRateLimit blocks for the model's current wait time as a single
// delay. It returns early with the context error if the caller is
// cancelled while waiting.
func (g *Governor) WaitForRateLimit(ctx context.Context, model string) error {
	wait := g.GetWaitTime(model)
	if wait <= 0 {
		return nil
	}

	g.logger.WithFields(logrus.Fields{
		"model": model,
		"wait":  wait.String(),
	}).Info("Waiting for rate limit")

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// GetAlternativeModel returns a cheaper fallback for the model, or empty
// when no fallback is configured
func (g *Governor) GetAlternativeModel(model string) string {
	return g.alternatives[model]
}

// ResetQuota clears the entire history for one model, or for all models
// when model is empty
func (g *Governor) ResetQuota(ctx context.Context, model string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if model == "" {
		g.history = nil
	} else {
		kept := g.history[:0]
		for _, r := range g.history {
			if r.Model != model {
				kept = append(kept, r)
			}
		}
		g.history = kept
	}
	g.persist(ctx)
}

// ResetDailyQuota clears only today's records for one model, or for all
// models when model is empty
func (g *Governor) ResetDailyQuota(ctx context.Context, model string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := localDate(g.now())
	kept := g.history[:0]
	for _, r := range g.history {
		if r.Date == today && (model == "" || r.Model == model) {
			continue
		}
		kept = append(kept, r)
	}
	g.history = kept
	g.persist(ctx)
}

// localDate formats a time as YYYY-MM-DD in its own location
func localDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// timeUntilMidnight returns the duration until the first instant of the
// next calendar day in t's location
func timeUntilMidnight(t time.Time) time.Duration {
	year, month, day := t.Date()
	midnight := time.Date(year, month, day+1, 0, 0, 0, 0, t.Location())
	return midnight.Sub(t)
}
