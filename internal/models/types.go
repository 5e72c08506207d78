package models

import (
	"time"
)

// ContentType identifies the source medium of a chapter's text
type ContentType string

const (
	ContentTypeNovel      ContentType = "novel"
	ContentTypeScreenplay ContentType = "screenplay"
)

// ChapterType distinguishes novel chapters from screenplay scenes
type ChapterType string

const (
	ChapterTypeChapter ChapterType = "chapter"
	ChapterTypeScene   ChapterType = "scene"
)

// RequestRecord represents one attempted AI call, kept for rate accounting
type RequestRecord struct {
	Timestamp int64  `json:"timestamp"` // milliseconds since epoch
	Model     string `json:"model"`
	Date      string `json:"date"` // YYYY-MM-DD in local time
}

// RateLimitStatus is a point-in-time view of a model's rate counters
type RateLimitStatus struct {
	Model              string `json:"model"`
	RequestsThisMinute int    `json:"requests_this_minute"`
	MinuteLimit        int    `json:"minute_limit"`
	RequestsToday      int    `json:"requests_today"`
	DailyQuota         int    `json:"daily_quota"`
	WaitMs             int64  `json:"wait_ms"`
	CanRequest         bool   `json:"can_request"`
	QuotaExceeded      bool   `json:"quota_exceeded"`
}

// ChapterMetadata represents a chapter or scene row without its text
type ChapterMetadata struct {
	ID              string      `json:"id"`
	ProjectID       string      `json:"project_id"`
	EpisodeID       string      `json:"episode_id,omitempty"`
	Title           string      `json:"title"`
	SortOrder       *int        `json:"sort_order,omitempty"`
	Type            ChapterType `json:"type"`
	ContentType     ContentType `json:"content_type"`
	CharacterCount  int         `json:"character_count"`
	ProcessingCount int         `json:"processing_count"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// ChapterContent holds the full text of a chapter, loaded on demand
type ChapterContent struct {
	ID            string `json:"id"`
	OriginalText  string `json:"original_text"`
	ProcessedText string `json:"processed_text,omitempty"`
}

// Chapter composes metadata with optionally loaded content
type Chapter struct {
	ChapterMetadata
	Content *ChapterContent `json:"content,omitempty"`
}

// Project represents a writing project owning a set of chapters
type Project struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProcessResult is the outcome of a conversion request
type ProcessResult struct {
	Text        string `json:"text"`
	PreviewHTML string `json:"preview_html,omitempty"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	DurationMs  int64  `json:"duration_ms"`
}
