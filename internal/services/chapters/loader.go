package chapters

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/narraform-go/internal/models"
	"github.com/sirupsen/logrus"
)

// DefaultMaxCached is the content cache capacity. Metadata is cheap and
// kept for the whole project; full text is only held for this many
// chapters at a time.
const DefaultMaxCached = 5

// Store is the persistence contract the loader requires: an ordered
// metadata query per project and a content query per chapter returning
// nil when the chapter does not exist
type Store interface {
	ListChapters(ctx context.Context, projectID string) ([]models.ChapterMetadata, error)
	GetChapterContent(ctx context.Context, chapterID string) (*models.ChapterContent, error)
}

type cacheEntry struct {
	content      *models.ChapterContent
	lastAccessed time.Time
}

// Loader keeps the active project's chapter metadata in memory and a
// bounded LRU cache of full chapter content
type Loader struct {
	store     Store
	maxCached int
	metadata  []models.ChapterMetadata
	cache     map[string]*cacheEntry
	loading   map[string]bool
	mu        sync.Mutex
	logger    *logrus.Logger
	now       func() time.Time
}

// NewLoader creates a loader with the given content cache capacity
func NewLoader(store Store, maxCached int, logger *logrus.Logger) *Loader {
	if maxCached <= 0 {
		maxCached = DefaultMaxCached
	}
	return &Loader{
		store:     store,
		maxCached: maxCached,
		cache:     make(map[string]*cacheEntry),
		loading:   make(map[string]bool),
		logger:    logger,
		now:       time.Now,
	}
}

// LoadMetadata replaces the entire in-memory metadata list with a fresh
// fetch. Always a full replace, never a merge, so the list is never a
// stale mix of partial updates.
func (l *Loader) LoadMetadata(ctx context.Context, projectID string) ([]models.ChapterMetadata, error) {
	chapters, err := l.store.ListChapters(ctx, projectID)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.metadata = chapters
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"project_id": projectID,
		"chapters":   len(chapters),
	}).Debug("Chapter metadata loaded")

	return chapters, nil
}

// Metadata returns the currently loaded metadata list
func (l *Loader) Metadata() []models.ChapterMetadata {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.ChapterMetadata, len(l.metadata))
	copy(out, l.metadata)
	return out
}

// LoadContent returns cached content, touching its last access time, or
// fetches from the store and inserts it, evicting the least recently
// accessed entries when over capacity. Concurrent loads for the same
// uncached id each fetch independently.
func (l *Loader) LoadContent(ctx context.Context, chapterID string) (*models.ChapterContent, error) {
	l.mu.Lock()
	if entry, ok := l.cache[chapterID]; ok {
		entry.lastAccessed = l.now()
		content := entry.content
		l.mu.Unlock()
		l.logger.WithField("chapter_id", chapterID).Debug("Chapter cache hit")
		return content, nil
	}
	l.loading[chapterID] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.loading, chapterID)
		l.mu.Unlock()
	}()

	content, err := l.store.GetChapterContent(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if content == nil {
		l.logger.WithField("chapter_id", chapterID).Debug("Chapter content not found")
		return nil, nil
	}

	l.mu.Lock()
	l.cache[chapterID] = &cacheEntry{
		content:      content,
		lastAccessed: l.now(),
	}
	l.evictLocked()
	l.mu.Unlock()

	return content, nil
}

// evictLocked ranks entries by last access descending and keeps only the
// newest maxCached. O(n log n) is fine with n bounded at capacity+1.
func (l *Loader) evictLocked() {
	if len(l.cache) <= l.maxCached {
		return
	}

	type ranked struct {
		id           string
		lastAccessed time.Time
	}
	entries := make([]ranked, 0, len(l.cache))
	for id, entry := range l.cache {
		entries = append(entries, ranked{id: id, lastAccessed: entry.lastAccessed})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAccessed.After(entries[j].lastAccessed)
	})

	for _, victim := range entries[l.maxCached:] {
		delete(l.cache, victim.id)
		l.logger.WithField("chapter_id", victim.id).Debug("Evicted chapter content")
	}
}

// GetFullChapter composes loaded metadata with on-demand content. A nil
// result means the chapter is unknown to the current project load.
func (l *Loader) GetFullChapter(ctx context.Context, chapterID string) (*models.Chapter, error) {
	l.mu.Lock()
	var meta *models.ChapterMetadata
	for i := range l.metadata {
		if l.metadata[i].ID == chapterID {
			meta = &l.metadata[i]
			break
		}
	}
	if meta == nil {
		l.mu.Unlock()
		return nil, nil
	}
	metaCopy := *meta
	l.mu.Unlock()

	content, err := l.LoadContent(ctx, chapterID)
	if err != nil {
		return nil, err
	}

	return &models.Chapter{
		ChapterMetadata: metaCopy,
		Content:         content,
	}, nil
}

// ClearCache evicts one entry, or the whole cache when chapterID is empty
func (l *Loader) ClearCache(chapterID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if chapterID == "" {
		l.cache = make(map[string]*cacheEntry)
		return
	}
	delete(l.cache, chapterID)
}

// IsCached reports whether the chapter's content is currently cached
func (l *Loader) IsCached(chapterID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.cache[chapterID]
	return ok
}

// IsLoading reports whether a content fetch for the chapter is in flight,
// so callers can show per-chapter progress without blocking other loads
func (l *Loader) IsLoading(chapterID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading[chapterID]
}

// CachedCount returns the number of cached content entries
func (l *Loader) CachedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cache)
}
