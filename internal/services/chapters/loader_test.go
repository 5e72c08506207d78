package chapters

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/narraform-go/internal/models"
	"github.com/sirupsen/logrus"
)

// fakeStore counts fetches so tests can verify the cache short-circuits
type fakeStore struct {
	chapters     map[string]*models.ChapterContent
	metadata     map[string][]models.ChapterMetadata
	contentCalls int
	listCalls    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chapters: make(map[string]*models.ChapterContent),
		metadata: make(map[string][]models.ChapterMetadata),
	}
}

func (s *fakeStore) ListChapters(ctx context.Context, projectID string) ([]models.ChapterMetadata, error) {
	s.listCalls++
	return s.metadata[projectID], nil
}

func (s *fakeStore) GetChapterContent(ctx context.Context, chapterID string) (*models.ChapterContent, error) {
	s.contentCalls++
	return s.chapters[chapterID], nil
}

func (s *fakeStore) addChapter(id string) {
	s.chapters[id] = &models.ChapterContent{
		ID:           id,
		OriginalText: "text of " + id,
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// tickingClock returns a strictly increasing time on every call so
// last-access ordering is unambiguous
func tickingClock() func() time.Time {
	t := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newTestLoader(store *fakeStore) *Loader {
	l := NewLoader(store, 5, testLogger())
	l.now = tickingClock()
	return l
}

func TestLoadContentCachesSecondRead(t *testing.T) {
	store := newFakeStore()
	store.addChapter("a")
	loader := newTestLoader(store)
	ctx := context.Background()

	first, err := loader.LoadContent(ctx, "a")
	if err != nil || first == nil {
		t.Fatalf("first load failed: %v", err)
	}
	second, err := loader.LoadContent(ctx, "a")
	if err != nil || second == nil {
		t.Fatalf("second load failed: %v", err)
	}

	if store.contentCalls != 1 {
		t.Errorf("expected 1 fetch, got %d", store.contentCalls)
	}
	if first != second {
		t.Error("expected the cached object on the second read")
	}
}

func TestLoadContentNotFound(t *testing.T) {
	loader := newTestLoader(newFakeStore())

	content, err := loader.LoadContent(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != nil {
		t.Error("expected nil for unknown chapter")
	}
	if loader.IsCached("missing") {
		t.Error("a miss must not be cached")
	}
}

func TestEvictionIsStrictLRU(t *testing.T) {
	store := newFakeStore()
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		store.addChapter(id)
	}
	loader := newTestLoader(store)
	ctx := context.Background()

	// Fill to capacity in insertion order
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if _, err := loader.LoadContent(ctx, id); err != nil {
			t.Fatalf("load %s: %v", id, err)
		}
	}

	// Touch a, making b the least recently accessed
	if _, err := loader.LoadContent(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	// Inserting f must evict b, not a
	if _, err := loader.LoadContent(ctx, "f"); err != nil {
		t.Fatal(err)
	}

	if loader.CachedCount() != 5 {
		t.Errorf("expected capacity 5, got %d", loader.CachedCount())
	}
	for _, id := range []string{"a", "c", "d", "e", "f"} {
		if !loader.IsCached(id) {
			t.Errorf("expected %s cached", id)
		}
	}
	if loader.IsCached("b") {
		t.Error("expected b evicted as least recently accessed")
	}

	// b loads again from the store, not the cache
	before := store.contentCalls
	if _, err := loader.LoadContent(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if store.contentCalls != before+1 {
		t.Error("expected evicted chapter to be refetched")
	}
}

func TestEvictionNeverEvictsMostRecent(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 7; i++ {
		store.addChapter(fmt.Sprintf("ch-%d", i))
	}
	loader := newTestLoader(store)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("ch-%d", i)
		if _, err := loader.LoadContent(ctx, id); err != nil {
			t.Fatal(err)
		}
		// The entry just inserted is the most recent and must survive
		if !loader.IsCached(id) {
			t.Errorf("most recently inserted %s was evicted", id)
		}
		if loader.CachedCount() > 5 {
			t.Errorf("cache exceeded capacity: %d", loader.CachedCount())
		}
	}
}

func TestLoadMetadataFullReplace(t *testing.T) {
	store := newFakeStore()
	store.metadata["p1"] = []models.ChapterMetadata{
		{ID: "a", ProjectID: "p1", Title: "One"},
		{ID: "b", ProjectID: "p1", Title: "Two"},
	}
	loader := newTestLoader(store)
	ctx := context.Background()

	if _, err := loader.LoadMetadata(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if len(loader.Metadata()) != 2 {
		t.Fatalf("expected 2 chapters, got %d", len(loader.Metadata()))
	}

	// A reload replaces wholesale, never merges
	store.metadata["p1"] = []models.ChapterMetadata{
		{ID: "c", ProjectID: "p1", Title: "Three"},
	}
	if _, err := loader.LoadMetadata(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	meta := loader.Metadata()
	if len(meta) != 1 || meta[0].ID != "c" {
		t.Errorf("expected full replace with [c], got %v", meta)
	}
}

func TestGetFullChapter(t *testing.T) {
	store := newFakeStore()
	store.metadata["p1"] = []models.ChapterMetadata{
		{ID: "a", ProjectID: "p1", Title: "One", ContentType: models.ContentTypeNovel},
	}
	store.addChapter("a")
	loader := newTestLoader(store)
	ctx := context.Background()

	if _, err := loader.LoadMetadata(ctx, "p1"); err != nil {
		t.Fatal(err)
	}

	chapter, err := loader.GetFullChapter(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if chapter == nil || chapter.Title != "One" || chapter.Content == nil {
		t.Fatalf("expected composed chapter, got %+v", chapter)
	}

	// Unknown to this project load means nil, not an error
	unknown, err := loader.GetFullChapter(ctx, "zzz")
	if err != nil {
		t.Fatal(err)
	}
	if unknown != nil {
		t.Error("expected nil for chapter missing from metadata")
	}
}

func TestClearCache(t *testing.T) {
	store := newFakeStore()
	store.addChapter("a")
	store.addChapter("b")
	loader := newTestLoader(store)
	ctx := context.Background()

	loader.LoadContent(ctx, "a")
	loader.LoadContent(ctx, "b")

	loader.ClearCache("a")
	if loader.IsCached("a") {
		t.Error("expected a evicted")
	}
	if !loader.IsCached("b") {
		t.Error("expected b untouched")
	}

	loader.ClearCache("")
	if loader.CachedCount() != 0 {
		t.Error("expected whole cache cleared")
	}
}

func TestLoadingFlagClears(t *testing.T) {
	store := newFakeStore()
	store.addChapter("a")
	loader := newTestLoader(store)

	loader.LoadContent(context.Background(), "a")
	if loader.IsLoading("a") {
		t.Error("loading flag must clear after the fetch completes")
	}
}
