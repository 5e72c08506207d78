package storage

import (
	"context"
	"testing"
	"time"

	"github.com/narraform-go/internal/config"
	"github.com/narraform-go/internal/models"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func memoryConfig() *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{Type: "memory"},
	}
}

func intPtr(i int) *int { return &i }

func seedChapter(t *testing.T, m *Manager, id, projectID string, sortOrder *int, created time.Time) {
	t.Helper()
	meta := &models.ChapterMetadata{
		ID:          id,
		ProjectID:   projectID,
		Title:       "Chapter " + id,
		SortOrder:   sortOrder,
		Type:        models.ChapterTypeChapter,
		ContentType: models.ContentTypeNovel,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	content := &models.ChapterContent{ID: id, OriginalText: "text " + id}
	if err := m.SaveChapter(context.Background(), meta, content); err != nil {
		t.Fatalf("SaveChapter(%s): %v", id, err)
	}
}

func TestMemoryStorageChapterOrdering(t *testing.T) {
	m, err := NewManager(memoryConfig(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// Two ordered chapters, one without a sort key, created out of order
	seedChapter(t, m, "no-order", "p1", nil, base.Add(time.Minute))
	seedChapter(t, m, "second", "p1", intPtr(2), base.Add(2*time.Minute))
	seedChapter(t, m, "first", "p1", intPtr(1), base.Add(3*time.Minute))

	chapters, err := m.ListChapters(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chapters) != 3 {
		t.Fatalf("expected 3 chapters, got %d", len(chapters))
	}

	// Sort key ascending, nulls last
	wantOrder := []string{"first", "second", "no-order"}
	for i, want := range wantOrder {
		if chapters[i].ID != want {
			t.Errorf("position %d: want %s, got %s", i, want, chapters[i].ID)
		}
	}
}

func TestMemoryStorageNullOrderFallsBackToCreation(t *testing.T) {
	m, err := NewManager(memoryConfig(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	seedChapter(t, m, "later", "p1", nil, base.Add(time.Hour))
	seedChapter(t, m, "earlier", "p1", nil, base)

	chapters, err := m.ListChapters(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if chapters[0].ID != "earlier" || chapters[1].ID != "later" {
		t.Errorf("expected creation-time ordering, got %s then %s", chapters[0].ID, chapters[1].ID)
	}
}

func TestMemoryStorageProjectIsolation(t *testing.T) {
	m, err := NewManager(memoryConfig(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()

	seedChapter(t, m, "a", "p1", nil, now)
	seedChapter(t, m, "b", "p2", nil, now)

	chapters, err := m.ListChapters(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chapters) != 1 || chapters[0].ID != "a" {
		t.Errorf("expected only p1 chapters, got %v", chapters)
	}
}

func TestMemoryStorageContentNotFound(t *testing.T) {
	m, err := NewManager(memoryConfig(), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	content, err := m.GetChapterContent(context.Background(), "missing")
	if err != nil {
		t.Fatalf("not-found must not be an error: %v", err)
	}
	if content != nil {
		t.Error("expected nil content for unknown chapter")
	}
}

func TestUpdateProcessedTextBumpsCounter(t *testing.T) {
	m, err := NewManager(memoryConfig(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	seedChapter(t, m, "a", "p1", nil, time.Now())

	if err := m.UpdateProcessedText(ctx, "a", "NARRATOR: done"); err != nil {
		t.Fatal(err)
	}

	content, err := m.GetChapterContent(ctx, "a")
	if err != nil || content == nil {
		t.Fatalf("GetChapterContent: %v", err)
	}
	if content.ProcessedText != "NARRATOR: done" {
		t.Errorf("processed text not saved: %q", content.ProcessedText)
	}
	if content.OriginalText != "text a" {
		t.Errorf("original text must be untouched: %q", content.OriginalText)
	}

	chapters, _ := m.ListChapters(ctx, "p1")
	if chapters[0].ProcessingCount != 1 {
		t.Errorf("expected processing count 1, got %d", chapters[0].ProcessingCount)
	}
}

func TestDeleteChapter(t *testing.T) {
	m, err := NewManager(memoryConfig(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	seedChapter(t, m, "a", "p1", nil, time.Now())

	if err := m.DeleteChapter(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	content, _ := m.GetChapterContent(ctx, "a")
	if content != nil {
		t.Error("expected content deleted")
	}
	chapters, _ := m.ListChapters(ctx, "p1")
	if len(chapters) != 0 {
		t.Error("expected metadata deleted")
	}
}

func TestProjectRoundTrip(t *testing.T) {
	m, err := NewManager(memoryConfig(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	project := &models.Project{ID: "p1", Title: "My Novel", CreatedAt: time.Now()}
	if err := m.SaveProject(ctx, project); err != nil {
		t.Fatal(err)
	}

	loaded, err := m.GetProject(ctx, "p1")
	if err != nil || loaded == nil {
		t.Fatalf("GetProject: %v", err)
	}
	if loaded.Title != "My Novel" {
		t.Errorf("unexpected title %q", loaded.Title)
	}

	missing, err := m.GetProject(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil for unknown project, got %v, %v", missing, err)
	}
}

func TestMemoryStorageHonorsExpiration(t *testing.T) {
	cfg := &config.Config{
		Storage: config.StorageConfig{
			Type:   "memory",
			Memory: config.MemoryConfig{DefaultExpiration: 20 * time.Millisecond},
		},
	}
	m, err := NewManager(cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	seedChapter(t, m, "a", "p1", nil, time.Now())

	content, err := m.GetChapterContent(ctx, "a")
	if err != nil || content == nil {
		t.Fatalf("fresh entry must be readable: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	content, err = m.GetChapterContent(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if content != nil {
		t.Error("expected entry expired after the configured lifetime")
	}
}

func TestUnsupportedStorageType(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Type: "cassandra"}}
	if _, err := NewManager(cfg, testLogger()); err == nil {
		t.Error("expected error for unsupported storage type")
	}
}
