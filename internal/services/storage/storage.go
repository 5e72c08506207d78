package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/narraform-go/internal/config"
	"github.com/narraform-go/internal/models"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Storage interface defines persistence operations for projects and chapters
type Storage interface {
	// Project operations
	SaveProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, projectID string) (*models.Project, error)

	// Chapter operations
	SaveChapter(ctx context.Context, meta *models.ChapterMetadata, content *models.ChapterContent) error
	ListChapters(ctx context.Context, projectID string) ([]models.ChapterMetadata, error)
	GetChapterContent(ctx context.Context, chapterID string) (*models.ChapterContent, error)
	UpdateProcessedText(ctx context.Context, chapterID string, processedText string) error
	DeleteChapter(ctx context.Context, chapterID string) error
}

// Manager manages different storage backends
type Manager struct {
	storage     Storage
	logger      *logrus.Logger
	redisClient *redis.Client // Store redis client reference
}

// NewManager creates a new storage manager
func NewManager(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	manager := &Manager{
		logger: logger,
	}

	switch cfg.Storage.Type {
	case "redis":
		redisStorage, err := NewRedisStorage(cfg, logger)
		if err != nil {
			return nil, err
		}
		manager.storage = redisStorage
		// Store redis client reference
		manager.redisClient = redisStorage.client
	case "memory":
		manager.storage = NewMemoryStorage(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	return manager, nil
}

// Delegate methods to underlying storage
func (m *Manager) SaveProject(ctx context.Context, project *models.Project) error {
	return m.storage.SaveProject(ctx, project)
}

func (m *Manager) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	return m.storage.GetProject(ctx, projectID)
}

func (m *Manager) SaveChapter(ctx context.Context, meta *models.ChapterMetadata, content *models.ChapterContent) error {
	return m.storage.SaveChapter(ctx, meta, content)
}

func (m *Manager) ListChapters(ctx context.Context, projectID string) ([]models.ChapterMetadata, error) {
	return m.storage.ListChapters(ctx, projectID)
}

func (m *Manager) GetChapterContent(ctx context.Context, chapterID string) (*models.ChapterContent, error) {
	return m.storage.GetChapterContent(ctx, chapterID)
}

func (m *Manager) UpdateProcessedText(ctx context.Context, chapterID string, processedText string) error {
	return m.storage.UpdateProcessedText(ctx, chapterID, processedText)
}

func (m *Manager) DeleteChapter(ctx context.Context, chapterID string) error {
	return m.storage.DeleteChapter(ctx, chapterID)
}

// GetRedisClient returns the Redis client if available
func (m *Manager) GetRedisClient() *redis.Client {
	return m.redisClient
}

// sortChapters orders by sort key with nulls last, then by creation time
func sortChapters(chapters []models.ChapterMetadata) {
	sort.SliceStable(chapters, func(i, j int) bool {
		a, b := chapters[i], chapters[j]
		switch {
		case a.SortOrder != nil && b.SortOrder != nil:
			if *a.SortOrder != *b.SortOrder {
				return *a.SortOrder < *b.SortOrder
			}
		case a.SortOrder != nil:
			return true
		case b.SortOrder != nil:
			return false
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// RedisStorage implements storage using Redis
type RedisStorage struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisStorage(cfg *config.Config, logger *logrus.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStorage{
		client: client,
		logger: logger,
	}, nil
}

func (r *RedisStorage) SaveProject(ctx context.Context, project *models.Project) error {
	key := fmt.Sprintf("project:%s", project.ID)
	data, err := json.Marshal(project)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, 0).Err()
}

func (r *RedisStorage) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	key := fmt.Sprintf("project:%s", projectID)
	data, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var project models.Project
	if err := json.Unmarshal([]byte(data), &project); err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *RedisStorage) SaveChapter(ctx context.Context, meta *models.ChapterMetadata, content *models.ChapterContent) error {
	metaData, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	contentData, err := json.Marshal(content)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf("chapter:meta:%s", meta.ID), metaData, 0)
	pipe.Set(ctx, fmt.Sprintf("chapter:content:%s", meta.ID), contentData, 0)
	pipe.SAdd(ctx, fmt.Sprintf("project:chapters:%s", meta.ProjectID), meta.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStorage) ListChapters(ctx context.Context, projectID string) ([]models.ChapterMetadata, error) {
	ids, err := r.client.SMembers(ctx, fmt.Sprintf("project:chapters:%s", projectID)).Result()
	if err != nil {
		return nil, err
	}

	chapters := make([]models.ChapterMetadata, 0, len(ids))
	for _, id := range ids {
		data, err := r.client.Get(ctx, fmt.Sprintf("chapter:meta:%s", id)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var meta models.ChapterMetadata
		if err := json.Unmarshal([]byte(data), &meta); err != nil {
			r.logger.WithError(err).WithField("chapter_id", id).Warn("Skipping malformed chapter metadata")
			continue
		}
		chapters = append(chapters, meta)
	}

	sortChapters(chapters)
	return chapters, nil
}

func (r *RedisStorage) GetChapterContent(ctx context.Context, chapterID string) (*models.ChapterContent, error) {
	data, err := r.client.Get(ctx, fmt.Sprintf("chapter:content:%s", chapterID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var content models.ChapterContent
	if err := json.Unmarshal([]byte(data), &content); err != nil {
		return nil, err
	}
	return &content, nil
}

func (r *RedisStorage) UpdateProcessedText(ctx context.Context, chapterID string, processedText string) error {
	content, err := r.GetChapterContent(ctx, chapterID)
	if err != nil {
		return err
	}
	if content == nil {
		return fmt.Errorf("chapter not found: %s", chapterID)
	}

	content.ProcessedText = processedText
	data, err := json.Marshal(content)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, fmt.Sprintf("chapter:content:%s", chapterID), data, 0).Err(); err != nil {
		return err
	}

	// Bump the processing counter on the metadata row
	metaData, err := r.client.Get(ctx, fmt.Sprintf("chapter:meta:%s", chapterID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	var meta models.ChapterMetadata
	if err := json.Unmarshal([]byte(metaData), &meta); err != nil {
		return err
	}
	meta.ProcessingCount++
	meta.UpdatedAt = time.Now()
	updated, err := json.Marshal(&meta)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, fmt.Sprintf("chapter:meta:%s", chapterID), updated, 0).Err()
}

func (r *RedisStorage) DeleteChapter(ctx context.Context, chapterID string) error {
	metaData, err := r.client.Get(ctx, fmt.Sprintf("chapter:meta:%s", chapterID)).Result()
	if err != nil && err != redis.Nil {
		return err
	}

	pipe := r.client.TxPipeline()
	if err != redis.Nil {
		var meta models.ChapterMetadata
		if jsonErr := json.Unmarshal([]byte(metaData), &meta); jsonErr == nil {
			pipe.SRem(ctx, fmt.Sprintf("project:chapters:%s", meta.ProjectID), chapterID)
		}
	}
	pipe.Del(ctx, fmt.Sprintf("chapter:meta:%s", chapterID))
	pipe.Del(ctx, fmt.Sprintf("chapter:content:%s", chapterID))
	_, err = pipe.Exec(ctx)
	return err
}

// MemoryStorage implements storage using in-memory cache
type MemoryStorage struct {
	projects *cache.Cache
	metas    *cache.Cache
	contents *cache.Cache
	logger   *logrus.Logger
}

func NewMemoryStorage(cfg *config.Config, logger *logrus.Logger) *MemoryStorage {
	expiration := cfg.Storage.Memory.DefaultExpiration
	if expiration <= 0 {
		expiration = cache.NoExpiration
	}
	cleanup := cfg.Storage.Memory.CleanupInterval

	return &MemoryStorage{
		projects: cache.New(expiration, cleanup),
		metas:    cache.New(expiration, cleanup),
		contents: cache.New(expiration, cleanup),
		logger:   logger,
	}
}

func (m *MemoryStorage) SaveProject(ctx context.Context, project *models.Project) error {
	m.projects.Set(project.ID, project, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	if val, found := m.projects.Get(projectID); found {
		return val.(*models.Project), nil
	}
	return nil, nil
}

func (m *MemoryStorage) SaveChapter(ctx context.Context, meta *models.ChapterMetadata, content *models.ChapterContent) error {
	metaCopy := *meta
	contentCopy := *content
	m.metas.Set(meta.ID, &metaCopy, cache.NoExpiration)
	m.contents.Set(meta.ID, &contentCopy, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) ListChapters(ctx context.Context, projectID string) ([]models.ChapterMetadata, error) {
	var chapters []models.ChapterMetadata
	for _, item := range m.metas.Items() {
		meta := item.Object.(*models.ChapterMetadata)
		if meta.ProjectID == projectID {
			chapters = append(chapters, *meta)
		}
	}
	sortChapters(chapters)
	return chapters, nil
}

func (m *MemoryStorage) GetChapterContent(ctx context.Context, chapterID string) (*models.ChapterContent, error) {
	if val, found := m.contents.Get(chapterID); found {
		content := *val.(*models.ChapterContent)
		return &content, nil
	}
	return nil, nil
}

func (m *MemoryStorage) UpdateProcessedText(ctx context.Context, chapterID string, processedText string) error {
	val, found := m.contents.Get(chapterID)
	if !found {
		return fmt.Errorf("chapter not found: %s", chapterID)
	}

	content := *val.(*models.ChapterContent)
	content.ProcessedText = processedText
	m.contents.Set(chapterID, &content, cache.NoExpiration)

	if metaVal, ok := m.metas.Get(chapterID); ok {
		meta := *metaVal.(*models.ChapterMetadata)
		meta.ProcessingCount++
		meta.UpdatedAt = time.Now()
		m.metas.Set(chapterID, &meta, cache.NoExpiration)
	}
	return nil
}

func (m *MemoryStorage) DeleteChapter(ctx context.Context, chapterID string) error {
	m.metas.Delete(chapterID)
	m.contents.Delete(chapterID)
	return nil
}
