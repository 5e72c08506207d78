package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/narraform-go/internal/config"
	"github.com/narraform-go/internal/models"
	"github.com/sirupsen/logrus"
)

// historyKey is the versioned key the request history is persisted under
const historyKey = "narraform:ratelimit:history:v1"

// HistoryStore persists the governor's request history across restarts
type HistoryStore interface {
	Load(ctx context.Context) ([]models.RequestRecord, error)
	Save(ctx context.Context, records []models.RequestRecord) error
}

// NewHistoryStore creates the store backend named by the configuration
func NewHistoryStore(cfg *config.HistoryConfig, redisClient *redis.Client, logger *logrus.Logger) (HistoryStore, error) {
	switch cfg.Type {
	case "file":
		return NewFileStore(cfg.Path, logger), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis history store requires redis storage")
		}
		return NewRedisStore(redisClient, logger), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported history store type: %s", cfg.Type)
	}
}

// FileStore persists history as a JSON array in a single file
type FileStore struct {
	path   string
	logger *logrus.Logger
}

func NewFileStore(path string, logger *logrus.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Load reads the persisted history. Missing or malformed files are
// treated as empty rather than failing.
func (f *FileStore) Load(ctx context.Context) ([]models.RequestRecord, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []models.RequestRecord
	if err := json.Unmarshal(data, &records); err != nil {
		f.logger.WithError(err).Warn("Dropping malformed rate limit history")
		return nil, nil
	}
	return records, nil
}

func (f *FileStore) Save(ctx context.Context, records []models.RequestRecord) error {
	if records == nil {
		records = []models.RequestRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return err
	}

	// Write then rename so a crash never leaves a truncated file
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// RedisStore persists history under a single versioned redis key
type RedisStore struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisStore(client *redis.Client, logger *logrus.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

func (r *RedisStore) Load(ctx context.Context) ([]models.RequestRecord, error) {
	data, err := r.client.Get(ctx, historyKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var records []models.RequestRecord
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		r.logger.WithError(err).Warn("Dropping malformed rate limit history")
		return nil, nil
	}
	return records, nil
}

func (r *RedisStore) Save(ctx context.Context, records []models.RequestRecord) error {
	if records == nil {
		records = []models.RequestRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, historyKey, data, 0).Err()
}

// MemoryStore keeps history in memory only, for tests and ephemeral runs
type MemoryStore struct {
	mu      sync.Mutex
	records []models.RequestRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) ([]models.RequestRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.RequestRecord, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *MemoryStore) Save(ctx context.Context, records []models.RequestRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make([]models.RequestRecord, len(records))
	copy(m.records, records)
	return nil
}
