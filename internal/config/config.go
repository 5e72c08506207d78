package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Prompts    PromptsConfig    `mapstructure:"prompts"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	APIRateLimit    APIRateLimit  `mapstructure:"api_rate_limit"`
}

type APIRateLimit struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type ProvidersConfig struct {
	Default  string         `mapstructure:"default"`
	Priority []string       `mapstructure:"priority"`
	Gemini   ProviderConfig `mapstructure:"gemini"`
	OpenAI   ProviderConfig `mapstructure:"openai"`
	Claude   ProviderConfig `mapstructure:"claude"`
	XAI      ProviderConfig `mapstructure:"xai"`
}

type ProviderConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// Configured reports whether the provider has usable credentials
func (p *ProviderConfig) Configured() bool {
	return p.APIKey != ""
}

type RateLimitConfig struct {
	Models       map[string]ModelLimit `mapstructure:"models"`
	Default      ModelLimit            `mapstructure:"default"`
	Alternatives map[string]string     `mapstructure:"alternatives"`
	History      HistoryConfig         `mapstructure:"history"`
}

type ModelLimit struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	DailyQuota        int `mapstructure:"daily_quota"`
}

type HistoryConfig struct {
	Type string `mapstructure:"type"` // file, redis or memory
	Path string `mapstructure:"path"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Memory MemoryConfig `mapstructure:"memory"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MemoryConfig struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type CacheConfig struct {
	MaxChapters int `mapstructure:"max_chapters"`
}

type PromptsConfig struct {
	Directory string `mapstructure:"directory"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
	Directory       string   `mapstructure:"directory"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Enable environment variable substitution
	viper.AutomaticEnv()

	setDefaults()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Set environment variable overrides
	viper.SetEnvPrefix("") // No prefix
	viper.BindEnv("providers.gemini.api_key", "GEMINI_API_KEY")
	viper.BindEnv("providers.openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("providers.claude.api_key", "CLAUDE_API_KEY", "ANTHROPIC_API_KEY")
	viper.BindEnv("providers.xai.api_key", "XAI_API_KEY")
	viper.BindEnv("storage.redis.addr", "REDIS_HOST", "REDIS_PORT")
	viper.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	viper.BindEnv("storage.redis.db", "REDIS_DB")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Handle Redis address special case
	if redisHost := viper.GetString("REDIS_HOST"); redisHost != "" {
		redisPort := viper.GetString("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.Storage.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	// Per-model rate limit overrides from environment variables, e.g.
	// RATE_LIMIT_MODELS=gemini-2.5-pro:5:100,gemini-2.5-flash:10:250
	if modelLimits := os.Getenv("RATE_LIMIT_MODELS"); modelLimits != "" {
		if config.RateLimit.Models == nil {
			config.RateLimit.Models = make(map[string]ModelLimit)
		}
		for _, entry := range strings.Split(modelLimits, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			parts := strings.Split(entry, ":")
			if len(parts) != 3 {
				continue
			}
			var rpm, daily int
			if _, err := fmt.Sscanf(parts[1], "%d", &rpm); err != nil {
				continue
			}
			if _, err := fmt.Sscanf(parts[2], "%d", &daily); err != nil {
				continue
			}
			config.RateLimit.Models[parts[0]] = ModelLimit{
				RequestsPerMinute: rpm,
				DailyQuota:        daily,
			}
		}
	}

	// Validate required fields
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 5*time.Minute)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("providers.default", "gemini")
	viper.SetDefault("providers.priority", []string{"gemini", "openai", "claude", "xai"})
	viper.SetDefault("providers.gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	viper.SetDefault("providers.gemini.model", "gemini-2.5-pro")
	viper.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("providers.openai.model", "gpt-4o")
	viper.SetDefault("providers.claude.base_url", "https://api.anthropic.com/v1")
	viper.SetDefault("providers.claude.model", "claude-sonnet-4-20250514")
	viper.SetDefault("providers.xai.base_url", "https://api.x.ai/v1")
	viper.SetDefault("providers.xai.model", "grok-3")
	viper.SetDefault("rate_limit.default.requests_per_minute", 5)
	viper.SetDefault("rate_limit.default.daily_quota", 100)
	viper.SetDefault("rate_limit.history.type", "file")
	viper.SetDefault("rate_limit.history.path", "data/ratelimit_history_v1.json")
	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.default_expiration", 24*time.Hour)
	viper.SetDefault("storage.memory.cleanup_interval", time.Hour)
	viper.SetDefault("cache.max_chapters", 5)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("monitoring.metrics.path", "/metrics")
	viper.SetDefault("i18n.default_language", "en")
	viper.SetDefault("i18n.languages", []string{"en", "zh"})
	viper.SetDefault("i18n.directory", "configs/i18n")
}

func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 {
		return fmt.Errorf("server port is required")
	}
	if cfg.Cache.MaxChapters <= 0 {
		return fmt.Errorf("cache max_chapters must be positive")
	}
	if cfg.RateLimit.Default.RequestsPerMinute <= 0 || cfg.RateLimit.Default.DailyQuota <= 0 {
		return fmt.Errorf("rate limit defaults must be positive")
	}
	switch cfg.Storage.Type {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	return nil
}

// ProviderFor returns the configuration block for a named provider
func (c *ProvidersConfig) ProviderFor(name string) *ProviderConfig {
	switch name {
	case "gemini":
		return &c.Gemini
	case "openai":
		return &c.OpenAI
	case "claude":
		return &c.Claude
	case "xai":
		return &c.XAI
	}
	return nil
}
