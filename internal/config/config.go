package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the chat backend.
type Config struct {
	// Service settings
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"shopchat"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	HTTPPort        int           `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Storage
	DatabaseDSN   string `env:"DATABASE_DSN" envDefault:"host=localhost user=user password=password dbname=shopchat port=5432 sslmode=disable"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6380"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Auth
	JWTSecret      string        `env:"JWT_SECRET"`
	JWTIssuer      string        `env:"JWT_ISSUER" envDefault:"shopchat-service"`
	TokenTTL       time.Duration `env:"TOKEN_TTL" envDefault:"72h"`
	AllowDevTokens bool          `env:"ALLOW_DEV_TOKENS" envDefault:"false"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:","`

	// Peer chat
	PersistBeforeBroadcast bool          `env:"PERSIST_BEFORE_BROADCAST" envDefault:"false"`
	PersistTimeout         time.Duration `env:"PERSIST_TIMEOUT" envDefault:"5s"`

	// Assistant chat
	OpenAIAPIKey        string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL       string        `env:"OPENAI_BASE_URL"`
	OpenAIModel         string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIStream        bool          `env:"OPENAI_STREAM" envDefault:"true"`
	GenerationTimeout   time.Duration `env:"GENERATION_TIMEOUT" envDefault:"60s"`
	MaxTokens           int           `env:"MAX_TOKENS" envDefault:"512"`
	ChunkSize           int           `env:"CHUNK_SIZE" envDefault:"24"`
	ChunkDelay          time.Duration `env:"CHUNK_DELAY" envDefault:"40ms"`
	RecentMessagesLimit int           `env:"RECENT_MESSAGES_LIMIT" envDefault:"20"`
	ContextWindow       int           `env:"CONTEXT_WINDOW" envDefault:"6"`
	SystemPrompt        string        `env:"SYSTEM_PROMPT"`

	// Offline alerts
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	LocalesDir       string `env:"LOCALES_DIR" envDefault:"locales"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("CHUNK_SIZE must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.ContextWindow <= 0 {
		return nil, fmt.Errorf("CONTEXT_WINDOW must be positive, got %d", cfg.ContextWindow)
	}
	if cfg.RecentMessagesLimit <= 0 || cfg.RecentMessagesLimit > RecentMessagesLimit {
		return nil, fmt.Errorf("RECENT_MESSAGES_LIMIT must be between 1 and %d, got %d", RecentMessagesLimit, cfg.RecentMessagesLimit)
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}

	return cfg, nil
}

// Addr returns the HTTP server address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// IsDevelopment reports whether the service runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}
