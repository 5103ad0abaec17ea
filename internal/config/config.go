package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DefaultPort           = "5000"
	DefaultAllowedOrigin  = "http://localhost:3000"
	DefaultMaxUploadBytes = 10 << 20 // 10 MB
	DefaultGeminiModel    = "gemini-2.5-flash"
	DefaultProvider       = "gemini"
	DefaultStoreBackend   = "memory"
	DefaultAITimeoutSec   = 120
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis" envPrefix:"REDIS_"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type BasicConfig struct {
	ServerAddress       string `json:"server_address" env:"SERVER_ADDRESS"`
	Port                string `json:"port" env:"PORT"`
	AllowedOrigin       string `json:"allowed_origin" env:"FRONTEND_URL"`
	MaxUploadBytes      int64  `json:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
	Provider            string `json:"provider" env:"AI_PROVIDER"`
	AITimeoutSeconds    int    `json:"ai_timeout_seconds" env:"AI_TIMEOUT_SECONDS"`
	StoreBackend        string `json:"store_backend" env:"STORE_BACKEND"`
	DisableChatRecovery bool   `json:"disable_chat_recovery" env:"DISABLE_CHAT_RECOVERY"`
	ChatIdleTTL         int    `json:"chat_idle_ttl" env:"CHAT_IDLE_TTL"`
	ChatSweepInterval   int    `json:"chat_sweep_interval" env:"CHAT_SWEEP_INTERVAL"`
	MinWorkers          int    `json:"min_workers" env:"MIN_WORKERS"`
	MaxWorkers          int    `json:"max_workers" env:"MAX_WORKERS"`
	QueueSize           int    `json:"queue_size" env:"QUEUE_SIZE"`
	WorkerIdleTimeout   int    `json:"worker_idle_timeout" env:"WORKER_IDLE_TIMEOUT"`
	LogLevel            string `json:"log_level" env:"LOG_LEVEL"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host" env:"HOST"`
	Port     int    `json:"port" env:"PORT"`
	Username string `json:"username" env:"USERNAME"`
	Password string `json:"password" env:"PASSWORD"`
	DB       int    `json:"db" env:"DB"`
}

// providerEnv lists the provider settings that may come from the environment.
type providerEnv struct {
	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	GeminiModel   string `env:"GEMINI_MODEL"`
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	OpenAIModel   string `env:"OPENAI_MODEL"`
	ClaudeAPIKey  string `env:"CLAUDE_API_KEY"`
	ClaudeBaseURL string `env:"CLAUDE_BASE_URL"`
	ClaudeModel   string `env:"CLAUDE_MODEL"`
	SQLiteDSN     string `env:"SQLITE_DSN"`
	MySQLDSN      string `env:"MYSQL_DSN"`
}

// Load reads configuration from the optional JSON file at path (defaults to
// config.json), then a .env file, then the process environment. Environment
// values win over the file.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	var cfg Config
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// environment only
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	pe, err := env.ParseAs[providerEnv]()
	if err != nil {
		return nil, fmt.Errorf("parse provider environment: %w", err)
	}
	cfg.applyProviderEnv(pe)
	cfg.applyDefaults()

	if cfg.BasicConfig.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("max_upload_bytes must be positive")
	}
	return &cfg, nil
}

func (c *Config) applyProviderEnv(pe providerEnv) {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	overlay := func(name, key, baseURL, model string) {
		p := c.Providers[name]
		if key != "" {
			p.APIKey = key
		}
		if baseURL != "" {
			p.BaseURL = baseURL
		}
		if model != "" {
			p.Model = model
		}
		c.Providers[name] = p
	}
	overlay("gemini", pe.GeminiAPIKey, "", pe.GeminiModel)
	overlay("openai", pe.OpenAIAPIKey, pe.OpenAIBaseURL, pe.OpenAIModel)
	overlay("claude", pe.ClaudeAPIKey, pe.ClaudeBaseURL, pe.ClaudeModel)

	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if pe.SQLiteDSN != "" {
		db := c.Databases["sqlite3"]
		db.DSN = pe.SQLiteDSN
		c.Databases["sqlite3"] = db
	}
	if pe.MySQLDSN != "" {
		db := c.Databases["mysql"]
		db.DSN = pe.MySQLDSN
		c.Databases["mysql"] = db
	}
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.Port == "" {
		b.Port = DefaultPort
	}
	if b.ServerAddress == "" {
		b.ServerAddress = ":" + strings.TrimPrefix(b.Port, ":")
	}
	if b.AllowedOrigin == "" {
		b.AllowedOrigin = DefaultAllowedOrigin
	}
	if b.MaxUploadBytes == 0 {
		b.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if b.Provider == "" {
		b.Provider = DefaultProvider
	}
	b.Provider = strings.ToLower(strings.TrimSpace(b.Provider))
	if b.StoreBackend == "" {
		b.StoreBackend = DefaultStoreBackend
	}
	b.StoreBackend = strings.ToLower(strings.TrimSpace(b.StoreBackend))
	if b.AITimeoutSeconds <= 0 {
		b.AITimeoutSeconds = DefaultAITimeoutSec
	}
	if p := c.Providers["gemini"]; p.Model == "" {
		p.Model = DefaultGeminiModel
		c.Providers["gemini"] = p
	}
}

// Provider returns the settings of the configured AI provider.
func (c *Config) Provider() (string, ProviderConfig) {
	name := c.BasicConfig.Provider
	return name, c.Providers[name]
}
