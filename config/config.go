package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Admin     AdminConfig
	APIs      APIConfig
	RateLimit RateLimitConfig
	Scraper   ScraperConfig
	AI        AIConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int    `envconfig:"PORT" default:"3000"`
	AllowedOrigins string `envconfig:"CORS_ORIGINS" default:"*"`
}

// DBConfig selects the storage backend. DATABASE_URL wins over DB_PATH.
type DBConfig struct {
	URL  string `envconfig:"DATABASE_URL"`
	Path string `envconfig:"DB_PATH" default:"carnival.db"`
}

// AdminConfig holds the single admin account.
type AdminConfig struct {
	Username string `envconfig:"ADMIN_USERNAME" default:"admin"`
	Password string `envconfig:"ADMIN_PASSWORD" default:"admin123"`
}

// APIConfig holds the initial values of the runtime-editable credentials.
type APIConfig struct {
	TikTokKey1     string `envconfig:"TIKTOK_API_KEY_1"`
	TikTokHost1    string `envconfig:"TIKTOK_API_HOST_1" default:"tiktok-scraper7.p.rapidapi.com"`
	TikTokKey2     string `envconfig:"TIKTOK_API_KEY_2"`
	TikTokHost2    string `envconfig:"TIKTOK_API_HOST_2" default:"tiktok-video-no-watermark2.p.rapidapi.com"`
	YouTubeKey     string `envconfig:"YOUTUBE_API_KEY"`
	GroqKey        string `envconfig:"GROQ_API_KEY"`
	JWTSecret      string `envconfig:"JWT_SECRET" default:"change-this-secret"`
	SettingsSecret string `envconfig:"SETTINGS_SECRET"`
}

// RateLimitConfig holds the inbound per-IP limiter settings.
type RateLimitConfig struct {
	WindowMS    int `envconfig:"RATE_LIMIT_WINDOW_MS" default:"900000"`
	MaxRequests int `envconfig:"RATE_LIMIT_MAX_REQUESTS" default:"100"`
}

// Window returns the limiter window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMS) * time.Millisecond
}

// ScraperConfig holds outbound scraping limits.
type ScraperConfig struct {
	RatePerSec float64       `envconfig:"SCRAPER_RATE_PER_SEC" default:"2"`
	Burst      int           `envconfig:"SCRAPER_BURST" default:"4"`
	Timeout    time.Duration `envconfig:"SCRAPER_TIMEOUT" default:"10s"`
	YouTubeURL string        `envconfig:"YOUTUBE_API_ENDPOINT"`
}

// AIConfig holds the LLM endpoint settings.
type AIConfig struct {
	BaseURL string        `envconfig:"GROQ_BASE_URL" default:"https://api.groq.com/openai/v1"`
	Model   string        `envconfig:"GROQ_MODEL" default:"llama-3.3-70b-versatile"`
	Timeout time.Duration `envconfig:"GROQ_TIMEOUT" default:"30s"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
}

// DSN returns the connection string handed to db.Open.
func (c *DBConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return c.Path
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment take precedence over .env.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var cfg Config
	sections := []struct {
		name string
		dst  interface{}
	}{
		{"server", &cfg.Server},
		{"db", &cfg.DB},
		{"admin", &cfg.Admin},
		{"api", &cfg.APIs},
		{"rate limit", &cfg.RateLimit},
		{"scraper", &cfg.Scraper},
		{"ai", &cfg.AI},
		{"log", &cfg.Log},
	}
	for _, s := range sections {
		if err := envconfig.Process("", s.dst); err != nil {
			return nil, fmt.Errorf("failed to load %s config: %w", s.name, err)
		}
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if c.RateLimit.WindowMS <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_MS must be positive")
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be positive")
	}
	if c.Scraper.RatePerSec <= 0 {
		return fmt.Errorf("SCRAPER_RATE_PER_SEC must be positive")
	}
	if c.Scraper.Burst <= 0 {
		return fmt.Errorf("SCRAPER_BURST must be positive")
	}
	if c.Scraper.Timeout <= 0 {
		return fmt.Errorf("SCRAPER_TIMEOUT must be positive")
	}
	if c.Admin.Username == "" || c.Admin.Password == "" {
		return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD are required")
	}
	if c.DB.DSN() == "" {
		return fmt.Errorf("DATABASE_URL or DB_PATH is required")
	}
	return nil
}
