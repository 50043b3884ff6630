package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Service identity reported by the web API.
const (
	ServiceName = "SAÚ AI Web API"
)

// Providers that can answer questions. Primary providers also embed them.
var (
	PrimaryProviders  = []string{"openai", "ollama"}
	FallbackProviders = []string{"openai", "ollama", "claude", "gemini"}
)

// DefaultAllowedOrigins are the front-ends allowed to call the web API.
var DefaultAllowedOrigins = []string{
	"https://gamersmed.apversus.com",
	"https://apv-web-git-dev-adpiars-projects.vercel.app",
	"http://localhost:3000",
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// applyDefaults fills zero-value fields.
func applyDefaults(cfg *Config) {
	db := &cfg.Database
	if db.URL == "" {
		db.URL = "sqlite://sauai.db"
	}
	if db.MaxOpenConns == 0 {
		db.MaxOpenConns = 10
	}
	if db.MaxIdleConns == 0 {
		db.MaxIdleConns = 1
	}
	if db.MaxAttempts == 0 {
		db.MaxAttempts = 3
	}
	if db.RetryDelay == 0 {
		db.RetryDelay = time.Second
	}
	if db.RebuildDelay == 0 {
		db.RebuildDelay = 2 * time.Second
	}
	if db.BusyTimeout == 0 {
		db.BusyTimeout = 60 * time.Second
	}

	web := &cfg.Web
	if web.Host == "" {
		web.Host = "0.0.0.0"
	}
	if web.Port == 0 {
		web.Port = 5000
	}
	if len(web.AllowedOrigins) == 0 {
		web.AllowedOrigins = append([]string(nil), DefaultAllowedOrigins...)
	}
	if web.ChatRatePerMinute == 0 {
		web.ChatRatePerMinute = 30
	}
	if web.ChatBurst == 0 {
		web.ChatBurst = 5
	}
	if web.ShutdownTimeout == 0 {
		web.ShutdownTimeout = 10 * time.Second
	}

	r := &cfg.Router
	if r.Workers == 0 {
		r.Workers = 10
	}
	if r.StoreAttempts == 0 {
		r.StoreAttempts = 3
	}
	if r.StoreBackoff == 0 {
		r.StoreBackoff = time.Second
	}
	if r.QAAttempts == 0 {
		r.QAAttempts = 2
	}
	if r.QABackoff == 0 {
		r.QABackoff = 2 * time.Second
	}
	if r.QATimeout == 0 {
		r.QATimeout = 60 * time.Second
	}
	if r.ContextLimit == 0 {
		r.ContextLimit = 5
	}

	qa := &cfg.QA
	if qa.Provider == "" {
		qa.Provider = "openai"
	}
	if qa.Model == "" {
		switch qa.Provider {
		case "ollama":
			qa.Model = "llama3.1"
		default:
			qa.Model = "gpt-4.1-2025-04-14"
		}
	}
	if qa.EmbeddingModel == "" {
		switch qa.Provider {
		case "ollama":
			qa.EmbeddingModel = "nomic-embed-text"
		default:
			qa.EmbeddingModel = "text-embedding-3-large"
		}
	}
	if qa.Temperature == nil {
		t := 0.7
		qa.Temperature = &t
	}
	if qa.TopK == 0 {
		qa.TopK = 3
	}
	if qa.Qdrant.Host == "" {
		qa.Qdrant.Host = "localhost"
	}
	if qa.Qdrant.Port == 0 {
		qa.Qdrant.Port = 6334
	}
	if qa.Qdrant.Collection == "" {
		qa.Qdrant.Collection = "sauai"
	}
	if qa.Qdrant.TextField == "" {
		qa.Qdrant.TextField = "text"
	}

	if tg := cfg.Channels.Telegram; tg != nil {
		if tg.PollTimeout == 0 {
			tg.PollTimeout = 10
		}
	}
	if irc := cfg.Channels.IRC; irc != nil {
		if irc.Port == 0 {
			irc.Port = 6697
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}
