package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Database.URL == "" {
		add("database.url", "required")
	} else if scheme, _, ok := strings.Cut(cfg.Database.URL, "://"); ok && scheme != "sqlite" && scheme != "file" {
		add("database.url", "unsupported scheme %q (use sqlite://)", scheme)
	}
	if cfg.Database.MaxOpenConns < 1 {
		add("database.maxOpenConns", "must be at least 1, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxAttempts < 1 {
		add("database.maxAttempts", "must be at least 1, got %d", cfg.Database.MaxAttempts)
	}

	if cfg.Web.Port < 0 || cfg.Web.Port > 65535 {
		add("web.port", "port must be 0-65535, got %d", cfg.Web.Port)
	}
	for i, o := range cfg.Web.AllowedOrigins {
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			add(fmt.Sprintf("web.allowedOrigins[%d]", i), "origin must start with http:// or https://, got %q", o)
		}
	}

	if cfg.Router.Workers < 1 {
		add("router.workers", "must be at least 1, got %d", cfg.Router.Workers)
	}
	if cfg.Router.StoreAttempts < 1 {
		add("router.storeAttempts", "must be at least 1, got %d", cfg.Router.StoreAttempts)
	}
	if cfg.Router.QAAttempts < 1 {
		add("router.qaAttempts", "must be at least 1, got %d", cfg.Router.QAAttempts)
	}
	if cfg.Router.QATimeout <= 0 {
		add("router.qaTimeout", "must be positive, got %s", cfg.Router.QATimeout)
	}
	if cfg.Router.ContextLimit < 0 {
		add("router.contextLimit", "must not be negative, got %d", cfg.Router.ContextLimit)
	}

	// The primary provider also embeds questions, so only embedding providers qualify.
	if !slices.Contains(PrimaryProviders, cfg.QA.Provider) {
		add("qa.provider", "must be one of %v, got %q", PrimaryProviders, cfg.QA.Provider)
	}
	if cfg.QA.FallbackProvider != "" {
		if !slices.Contains(FallbackProviders, cfg.QA.FallbackProvider) {
			add("qa.fallbackProvider", "must be one of %v, got %q", FallbackProviders, cfg.QA.FallbackProvider)
		} else if cfg.QA.FallbackProvider == cfg.QA.Provider {
			add("qa.fallbackProvider", "must differ from qa.provider")
		}
	}
	usesOpenAI := cfg.QA.Provider == "openai" || cfg.QA.FallbackProvider == "openai"
	if usesOpenAI && cfg.QA.APIKey == "" {
		add("qa.apiKey", "required for the openai provider (or set OPENAI_API_KEY)")
	}
	if cfg.QA.FallbackProvider == "claude" && cfg.QA.AnthropicAPIKey == "" {
		add("qa.anthropicApiKey", "required for the claude provider (or set ANTHROPIC_API_KEY)")
	}
	if cfg.QA.FallbackProvider == "gemini" && cfg.QA.GeminiAPIKey == "" {
		add("qa.geminiApiKey", "required for the gemini provider (or set GEMINI_API_KEY)")
	}
	if t := cfg.QA.Temperature; t != nil && (*t < 0 || *t > 2) {
		add("qa.temperature", "must be between 0 and 2, got %g", *t)
	}
	if cfg.QA.TopK < 1 {
		add("qa.topK", "must be at least 1, got %d", cfg.QA.TopK)
	}
	if cfg.QA.Qdrant.Port < 1 || cfg.QA.Qdrant.Port > 65535 {
		add("qa.qdrant.port", "port must be 1-65535, got %d", cfg.QA.Qdrant.Port)
	}

	if tg := cfg.Channels.Telegram; tg != nil {
		if tg.Token == "" {
			add("channels.telegram.token", "token is required (or set TELEGRAM_BOT_TOKEN)")
		}
		if tg.PollTimeout < 0 {
			add("channels.telegram.pollTimeout", "must not be negative, got %d", tg.PollTimeout)
		}
	}

	if irc := cfg.Channels.IRC; irc != nil {
		if irc.Server == "" {
			add("channels.irc.server", "server is required")
		}
		if irc.Nick == "" {
			add("channels.irc.nick", "nick is required")
		}
		if irc.Port < 0 || irc.Port > 65535 {
			add("channels.irc.port", "port must be 0-65535, got %d", irc.Port)
		}
		if irc.SASL && irc.Password == "" {
			add("channels.irc.sasl", "SASL requires a password to be set")
		}
	}

	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}
	validFormats := []string{"console", "json"}
	if cfg.Logging.Format != "" && !slices.Contains(validFormats, cfg.Logging.Format) {
		add("logging.format", "must be one of %v, got %q", validFormats, cfg.Logging.Format)
	}

	if HasSecretRefs(cfg) && cfg.Secrets.Region == "" {
		add("secrets.region", "required when credentials use the %q prefix (or set AWS_REGION)", SecretPrefix)
	}

	return issues
}
