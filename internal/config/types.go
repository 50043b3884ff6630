package config

import "time"

// Config is the root configuration for SAÚ AI.
type Config struct {
	Database DatabaseConfig `yaml:"database,omitempty"`
	Web      WebConfig      `yaml:"web,omitempty"`
	Router   RouterConfig   `yaml:"router,omitempty"`
	QA       QAConfig       `yaml:"qa,omitempty"`
	Channels ChannelsConfig `yaml:"channels,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
	Secrets  SecretsConfig  `yaml:"secrets,omitempty"`
}

// DatabaseConfig controls the pooled SQLite store.
type DatabaseConfig struct {
	URL          string        `yaml:"url,omitempty"` // sqlite:///abs/path.db | sqlite://rel.db | file:path | path
	MaxOpenConns int           `yaml:"maxOpenConns,omitempty"`
	MaxIdleConns int           `yaml:"maxIdleConns,omitempty"`
	MaxAttempts  int           `yaml:"maxAttempts,omitempty"`
	RetryDelay   time.Duration `yaml:"retryDelay,omitempty"`
	RebuildDelay time.Duration `yaml:"rebuildDelay,omitempty"`
	BusyTimeout  time.Duration `yaml:"busyTimeout,omitempty"`
}

// WebConfig controls the HTTP API.
type WebConfig struct {
	Enabled           *bool         `yaml:"enabled,omitempty"` // defaults to true
	Host              string        `yaml:"host,omitempty"`
	Port              int           `yaml:"port,omitempty"`
	AllowedOrigins    []string      `yaml:"allowedOrigins,omitempty"`
	ChatRatePerMinute int           `yaml:"chatRatePerMinute,omitempty"` // per client IP; negative disables
	ChatBurst         int           `yaml:"chatBurst,omitempty"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout,omitempty"`
}

// IsEnabled reports whether the HTTP API should be served.
func (w WebConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// RouterConfig tunes message processing.
type RouterConfig struct {
	Workers       int           `yaml:"workers,omitempty"`
	StoreAttempts int           `yaml:"storeAttempts,omitempty"`
	StoreBackoff  time.Duration `yaml:"storeBackoff,omitempty"`
	QAAttempts    int           `yaml:"qaAttempts,omitempty"`
	QABackoff     time.Duration `yaml:"qaBackoff,omitempty"`
	QATimeout     time.Duration `yaml:"qaTimeout,omitempty"`
	ContextLimit  int           `yaml:"contextLimit,omitempty"`
}

// QAConfig selects the language model and the vector index behind answers.
type QAConfig struct {
	Provider         string       `yaml:"provider,omitempty"`         // "openai" | "ollama"
	FallbackProvider string       `yaml:"fallbackProvider,omitempty"` // also "claude" | "gemini"; completions only
	FallbackModel    string       `yaml:"fallbackModel,omitempty"`
	APIKey           string       `yaml:"apiKey,omitempty"`
	AnthropicAPIKey  string       `yaml:"anthropicApiKey,omitempty"`
	GeminiAPIKey     string       `yaml:"geminiApiKey,omitempty"`
	BaseURL          string       `yaml:"baseUrl,omitempty"`
	OllamaURL        string       `yaml:"ollamaUrl,omitempty"`
	Model            string       `yaml:"model,omitempty"`
	EmbeddingModel   string       `yaml:"embeddingModel,omitempty"`
	Temperature      *float64     `yaml:"temperature,omitempty"`
	TopK             int          `yaml:"topK,omitempty"`
	SystemPrompt     string       `yaml:"systemPrompt,omitempty"` // overrides the built-in prompt
	Qdrant           QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig locates the vector collection.
type QdrantConfig struct {
	Host       string `yaml:"host,omitempty"`
	Port       int    `yaml:"port,omitempty"` // gRPC port
	APIKey     string `yaml:"apiKey,omitempty"`
	UseTLS     bool   `yaml:"useTLS,omitempty"`
	Collection string `yaml:"collection,omitempty"`
	TextField  string `yaml:"textField,omitempty"`
}

// ChannelsConfig defines the chat transports. A nil entry is disabled.
type ChannelsConfig struct {
	Telegram *TelegramConfig `yaml:"telegram,omitempty"`
	IRC      *IRCConfig      `yaml:"irc,omitempty"`
}

// TelegramConfig configures the long-polling Telegram bot.
type TelegramConfig struct {
	Token       string `yaml:"token"`
	PollTimeout int    `yaml:"pollTimeout,omitempty"` // seconds
	Debug       bool   `yaml:"debug,omitempty"`
}

// IRCConfig defines IRC channel settings.
type IRCConfig struct {
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port,omitempty"`
	Nick     string   `yaml:"nick"`
	Password string   `yaml:"password,omitempty"`
	Channels []string `yaml:"channels"`
	UseTLS   bool     `yaml:"useTLS,omitempty"`
	SASL     bool     `yaml:"sasl,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	Format string `yaml:"format,omitempty"` // "console" | "json"
}

// SecretsConfig controls resolution of "ssm:" references.
type SecretsConfig struct {
	Region string `yaml:"region,omitempty"`
}
