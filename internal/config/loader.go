package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// SecretPrefix marks a value to be fetched from the parameter store.
const SecretPrefix = "ssm:"

// SecretResolver fetches the value behind a parameter name.
type SecretResolver interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// secretFields lists every credential-bearing field.
func secretFields(cfg *Config) map[string]*string {
	fields := map[string]*string{
		"database.url":       &cfg.Database.URL,
		"qa.apiKey":          &cfg.QA.APIKey,
		"qa.anthropicApiKey": &cfg.QA.AnthropicAPIKey,
		"qa.geminiApiKey":    &cfg.QA.GeminiAPIKey,
		"qa.qdrant.apiKey":   &cfg.QA.Qdrant.APIKey,
	}
	if cfg.Channels.Telegram != nil {
		fields["channels.telegram.token"] = &cfg.Channels.Telegram.Token
	}
	if cfg.Channels.IRC != nil {
		fields["channels.irc.password"] = &cfg.Channels.IRC.Password
	}
	return fields
}

func expandSensitiveFields(cfg *Config) {
	for _, p := range secretFields(cfg) {
		*p = expandEnvVars(*p)
	}
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file without overriding
// variables already present in the environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &ConfigError{Message: "failed to load env file: " + err.Error()}
	}
	return nil
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults plus overrides.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return Defaults(), err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Defaults(), &ConfigError{Message: "failed to parse config: " + err.Error()}
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// ResolveSecrets replaces every "ssm:<name>" credential with the stored value.
func ResolveSecrets(ctx context.Context, cfg *Config, r SecretResolver) error {
	for path, p := range secretFields(cfg) {
		name, ok := strings.CutPrefix(*p, SecretPrefix)
		if !ok {
			continue
		}
		if r == nil {
			return &ConfigError{Message: path + " references a parameter but no resolver is configured"}
		}
		val, err := r.GetParameter(ctx, name)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", path, err)
		}
		*p = val
	}
	return nil
}

// HasSecretRefs reports whether any credential needs ResolveSecrets.
func HasSecretRefs(cfg *Config) bool {
	for _, p := range secretFields(cfg) {
		if strings.HasPrefix(*p, SecretPrefix) {
			return true
		}
	}
	return false
}

// Redact returns a copy of cfg with every credential except the database URL
// masked. Parameter references are left readable.
func Redact(cfg Config) Config {
	if cfg.Channels.Telegram != nil {
		tg := *cfg.Channels.Telegram
		cfg.Channels.Telegram = &tg
	}
	if cfg.Channels.IRC != nil {
		irc := *cfg.Channels.IRC
		cfg.Channels.IRC = &irc
	}
	for path, p := range secretFields(&cfg) {
		if path == "database.url" || *p == "" || strings.HasPrefix(*p, SecretPrefix) {
			continue
		}
		*p = "********"
	}
	return cfg
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// CheckRaw reports whether raw decodes into a Config. Unknown keys and
// mistyped values are errors.
func CheckRaw(raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return &ConfigError{Message: "invalid config: " + err.Error()}
	}
	return nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyEnvOverrides reads the deployment variables and SAU_* overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Web.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.QA.APIKey == "" {
		cfg.QA.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.QA.AnthropicAPIKey == "" {
		cfg.QA.AnthropicAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.QA.GeminiAPIKey == "" {
		cfg.QA.GeminiAPIKey = v
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		cfg.QA.Qdrant.APIKey = v
	}
	if v := os.Getenv("QDRANT_HOST"); v != "" {
		cfg.QA.Qdrant.Host = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.QA.OllamaURL = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		if cfg.Channels.Telegram == nil {
			cfg.Channels.Telegram = &TelegramConfig{}
		}
		cfg.Channels.Telegram.Token = v
	}
	if v := os.Getenv("SAU_QA_PROVIDER"); v != "" {
		cfg.QA.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("SAU_QA_MODEL"); v != "" {
		cfg.QA.Model = v
	}
	if v := os.Getenv("SAU_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("SAU_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" && cfg.Secrets.Region == "" {
		cfg.Secrets.Region = v
	}
}
