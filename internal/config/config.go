package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tributary-ai/completion-gateway/internal/cascade"
	"github.com/tributary-ai/completion-gateway/internal/identity"
	"github.com/tributary-ai/completion-gateway/internal/interactions"
	"github.com/tributary-ai/completion-gateway/internal/middleware"
	"github.com/tributary-ai/completion-gateway/internal/providers"
	"github.com/tributary-ai/completion-gateway/internal/providers/anthropic"
	"github.com/tributary-ai/completion-gateway/internal/providers/gemini"
	"github.com/tributary-ai/completion-gateway/internal/providers/openai"
	"github.com/tributary-ai/completion-gateway/internal/ratelimit"
	"github.com/tributary-ai/completion-gateway/internal/routing"
	"github.com/tributary-ai/completion-gateway/internal/server"
	"github.com/tributary-ai/completion-gateway/internal/storage/sqldb"
	"github.com/tributary-ai/completion-gateway/internal/telemetry"
)

// Interaction store backends
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

// Config represents the complete application configuration
type Config struct {
	Server       server.ServerConfig         `yaml:"server"`
	Providers    []providers.Config          `yaml:"providers"`
	Routing      routing.Config              `yaml:"routing"`
	Cascade      cascade.Config              `yaml:"cascade"`
	Interactions InteractionsConfig          `yaml:"interactions"`
	RateLimit    ratelimit.Config            `yaml:"rate_limit"`
	Identity     identity.Config             `yaml:"identity"`
	Validation   middleware.ValidationConfig `yaml:"validation"`
	Telemetry    telemetry.Config            `yaml:"telemetry"`
	Logging      LoggingConfig               `yaml:"logging"`
}

// InteractionsConfig selects and configures the interaction store
type InteractionsConfig struct {
	Backend    string               `yaml:"backend"`
	SQLitePath string               `yaml:"sqlite_path"`
	Postgres   sqldb.PostgresConfig `yaml:"postgres"`
	Logger     interactions.Config  `yaml:"logger"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	// Set defaults
	config.setDefaults()

	// Load from file if provided
	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	if err := config.loadFromEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	config.ResolveCredentials(os.Getenv)

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func (c *Config) setDefaults() {
	c.Server = server.ServerConfig{
		Port:           "8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   150 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
		MaxBodyBytes:   1 << 20,
		CORS: server.CORSConfig{
			AllowedOrigins: []string{"*"},
			MaxAge:         300,
		},
	}

	c.Providers = []providers.Config{
		{ID: "openai", Kind: openai.KindOpenAI, CredentialRef: "OPENAI_API_KEY", Model: "gpt-4o-mini", MaxTokens: 1024, Temperature: 0.7},
		{ID: "groq", Kind: openai.KindGroq, CredentialRef: "GROQ_API_KEY", Model: "llama-3.1-8b-instant", MaxTokens: 1024, Temperature: 0.7},
		{ID: "openrouter", Kind: openai.KindOpenRouter, CredentialRef: "OPENROUTER_API_KEY", Model: "openai/gpt-4o-mini", MaxTokens: 1024, Temperature: 0.7},
		{ID: "anthropic", Kind: anthropic.Kind, CredentialRef: "ANTHROPIC_API_KEY", Model: "claude-3-5-sonnet-20241022", MaxTokens: 1024, Temperature: 0.7},
		{ID: "gemini", Kind: gemini.Kind, CredentialRef: "GEMINI_API_KEY", Model: "gemini-1.5-flash", MaxTokens: 1024, Temperature: 0.7},
	}

	c.Routing = routing.Config{
		DefaultProvider:    "openai",
		ResilienceProvider: "groq",
		Features: map[string]string{
			"curriculum-mapping": "gemini",
			"exam-generation":    "anthropic",
			"simulation":         "anthropic",
			"translation":        "openai",
			"multilingual":       "openai",
		},
	}

	c.Cascade = cascade.Config{
		CallTimeout:  cascade.DefaultCallTimeout,
		FallbackText: cascade.DefaultFallbackText,
	}

	c.Interactions = InteractionsConfig{
		Backend:    BackendMemory,
		SQLitePath: "data/interactions.db",
		Postgres: sqldb.PostgresConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Logger: interactions.Config{
			Enabled:       true,
			BufferSize:    interactions.DefaultBufferSize,
			BatchSize:     interactions.DefaultBatchSize,
			FlushInterval: interactions.DefaultFlushInterval,
			WriteTimeout:  interactions.DefaultWriteTimeout,
			LogAnonymous:  true,
		},
	}

	c.RateLimit = ratelimit.Config{
		Enabled:           false,
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   5 * time.Minute,
	}

	c.Identity = identity.Config{
		SecretRef: "GATEWAY_JWT_SECRET",
	}

	c.Telemetry = telemetry.Config{
		Enabled:     false,
		ServiceName: "completion-gateway",
	}

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}
}

// loadFromFile loads configuration from YAML file. Lists in the file replace
// the defaults; feature table entries add to or override them.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv(getenv func(string) string) error {
	if port := getenv("GATEWAY_PORT"); port != "" {
		c.Server.Port = port
	}

	if level := getenv("GATEWAY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if format := getenv("GATEWAY_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	if backend := getenv("GATEWAY_INTERACTIONS_BACKEND"); backend != "" {
		c.Interactions.Backend = backend
	}

	if path := getenv("GATEWAY_SQLITE_PATH"); path != "" {
		c.Interactions.SQLitePath = path
	}

	if dsn := getenv("GATEWAY_POSTGRES_DSN"); dsn != "" {
		c.Interactions.Postgres.DSN = dsn
	}

	if raw := getenv("GATEWAY_CALL_TIMEOUT"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("GATEWAY_CALL_TIMEOUT: %w", err)
		}
		c.Cascade.CallTimeout = timeout
	}

	return nil
}

// ResolveCredentials reads every provider credential, and the identity
// secret, from the variables their refs name. Missing values are left empty.
func (c *Config) ResolveCredentials(getenv func(string) string) {
	for i := range c.Providers {
		if ref := c.Providers[i].CredentialRef; ref != "" {
			c.Providers[i].Credential = getenv(ref)
		}
	}

	if ref := c.Identity.SecretRef; ref != "" {
		c.Identity.JWTSecret = getenv(ref)
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port: %q", c.Server.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	knownKinds := map[string]bool{
		openai.KindOpenAI:     true,
		openai.KindGroq:       true,
		openai.KindOpenRouter: true,
		anthropic.Kind:        true,
		gemini.Kind:           true,
	}
	ids := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider id cannot be empty")
		}
		if ids[p.ID] {
			return fmt.Errorf("duplicate provider id: %s", p.ID)
		}
		if !knownKinds[p.Kind] {
			return fmt.Errorf("provider %s has unknown kind %q", p.ID, p.Kind)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("provider %s has a negative timeout", p.ID)
		}
		ids[p.ID] = true
	}

	if !ids[c.Routing.DefaultProvider] {
		return fmt.Errorf("default provider %q is not configured", c.Routing.DefaultProvider)
	}
	if c.Routing.ResilienceProvider != "" && !ids[c.Routing.ResilienceProvider] {
		return fmt.Errorf("resilience provider %q is not configured", c.Routing.ResilienceProvider)
	}
	for feature, id := range c.Routing.Features {
		if !ids[id] {
			return fmt.Errorf("feature %q routes to unconfigured provider %q", feature, id)
		}
	}

	if c.Cascade.CallTimeout <= 0 {
		return fmt.Errorf("cascade call timeout must be positive")
	}

	switch c.Interactions.Backend {
	case BackendMemory, BackendNone:
	case BackendSQLite:
		if c.Interactions.SQLitePath == "" {
			return fmt.Errorf("sqlite backend requires sqlite_path")
		}
	case BackendPostgres:
		if c.Interactions.Postgres.DSN == "" {
			return fmt.Errorf("postgres backend requires a dsn")
		}
	default:
		return fmt.Errorf("invalid interactions backend: %s", c.Interactions.Backend)
	}

	return nil
}

// MissingCredentials returns the ids of providers whose credential is empty.
// Those providers stay registered and fail every call.
func (c *Config) MissingCredentials() []string {
	var missing []string
	for _, p := range c.Providers {
		if !p.HasCredential() {
			missing = append(missing, p.ID)
		}
	}
	return missing
}

// WriteYAML writes the effective configuration. Credentials are never
// included.
func (c *Config) WriteYAML(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	return encoder.Close()
}

// SaveToFile saves the current configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	defer file.Close()

	return c.WriteYAML(file)
}
