// Package config provides configuration management for AgentFlow.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for AgentFlow.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Engine    EngineConfig    `mapstructure:"engine"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds metadata store configuration.
// URL selects the backend by scheme: postgres://... uses PostgreSQL,
// anything else (or empty) is treated as a SQLite file path.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL means the in-memory event bus is used.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwtSecret"`
	TokenDuration int    `mapstructure:"tokenDuration"` // in seconds
}

// EngineConfig holds execution engine tuning.
type EngineConfig struct {
	MaxConcurrentExecutions int `mapstructure:"maxConcurrentExecutions"`
	ExecutionTimeoutSeconds int `mapstructure:"executionTimeoutSeconds"`
	AgentTimeoutSeconds     int `mapstructure:"agentTimeoutSeconds"`
	MaxRetries              int `mapstructure:"maxRetries"`
	RetryDelaySeconds       int `mapstructure:"retryDelaySeconds"`
}

// WebSocketConfig holds collaboration connection tuning.
type WebSocketConfig struct {
	HeartbeatInterval     int `mapstructure:"heartbeatInterval"`     // ping cadence, seconds
	ConnectionTimeout     int `mapstructure:"connectionTimeout"`     // read deadline, seconds
	MaxConnectionsPerUser int `mapstructure:"maxConnectionsPerUser"` // per user per workflow
}

// SMTPConfig holds the default mail relay used by the email agent
// when a node does not configure its own.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	UseTLS   bool   `mapstructure:"useTls"`
}

// LLMConfig holds credentials for the text generation agent.
type LLMConfig struct {
	APIKey  string `mapstructure:"apiKey"`
	BaseURL string `mapstructure:"baseUrl"`
	Model   string `mapstructure:"model"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TokenDurationTime returns the token duration as a time.Duration.
func (a *AuthConfig) TokenDurationTime() time.Duration {
	return time.Duration(a.TokenDuration) * time.Second
}

// ExecutionTimeout returns the overall execution deadline as a time.Duration.
func (e *EngineConfig) ExecutionTimeout() time.Duration {
	return time.Duration(e.ExecutionTimeoutSeconds) * time.Second
}

// AgentTimeout returns the per-node deadline as a time.Duration.
func (e *EngineConfig) AgentTimeout() time.Duration {
	return time.Duration(e.AgentTimeoutSeconds) * time.Second
}

// RetryDelay returns the base retry delay as a time.Duration.
func (e *EngineConfig) RetryDelay() time.Duration {
	return time.Duration(e.RetryDelaySeconds) * time.Second
}

// Heartbeat returns the ping cadence as a time.Duration.
func (w *WebSocketConfig) Heartbeat() time.Duration {
	return time.Duration(w.HeartbeatInterval) * time.Second
}

// Timeout returns the read deadline as a time.Duration.
func (w *WebSocketConfig) Timeout() time.Duration {
	return time.Duration(w.ConnectionTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("AGENTFLOW_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - empty URL means SQLite at ./agentflow.db
	v.SetDefault("database.url", "agentflow.db")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "agentflow")
	v.SetDefault("nats.maxReconnects", 10)

	// Auth defaults
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.tokenDuration", 3600) // 1 hour

	// Engine defaults
	v.SetDefault("engine.maxConcurrentExecutions", 100)
	v.SetDefault("engine.executionTimeoutSeconds", 3600)
	v.SetDefault("engine.agentTimeoutSeconds", 300)
	v.SetDefault("engine.maxRetries", 3)
	v.SetDefault("engine.retryDelaySeconds", 5)

	// WebSocket defaults
	v.SetDefault("websocket.heartbeatInterval", 30)
	v.SetDefault("websocket.connectionTimeout", 60)
	v.SetDefault("websocket.maxConnectionsPerUser", 5)

	// SMTP defaults
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.useTls", true)

	// LLM defaults
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseUrl", "")
	v.SetDefault("llm.model", "gpt-4o-mini")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTFLOW_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/agentflow/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("AGENTFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the bare (unprefixed) variable names used by
	// existing deployments. AutomaticEnv does not handle camelCase to
	// SNAKE_CASE conversion, so keys where naming differs are bound here.
	_ = v.BindEnv("database.url", "DATABASE_URL", "AGENTFLOW_DATABASE_URL")
	_ = v.BindEnv("nats.url", "NATS_URL", "AGENTFLOW_NATS_URL")
	_ = v.BindEnv("auth.jwtSecret", "JWT_SECRET", "AGENTFLOW_AUTH_JWT_SECRET")
	_ = v.BindEnv("engine.maxConcurrentExecutions", "MAX_CONCURRENT_EXECUTIONS")
	_ = v.BindEnv("engine.executionTimeoutSeconds", "EXECUTION_TIMEOUT_SECONDS")
	_ = v.BindEnv("engine.agentTimeoutSeconds", "AGENT_TIMEOUT_SECONDS")
	_ = v.BindEnv("engine.maxRetries", "MAX_RETRIES")
	_ = v.BindEnv("engine.retryDelaySeconds", "RETRY_DELAY_SECONDS")
	_ = v.BindEnv("websocket.heartbeatInterval", "WS_HEARTBEAT_INTERVAL")
	_ = v.BindEnv("websocket.connectionTimeout", "WS_CONNECTION_TIMEOUT")
	_ = v.BindEnv("websocket.maxConnectionsPerUser", "WS_MAX_CONNECTIONS_PER_USER")
	_ = v.BindEnv("smtp.host", "SMTP_HOST")
	_ = v.BindEnv("smtp.port", "SMTP_PORT")
	_ = v.BindEnv("smtp.username", "SMTP_USERNAME")
	_ = v.BindEnv("smtp.password", "SMTP_PASSWORD")
	_ = v.BindEnv("llm.apiKey", "OPENAI_API_KEY", "AGENTFLOW_LLM_API_KEY")
	_ = v.BindEnv("llm.baseUrl", "AGENTFLOW_LLM_BASE_URL")
	_ = v.BindEnv("llm.model", "AGENTFLOW_LLM_MODEL")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentflow/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	// Server validation - always required
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// Engine validation
	if cfg.Engine.MaxConcurrentExecutions <= 0 {
		errs = append(errs, "engine.maxConcurrentExecutions must be positive")
	}
	if cfg.Engine.ExecutionTimeoutSeconds <= 0 {
		errs = append(errs, "engine.executionTimeoutSeconds must be positive")
	}
	if cfg.Engine.AgentTimeoutSeconds <= 0 {
		errs = append(errs, "engine.agentTimeoutSeconds must be positive")
	}
	if cfg.Engine.MaxRetries < 0 {
		errs = append(errs, "engine.maxRetries must not be negative")
	}
	if cfg.Engine.RetryDelaySeconds < 0 {
		errs = append(errs, "engine.retryDelaySeconds must not be negative")
	}

	// WebSocket validation
	if cfg.WebSocket.HeartbeatInterval <= 0 {
		errs = append(errs, "websocket.heartbeatInterval must be positive")
	}
	if cfg.WebSocket.ConnectionTimeout <= cfg.WebSocket.HeartbeatInterval {
		errs = append(errs, "websocket.connectionTimeout must exceed the heartbeat interval")
	}
	if cfg.WebSocket.MaxConnectionsPerUser <= 0 {
		errs = append(errs, "websocket.maxConnectionsPerUser must be positive")
	}

	// Auth validation - generate random secret if not set (dev mode)
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = generateDevSecret()
	}
	if cfg.Auth.TokenDuration <= 0 {
		errs = append(errs, "auth.tokenDuration must be positive")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// IsPostgres reports whether the database URL points at PostgreSQL.
func (d *DatabaseConfig) IsPostgres() bool {
	return strings.HasPrefix(d.URL, "postgres://") || strings.HasPrefix(d.URL, "postgresql://")
}

// generateDevSecret generates a random secret for development mode.
func generateDevSecret() string {
	// In production, users should set JWT_SECRET
	return "dev-secret-change-in-production-" + fmt.Sprintf("%d", time.Now().UnixNano())
}
