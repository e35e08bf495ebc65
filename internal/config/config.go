// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	Version     string

	AccountID string
	AgentID   string

	AgentConfigBaseURL string
	AgentTokenURL      string
	ConfigFetchTimeout time.Duration

	Realtime  RealtimeConfig
	Audio     AudioConfig
	Knowledge KnowledgeConfig
	Summary   SummaryConfig

	ConversationLog ConversationLogConfig
	RateLimit       RateLimitConfig
	SSE             SSEConfig

	HistoryLimit int
	RetentionTTL time.Duration
}

// RealtimeConfig controls the realtime transport and session behavior.
type RealtimeConfig struct {
	URL           string
	Model         string
	GreetingDelay time.Duration
	GreetingText  string
	DateLayout    string
}

// AudioConfig selects the capture source and playback sink.
type AudioConfig struct {
	Source string // file path, "-" for stdin, "" disables capture
	Sink   string // file path, "" discards assistant audio
}

// KnowledgeConfig selects the knowledge-base search backend.
type KnowledgeConfig struct {
	Backend    string // "", "http" or "grpc"
	BaseURL    string
	APIKey     string
	GrpcAddr   string
	MaxResults int
}

// SummaryConfig controls post-conversation summaries.
type SummaryConfig struct {
	Enabled bool
	APIKey  string
	Model   string
	BaseURL string
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// RateLimitConfig bounds widget control requests per client.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig controls the host event stream.
type SSEConfig struct {
	KeepaliveInterval time.Duration
	RetryDelay        time.Duration
	ReplayQueueSize   int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/voicewidget.db"),
		Version:     getEnv("WIDGET_VERSION", "dev"),

		AccountID: getEnv("ACCOUNT_ID", ""),
		AgentID:   getEnv("AGENT_ID", ""),

		AgentConfigBaseURL: getEnv("AGENT_CONFIG_BASE_URL", ""),
		AgentTokenURL:      getEnv("AGENT_TOKEN_URL", ""),
		ConfigFetchTimeout: getEnvDuration("CONFIG_FETCH_TIMEOUT", 10*time.Second),

		Realtime: RealtimeConfig{
			URL:           getEnv("REALTIME_URL", "wss://api.openai.com/v1/realtime"),
			Model:         getEnv("REALTIME_MODEL", "gpt-realtime"),
			GreetingDelay: getEnvDuration("GREETING_DELAY", 500*time.Millisecond),
			GreetingText:  getEnv("GREETING_TEXT", "Hello!"),
			DateLayout:    getEnv("DATE_LAYOUT", "Monday, January 2, 2006"),
		},
		Audio: AudioConfig{
			Source: getEnv("AUDIO_SOURCE", ""),
			Sink:   getEnv("AUDIO_SINK", ""),
		},
		Knowledge: KnowledgeConfig{
			Backend:    strings.ToLower(getEnv("KNOWLEDGE_BACKEND", "")),
			BaseURL:    getEnv("KNOWLEDGE_BASE_URL", "https://api.openai.com/v1"),
			APIKey:     getEnv("KNOWLEDGE_API_KEY", ""),
			GrpcAddr:   getEnv("KNOWLEDGE_GRPC_ADDR", ""),
			MaxResults: getEnvInt("KNOWLEDGE_MAX_RESULTS", 5),
		},
		Summary: SummaryConfig{
			Enabled: getEnvBool("SUMMARY_ENABLED", false),
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			Model:   getEnv("SUMMARY_MODEL", "gpt-4o-mini"),
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			KeepaliveInterval: getEnvDuration("SSE_KEEPALIVE", 10*time.Second),
			RetryDelay:        getEnvDuration("SSE_RETRY", 5*time.Second),
			ReplayQueueSize:   getEnvInt("SSE_REPLAY_QUEUE_SIZE", 100),
		},

		HistoryLimit: getEnvInt("HISTORY_LIMIT", 5),
		RetentionTTL: getEnvDuration("RETENTION_TTL", 30*24*time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.AgentConfigBaseURL == "" {
		return fmt.Errorf("AGENT_CONFIG_BASE_URL cannot be empty")
	}
	if c.AgentTokenURL == "" {
		return fmt.Errorf("AGENT_TOKEN_URL cannot be empty")
	}
	if c.ConfigFetchTimeout <= 0 {
		return fmt.Errorf("CONFIG_FETCH_TIMEOUT must be > 0")
	}
	switch c.Knowledge.Backend {
	case "":
	case "http":
		if c.Knowledge.APIKey == "" {
			return fmt.Errorf("KNOWLEDGE_API_KEY is required for the http knowledge backend")
		}
	case "grpc":
		if c.Knowledge.GrpcAddr == "" {
			return fmt.Errorf("KNOWLEDGE_GRPC_ADDR is required for the grpc knowledge backend")
		}
	default:
		return fmt.Errorf("KNOWLEDGE_BACKEND must be one of http, grpc (got %q)", c.Knowledge.Backend)
	}
	if c.Summary.Enabled && c.Summary.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when SUMMARY_ENABLED is set")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the host surface.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
