package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main abitur configuration
type Config struct {
	// Telegram
	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`

	// AI backends and prompt settings
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Session store
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Admissions knowledge document
	Knowledge KnowledgeConfig `json:"knowledge" mapstructure:"knowledge"`

	// Per-user ingress rate limit
	RateLimit RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit"`

	// Question and answer filtering
	Moderation ModerationConfig `json:"moderation" mapstructure:"moderation"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics endpoint and audit log
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken     string  `json:"bot_token" mapstructure:"bot_token"`
	APIEndpoint  string  `json:"api_endpoint,omitempty" mapstructure:"api_endpoint"` // e.g. a local Bot API server, "%s" for token then method
	Allowlist    []int64 `json:"allowlist" mapstructure:"allowlist"`                 // empty means everyone
	StartText    string  `json:"start_text" mapstructure:"start_text"`
	HelpText     string  `json:"help_text" mapstructure:"help_text"`
	ThinkingText string  `json:"thinking_text" mapstructure:"thinking_text"` // sent before the answer, empty disables
	ErrorText    string  `json:"error_text" mapstructure:"error_text"`
	BusyText     string  `json:"busy_text" mapstructure:"busy_text"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles     []AIProfile   `json:"profiles" mapstructure:"profiles"`
	Temperature  float64       `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int           `json:"max_tokens" mapstructure:"max_tokens"`
	SystemPrompt string        `json:"system_prompt" mapstructure:"system_prompt"`
	MaxRetries   int           `json:"max_retries" mapstructure:"max_retries"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai, gemini
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Model    string `json:"model" mapstructure:"model"`
	BaseURL  string `json:"base_url,omitempty" mapstructure:"base_url"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// SessionConfig holds the session store settings
type SessionConfig struct {
	MaxMessages   int           `json:"max_messages" mapstructure:"max_messages"`
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
	StorageRoot   string        `json:"storage_root" mapstructure:"storage_root"`
}

// KnowledgeConfig points at the admissions document
type KnowledgeConfig struct {
	Path  string `json:"path" mapstructure:"path"` // .txt or .json
	Watch bool   `json:"watch" mapstructure:"watch"`
}

// RateLimitConfig holds the per-user message limit
type RateLimitConfig struct {
	Enabled   bool `json:"enabled" mapstructure:"enabled"`
	PerMinute int  `json:"per_minute" mapstructure:"per_minute"`
	Burst     int  `json:"burst" mapstructure:"burst"`
}

// ModerationConfig holds the question and answer filter
type ModerationConfig struct {
	Enabled           bool     `json:"enabled" mapstructure:"enabled"`
	BlockedKeywords   []string `json:"blocked_keywords" mapstructure:"blocked_keywords"`
	BlockedPatterns   []string `json:"blocked_patterns" mapstructure:"blocked_patterns"`
	MaxQuestionLength int      `json:"max_question_length" mapstructure:"max_question_length"` // runes, 0 means unlimited
	RejectText        string   `json:"reject_text" mapstructure:"reject_text"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	// extra expressions scrubbed from log output, e.g. local record book numbers
	RedactPatterns []string `json:"redact_patterns,omitempty" mapstructure:"redact_patterns"`
}

// MetricsConfig holds the Prometheus listener and audit log settings
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Addr     string `json:"addr" mapstructure:"addr"`
	AuditLog string `json:"audit_log" mapstructure:"audit_log"`
}

const (
	DefaultStartText    = "Здравствуйте! Я помощник приёмной комиссии. Задайте вопрос о поступлении."
	DefaultHelpText     = "Напишите вопрос о поступлении: направления, экзамены, баллы, сроки подачи документов. Я отвечу по информации приёмной комиссии."
	DefaultThinkingText = "Секунду, ищу ответ..."
	DefaultErrorText    = "Произошла ошибка, попробуйте задать вопрос ещё раз."
	DefaultBusyText     = "Слишком много сообщений. Подождите немного и повторите вопрос."
	DefaultRejectText   = "Я могу ответить только на вопросы о поступлении. Переформулируйте, пожалуйста, вопрос короче."
)

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			Allowlist:    []int64{},
			StartText:    DefaultStartText,
			HelpText:     DefaultHelpText,
			ThinkingText: DefaultThinkingText,
			ErrorText:    DefaultErrorText,
			BusyText:     DefaultBusyText,
		},
		AI: AIConfig{
			Profiles:    []AIProfile{},
			Temperature: 0.2,
			MaxTokens:   700,
			MaxRetries:  3,
			Timeout:     60 * time.Second,
		},
		Session: SessionConfig{
			MaxMessages:   5,
			Timeout:       15 * time.Minute,
			SweepInterval: 60 * time.Second,
		},
		Knowledge: KnowledgeConfig{
			Watch: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:   true,
			PerMinute: 20,
			Burst:     5,
		},
		Moderation: ModerationConfig{
			Enabled:           true,
			BlockedKeywords:   []string{},
			BlockedPatterns:   []string{},
			MaxQuestionLength: 1000,
			RejectText:        DefaultRejectText,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// ValidateSession checks the settings the session store depends on.
func (c *Config) ValidateSession() error {
	if c.Session.MaxMessages <= 0 {
		return fmt.Errorf("session.max_messages must be positive, got %d", c.Session.MaxMessages)
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session.timeout must be positive, got %s", c.Session.Timeout)
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session.sweep_interval must be positive, got %s", c.Session.SweepInterval)
	}
	if c.Session.StorageRoot == "" {
		return fmt.Errorf("session.storage_root is required")
	}
	return nil
}

// Validate checks if the configuration is complete enough to serve
func (c *Config) Validate() error {
	if err := c.ValidateSession(); err != nil {
		return err
	}

	// Require at least one AI profile
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	// Validate AI profiles
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.Provider == "" {
			return fmt.Errorf("AI profile %s: provider is required", profile.ID)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		validProviders := []string{"anthropic", "openai", "gemini"}
		valid := false
		for _, vp := range validProviders {
			if profile.Provider == vp {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai, gemini)", profile.ID, profile.Provider)
		}
	}

	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram bot token is required")
	}
	if c.Knowledge.Path == "" {
		return fmt.Errorf("knowledge.path is required")
	}
	if c.RateLimit.Enabled && c.RateLimit.PerMinute <= 0 {
		return fmt.Errorf("rate_limit.per_minute must be positive when rate limiting is enabled")
	}

	return nil
}
