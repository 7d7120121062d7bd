package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var telegramTokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case "gemini":
		if strings.ContainsAny(key, " \t\n") {
			return fmt.Errorf("invalid Gemini API key format (contains whitespace)")
		}
	}

	return nil
}

// ValidateTelegramToken validates a Telegram bot token
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}

	// Telegram bot tokens have format: <bot_id>:<token>
	// Example: 123456789:ABCdefGHIjklMNOpqrsTUVwxyz
	if !telegramTokenPattern.MatchString(token) {
		return fmt.Errorf("invalid Telegram bot token format")
	}

	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateKnowledgePath checks the knowledge document extension.
func (v *Validator) ValidateKnowledgePath(path string) error {
	if path == "" {
		return fmt.Errorf("knowledge path cannot be empty")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".json", ".md":
		return nil
	default:
		return fmt.Errorf("unsupported knowledge document %s (must be .txt, .md or .json)", path)
	}
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, profile := range cfg.AI.Profiles {
		if profile.Provider != "" {
			if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
				errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			}
		}
		if profile.Model == "" {
			errors = append(errors, fmt.Errorf("AI profile %d (%s): model is required", i, profile.ID))
		}
	}
	if err := v.ValidateTemperature(cfg.AI.Temperature); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateMaxTokens(cfg.AI.MaxTokens); err != nil {
		errors = append(errors, err)
	}
	if cfg.AI.MaxRetries < 0 {
		errors = append(errors, fmt.Errorf("ai.max_retries must be >= 0"))
	}

	if cfg.Telegram.BotToken != "" {
		if err := v.ValidateTelegramToken(cfg.Telegram.BotToken); err != nil {
			errors = append(errors, err)
		}
	}

	if err := cfg.ValidateSession(); err != nil {
		errors = append(errors, err)
	}
	if cfg.Knowledge.Path != "" {
		if err := v.ValidateKnowledgePath(cfg.Knowledge.Path); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.RateLimit.Burst < 0 {
		errors = append(errors, fmt.Errorf("rate_limit.burst must be >= 0"))
	}

	for _, p := range cfg.Moderation.BlockedPatterns {
		if _, err := regexp.Compile(p); err != nil {
			errors = append(errors, fmt.Errorf("moderation pattern %q: %w", p, err))
		}
	}
	if cfg.Moderation.MaxQuestionLength < 0 {
		errors = append(errors, fmt.Errorf("moderation.max_question_length must be >= 0"))
	}

	for _, p := range cfg.Logging.RedactPatterns {
		if _, err := regexp.Compile(p); err != nil {
			errors = append(errors, fmt.Errorf("logging redact pattern %q: %w", p, err))
		}
	}

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
