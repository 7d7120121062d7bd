package agent

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrEmptyQuestion is returned for a question with no text.
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrEmptyAnswer is returned when the backend produced no text.
	ErrEmptyAnswer = errors.New("backend returned an empty answer")
	// ErrNoProviders is returned when no profile could be turned into a provider.
	ErrNoProviders = errors.New("no usable provider profiles")
)

// Role names used in Message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation message sent to a backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AuthProfile represents credentials and model choice for one backend
type AuthProfile struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"` // "anthropic", "openai", "gemini"
	APIKey        string `json:"api_key"`
	Model         string `json:"model,omitempty"`
	BaseURL       string `json:"base_url,omitempty"`
	Priority      int    `json:"priority"`
	CooldownUntil *int64 `json:"cooldown_until,omitempty"`
	FailureCount  int    `json:"failure_count"`
}

// AnswerConfig configures generation
type AnswerConfig struct {
	SystemPrompt string        `json:"system_prompt,omitempty"`
	Temperature  float64       `json:"temperature,omitempty"`
	MaxTokens    int           `json:"max_tokens,omitempty"`
	MaxRetries   int           `json:"max_retries,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
}

// DefaultAnswerConfig returns default generation settings
func DefaultAnswerConfig() AnswerConfig {
	return AnswerConfig{
		SystemPrompt: DefaultSystemPrompt,
		Temperature:  0.2,
		MaxTokens:    700,
		MaxRetries:   3,
		Timeout:      60 * time.Second,
	}
}

// DefaultModel returns the model used for provider when a profile names none.
func DefaultModel(provider string) string {
	switch provider {
	case "openai":
		return "gpt-3.5-turbo"
	case "anthropic":
		return "claude-3-5-haiku-latest"
	case "gemini":
		return "gemini-2.5-flash"
	default:
		return ""
	}
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errMsg := err.Error()

	// Network errors
	if strings.Contains(errMsg, "ECONNRESET") || strings.Contains(errMsg, "ETIMEDOUT") ||
		strings.Contains(errMsg, "connection reset") {
		return true
	}

	// Rate limits
	if strings.Contains(errMsg, "429") || strings.Contains(strings.ToLower(errMsg), "rate limit") {
		return true
	}

	// Server errors
	for _, code := range []string{"500", "502", "503", "504", "529"} {
		if strings.Contains(errMsg, code) {
			return true
		}
	}

	return false
}
