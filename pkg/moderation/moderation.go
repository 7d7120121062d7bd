// Package moderation filters questions before they reach the generative
// backend and answers before they reach the user.
package moderation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/harun/abitur/internal/config"
)

var (
	// ErrBlocked is returned for text that matches a blocked keyword or pattern.
	ErrBlocked = errors.New("content blocked")
	// ErrTooLong is returned for a question longer than the configured limit.
	ErrTooLong = errors.New("question too long")
)

// ContentFilter checks content against configured keywords and patterns.
type ContentFilter struct {
	enabled   bool
	keywords  []string
	patterns  []*regexp.Regexp
	maxLength int
}

// New creates a new content filter.
func New(cfg config.ModerationConfig) (*ContentFilter, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.BlockedPatterns))
	for _, p := range cfg.BlockedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	keywords := make([]string, 0, len(cfg.BlockedKeywords))
	for _, kw := range cfg.BlockedKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}

	return &ContentFilter{
		enabled:   cfg.Enabled,
		keywords:  keywords,
		patterns:  patterns,
		maxLength: cfg.MaxQuestionLength,
	}, nil
}

// CheckQuestion returns ErrTooLong or ErrBlocked for a question that should
// not be answered.
func (f *ContentFilter) CheckQuestion(question string) error {
	if f == nil || !f.enabled {
		return nil
	}
	if f.maxLength > 0 {
		if n := utf8.RuneCountInString(question); n > f.maxLength {
			return fmt.Errorf("%w: %d characters, limit %d", ErrTooLong, n, f.maxLength)
		}
	}
	return f.check(question)
}

// CheckAnswer returns ErrBlocked for an answer that should not be sent.
// Length is not limited; long answers are split by the transport.
func (f *ContentFilter) CheckAnswer(answer string) error {
	if f == nil || !f.enabled {
		return nil
	}
	return f.check(answer)
}

func (f *ContentFilter) check(text string) error {
	normalized := strings.ToLower(text)
	for _, kw := range f.keywords {
		if strings.Contains(normalized, kw) {
			return fmt.Errorf("%w: keyword %q", ErrBlocked, kw)
		}
	}
	for i, re := range f.patterns {
		if re.MatchString(text) {
			return fmt.Errorf("%w: pattern #%d", ErrBlocked, i+1)
		}
	}
	return nil
}
