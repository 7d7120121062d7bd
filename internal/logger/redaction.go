package logger

import (
	"fmt"
	"io"
	"regexp"
	"sync"
)

const redacted = "[REDACTED]"

// rule replaces every match of re with repl. repl may refer to groups.
type rule struct {
	name string
	re   *regexp.Regexp
	repl string
}

// Redactor scrubs backend credentials, bot tokens and applicant contact
// details from log output.
type Redactor struct {
	mu    sync.RWMutex
	rules []rule
}

func defaultRules() []rule {
	return []rule{
		// Backend credentials. The Anthropic form must run before the generic sk- one.
		{name: "anthropic_key", re: regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`), repl: redacted},
		{name: "openai_key", re: regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`), repl: redacted},
		{name: "google_key", re: regexp.MustCompile(`AIza[0-9A-Za-z_-]{30,}`), repl: redacted},
		{name: "key_param", re: regexp.MustCompile(`([?&]key=)[^&\s"]+`), repl: "${1}" + redacted},
		{name: "bearer", re: regexp.MustCompile(`(Bearer\s+)[a-zA-Z0-9._-]+`), repl: "${1}" + redacted},

		// The bot token also appears inside Bot API URLs.
		{name: "telegram_token", re: regexp.MustCompile(`\d{8,10}:[a-zA-Z0-9_-]{30,}`), repl: redacted},

		{name: "password", re: regexp.MustCompile(`(?i)(password|pwd)(["\s:=]+)[^\s"]+`), repl: "${1}${2}" + redacted},
		{name: "secret", re: regexp.MustCompile(`(?i)(secret|token)(["\s:=]+)[a-zA-Z0-9._-]{20,}`), repl: "${1}${2}" + redacted},

		// Applicants write their contact details into questions.
		{name: "email", re: regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), repl: redacted},
		{name: "phone_ru", re: regexp.MustCompile(`(?:\+7|\b8)[\s(-]*\d{3}[\s)-]*\d{3}[\s-]*\d{2}[\s-]*\d{2}\b`), repl: redacted},
		{name: "snils", re: regexp.MustCompile(`\b\d{3}-\d{3}-\d{3}[ -]\d{2}\b`), repl: redacted},
	}
}

// NewRedactor creates a redactor with the built-in rules
func NewRedactor() *Redactor {
	return &Redactor{rules: defaultRules()}
}

// AddPattern adds a pattern whose matches are replaced entirely.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid redaction pattern %q: %w", pattern, err)
	}
	r.mu.Lock()
	r.rules = append(r.rules, rule{name: "custom", re: re, repl: redacted})
	r.mu.Unlock()
	return nil
}

// Redact applies every rule to s in order.
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rl := range r.rules {
		s = rl.re.ReplaceAllString(s, rl.repl)
	}
	return s
}

// Wrap returns a writer that redacts before writing to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success since the redacted output may be shorter.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(w.writer, w.redactor.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
