// Package knowledge holds the admissions document the bot answers from.
package knowledge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Load reads the document at path. JSON documents must be valid and are
// compacted; anything else is used as text.
func Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read knowledge document: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return "", fmt.Errorf("invalid JSON knowledge document: %w", err)
		}
		return buf.String(), nil
	}

	return strings.TrimSpace(string(data)), nil
}

// Store keeps the current document text.
type Store struct {
	path string

	mu       sync.RWMutex
	text     string
	loadedAt time.Time
}

// NewStore loads path into a new Store.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStaticStore returns a Store holding text that is never reloaded.
func NewStaticStore(text string) *Store {
	return &Store{text: text, loadedAt: time.Now()}
}

// Path returns the document path, empty for a static store.
func (s *Store) Path() string {
	return s.path
}

// Text returns the current document text.
func (s *Store) Text() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text
}

// LoadedAt returns when the current text was loaded.
func (s *Store) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// Reload re-reads the document. On failure the previous text is kept.
func (s *Store) Reload() error {
	if s.path == "" {
		return fmt.Errorf("knowledge store has no path")
	}

	text, err := Load(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.text = text
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return nil
}
