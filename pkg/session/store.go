package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/harun/abitur/internal/observability"
	"github.com/harun/abitur/internal/tracing"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultMaxMessages bounds a history when no limit is configured.
	DefaultMaxMessages = 5

	recordVersion = 1
	filePrefix    = "user_"
	fileExt       = ".json"
)

// Store is the durable side of the session lifecycle.
type Store interface {
	// Load returns the newest turns of the user's record, or an empty
	// history when no record exists.
	Load(ctx context.Context, userID string) ([]Turn, error)
	// Save overwrites the user's record with exactly turns.
	Save(ctx context.Context, userID string, turns []Turn) error
}

// record is the on-disk layout of a durable session record.
type record struct {
	Version   int       `json:"version"`
	UserID    string    `json:"user_id"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Turn    `json:"messages"`
}

const recordSchema = `{
  "type": "object",
  "required": ["messages"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "user_id": {"type": "string"},
    "updated_at": {"type": "string"},
    "messages": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["speaker", "text"],
        "properties": {
          "speaker": {"type": "string", "enum": ["user", "assistant"]},
          "text": {"type": "string"},
          "at": {"type": "string"}
        }
      }
    }
  }
}`

// FileStore keeps one JSON record per user under a root directory.
type FileStore struct {
	root        string
	maxMessages int
	schema      *gojsonschema.Schema
	now         func() time.Time
}

// NewFileStore creates a FileStore rooted at root. The directory is created
// on the first save.
func NewFileStore(root string, maxMessages int) (*FileStore, error) {
	observability.EnsureRegistered()

	if root == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		root = filepath.Join(homeDir, ".abitur", "sessions")
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(recordSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile record schema: %w", err)
	}

	return &FileStore{
		root:        root,
		maxMessages: maxMessages,
		schema:      schema,
		now:         time.Now,
	}, nil
}

// Root returns the storage directory.
func (fs *FileStore) Root() string {
	return fs.root
}

// validateUserID rejects ids that could escape the storage root.
func validateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if strings.Contains(userID, "..") {
		return fmt.Errorf("%w: cannot contain '..'", ErrInvalidUserID)
	}
	if strings.ContainsAny(userID, "/\\") {
		return fmt.Errorf("%w: cannot contain path separators", ErrInvalidUserID)
	}
	if strings.Contains(userID, "\x00") {
		return fmt.Errorf("%w: cannot contain null bytes", ErrInvalidUserID)
	}
	return nil
}

// Path returns the record path for userID.
func (fs *FileStore) Path(userID string) string {
	return filepath.Join(fs.root, filePrefix+userID+fileExt)
}

// Load implements Store.
func (fs *FileStore) Load(ctx context.Context, userID string) ([]Turn, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"abitur.session",
		"session.store.load",
		attribute.String("user_id", userID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("user_id", userID).Logger()

	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	if err := validateUserID(userID); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	data, err := os.ReadFile(fs.Path(userID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			span.SetAttributes(attribute.Bool("session.found", false))
			return []Turn{}, nil
		}
		perr := &PersistenceError{Op: "load", UserID: userID, Err: err}
		tracing.RecordError(span, perr)
		observability.RecordPersistFailure("load")
		return nil, perr
	}

	turns, err := fs.decode(data)
	if err != nil {
		// A damaged record costs the user their history, not the service.
		logger.Warn().Err(err).Str("path", fs.Path(userID)).Msg("Ignoring corrupt session record")
		observability.RecordCorruptRecord()
		span.SetAttributes(attribute.Bool("session.corrupt", true))
		return []Turn{}, nil
	}

	turns = lastN(turns, fs.maxMessages)
	span.SetAttributes(
		attribute.Bool("session.found", true),
		attribute.Int("session.turns", len(turns)),
	)
	logger.Debug().Int("turns", len(turns)).Msg("Session record loaded")
	return turns, nil
}

// decode validates and parses a record. Any failure is ErrCorruptRecord.
func (fs *FileStore) decode(data []byte) ([]Turn, error) {
	result, err := fs.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrCorruptRecord, strings.Join(msgs, "; "))
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if rec.Messages == nil {
		rec.Messages = []Turn{}
	}
	return rec.Messages, nil
}

// Save implements Store. The record is written to a temporary file and
// renamed into place so readers never observe a partial write.
func (fs *FileStore) Save(ctx context.Context, userID string, turns []Turn) error {
	ctx, span := tracing.StartSpan(
		ctx,
		"abitur.session",
		"session.store.save",
		attribute.String("user_id", userID),
		attribute.Int("session.turns", len(turns)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("user_id", userID).Logger()

	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := validateUserID(userID); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	if turns == nil {
		turns = []Turn{}
	}
	data, err := json.MarshalIndent(record{
		Version:   recordVersion,
		UserID:    userID,
		UpdatedAt: fs.now().UTC(),
		Messages:  turns,
	}, "", "  ")
	if err != nil {
		perr := &PersistenceError{Op: "save", UserID: userID, Err: fmt.Errorf("failed to encode record: %w", err)}
		tracing.RecordError(span, perr)
		return perr
	}

	if err := fs.writeAtomic(userID, data); err != nil {
		perr := &PersistenceError{Op: "save", UserID: userID, Err: err}
		tracing.RecordError(span, perr)
		observability.RecordPersistFailure("save")
		return perr
	}

	logger.Debug().Int("turns", len(turns)).Msg("Session record saved")
	return nil
}

func (fs *FileStore) writeAtomic(userID string, data []byte) error {
	if err := os.MkdirAll(fs.root, 0700); err != nil {
		return fmt.Errorf("failed to create storage root: %w", err)
	}

	tmp, err := os.CreateTemp(fs.root, "."+filePrefix+userID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, fs.Path(userID)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace record: %w", err)
	}
	return nil
}

// List returns the user ids that have a durable record, sorted.
func (fs *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(fs.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read storage root: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileExt))
	}
	sort.Strings(ids)
	return ids, nil
}
