package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/abitur/internal/observability"
	"github.com/harun/abitur/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// CacheConfig configures a Cache.
type CacheConfig struct {
	// MaxMessages bounds every session's history (default 5).
	MaxMessages int
	// Now is the clock used for LastActive (default time.Now).
	Now func() time.Time
}

// entry is one live session. Its mutex guards the session fields and
// the user's durable I/O.
type entry struct {
	mu      sync.Mutex
	session *Session
	removed bool
}

// Cache maps user ids to their live sessions.
type Cache struct {
	store       Store
	maxMessages int
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewCache creates a Cache backed by store.
func NewCache(store Store, cfg CacheConfig) *Cache {
	observability.EnsureRegistered()

	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Cache{
		store:       store,
		maxMessages: cfg.MaxMessages,
		now:         cfg.Now,
		entries:     make(map[string]*entry),
	}
}

// MaxMessages returns the history bound.
func (c *Cache) MaxMessages() int {
	return c.maxMessages
}

// Len returns the number of live sessions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// acquire returns the user's entry with its lock held, loading the durable
// record on first touch. The placeholder entry is inserted with its lock
// already held, so concurrent first touches wait for a single Load.
func (c *Cache) acquire(ctx context.Context, userID string) (*entry, error) {
	for {
		c.mu.Lock()
		e, ok := c.entries[userID]
		if !ok {
			e = &entry{}
			e.mu.Lock()
			c.entries[userID] = e
			size := len(c.entries)
			c.mu.Unlock()

			if err := c.load(ctx, userID, e); err != nil {
				c.mu.Lock()
				delete(c.entries, userID)
				size = len(c.entries)
				c.mu.Unlock()
				e.removed = true
				e.mu.Unlock()
				observability.SetActiveSessions(size)
				return nil, err
			}
			observability.SetActiveSessions(size)
			return e, nil
		}
		c.mu.Unlock()

		e.mu.Lock()
		if e.removed {
			// Evicted or failed to load while we waited; start over.
			e.mu.Unlock()
			continue
		}
		return e, nil
	}
}

func (c *Cache) load(ctx context.Context, userID string, e *entry) error {
	ctx, span := tracing.StartSpan(
		ctx,
		"abitur.session",
		"session.cache.load",
		attribute.String("user_id", userID),
	)
	defer span.End()

	turns, err := c.store.Load(ctx, userID)
	if err != nil {
		tracing.RecordError(span, err)
		logger := tracing.LoggerFromContext(ctx, log.Logger)
		logger.Error().
			Err(err).
			Str("user_id", userID).
			Msg("Failed to load session record")
		return fmt.Errorf("failed to load session: %w", err)
	}

	e.session = &Session{
		UserID:     userID,
		Messages:   lastN(turns, c.maxMessages),
		LastActive: c.now(),
	}
	return nil
}

// lookup returns the user's live entry with its lock held, or ErrNotFound.
// It never loads.
func (c *Cache) lookup(userID string) (*entry, error) {
	c.mu.Lock()
	e, ok := c.entries[userID]
	c.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return nil, ErrNotFound
	}
	return e, nil
}

// detach removes e from the map. Caller holds e.mu.
func (c *Cache) detach(userID string, e *entry) {
	c.mu.Lock()
	if c.entries[userID] == e {
		delete(c.entries, userID)
	}
	size := len(c.entries)
	c.mu.Unlock()

	e.removed = true
	observability.SetActiveSessions(size)
}

// GetOrCreate returns a copy of the user's live session, loading it from
// the store on first touch. A read counts as activity.
func (c *Cache) GetOrCreate(ctx context.Context, userID string) (*Session, error) {
	e, err := c.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	e.session.LastActive = c.now()
	return e.session.Clone(), nil
}

// Touch refreshes the user's LastActive, loading the session if absent.
func (c *Cache) Touch(ctx context.Context, userID string) error {
	e, err := c.acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	e.session.LastActive = c.now()
	return nil
}

// AppendUserTurn appends a user question to the history.
func (c *Cache) AppendUserTurn(ctx context.Context, userID, text string) (*Session, error) {
	return c.appendTurn(ctx, userID, SpeakerUser, text)
}

// AppendAssistantTurn appends an assistant answer to the history.
func (c *Cache) AppendAssistantTurn(ctx context.Context, userID, text string) (*Session, error) {
	return c.appendTurn(ctx, userID, SpeakerAssistant, text)
}

func (c *Cache) appendTurn(ctx context.Context, userID string, speaker Speaker, text string) (*Session, error) {
	e, err := c.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	now := c.now()
	s := e.session
	s.Messages = append(s.Messages, Turn{Speaker: speaker, Text: text, At: now})
	if len(s.Messages) > c.maxMessages {
		s.Messages = lastN(s.Messages, c.maxMessages)
	}
	s.LastActive = now

	return s.Clone(), nil
}

// Remove detaches the user's session and returns it. The caller owns
// persisting it.
func (c *Cache) Remove(userID string) (*Session, error) {
	e, err := c.lookup(userID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	c.detach(userID, e)
	return e.session.Clone(), nil
}

// Snapshot returns a point-in-time copy of every live session.
func (c *Cache) Snapshot() map[string]*Session {
	c.mu.Lock()
	entries := make(map[string]*entry, len(c.entries))
	for id, e := range c.entries {
		entries[id] = e
	}
	c.mu.Unlock()

	out := make(map[string]*Session, len(entries))
	for id, e := range entries {
		e.mu.Lock()
		if !e.removed && e.session != nil {
			out[id] = e.session.Clone()
		}
		e.mu.Unlock()
	}
	return out
}

// EvictIfIdle saves and evicts the user's session if it has been idle for
// longer than timeout at now. Idleness is checked under the user's lock,
// so a session touched after it was scanned stays live. On a failed save
// the session stays live and the error is returned.
func (c *Cache) EvictIfIdle(ctx context.Context, userID string, timeout time.Duration, now time.Time) (bool, error) {
	e, err := c.lookup(userID)
	if err != nil {
		return false, err
	}
	defer e.mu.Unlock()

	if e.session.IdleFor(now) <= timeout {
		return false, nil
	}

	if err := c.store.Save(ctx, userID, cloneTurns(e.session.Messages)); err != nil {
		return false, err
	}

	c.detach(userID, e)
	return true, nil
}

// Flush saves every live session without evicting it. Failures are
// collected and returned together.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	entries := make(map[string]*entry, len(c.entries))
	for id, e := range c.entries {
		entries[id] = e
	}
	c.mu.Unlock()

	var errs []error
	saved := 0
	for id, e := range entries {
		e.mu.Lock()
		if e.removed || e.session == nil {
			e.mu.Unlock()
			continue
		}
		err := c.store.Save(ctx, id, cloneTurns(e.session.Messages))
		e.mu.Unlock()

		if err != nil {
			errs = append(errs, err)
			observability.RecordSessionAudit(ctx, "flush", id, "failure", map[string]interface{}{"error": err.Error()})
			continue
		}
		saved++
	}

	log.Info().
		Int("saved", saved).
		Int("failed", len(errs)).
		Msg("Session cache flushed")

	return errors.Join(errs...)
}
