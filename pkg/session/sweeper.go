package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/abitur/internal/observability"
	"github.com/harun/abitur/internal/tracing"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultSessionTimeout = 15 * time.Minute
	DefaultSweepInterval  = 60 * time.Second
)

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	// Timeout is how long a session may stay idle before eviction.
	Timeout time.Duration
	// Interval is the pause between sweeps. cron rounds it down to whole
	// seconds with a one second minimum.
	Interval time.Duration
	// Now is the clock used to judge idleness (default time.Now).
	Now func() time.Time
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned int
	Evicted int
	Failed  int
}

// Sweeper periodically persists and evicts idle sessions.
type Sweeper struct {
	cache    *Cache
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	scheduler *cron.Cron
	running   bool
}

// NewSweeper creates a Sweeper for cache. It does not start it.
func NewSweeper(cache *Cache, cfg SweeperConfig) *Sweeper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSessionTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Sweeper{
		cache:    cache,
		timeout:  cfg.Timeout,
		interval: cfg.Interval,
		now:      cfg.Now,
	}
}

// Start schedules the sweep. Overlapping runs are skipped.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper is already running")
	}

	logger := cronLogger{}
	s.scheduler = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	s.scheduler.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		s.Sweep(context.Background())
	}))
	s.scheduler.Start()
	s.running = true

	log.Info().
		Dur("timeout", s.timeout).
		Dur("interval", s.interval).
		Msg("Session sweeper started")

	return nil
}

// Stop unschedules the sweep and waits for a running one to finish.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper is not running")
	}
	scheduler := s.scheduler
	s.running = false
	s.scheduler = nil
	s.mu.Unlock()

	<-scheduler.Stop().Done()

	log.Info().Msg("Session sweeper stopped")
	return nil
}

// IsRunning reports whether the sweep is scheduled.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Timeout returns the idle timeout.
func (s *Sweeper) Timeout() time.Duration {
	return s.timeout
}

// Interval returns the pause between sweeps.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Sweep runs one scan-and-evict pass at the sweeper's current time.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	return s.SweepAt(ctx, s.now())
}

// SweepAt runs one scan-and-evict pass judging idleness at now.
func (s *Sweeper) SweepAt(ctx context.Context, now time.Time) SweepResult {
	ctx, span := tracing.StartSpan(ctx, "abitur.session", "session.sweep")
	defer span.End()

	start := time.Now()
	defer func() {
		observability.RecordSweep(time.Since(start))
	}()

	snapshot := s.cache.Snapshot()
	result := SweepResult{Scanned: len(snapshot)}

	ids := make([]string, 0, len(snapshot))
	for id, sess := range snapshot {
		if sess.IdleFor(now) > s.timeout {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		evicted, err := s.cache.EvictIfIdle(ctx, id, s.timeout, now)
		switch {
		case errors.Is(err, ErrNotFound):
			// Removed since the snapshot was taken.
		case err != nil:
			result.Failed++
			log.Error().Err(err).Str("user_id", id).Msg("Failed to persist idle session, keeping it live")
			observability.RecordSessionAudit(ctx, "evict", id, "failure", map[string]interface{}{"error": err.Error()})
		case evicted:
			result.Evicted++
			observability.RecordSessionEviction()
			observability.RecordSessionAudit(ctx, "evict", id, "success", nil)
		}
	}

	span.SetAttributes(
		attribute.Int("sweep.scanned", result.Scanned),
		attribute.Int("sweep.evicted", result.Evicted),
		attribute.Int("sweep.failed", result.Failed),
	)

	if result.Evicted > 0 || result.Failed > 0 {
		log.Info().
			Int("scanned", result.Scanned).
			Int("evicted", result.Evicted).
			Int("failed", result.Failed).
			Msg("Idle sessions swept")
	}

	return result
}

// cronLogger routes cron's internal logging to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
