package daemon

import (
	"context"
	"time"

	"github.com/harun/abitur/internal/observability"
)

const defaultEventLoopInterval = 30 * time.Second

// EventLoop handles periodic maintenance while the daemon runs
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: defaultEventLoopInterval,
	}
}

// Run runs the event loop until ctx is cancelled
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.logger.Info().Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.logger.Info().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks(ctx)
		}
	}
}

// processTasks refreshes gauges and logs busy lanes
func (e *EventLoop) processTasks(_ context.Context) {
	observability.SetActiveSessions(e.daemon.cache.Len())

	stats := e.daemon.queue.GetStats()
	for lane, laneStats := range stats {
		if laneStats["queued"] > 0 || laneStats["running"] > 0 {
			e.daemon.logger.Debug().
				Str("lane", lane).
				Int("queued", laneStats["queued"]).
				Int("running", laneStats["running"]).
				Msg("Queue stats")
		}
	}

	e.daemon.logger.Debug().
		Int("active_sessions", e.daemon.cache.Len()).
		Int("rate_limited_users", e.daemon.limiter.Len()).
		Int("lanes", e.daemon.queue.LaneCount()).
		Msg("Maintenance tick")
}

// HandleShutdown waits briefly for answers in progress
func (e *EventLoop) HandleShutdown() {
	e.daemon.logger.Info().Msg("Handling graceful shutdown")

	if e.daemon.queue.WaitForActive(5 * time.Second) {
		e.daemon.logger.Info().Msg("All active tasks completed")
	} else {
		e.daemon.logger.Warn().Msg("Active tasks still running at shutdown")
	}
}
