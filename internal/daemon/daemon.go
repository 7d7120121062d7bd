package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/abitur/internal/config"
	"github.com/harun/abitur/internal/knowledge"
	"github.com/harun/abitur/internal/logger"
	"github.com/harun/abitur/internal/metrics"
	"github.com/harun/abitur/internal/observability"
	"github.com/harun/abitur/internal/telegram"
	"github.com/harun/abitur/internal/tracing"
	"github.com/harun/abitur/pkg/agent"
	"github.com/harun/abitur/pkg/commandqueue"
	"github.com/harun/abitur/pkg/moderation"
	"github.com/harun/abitur/pkg/session"
)

// Daemon represents the abitur bot service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Session store
	store   *session.FileStore
	cache   *session.Cache
	sweeper *session.Sweeper

	// Answering
	knowledge   *knowledge.Store
	watcher     *knowledge.Watcher
	agentRunner *agent.Runner
	queue       *commandqueue.CommandQueue
	limiter     *RateLimiter
	filter      *moderation.ContentFilter

	// Telegram
	telegramBot     *telegram.Bot
	telegramHandler *telegram.Handler
	telegramCmd     *telegram.Commands

	metricsServer *metrics.Server

	// Internal
	eventLoop *EventLoop
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status represents daemon status
type Status struct {
	Running        bool
	Uptime         time.Duration
	StartTime      time.Time
	ActiveSessions int
}

// Version is reported by the CLI and attached to traces.
const Version = "0.1.0"

const (
	// maxPendingPerUser bounds how many questions one user may have waiting.
	maxPendingPerUser = 3

	botStopTimeout = 10 * time.Second
	flushTimeout   = 10 * time.Second
)

var newAgentRunner = func(cfg agent.Config) (*agent.Runner, error) {
	return agent.NewRunner(cfg)
}

var newProviderFactory = func() agent.ProviderCreator {
	return &agent.ProviderFactory{}
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.ValidateSession(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	tracingEnabled := true
	if err := tracing.InitOpenTelemetry(tracing.Options{ServiceName: "abitur-daemon", ServiceVersion: Version}); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		tracingEnabled = false
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		tracingEnabled: tracingEnabled,
	}

	if err := d.initializeCoreModules(); err != nil {
		d.abortInit()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		d.abortInit()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

func (d *Daemon) abortInit() {
	d.cancel()
	if d.queue != nil {
		_ = d.queue.Close()
	}
	if d.tracingEnabled {
		_ = tracing.ShutdownOpenTelemetry(context.Background())
		d.tracingEnabled = false
	}
}

// initializeCoreModules builds the session store, knowledge and runner
func (d *Daemon) initializeCoreModules() error {
	store, err := session.NewFileStore(d.config.Session.StorageRoot, d.config.Session.MaxMessages)
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}
	d.store = store

	d.cache = session.NewCache(store, session.CacheConfig{
		MaxMessages: d.config.Session.MaxMessages,
	})
	d.sweeper = session.NewSweeper(d.cache, session.SweeperConfig{
		Timeout:  d.config.Session.Timeout,
		Interval: d.config.Session.SweepInterval,
	})
	d.logger.Info().
		Str("root", store.Root()).
		Int("max_messages", d.config.Session.MaxMessages).
		Dur("timeout", d.config.Session.Timeout).
		Msg("Session store initialized")

	kb, err := knowledge.NewStore(d.config.Knowledge.Path)
	if err != nil {
		return fmt.Errorf("failed to load knowledge document: %w", err)
	}
	d.knowledge = kb

	if d.config.Knowledge.Watch {
		watcher, err := knowledge.NewWatcher(kb, knowledge.WatcherConfig{})
		if err != nil {
			return fmt.Errorf("failed to create knowledge watcher: %w", err)
		}
		d.watcher = watcher
	}

	runner, err := newAgentRunner(agent.Config{
		Cache:           d.cache,
		Knowledge:       kb,
		Logger:          d.logger.Component("agent"),
		AuthProfiles:    convertAuthProfiles(d.config.AI.Profiles),
		ProviderFactory: newProviderFactory(),
		Answer: agent.AnswerConfig{
			SystemPrompt: d.config.AI.SystemPrompt,
			Temperature:  d.config.AI.Temperature,
			MaxTokens:    d.config.AI.MaxTokens,
			MaxRetries:   d.config.AI.MaxRetries,
			Timeout:      d.config.AI.Timeout,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create agent runner: %w", err)
	}
	d.agentRunner = runner

	d.queue = commandqueue.New()

	if d.config.RateLimit.Enabled {
		d.limiter = NewRateLimiter(d.config.RateLimit.PerMinute, d.config.RateLimit.Burst)
	}

	filter, err := moderation.New(d.config.Moderation)
	if err != nil {
		return fmt.Errorf("failed to create content filter: %w", err)
	}
	d.filter = filter

	return nil
}

// initializeServices builds the Telegram bot, metrics listener and audit log
func (d *Daemon) initializeServices() error {
	if path := d.config.Metrics.AuditLog; path != "" {
		if err := observability.InitAuditLogger(path); err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
	}

	bot, err := telegram.New(&d.config.Telegram, d.logger)
	if err != nil {
		return fmt.Errorf("failed to create telegram bot: %w", err)
	}
	d.telegramBot = bot

	d.telegramHandler = telegram.NewHandler(bot)
	d.telegramHandler.SetOnMessage(func(msg telegram.MessageContext) error {
		return d.HandleMessage(d.ctx, msg)
	})
	bot.SetMessageHandler(d.telegramHandler)

	d.telegramCmd = telegram.NewCommands(bot)
	d.registerCommands()
	bot.SetCommandHandler(d.telegramCmd)

	if d.config.Metrics.Enabled {
		d.metricsServer = metrics.NewServer(d.config.Metrics.Addr, d.healthStatus, d.logger.Component("metrics"))
	}

	return nil
}

// convertAuthProfiles converts config auth profiles to agent auth profiles
func convertAuthProfiles(profiles []config.AIProfile) []agent.AuthProfile {
	result := make([]agent.AuthProfile, len(profiles))
	for i, p := range profiles {
		result[i] = agent.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Model:    p.Model,
			BaseURL:  p.BaseURL,
			Priority: p.Priority,
		}
	}
	return result
}

func (d *Daemon) healthStatus() map[string]interface{} {
	status := d.Status()
	return map[string]interface{}{
		"running":         status.Running,
		"uptime_seconds":  int64(status.Uptime.Seconds()),
		"active_sessions": status.ActiveSessions,
		"knowledge_at":    d.knowledge.LoadedAt(),
	}
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting abitur daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.markStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start knowledge watcher")
		} else {
			logger.Info().Str("path", d.knowledge.Path()).Msg("Knowledge watcher started")
		}
	}

	if err := d.sweeper.Start(); err != nil {
		d.markStopped()
		return fmt.Errorf("failed to start session sweeper: %w", err)
	}
	logger.Info().Msg("Session sweeper started")

	if d.metricsServer != nil {
		if err := d.metricsServer.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start metrics server")
		} else {
			logger.Info().Str("addr", d.metricsServer.Addr()).Msg("Metrics server started")
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	if err := d.telegramCmd.Publish(); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish bot commands")
	}
	if err := d.telegramBot.Start(); err != nil {
		d.markStopped()
		return fmt.Errorf("failed to start telegram bot: %w", err)
	}
	logger.Info().Msg("Telegram bot started")

	logger.Info().Msg("Daemon started successfully")

	return nil
}

func (d *Daemon) markStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop stops the daemon service gracefully. Live sessions are written to
// the store before it returns.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping abitur daemon")

	if d.telegramBot.IsRunning() {
		if err := d.telegramBot.Stop(botStopTimeout); err != nil {
			logger.Error().Err(err).Msg("Failed to stop telegram bot")
		}
	}

	d.eventLoop.HandleShutdown()
	if err := d.queue.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close command queue")
	}
	logger.Info().Msg("Command queue stopped")

	if d.sweeper.IsRunning() {
		if err := d.sweeper.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop session sweeper")
		}
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop knowledge watcher")
		}
	}

	if d.metricsServer != nil {
		if err := d.metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop metrics server")
		}
	}

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("All goroutines stopped")
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	if err := d.cache.Flush(flushCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to flush sessions")
	} else {
		logger.Info().Msg("Sessions flushed")
	}
	cancel()

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped successfully")

	return nil
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:        d.running,
		ActiveSessions: d.cache.Len(),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetSessionCache returns the live session cache
func (d *Daemon) GetSessionCache() *session.Cache {
	return d.cache
}

// GetSessionStore returns the durable session store
func (d *Daemon) GetSessionStore() *session.FileStore {
	return d.store
}

// GetSweeper returns the idle session sweeper
func (d *Daemon) GetSweeper() *session.Sweeper {
	return d.sweeper
}

// GetKnowledge returns the admissions document store
func (d *Daemon) GetKnowledge() *knowledge.Store {
	return d.knowledge
}

// GetAgentRunner returns the agent runner
func (d *Daemon) GetAgentRunner() *agent.Runner {
	return d.agentRunner
}

// GetQueue returns the command queue
func (d *Daemon) GetQueue() *commandqueue.CommandQueue {
	return d.queue
}

// GetTelegramBot returns the Telegram bot
func (d *Daemon) GetTelegramBot() *telegram.Bot {
	return d.telegramBot
}
