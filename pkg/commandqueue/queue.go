package commandqueue

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

var (
	// ErrLaneFull is returned when a lane already holds MaxPending tasks.
	ErrLaneFull = errors.New("lane is full")
	// ErrClosed is returned for tasks enqueued on, or still queued in, a closed queue.
	ErrClosed = errors.New("command queue is closed")
	// ErrLaneCleared is returned for queued tasks dropped by ClearLane.
	ErrLaneCleared = errors.New("lane cleared")
)

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	WarnAfterMs int
	OnWait      func(waitMs int64, queuePos int)
	// MaxPending rejects the task with ErrLaneFull when the lane already
	// holds this many queued or running tasks. Zero means unbounded.
	MaxPending int
	// RequestID makes the task idempotent: a successful result for the same
	// id is returned from cache without running the task again.
	RequestID string
}

// Config configures a CommandQueue.
type Config struct {
	// Concurrency is the default per-lane concurrency (default 1).
	Concurrency int
	DedupSize   int
	DedupTTL    time.Duration
}

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// laneState manages execution state for a single lane
type laneState struct {
	name        string
	concurrency int
	queue       []*taskRecord
	running     int
	removed     bool
	mu          sync.Mutex
}

// EventHandler is a function that handles queue events
type EventHandler func(event Event)

// Event represents a queue event
type Event struct {
	Type   string                 // "enqueued" or "completed"
	Lane   string                 // Lane name
	TaskID string                 // Task ID
	Data   map[string]interface{} // Additional event data
}

// CommandQueue provides lane-based task serialization with concurrency control
type CommandQueue struct {
	lanes              map[string]*laneState
	concurrency        map[string]int
	defaultConcurrency int
	taskIDSeq          int
	mu                 sync.RWMutex
	wg                 sync.WaitGroup
	ctx                context.Context
	cancel             context.CancelFunc
	closeOnce          sync.Once
	dedup              *dedupCache
	// Event handling
	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// New creates a new CommandQueue with one task at a time per lane
func New() *CommandQueue {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a new CommandQueue
func NewWithConfig(cfg Config) *CommandQueue {
	observability.EnsureRegistered()

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &CommandQueue{
		lanes:              make(map[string]*laneState),
		concurrency:        make(map[string]int),
		defaultConcurrency: cfg.Concurrency,
		ctx:                ctx,
		cancel:             cancel,
		dedup:              newDedupCache(cfg.DedupSize, cfg.DedupTTL),
		eventHandlers:      make(map[string][]EventHandler),
	}
}

// lane returns the live state for lane, creating it if needed
func (cq *CommandQueue) lane(lane string) *laneState {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, exists := cq.lanes[lane]
	if !exists {
		concurrency, ok := cq.concurrency[lane]
		if !ok {
			concurrency = cq.defaultConcurrency
		}
		ls = &laneState{
			name:        lane,
			concurrency: concurrency,
			queue:       make([]*taskRecord, 0),
		}
		cq.lanes[lane] = ls
		log.Debug().Str("lane", lane).Int("concurrency", concurrency).Msg("Lane initialized")
	}
	return ls
}

// Enqueue adds a task to the specified lane
func (cq *CommandQueue) Enqueue(lane string, task Task, options *TaskOptions) (interface{}, error) {
	return cq.EnqueueWithContext(context.Background(), lane, task, options)
}

// EnqueueWithContext adds a task to the specified lane and waits for its
// result. The task runs with ctx, cancelled early if the queue closes.
func (cq *CommandQueue) EnqueueWithContext(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"abitur.commandqueue",
		"commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("lane", lane).Logger()

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	if opts.RequestID != "" {
		if cached, ok := cq.dedup.Get(opts.RequestID); ok {
			logger.Debug().Str("requestId", opts.RequestID).Msg("Duplicate request, returning cached result")
			span.SetAttributes(attribute.Bool("dedup.hit", true))
			return cached.value, cached.err
		}
	}

	cq.mu.Lock()
	cq.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, cq.taskIDSeq)
	cq.mu.Unlock()

	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
	}

	var ls *laneState
	var queueSize int
	for {
		ls = cq.lane(lane)
		ls.mu.Lock()
		if ls.removed {
			// Pruned between lookup and lock.
			ls.mu.Unlock()
			continue
		}
		if cq.ctx.Err() != nil {
			ls.mu.Unlock()
			cq.pruneIfIdle(ls)
			tracing.RecordError(span, ErrClosed)
			return nil, ErrClosed
		}
		if opts.MaxPending > 0 && len(ls.queue)+ls.running >= opts.MaxPending {
			ls.mu.Unlock()
			logger.Debug().Int("maxPending", opts.MaxPending).Msg("Lane full, task rejected")
			tracing.RecordError(span, ErrLaneFull)
			return nil, ErrLaneFull
		}
		ls.queue = append(ls.queue, record)
		queueSize = len(ls.queue)
		ls.mu.Unlock()
		break
	}

	logger.Debug().
		Str("taskId", taskID).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(lane, queueSize)

	// Emit enqueued event (synchronous)
	cq.emit(Event{
		Type:   "enqueued",
		Lane:   lane,
		TaskID: taskID,
		Data: map[string]interface{}{
			"queueSize": queueSize,
		},
	})

	// Start warning timer if configured
	if opts.WarnAfterMs > 0 {
		go cq.startWarnTimer(record, ls)
	}

	cq.processLane(ls)

	// Wait for result
	result := <-record.result
	if result.err != nil {
		tracing.RecordError(span, result.err)
	} else if opts.RequestID != "" {
		cq.dedup.Set(opts.RequestID, result)
	}
	return result.value, result.err
}

// processLane starts queued tasks while the lane has capacity
func (cq *CommandQueue) processLane(ls *laneState) {
	ls.mu.Lock()
	if cq.ctx.Err() != nil {
		rejectQueued(ls, ErrClosed)
		ls.mu.Unlock()
		cq.pruneIfIdle(ls)
		return
	}
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		ls.running++

		log.Debug().
			Str("lane", ls.name).
			Str("taskId", record.id).
			Int("running", ls.running).
			Msg("Task started")

		cq.wg.Add(1)
		go cq.executeTask(ls, record)
	}
}

// rejectQueued fails every queued task of ls with err. Caller holds ls.mu.
func rejectQueued(ls *laneState, err error) int {
	count := len(ls.queue)
	for _, record := range ls.queue {
		record.result <- taskResult{err: err}
		close(record.result)
	}
	ls.queue = make([]*taskRecord, 0)
	return count
}

// pruneIfIdle drops ls from the lane map once nothing is queued or running
func (cq *CommandQueue) pruneIfIdle(ls *laneState) {
	cq.mu.Lock()
	ls.mu.Lock()
	pruned := false
	if !ls.removed && ls.running == 0 && len(ls.queue) == 0 && cq.lanes[ls.name] == ls {
		delete(cq.lanes, ls.name)
		ls.removed = true
		pruned = true
	}
	ls.mu.Unlock()
	cq.mu.Unlock()

	if pruned {
		observability.ForgetLane(ls.name)
	}
}

// executeTask executes a single task
func (cq *CommandQueue) executeTask(ls *laneState, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"abitur.commandqueue",
		"commandqueue.execute_task",
		attribute.String("lane", ls.name),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger).With().Str("lane", ls.name).Logger()

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	value, err := cq.run(runCtx, record)
	duration := time.Since(startTime)

	ls.mu.Lock()
	ls.running--
	queueSize := len(ls.queue)
	idle := ls.running == 0 && queueSize == 0
	ls.mu.Unlock()

	// Send result
	record.result <- taskResult{value: value, err: err}
	close(record.result)

	if err != nil {
		tracing.RecordError(span, err)
		logger.Error().
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	observability.RecordQueueCompletion(ls.name, duration, err == nil, queueSize)

	// Emit completed event (synchronous)
	cq.emit(Event{
		Type:   "completed",
		Lane:   ls.name,
		TaskID: record.id,
		Data: map[string]interface{}{
			"duration": duration.Milliseconds(),
			"success":  err == nil,
		},
	})

	if idle {
		cq.pruneIfIdle(ls)
		return
	}
	cq.processLane(ls)
}

// run calls the task, turning a panic into an error
func (cq *CommandQueue) run(ctx context.Context, record *taskRecord) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", record.id, r)
		}
	}()
	return record.task(ctx)
}

// startWarnTimer starts a timer to warn about long wait times
func (cq *CommandQueue) startWarnTimer(record *taskRecord, ls *laneState) {
	timer := time.NewTimer(time.Duration(record.options.WarnAfterMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		// Check if task is still queued
		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r.id == record.id {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			waitMs := time.Since(record.enqueuedAt).Milliseconds()
			log.Warn().
				Str("lane", ls.name).
				Str("taskId", record.id).
				Int64("waitMs", waitMs).
				Int("queuePos", queuePos).
				Msg("Task waiting longer than expected")

			if record.options.OnWait != nil {
				record.options.OnWait(waitMs, queuePos)
			}
		}
	case <-cq.ctx.Done():
		return
	}
}

func (cq *CommandQueue) existing(lane string) (*laneState, bool) {
	cq.mu.RLock()
	defer cq.mu.RUnlock()
	ls, exists := cq.lanes[lane]
	return ls, exists
}

// GetQueueSize returns the number of queued tasks for a lane
func (cq *CommandQueue) GetQueueSize(lane string) int {
	ls, exists := cq.existing(lane)
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// GetRunningCount returns the number of currently executing tasks for a lane
func (cq *CommandQueue) GetRunningCount(lane string) int {
	ls, exists := cq.existing(lane)
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// LaneCount returns the number of live lanes
func (cq *CommandQueue) LaneCount() int {
	cq.mu.RLock()
	defer cq.mu.RUnlock()
	return len(cq.lanes)
}

// GetStats returns statistics for all live lanes
func (cq *CommandQueue) GetStats() map[string]map[string]int {
	cq.mu.RLock()
	defer cq.mu.RUnlock()

	stats := make(map[string]map[string]int)
	for lane, ls := range cq.lanes {
		ls.mu.Lock()
		stats[lane] = map[string]int{
			"queued":      len(ls.queue),
			"running":     ls.running,
			"concurrency": ls.concurrency,
		}
		ls.mu.Unlock()
	}

	return stats
}

// ClearLane rejects all queued tasks of a lane. Running tasks are unaffected.
func (cq *CommandQueue) ClearLane(lane string) int {
	ls, exists := cq.existing(lane)
	if !exists {
		return 0
	}

	ls.mu.Lock()
	count := rejectQueued(ls, ErrLaneCleared)
	ls.mu.Unlock()

	log.Info().Str("lane", lane).Int("cleared", count).Msg("Lane cleared")
	observability.SetQueueSize(lane, 0)
	cq.pruneIfIdle(ls)

	return count
}

// SetConcurrency updates the concurrency limit for a lane. The limit
// outlives the lane being pruned.
func (cq *CommandQueue) SetConcurrency(lane string, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}

	cq.mu.Lock()
	cq.concurrency[lane] = concurrency
	ls, exists := cq.lanes[lane]
	cq.mu.Unlock()

	log.Info().
		Str("lane", lane).
		Int("concurrency", concurrency).
		Msg("Lane concurrency updated")

	if !exists {
		return
	}

	ls.mu.Lock()
	oldMax := ls.concurrency
	ls.concurrency = concurrency
	ls.mu.Unlock()

	// Process queue in case we increased concurrency
	if concurrency > oldMax {
		cq.processLane(ls)
	}
}

// WaitForActive waits for all running and queued tasks to complete with timeout
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if cq.LaneCount() == 0 {
			log.Debug().Msg("All active tasks completed")
			return true
		}

		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}

		<-ticker.C
	}
}

// Close rejects queued tasks, cancels running ones and waits for them to return
func (cq *CommandQueue) Close() error {
	cq.closeOnce.Do(func() {
		cq.cancel()

		cq.mu.RLock()
		lanes := make([]*laneState, 0, len(cq.lanes))
		for _, ls := range cq.lanes {
			lanes = append(lanes, ls)
		}
		cq.mu.RUnlock()

		for _, ls := range lanes {
			ls.mu.Lock()
			rejectQueued(ls, ErrClosed)
			ls.mu.Unlock()
		}

		cq.wg.Wait()
		cq.dedup.Clear()
	})
	return nil
}

// On registers an event handler for a specific event type
func (cq *CommandQueue) On(eventType string, handler EventHandler) {
	cq.eventMu.Lock()
	defer cq.eventMu.Unlock()

	cq.eventHandlers[eventType] = append(cq.eventHandlers[eventType], handler)
}

// Off removes an event handler (removes all handlers for the event type)
func (cq *CommandQueue) Off(eventType string) {
	cq.eventMu.Lock()
	defer cq.eventMu.Unlock()

	delete(cq.eventHandlers, eventType)
}

// emit emits an event synchronously to all registered handlers
func (cq *CommandQueue) emit(event Event) {
	cq.eventMu.RLock()
	handlers := cq.eventHandlers[event.Type]
	cq.eventMu.RUnlock()

	// Call handlers synchronously
	for _, handler := range handlers {
		handler(event)
	}
}
