package commandqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandQueue_BasicEnqueue(t *testing.T) {
	cq := New()
	defer cq.Close()

	executed := false
	task := func(ctx context.Context) (interface{}, error) {
		executed = true
		return "result", nil
	}

	result, err := cq.Enqueue("test", task, nil)

	assert.NoError(t, err)
	assert.Equal(t, "result", result)
	assert.True(t, executed)
}

func TestCommandQueue_TaskError(t *testing.T) {
	cq := New()
	defer cq.Close()

	expectedErr := errors.New("task failed")
	task := func(ctx context.Context) (interface{}, error) {
		return nil, expectedErr
	}

	result, err := cq.Enqueue("test", task, nil)

	assert.Error(t, err)
	assert.Equal(t, expectedErr, err)
	assert.Nil(t, result)
}

func TestCommandQueue_TaskPanic(t *testing.T) {
	cq := New()
	defer cq.Close()

	_, err := cq.Enqueue("test", func(ctx context.Context) (interface{}, error) {
		panic("boom")
	}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	result, err := cq.Enqueue("test", func(ctx context.Context) (interface{}, error) {
		return "still works", nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "still works", result)
}

func TestCommandQueue_SerialExecution(t *testing.T) {
	cq := New()
	defer cq.Close()

	var running, maxRunning int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue("user:42", func(ctx context.Context) (interface{}, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					m := atomic.LoadInt32(&maxRunning)
					if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil, nil
			}, nil)
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestCommandQueue_FIFOWithinLane(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue("user:1", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue("user:1", func(ctx context.Context) (interface{}, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			}, nil)
		}()
		// Let each task reach the queue before the next one.
		require.Eventually(t, func() bool { return cq.GetQueueSize("user:1") == i+1 }, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestCommandQueue_ConcurrentLanes(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan string, 2)
	var wg sync.WaitGroup

	for _, lane := range []string{"user:1", "user:2"} {
		lane := lane
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue(lane, func(ctx context.Context) (interface{}, error) {
				started <- lane
				<-release
				return nil, nil
			}, nil)
		}()
	}

	// Both lanes run at once even though neither task has finished.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("lanes did not run concurrently")
		}
	}
	close(release)
	wg.Wait()
}

func TestCommandQueue_MaxPending(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue("user:1", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	_, err := cq.Enqueue("user:1", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, &TaskOptions{MaxPending: 1})
	assert.ErrorIs(t, err, ErrLaneFull)

	// Other lanes are unaffected.
	_, err = cq.Enqueue("user:2", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, &TaskOptions{MaxPending: 1})
	assert.NoError(t, err)

	close(release)
}

func TestCommandQueue_RequestIDDeduplicates(t *testing.T) {
	cq := New()
	defer cq.Close()

	var runs int32
	task := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&runs, 1)
		return "answer", nil
	}

	first, err := cq.Enqueue("user:1", task, &TaskOptions{RequestID: "update-10"})
	require.NoError(t, err)
	second, err := cq.Enqueue("user:1", task, &TaskOptions{RequestID: "update-10"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestCommandQueue_FailedRequestNotCached(t *testing.T) {
	cq := New()
	defer cq.Close()

	var runs int32
	task := func(ctx context.Context) (interface{}, error) {
		if atomic.AddInt32(&runs, 1) == 1 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}

	_, err := cq.Enqueue("user:1", task, &TaskOptions{RequestID: "update-11"})
	require.Error(t, err)
	result, err := cq.Enqueue("user:1", task, &TaskOptions{RequestID: "update-11"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestCommandQueue_IdleLanesPruned(t *testing.T) {
	cq := New()
	defer cq.Close()

	for _, lane := range []string{"user:1", "user:2", "user:3"} {
		_, err := cq.Enqueue(lane, func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return cq.LaneCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, cq.GetStats())
}

func TestCommandQueue_GetStats(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue("user:1", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	stats := cq.GetStats()
	require.Contains(t, stats, "user:1")
	assert.Equal(t, 1, stats["user:1"]["running"])
	assert.Equal(t, 1, stats["user:1"]["concurrency"])
	assert.Equal(t, 1, cq.GetRunningCount("user:1"))

	close(release)
}

func TestCommandQueue_ClearLane(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue("test", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := cq.Enqueue("test", func(ctx context.Context) (interface{}, error) {
				return nil, nil
			}, nil)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return cq.GetQueueSize("test") == 3 }, time.Second, time.Millisecond)

	assert.Equal(t, 3, cq.ClearLane("test"))
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, <-errs, ErrLaneCleared)
	}
	close(release)
}

func TestCommandQueue_SetConcurrency(t *testing.T) {
	cq := New()
	defer cq.Close()

	cq.SetConcurrency("test", 3)

	release := make(chan struct{})
	started := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, _ = cq.Enqueue("test", func(ctx context.Context) (interface{}, error) {
				started <- struct{}{}
				<-release
				return nil, nil
			}, nil)
		}()
	}

	for i := 0; i < 3; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("tasks did not run concurrently")
		}
	}
	assert.Equal(t, 3, cq.GetStats()["test"]["concurrency"])
	close(release)
}

func TestCommandQueue_WaitForActive(t *testing.T) {
	cq := New()
	defer cq.Close()

	go func() {
		_, _ = cq.Enqueue("test", func(ctx context.Context) (interface{}, error) {
			time.Sleep(50 * time.Millisecond)
			return nil, nil
		}, nil)
	}()

	require.Eventually(t, func() bool { return cq.LaneCount() == 1 }, time.Second, time.Millisecond)

	assert.True(t, cq.WaitForActive(time.Second))
}

func TestCommandQueue_Close(t *testing.T) {
	cq := New()

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue("user:1", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}, nil)
		done <- err
	}()
	<-started

	require.NoError(t, cq.Close())
	assert.ErrorIs(t, <-done, context.Canceled)

	_, err := cq.Enqueue("user:1", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, cq.Close())
}

func TestCommandQueue_EventEmission(t *testing.T) {
	queue := New()
	defer queue.Close()

	var events []Event
	var mu sync.Mutex

	record := func(event Event) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	}
	queue.On("enqueued", record)
	queue.On("completed", record)

	_, err := queue.Enqueue("test", Task(func(ctx context.Context) (interface{}, error) {
		return "result", nil
	}), nil)
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) >= 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	enqueuedFound := false
	completedFound := false
	for _, event := range events {
		if event.Type == "enqueued" {
			enqueuedFound = true
			assert.Equal(t, "test", event.Lane)
			assert.NotEmpty(t, event.TaskID)
			assert.Contains(t, event.Data, "queueSize")
		}
		if event.Type == "completed" {
			completedFound = true
			assert.Equal(t, "test", event.Lane)
			assert.Contains(t, event.Data, "duration")
			assert.Contains(t, event.Data, "success")
		}
	}

	assert.True(t, enqueuedFound, "Should have enqueued event")
	assert.True(t, completedFound, "Should have completed event")
}

func TestCommandQueue_EventOff(t *testing.T) {
	queue := New()
	defer queue.Close()

	var eventCount int32
	queue.On("enqueued", func(event Event) {
		atomic.AddInt32(&eventCount, 1)
	})

	_, _ = queue.Enqueue("test", Task(func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}), nil)
	assert.Equal(t, int32(1), atomic.LoadInt32(&eventCount))

	queue.Off("enqueued")

	_, _ = queue.Enqueue("test", Task(func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}), nil)
	assert.Equal(t, int32(1), atomic.LoadInt32(&eventCount), "Should not receive events after Off")
}
