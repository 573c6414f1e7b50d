package taskrunner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmemory/internal/apierr"
	"agentmemory/internal/config"
)

func testRetry() config.RetryPolicy {
	return config.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 1, JitterFrac: 0}
}

func TestEnqueueRunsHandler(t *testing.T) {
	t.Parallel()
	done := make(chan Task, 1)
	handlers := map[Type]Handler{
		TypeExtract: func(ctx context.Context, t Task) error {
			done <- t
			return nil
		},
	}
	r := New(config.TaskRunnerConfig{MaxWorkers: 1, QueueSize: 4, Retry: testRetry()}, handlers, nil)
	defer r.Stop(time.Second)

	require.NoError(t, r.Enqueue(context.Background(), Task{Type: TypeExtract, Payload: "x"}))
	select {
	case task := <-done:
		assert.Equal(t, "x", task.Payload)
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestEnqueueUnknownTypeRejected(t *testing.T) {
	t.Parallel()
	r := New(config.TaskRunnerConfig{MaxWorkers: 1, QueueSize: 4, Retry: testRetry()}, map[Type]Handler{}, nil)
	defer r.Stop(time.Second)
	err := r.Enqueue(context.Background(), Task{Type: TypeSummarize})
	assert.Error(t, err)
}

func TestCoalescingDropsDuplicateInFlightKey(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	handlers := map[Type]Handler{
		TypeSummarize: func(ctx context.Context, t Task) error {
			mu.Lock()
			calls++
			mu.Unlock()
			<-release
			return nil
		},
	}
	r := New(config.TaskRunnerConfig{MaxWorkers: 1, QueueSize: 4, Retry: testRetry()}, handlers, nil)
	defer func() {
		close(release)
		r.Stop(time.Second)
	}()

	task := Task{Type: TypeSummarize, CoalesceKey: "ns\x00s1"}
	require.NoError(t, r.Enqueue(context.Background(), task))
	// Give the worker a moment to pick up the first task and block on release.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, r.Enqueue(context.Background(), task), "second enqueue with the same key must not error")

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	got := calls
	mu.Unlock()
	assert.Equal(t, 1, got, "duplicate enqueue for an in-flight key coalesces")
}

func TestCoalescingAllowsReenqueueAfterCompletion(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	calls := 0
	handlers := map[Type]Handler{
		TypeSummarize: func(ctx context.Context, t Task) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil
		},
	}
	r := New(config.TaskRunnerConfig{MaxWorkers: 1, QueueSize: 4, Retry: testRetry()}, handlers, nil)
	defer r.Stop(time.Second)

	task := Task{Type: TypeSummarize, CoalesceKey: "ns\x00s1"}
	require.NoError(t, r.Enqueue(context.Background(), task))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, r.Enqueue(context.Background(), task))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	got := calls
	mu.Unlock()
	assert.Equal(t, 2, got, "a re-enqueue after completion is not coalesced")
}

func TestTransientErrorsRetryThenGiveUp(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	attempts := 0
	handlers := map[Type]Handler{
		TypeIndex: func(ctx context.Context, t Task) error {
			mu.Lock()
			attempts++
			mu.Unlock()
			return apierr.Transient("simulated provider failure", errors.New("boom"))
		},
	}
	r := New(config.TaskRunnerConfig{MaxWorkers: 1, QueueSize: 4, Retry: testRetry()}, handlers, nil)
	defer r.Stop(time.Second)

	require.NoError(t, r.Enqueue(context.Background(), Task{Type: TypeIndex}))
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	got := attempts
	mu.Unlock()
	assert.Equal(t, 3, got, "retries up to MaxAttempts on transient failure")
}

func TestNonTransientErrorsAreNotRetried(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	attempts := 0
	handlers := map[Type]Handler{
		TypeIndex: func(ctx context.Context, t Task) error {
			mu.Lock()
			attempts++
			mu.Unlock()
			return apierr.InvalidInput("bad payload", nil)
		},
	}
	r := New(config.TaskRunnerConfig{MaxWorkers: 1, QueueSize: 4, Retry: testRetry()}, handlers, nil)
	defer r.Stop(time.Second)

	require.NoError(t, r.Enqueue(context.Background(), Task{Type: TypeIndex}))
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	got := attempts
	mu.Unlock()
	assert.Equal(t, 1, got, "non-transient failures are logged and dropped without retry")
}

func TestStopDrainsQueuedTasks(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	ran := 0
	handlers := map[Type]Handler{
		TypeIndex: func(ctx context.Context, t Task) error {
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		},
	}
	r := New(config.TaskRunnerConfig{MaxWorkers: 1, QueueSize: 8, Retry: testRetry()}, handlers, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Enqueue(context.Background(), Task{Type: TypeIndex, Payload: i}))
	}
	r.Stop(2 * time.Second)

	mu.Lock()
	got := ran
	mu.Unlock()
	assert.Equal(t, 5, got, "Stop drains whatever is already queued")
}

func TestBackoffDelayGrowsByFactor(t *testing.T) {
	t.Parallel()
	d1 := backoffDelay(time.Second, 2, 0, 1)
	d2 := backoffDelay(time.Second, 2, 0, 2)
	d3 := backoffDelay(time.Second, 2, 0, 3)
	assert.Equal(t, time.Second, d1)
	assert.Equal(t, 2*time.Second, d2)
	assert.Equal(t, 4*time.Second, d3)
}
