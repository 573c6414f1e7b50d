// Package taskrunner implements the Task Runner (C10): a bounded in-process
// work queue executing summarize/extract/promote/index tasks concurrently,
// with at-most-one-per-key coalescing for summarize and the shared
// retry/backoff policy of spec §9, following the transient-error
// classification of the teacher's internal/orchestrator.HandleCommandMessage
// and the Redis-backed dedupe pattern of internal/orchestrator.RedisDedupeStore.
package taskrunner

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"agentmemory/internal/apierr"
	"agentmemory/internal/config"
	"agentmemory/internal/observability"
)

// Type is one of the task kinds of spec §4.10.
type Type string

const (
	TypeSummarize Type = "summarize"
	TypeExtract   Type = "extract"
	TypePromote   Type = "promote"
	TypeIndex     Type = "index"
)

// Task is one unit of background work. CoalesceKey, when non-empty,
// identifies the at-most-one-per-key scope; a second enqueue with the same
// (Type, CoalesceKey) while one is queued or running is dropped.
type Task struct {
	Type        Type
	CoalesceKey string
	Payload     any
}

// Handler executes one Task. Returning an apierr-classified error lets the
// runner decide retry vs. drop; an unclassified error is treated as
// transient (retried) for safety, matching the teacher's isTransientError
// fallback.
type Handler func(ctx context.Context, t Task) error

// KeyLock provides distributed at-most-one-per-key coalescing, e.g. backed
// by Redis SETNX. Nil disables distributed coalescing and falls back to the
// in-process map, which is sufficient for a single logical server instance
// (spec §1 Non-goals: no cross-node consensus).
type KeyLock interface {
	// TryAcquire returns true if the caller won the lock for key (not held by
	// anyone else). Release must be called when the task finishes.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string)
}

// Runner is the bounded background task executor of spec §4.10.
type Runner struct {
	handlers map[Type]Handler
	queue    chan Task
	retry    config.RetryPolicy
	lock     KeyLock

	mu       sync.Mutex
	inflight map[string]bool // local coalescing for (type,key) when lock is nil

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Runner. handlers must cover every Type the caller intends to
// enqueue; enqueueing an unregistered Type is a programmer error surfaced as
// apierr.InvalidInput.
func New(cfg config.TaskRunnerConfig, handlers map[Type]Handler, lock KeyLock) *Runner {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	r := &Runner{
		handlers: handlers,
		queue:    make(chan Task, queueSize),
		retry:    cfg.Retry,
		lock:     lock,
		inflight: make(map[string]bool),
		stopCh:   make(chan struct{}),
	}
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

func coalesceID(t Task) string {
	return string(t.Type) + "\x00" + t.CoalesceKey
}

// Enqueue schedules a task. For tasks with a CoalesceKey, a duplicate
// enqueue while one is queued or running is silently dropped (spec §4.10
// "at-most-one-per-key"); the caller should treat scheduling as best-effort
// (spec §4.1's "task-scheduling errors are logged and retried... not
// surfaced").
func (r *Runner) Enqueue(ctx context.Context, t Task) error {
	if _, ok := r.handlers[t.Type]; !ok {
		return apierr.InvalidInput(fmt.Sprintf("no handler registered for task type %q", t.Type), nil)
	}
	if t.CoalesceKey != "" {
		id := coalesceID(t)
		if r.lock != nil {
			ok, err := r.lock.TryAcquire(ctx, id, 5*time.Minute)
			if err != nil {
				return apierr.Transient("acquire task coalesce lock", err)
			}
			if !ok {
				return nil
			}
		} else {
			r.mu.Lock()
			if r.inflight[id] {
				r.mu.Unlock()
				return nil
			}
			r.inflight[id] = true
			r.mu.Unlock()
		}
	}
	select {
	case r.queue <- t:
		return nil
	case <-r.stopCh:
		return apierr.Fatal("task runner is shutting down", nil)
	}
}

func (r *Runner) releaseCoalesce(ctx context.Context, t Task) {
	if t.CoalesceKey == "" {
		return
	}
	id := coalesceID(t)
	if r.lock != nil {
		r.lock.Release(ctx, id)
		return
	}
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for {
		select {
		case t := <-r.queue:
			r.run(t)
		case <-r.stopCh:
			// Drain whatever is already queued before exiting, mirroring
			// graceful-stop semantics of spec §4.10; new enqueues are
			// rejected once stopCh is closed (see Enqueue).
			for {
				select {
				case t := <-r.queue:
					r.run(t)
				default:
					return
				}
			}
		}
	}
}

func (r *Runner) run(t Task) {
	ctx := context.Background()
	defer r.releaseCoalesce(ctx, t)
	handler := r.handlers[t.Type]
	log := observability.LoggerWithTrace(ctx)

	attempts := r.retry.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	base := r.retry.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	factor := r.retry.Factor
	if factor <= 0 {
		factor = 2
	}

	// A task taken from the queue after Stop is part of the drain: it runs
	// without the stop-triggered cancellation that in-flight tasks receive,
	// and is not retried (the backoff wait below returns on stop).
	stop := r.stopCh
	select {
	case <-r.stopCh:
		stop = nil
	default:
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		runCtx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-stop:
				cancel()
			case <-runCtx.Done():
			}
		}()
		err := handler(runCtx, t)
		cancel()
		if err == nil {
			return
		}
		lastErr = err
		if apierr.KindOf(err) != apierr.KindTransient {
			log.Error().Err(err).Str("task_type", string(t.Type)).Str("key", t.CoalesceKey).Msg("task_failed_non_transient")
			return
		}
		if attempt == attempts {
			break
		}
		delay := backoffDelay(base, factor, r.retry.JitterFrac, attempt)
		select {
		case <-time.After(delay):
		case <-r.stopCh:
			return
		}
	}
	log.Error().Err(lastErr).Str("task_type", string(t.Type)).Str("key", t.CoalesceKey).Int("attempts", attempts).Msg("task_failed_after_retries")
}

func backoffDelay(base time.Duration, factor float64, jitterFrac float64, attempt int) time.Duration {
	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= factor
	}
	if jitterFrac > 0 {
		jitter := 1 + (rand.Float64()*2-1)*jitterFrac
		d *= jitter
	}
	if d < 0 {
		d = float64(base)
	}
	return time.Duration(d)
}

// Stop drains queued tasks with the given timeout and signals in-flight
// tasks to cancel, per spec §4.10's graceful-shutdown rule. It blocks until
// all workers exit or the timeout elapses.
func (r *Runner) Stop(timeout time.Duration) {
	r.stopOnce.Do(func() { close(r.stopCh) })
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
