// Package jobs runs deferred coursework processing, currently the plagiarism
// scoring, on an in-process worker pool. Failed tasks re-enter the queue
// after a backoff until their attempt budget is spent.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of deferred work. Payload carries the identifier the
// handler acts on, e.g. the submission ID for a plagiarism check.
type Task struct {
	ID      string
	Kind    string
	Payload string
	Attempt int
}

// Handler processes one task. A non-nil error schedules a retry.
type Handler func(context.Context, Task) error

// Options tunes a queue. Zero values mean one worker and three retries.
type Options struct {
	Workers    int
	MaxRetries int
	Logger     *zap.Logger
}

const retryBackoff = 2 * time.Second

// Queue fans tasks out to a fixed set of goroutines.
type Queue struct {
	name       string
	handler    Handler
	workers    int
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger

	tasks   chan Task
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New builds a queue feeding handler. Start must be called before Enqueue.
func New(name string, handler Handler, opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Queue{
		name:       name,
		handler:    handler,
		workers:    opts.Workers,
		maxRetries: opts.MaxRetries,
		backoff:    retryBackoff,
		logger:     opts.Logger.With(zap.String("queue", name)),
		tasks:      make(chan Task, opts.Workers*8),
	}
}

// Start launches the workers. Calling it again is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.run()
	}
	q.started = true
	q.logger.Info("queue started", zap.Int("workers", q.workers))
}

// Stop cancels the workers and blocks until they exit. Tasks still buffered
// are dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	q.logger.Info("queue stopped")
}

// Enqueue offers a task to the pool. It blocks while the buffer is full and
// fails once the queue is stopped or was never started.
func (q *Queue) Enqueue(task Task) error {
	q.mu.Lock()
	ctx, started := q.ctx, q.started
	q.mu.Unlock()

	if !started {
		return fmt.Errorf("queue %s not started", q.name)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("queue %s stopped: %w", q.name, ctx.Err())
	case q.tasks <- task:
		return nil
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case task := <-q.tasks:
			if err := q.handler(q.ctx, task); err != nil {
				q.retry(task, err)
			}
		}
	}
}

func (q *Queue) retry(task Task, cause error) {
	task.Attempt++
	if task.Attempt > q.maxRetries {
		q.logger.Error("task dropped after retries",
			zap.String("task_id", task.ID),
			zap.String("kind", task.Kind),
			zap.Error(cause))
		return
	}
	q.logger.Warn("task failed, will retry",
		zap.String("task_id", task.ID),
		zap.String("kind", task.Kind),
		zap.Int("attempt", task.Attempt),
		zap.Error(cause))

	go func() {
		timer := time.NewTimer(q.backoff)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
		case <-timer.C:
			if err := q.Enqueue(task); err != nil {
				q.logger.Error("requeue failed", zap.String("task_id", task.ID), zap.Error(err))
			}
		}
	}()
}
