package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/yang-kun-long/YanheKt-AI/internal/logging"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("workflow pool closed")

// TaskFunc is the unit of work a pool runs.
type TaskFunc func(ctx context.Context) error

// Observer receives task lifecycle events, typically for metrics.
type Observer interface {
	TaskStarted(pool, kind string)
	TaskFinished(pool, kind string, err error, elapsed time.Duration)
}

// Pool runs keyed tasks with bounded concurrency.
type Pool struct {
	name     string
	logger   *slog.Logger
	sem      *semaphore.Weighted
	observer Observer
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]*Task
	closed bool
}

// PoolOption configures optional Pool behavior.
type PoolOption func(*Pool)

// WithObserver attaches a lifecycle observer.
func WithObserver(observer Observer) PoolOption {
	return func(p *Pool) {
		p.observer = observer
	}
}

// NewPool constructs a pool running at most size tasks at once.
func NewPool(name string, size int, logger *slog.Logger, opts ...PoolOption) *Pool {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:   name,
		logger: logging.NewComponentLogger(logger, "workflow-"+name),
		sem:    semaphore.NewWeighted(int64(size)),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Submit schedules fn under key. When a task for key is already queued or
// running, that task is returned with started=false and fn is not run.
func (p *Pool) Submit(key, kind string, fn TaskFunc) (task *Task, started bool, err error) {
	if fn == nil {
		return nil, false, errors.New("workflow submit: nil task")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false, ErrPoolClosed
	}
	if existing, ok := p.active[key]; ok {
		return existing, false, nil
	}
	task = newTask(key, kind, p.now())
	p.active[key] = task
	p.wg.Add(1)
	go p.run(task, fn)
	return task, true, nil
}

// Active returns the in-flight task for key.
func (p *Pool) Active(key string) (TaskInfo, bool) {
	p.mu.Lock()
	task, ok := p.active[key]
	p.mu.Unlock()
	if !ok {
		return TaskInfo{}, false
	}
	return task.info(p.name), true
}

// Snapshot lists in-flight tasks ordered by submission.
func (p *Pool) Snapshot() []TaskInfo {
	p.mu.Lock()
	tasks := make([]*Task, 0, len(p.active))
	for _, task := range p.active {
		tasks = append(tasks, task)
	}
	p.mu.Unlock()

	infos := make([]TaskInfo, 0, len(tasks))
	for _, task := range tasks {
		infos = append(infos, task.info(p.name))
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].SubmittedAt.Before(infos[j].SubmittedAt)
	})
	return infos
}

// Close cancels running tasks and waits for them until ctx expires.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workflow pool %s: %w", p.name, ctx.Err())
	}
}

func (p *Pool) run(task *Task, fn TaskFunc) {
	defer p.wg.Done()

	logger := p.logger.With(logging.String("task_id", task.ID), logging.String("key", task.Key), logging.String("kind", task.Kind))

	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		p.release(task)
		task.finish(p.now(), err)
		return
	}
	defer p.sem.Release(1)

	start := p.now()
	task.markRunning(start)
	if p.observer != nil {
		p.observer.TaskStarted(p.name, task.Kind)
	}
	logger.Debug("task started")

	err := p.invoke(fn)
	elapsed := p.now().Sub(start)
	if p.observer != nil {
		p.observer.TaskFinished(p.name, task.Kind, err, elapsed)
	}
	p.release(task)
	task.finish(p.now(), err)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug("task finished with error", logging.Error(err), logging.Duration("elapsed", elapsed))
		return
	}
	logger.Debug("task finished", logging.Duration("elapsed", elapsed))
}

func (p *Pool) invoke(fn TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(p.ctx)
}

// release drops the key before completion is signalled so a waiter on Done
// can resubmit immediately.
func (p *Pool) release(task *Task) {
	p.mu.Lock()
	if current, ok := p.active[task.Key]; ok && current == task {
		delete(p.active, task.Key)
	}
	p.mu.Unlock()
}
