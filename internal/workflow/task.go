package workflow

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// State is the lifecycle of a task handle.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Task is the handle returned for submitted work.
type Task struct {
	ID   string
	Key  string
	Kind string

	mu          sync.Mutex
	state       State
	submittedAt time.Time
	startedAt   time.Time
	finishedAt  time.Time
	err         error
	done        chan struct{}
}

// TaskInfo is a point-in-time copy of a task handle.
type TaskInfo struct {
	ID          string    `json:"id"`
	Pool        string    `json:"pool"`
	Key         string    `json:"key"`
	Kind        string    `json:"kind"`
	State       State     `json:"state"`
	SubmittedAt time.Time `json:"submittedAt"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	FinishedAt  time.Time `json:"finishedAt,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func newTask(key, kind string, now time.Time) *Task {
	return &Task{
		ID:          ulid.Make().String(),
		Key:         key,
		Kind:        kind,
		state:       StateQueued,
		submittedAt: now,
		done:        make(chan struct{}),
	}
}

// Done is closed once the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task error after completion.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) info(pool string) TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := TaskInfo{
		ID:          t.ID,
		Pool:        pool,
		Key:         t.Key,
		Kind:        t.Kind,
		State:       t.state,
		SubmittedAt: t.submittedAt,
		StartedAt:   t.startedAt,
		FinishedAt:  t.finishedAt,
	}
	if t.err != nil {
		info.Error = t.err.Error()
	}
	return info
}

func (t *Task) markRunning(now time.Time) {
	t.mu.Lock()
	t.state = StateRunning
	t.startedAt = now
	t.mu.Unlock()
}

func (t *Task) finish(now time.Time, err error) {
	t.mu.Lock()
	t.finishedAt = now
	t.err = err
	if err != nil {
		t.state = StateFailed
	} else {
		t.state = StateSucceeded
	}
	t.mu.Unlock()
	close(t.done)
}
