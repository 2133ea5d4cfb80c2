package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrDuplicateTask = errors.New("task already in queue")
	ErrQueueFull     = errors.New("queue full")
	ErrObsoleteTask  = errors.New("obsolete task")
)

// Task is one stream event waiting to be dispatched
//
// ChangeNumber + PatchsetNumber identify the revision the event is about; both are
// zero for events that do not belong to a change (ref updates on branches).
type Task struct {
	ID             string
	Kind           string
	Project        string
	ChangeNumber   int
	PatchsetNumber int
	Payload        any
	CreatedAt      time.Time
}

// QueueConfig configures queue behavior.
type QueueConfig struct {
	LazyMode bool // Keep only latest patchset per change and kind
}

// Queue is an in-memory task queue
type Queue struct {
	tasks    chan Task
	mu       sync.RWMutex
	inflight map[string]bool
	// latest holds the newest accepted patch set per change key, lazy mode only
	latest   map[string]int
	lazyMode bool
}

// NewQueue creates a new task queue with the given capacity.
func NewQueue(size int, cfg QueueConfig) *Queue {
	return &Queue{
		tasks:    make(chan Task, size),
		inflight: make(map[string]bool),
		latest:   make(map[string]int),
		lazyMode: cfg.LazyMode,
	}
}

// lazyKey returns the change key of a task lazy mode applies to
func (q *Queue) lazyKey(task Task) (string, bool) {
	if !q.lazyMode || task.ChangeNumber <= 0 || task.PatchsetNumber <= 0 {
		return "", false
	}
	return fmt.Sprintf("%s-%s-%d", task.Kind, task.Project, task.ChangeNumber), true
}

// Push adds a task to the queue.
// Returns typed errors for duplicate, full, or obsolete tasks. A rejected task
// leaves no trace, so pushing it again later behaves as if it were new.
func (q *Queue) Push(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inflight[task.ID] {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
	}

	key, lazy := q.lazyKey(task)
	if lazy {
		if newest, ok := q.latest[key]; ok && task.PatchsetNumber <= newest {
			return fmt.Errorf("%w: %s (incoming=%d, latest=%d)", ErrObsoleteTask, key, task.PatchsetNumber, newest)
		}
	}

	select {
	case q.tasks <- task:
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, task.ID)
	}

	q.inflight[task.ID] = true
	if lazy {
		q.latest[key] = task.PatchsetNumber
	}
	return nil
}

// Pop retrieves a task from the queue.
// Blocks until a non-obsolete task is available or context is cancelled.
func (q *Queue) Pop(ctx context.Context) (Task, error) {
	for {
		select {
		case <-ctx.Done():
			return Task{}, ctx.Err()
		case task := <-q.tasks:
			if q.dropIfSuperseded(task) {
				continue
			}
			return task, nil
		}
	}
}

// dropIfSuperseded forgets a queued task whose change has a newer patch set queued
func (q *Queue) dropIfSuperseded(task Task) bool {
	key, lazy := q.lazyKey(task)
	if !lazy {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if task.PatchsetNumber >= q.latest[key] {
		return false
	}
	delete(q.inflight, task.ID)
	return true
}

// MarkDone marks a task as completed and removes it from inflight tracking.
func (q *Queue) MarkDone(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, taskID)
}

// Size returns the current number of tasks in the queue.
func (q *Queue) Size() int {
	return len(q.tasks)
}

// InFlight returns the number of tasks currently being processed or queued.
func (q *Queue) InFlight() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.inflight)
}
