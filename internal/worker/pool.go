package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gerrit-ai-review/gerrit-trigger/internal/logger"
	"github.com/gerrit-ai-review/gerrit-trigger/internal/queue"
)

// Handler processes one task popped from the queue
type Handler interface {
	Handle(ctx context.Context, task queue.Task) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, task queue.Task) error

// Handle calls f(ctx, task)
func (f HandlerFunc) Handle(ctx context.Context, task queue.Task) error {
	return f(ctx, task)
}

// Pool manages a pool of workers that process queued tasks
type Pool struct {
	workers int
	queue   *queue.Queue
	handler Handler
	wg      sync.WaitGroup
	log     *logger.Logger
}

// NewPool creates a new worker pool
func NewPool(workers int, q *queue.Queue, h Handler) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		workers: workers,
		queue:   q,
		handler: h,
		log:     logger.Get(),
	}
}

// Start starts the worker pool. Workers exit when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.log.Debugf("Starting %d worker(s)", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i+1)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		task, err := p.queue.Pop(ctx)
		if err != nil {
			p.log.Debugf("Worker %d stopping", id)
			return
		}

		start := time.Now()
		if err := p.handle(ctx, task); err != nil {
			p.log.Errorf("Worker %d failed on %s: %v", id, task.ID, err)
		} else {
			p.log.Debugf("Worker %d handled %s %s #%d/%d (%s)",
				id, task.Kind, task.Project, task.ChangeNumber, task.PatchsetNumber,
				time.Since(start).Round(time.Millisecond))
		}

		p.queue.MarkDone(task.ID)
	}
}

// handle keeps a panicking handler from taking the worker down
func (p *Pool) handle(ctx context.Context, task queue.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler.Handle(ctx, task)
}

// Stop waits for workers to exit after their context was cancelled
func (p *Pool) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Debug("All workers stopped")
		return nil
	case <-ctx.Done():
		p.log.Warn("Timeout waiting for workers")
		return ctx.Err()
	}
}
