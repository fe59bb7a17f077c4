package guard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"bulwark/pkg/bulwark"
)

// Task is one unit of work executed by a pool worker.
type Task struct {
	// Name identifies the task in crash reports and error scopes.
	Name string
	// Run does the work. A panic inside Run is captured, journaled, and
	// reported without killing the worker.
	Run func(ctx context.Context) error
}

// Pool executes submitted tasks on a fixed set of workers, isolating panics
// so one crashing task never takes down the process. Queue closure is driven
// by context cancellation rather than channel close.
type Pool struct {
	cfg    config
	queue  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

// NewPool creates a pool and starts its workers immediately.
func NewPool(options ...Option) *Pool {
	cfg := defaultConfig()
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&cfg)
	}

	poolCtx, cancel := context.WithCancel(context.Background())
	pool := &Pool{
		cfg:    cfg,
		queue:  make(chan Task, cfg.queueCapacity),
		ctx:    poolCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	pool.startWorkers()

	return pool
}

// Submit enqueues one task according to the configured backpressure policy.
// It fails with ErrPoolClosed after Close and with ErrTaskDropped when the
// queue is full under a drop policy.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if task.Run == nil {
		return fmt.Errorf("submit task %s: %w", taskName(task), bulwark.ErrNilCallback)
	}
	if p.closed.Load() {
		return fmt.Errorf("submit task %s: %w", taskName(task), bulwark.ErrPoolClosed)
	}

	switch p.cfg.backpressure {
	case BackpressureDropNewest:
		return p.submitDropNewest(task)
	case BackpressureDropOldest:
		return p.submitDropOldest(task)
	case BackpressureBlock:
		return p.submitBlock(ctx, task)
	default:
		return fmt.Errorf("submit task %s: unsupported backpressure policy %q", taskName(task), p.cfg.backpressure)
	}
}

// Close stops accepting tasks, cancels workers, and waits for them to exit
// within the shutdown timeout. Queued tasks that have not started are
// discarded. Close is idempotent.
func (p *Pool) Close(ctx context.Context) error {
	p.signalClose()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.shutdownTimeout)
	defer cancel()

	select {
	case <-p.done:
		return nil
	case <-shutdownCtx.Done():
		return fmt.Errorf("close pool: %w", shutdownCtx.Err())
	}
}

// submitDropNewest drops the incoming task when the queue is full.
func (p *Pool) submitDropNewest(task Task) error {
	select {
	case p.queue <- task:
		return nil
	default:
		return fmt.Errorf("submit task %s: %w", taskName(task), bulwark.ErrTaskDropped)
	}
}

// submitDropOldest evicts one queued task before enqueueing the new task.
func (p *Pool) submitDropOldest(task Task) error {
	select {
	case p.queue <- task:
		return nil
	default:
	}

	select {
	case <-p.queue:
	default:
	}

	select {
	case p.queue <- task:
		return nil
	default:
		return fmt.Errorf("submit task %s: %w", taskName(task), bulwark.ErrTaskDropped)
	}
}

// submitBlock waits for queue capacity, caller cancellation, or pool close.
func (p *Pool) submitBlock(ctx context.Context, task Task) error {
	select {
	case p.queue <- task:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit task %s: %w", taskName(task), ctx.Err())
	case <-p.ctx.Done():
		return fmt.Errorf("submit task %s: %w", taskName(task), bulwark.ErrPoolClosed)
	}
}

// startWorkers launches worker goroutines and closes done after all exit.
func (p *Pool) startWorkers() {
	workerWG := &sync.WaitGroup{}
	for idx := 0; idx < p.cfg.workers; idx++ {
		workerID := idx
		workerWG.Add(1)
		go p.runWorker(workerWG, workerID)
	}

	go func() {
		workerWG.Wait()
		close(p.done)
	}()
}

// runWorker drains the queue until pool context cancellation.
func (p *Pool) runWorker(workerWG *sync.WaitGroup, workerID int) {
	defer workerWG.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.queue:
			p.executeTask(p.ctx, workerID, task)
		}
	}
}

// executeTask runs one task with the configured timeout and panic capture.
// Captured panics become crash reports; plain errors go to the error handler.
func (p *Pool) executeTask(ctx context.Context, workerID int, task Task) {
	taskCtx := ctx
	cancel := func() {}
	if p.cfg.taskTimeout > 0 {
		taskCtxWithTimeout, taskCancel := context.WithTimeout(ctx, p.cfg.taskTimeout)
		taskCtx = taskCtxWithTimeout
		cancel = taskCancel
	}
	defer cancel()

	scope := fmt.Sprintf("task %s worker %d", taskName(task), workerID)
	err := runGuarded(scope, func() error {
		return task.Run(taskCtx)
	})
	if err == nil {
		return
	}

	var panicErr *bulwark.PanicError
	if errors.As(err, &panicErr) {
		recordCrash(ctx, p.cfg, scope, map[string]string{
			"engine": "pool",
			"task":   taskName(task),
			"worker": strconv.Itoa(workerID),
		}, panicErr)
		return
	}
	if isContextCancellation(err) && ctx.Err() != nil {
		return
	}

	p.cfg.onError(ctx, scope, err)
}

// signalClose marks the pool closed exactly once and cancels workers.
func (p *Pool) signalClose() {
	p.once.Do(func() {
		p.closed.Store(true)
		p.cancel()
	})
}

func taskName(task Task) string {
	if task.Name == "" {
		return "unnamed"
	}

	return task.Name
}
