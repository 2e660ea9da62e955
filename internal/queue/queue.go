// Package queue provides the bounded analysis queue: a fixed worker pool
// draining a FIFO of opaque payloads through a caller-supplied processor,
// with per-task retry state and a result callback.
package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned by Enqueue when the queue is at capacity.
// Enqueue never blocks the caller.
var ErrQueueFull = errors.New("queue: full")

// Status is a task's position in its state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Task is one unit of work. Terminal states are immutable.
type Task struct {
	ID          string
	Data        any
	Status      Status
	Result      any
	Err         string
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	RetryCount  int
}

// Processor turns a task payload into a result.
type Processor func(data any) (any, error)

// ResultCallback is invoked exactly once per task that reaches a terminal
// state: (id, result, true) on completion, (id, nil, false) on failure.
type ResultCallback func(id string, result any, ok bool)

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Enqueued   int `json:"total_enqueued"`
	Processed  int `json:"total_processed"`
	Succeeded  int `json:"total_succeeded"`
	Failed     int `json:"total_failed"`
	QueueSize  int `json:"queue_size"`
	Pending    int `json:"pending_tasks"`
	Processing int `json:"processing_tasks"`
}

// Queue is a bounded FIFO with a fixed worker pool.
type Queue struct {
	maxRetries int
	retryDelay time.Duration
	workers    int

	ch     chan *Task
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	tasks     map[string]*Task
	running   bool
	processor Processor
	callback  ResultCallback

	enqueued  int
	processed int
	succeeded int
	failed    int
}

// New creates a stopped queue. Zero or negative arguments fall back to the
// defaults: capacity 100, 2 workers, 3 retries, 5s retry delay.
func New(maxSize, workers, maxRetries int, retryDelay time.Duration) *Queue {
	if maxSize <= 0 {
		maxSize = 100
	}
	if workers <= 0 {
		workers = 2
	}
	if maxRetries < 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	return &Queue{
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		workers:    workers,
		ch:         make(chan *Task, maxSize),
		tasks:      make(map[string]*Task),
	}
}

// SetProcessor registers the processing function. Must be set before Start.
func (q *Queue) SetProcessor(p Processor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processor = p
}

// SetResultCallback registers the terminal-state callback.
func (q *Queue) SetResultCallback(cb ResultCallback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.callback = cb
}

// Enqueue submits a payload and returns its task ID, failing fast with
// ErrQueueFull when the queue is at capacity.
func (q *Queue) Enqueue(data any) (string, error) {
	task := &Task{
		ID:        uuid.NewString()[:8],
		Data:      data,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	q.mu.Lock()
	q.tasks[task.ID] = task
	q.mu.Unlock()

	select {
	case q.ch <- task:
		q.mu.Lock()
		q.enqueued++
		q.mu.Unlock()
		return task.ID, nil
	default:
		q.mu.Lock()
		delete(q.tasks, task.ID)
		q.mu.Unlock()
		return "", ErrQueueFull
	}
}

// GetStatus returns a task's current status, or "" if unknown.
func (q *Queue) GetStatus(id string) Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.tasks[id]; ok {
		return t.Status
	}
	return ""
}

// GetResult returns a task's result, or nil if unknown or not completed.
func (q *Queue) GetResult(id string) any {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.tasks[id]; ok {
		return t.Result
	}
	return nil
}

// GetTask returns a copy of a task's current state.
func (q *Queue) GetTask(id string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.tasks[id]; ok {
		return *t, true
	}
	return Task{}, false
}

// Start launches the worker pool. Calling Start on a running queue is a
// no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.mu.Unlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.workerLoop(i)
	}
	slog.Info("analysis queue started", "workers", q.workers)
}

// Stop signals the workers to exit. With wait set it blocks until they have
// drained, up to timeout. In-flight tasks are not interrupted; queued tasks
// stay pending.
func (q *Queue) Stop(wait bool, timeout time.Duration) {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopCh)
	q.mu.Unlock()

	if wait {
		done := make(chan struct{})
		go func() {
			q.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			slog.Warn("analysis queue stop timed out", "timeout", timeout)
		}
	}
	slog.Info("analysis queue stopped")
}

// IsRunning reports whether the worker pool is active.
func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Size reports the number of tasks waiting in the channel.
func (q *Queue) Size() int {
	return len(q.ch)
}

// Clear drains the queued tasks, marking each one cancelled, and returns how
// many were dropped. In-flight tasks are unaffected and task records stay
// queryable.
func (q *Queue) Clear() int {
	cleared := 0
	for {
		select {
		case t := <-q.ch:
			q.mu.Lock()
			if t.Status == StatusPending {
				t.Status = StatusCancelled
				t.CompletedAt = time.Now()
			}
			q.mu.Unlock()
			cleared++
		default:
			return cleared
		}
	}
}

// GetStats returns a snapshot of the counters.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		Enqueued:  q.enqueued,
		Processed: q.processed,
		Succeeded: q.succeeded,
		Failed:    q.failed,
		QueueSize: len(q.ch),
	}
	for _, t := range q.tasks {
		switch t.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		}
	}
	return s
}

func (q *Queue) workerLoop(id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case task := <-q.ch:
			q.process(id, task)
		}
	}
}

func (q *Queue) process(workerID int, task *Task) {
	q.mu.Lock()
	proc := q.processor
	cb := q.callback
	if proc == nil {
		q.mu.Unlock()
		slog.Warn("analysis queue has no processor", "worker", workerID, "task", task.ID)
		return
	}
	task.Status = StatusProcessing
	task.StartedAt = time.Now()
	q.mu.Unlock()

	result, err := q.runProcessor(proc, task.Data)

	if err == nil {
		q.mu.Lock()
		task.Result = result
		task.Status = StatusCompleted
		task.CompletedAt = time.Now()
		q.succeeded++
		q.processed++
		q.mu.Unlock()

		if cb != nil {
			invokeCallback(cb, task.ID, result, true)
		}
		return
	}

	q.mu.Lock()
	task.Err = err.Error()
	retry := task.RetryCount < q.maxRetries
	if retry {
		task.RetryCount++
		task.Status = StatusPending
	} else {
		task.Status = StatusFailed
		task.CompletedAt = time.Now()
		q.failed++
	}
	q.processed++
	q.mu.Unlock()

	if !retry {
		slog.Warn("task failed permanently",
			"worker", workerID, "task", task.ID, "retries", task.RetryCount, "error", err)
		if cb != nil {
			invokeCallback(cb, task.ID, nil, false)
		}
		return
	}

	slog.Info("task will retry",
		"worker", workerID, "task", task.ID, "attempt", task.RetryCount, "error", err)

	// The retry delay blocks only this worker; stopping interrupts it.
	select {
	case <-time.After(q.retryDelay):
	case <-q.stopCh:
		return
	}

	select {
	case q.ch <- task:
	case <-q.stopCh:
	}
}

// runProcessor shields the worker loop from panicking processors.
func (q *Queue) runProcessor(proc Processor, data any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return proc(data)
}

// invokeCallback shields the worker loop from panicking callbacks.
func invokeCallback(cb ResultCallback, id string, result any, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("result callback panic", "task", id, "panic", r)
		}
	}()
	cb(id, result, ok)
}
