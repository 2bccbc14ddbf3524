// Package task provides background task execution for export jobs: submit
// a function, poll its status, and await its result. Two modes exist: an
// inline runner that executes synchronously (debugging, CLI) and a
// fixed-size worker pool that owns its workers and drains cleanly on
// shutdown. Cancellation is not supported; an export either completes or
// fails.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/migrator-io/migrator/internal/config"
)

// Status is the lifecycle state of a submitted task.
type Status string

// Task states.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Runner mode names, selected by the RUNNER environment variable.
const (
	ModeInline = "inline"
	ModeThread = "thread"

	defaultWorkers = 4
)

// Sentinel errors for the task runner surface.
var (
	// ErrTaskNotFound is returned for unknown task IDs.
	ErrTaskNotFound = errors.New("task not found")
	// ErrResultTimeout is returned when Result's wait deadline expires.
	ErrResultTimeout = errors.New("timed out waiting for task result")
	// ErrRunnerClosed is returned when submitting after shutdown.
	ErrRunnerClosed = errors.New("task runner is shut down")
)

// Fn is a unit of background work.
type Fn func(ctx context.Context) (any, error)

// Runner executes submitted tasks and tracks their outcomes by ID.
type Runner interface {
	// Submit queues a task. An empty taskID gets a generated UUID; the
	// effective ID is returned.
	Submit(fn Fn, taskID string) (string, error)
	// Status returns the task's current state.
	Status(taskID string) (Status, error)
	// Result blocks until the task finishes and returns its value or
	// error. A zero timeout waits indefinitely.
	Result(taskID string, timeout time.Duration) (any, error)
	// Shutdown stops accepting work and joins the workers. Safe to call
	// more than once.
	Shutdown()
}

// FromEnv builds the runner selected by RUNNER (inline or thread) with
// WORKERS pool size.
func FromEnv(logger *slog.Logger) Runner {
	mode := config.GetEnvStr("RUNNER", ModeInline)
	workers := config.GetEnvInt("WORKERS", defaultWorkers)

	if mode == ModeThread {
		return NewPoolRunner(workers, logger)
	}

	return NewInlineRunner()
}

// taskState tracks one submitted task.
type taskState struct {
	status Status
	result any
	err    error
	done   chan struct{}
}

// registry is the shared task bookkeeping used by both runner modes.
type taskRegistry struct {
	mu    sync.RWMutex
	tasks map[string]*taskState
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{tasks: make(map[string]*taskState)}
}

func (r *taskRegistry) create(taskID string, status Status) *taskState {
	state := &taskState{status: status, done: make(chan struct{})}

	r.mu.Lock()
	r.tasks[taskID] = state
	r.mu.Unlock()

	return state
}

func (r *taskRegistry) get(taskID string) (*taskState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	return state, nil
}

func (r *taskRegistry) status(taskID string) (Status, error) {
	state, err := r.get(taskID)
	if err != nil {
		return "", err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return state.status, nil
}

func (r *taskRegistry) setRunning(state *taskState) {
	r.mu.Lock()
	state.status = StatusRunning
	r.mu.Unlock()
}

func (r *taskRegistry) finish(state *taskState, result any, err error) {
	r.mu.Lock()

	if err != nil {
		state.status = StatusFailed
		state.err = err
	} else {
		state.status = StatusCompleted
		state.result = result
	}

	r.mu.Unlock()
	close(state.done)
}

func (r *taskRegistry) await(taskID string, timeout time.Duration) (any, error) {
	state, err := r.get(taskID)
	if err != nil {
		return nil, err
	}

	if timeout > 0 {
		select {
		case <-state.done:
		case <-time.After(timeout):
			return nil, fmt.Errorf("%w: %s", ErrResultTimeout, taskID)
		}
	} else {
		<-state.done
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if state.err != nil {
		return nil, state.err
	}

	return state.result, nil
}

// InlineRunner executes tasks synchronously in the caller's goroutine.
type InlineRunner struct {
	registry *taskRegistry
}

// NewInlineRunner creates a synchronous runner.
func NewInlineRunner() *InlineRunner {
	return &InlineRunner{registry: newTaskRegistry()}
}

// Submit executes the task immediately; the returned ID's result is already
// available.
func (r *InlineRunner) Submit(fn Fn, taskID string) (string, error) {
	if taskID == "" {
		taskID = uuid.NewString()
	}

	state := r.registry.create(taskID, StatusRunning)

	result, err := runRecovered(fn)
	r.registry.finish(state, result, err)

	return taskID, nil
}

// Status implements Runner.
func (r *InlineRunner) Status(taskID string) (Status, error) {
	return r.registry.status(taskID)
}

// Result implements Runner.
func (r *InlineRunner) Result(taskID string, timeout time.Duration) (any, error) {
	return r.registry.await(taskID, timeout)
}

// Shutdown is a no-op for the inline runner.
func (r *InlineRunner) Shutdown() {}

// queued pairs a task with its bookkeeping for the pool workers.
type queued struct {
	fn    Fn
	state *taskState
}

// PoolRunner executes tasks on a fixed set of worker goroutines fed from a
// queue channel. Shutdown closes the queue and joins the workers, so every
// accepted task runs to completion before the process exits.
type PoolRunner struct {
	registry *taskRegistry
	queue    chan queued
	wg       sync.WaitGroup
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
}

const queueBacklog = 64

// NewPoolRunner creates a runner with the given number of workers.
func NewPoolRunner(workers int, logger *slog.Logger) *PoolRunner {
	if workers < 1 {
		workers = 1
	}

	r := &PoolRunner{
		registry: newTaskRegistry(),
		queue:    make(chan queued, queueBacklog),
		logger:   logger,
	}

	r.wg.Add(workers)

	for i := 0; i < workers; i++ {
		go r.worker(i)
	}

	return r
}

func (r *PoolRunner) worker(id int) {
	defer r.wg.Done()

	for item := range r.queue {
		r.registry.setRunning(item.state)

		result, err := runRecovered(item.fn)
		if err != nil {
			r.logger.Error("background task failed",
				slog.Int("worker", id),
				slog.String("error", err.Error()),
			)
		}

		r.registry.finish(item.state, result, err)
	}
}

// Submit implements Runner.
func (r *PoolRunner) Submit(fn Fn, taskID string) (string, error) {
	if taskID == "" {
		taskID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrRunnerClosed
	}

	state := r.registry.create(taskID, StatusPending)
	r.queue <- queued{fn: fn, state: state}

	return taskID, nil
}

// Status implements Runner.
func (r *PoolRunner) Status(taskID string) (Status, error) {
	return r.registry.status(taskID)
}

// Result implements Runner.
func (r *PoolRunner) Result(taskID string, timeout time.Duration) (any, error) {
	return r.registry.await(taskID, timeout)
}

// Shutdown stops accepting work, drains the queue, and joins the workers.
func (r *PoolRunner) Shutdown() {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()

		return
	}

	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
}

// runRecovered executes a task, converting panics into failures so a bad
// task cannot take a worker down.
func runRecovered(fn Fn) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()

	return fn(context.Background())
}
