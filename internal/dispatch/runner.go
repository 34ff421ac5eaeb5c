package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

var ErrAlreadyRunning = errors.New("job is already running")

// Runner executes dispatch runs in the background. Submitting returns
// immediately with a handle; progress is polled through the job store, the
// handle only answers "is it still going" and "how did the goroutine end".
type Runner struct {
	run func(ctx context.Context, jobID string) error

	mu    sync.Mutex
	tasks map[string]*TaskHandle
}

type TaskHandle struct {
	JobID string

	running atomic.Bool
	done    chan struct{}
	err     error
}

// Done is closed when the run finishes, however it finished.
func (h *TaskHandle) Done() <-chan struct{} {
	return h.done
}

func (h *TaskHandle) Running() bool {
	return h.running.Load()
}

// Err reports how the run ended. Only valid after Done is closed.
func (h *TaskHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func NewRunner(run func(ctx context.Context, jobID string) error) (*Runner, error) {
	if run == nil {
		return nil, errors.New("run must not be nil")
	}
	return &Runner{
		run:   run,
		tasks: make(map[string]*TaskHandle),
	}, nil
}

// Submit starts the job in a new goroutine. A job id can only be in flight
// once at a time; resubmitting a finished id is a caller error that this
// layer does not police beyond the in-flight check.
func (r *Runner) Submit(jobID string) (*TaskHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tasks[jobID]; ok && existing.Running() {
		return nil, fmt.Errorf("submit %s: %w", jobID, ErrAlreadyRunning)
	}

	h := &TaskHandle{
		JobID: jobID,
		done:  make(chan struct{}),
	}
	h.running.Store(true)
	r.tasks[jobID] = h

	go func() {
		defer close(h.done)
		defer h.running.Store(false)
		defer func() {
			if rec := recover(); rec != nil {
				h.err = fmt.Errorf("dispatch panic: %v", rec)
				slog.Error("dispatch run panic recovered", "job_id", jobID, "panic", rec)
			}
		}()

		slog.Info("dispatch run submitted", "job_id", jobID)
		h.err = r.run(context.Background(), jobID)
		if h.err != nil {
			slog.Error("dispatch run failed", "job_id", jobID, "error", h.err)
		}
	}()

	return h, nil
}

// Handle returns the most recent handle for a job id, if any.
func (r *Runner) Handle(jobID string) (*TaskHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.tasks[jobID]
	return h, ok
}
