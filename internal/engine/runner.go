package engine

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrQueueFull is returned when the job queue cannot accept more work
var ErrQueueFull = errors.New("job queue is full")

// queuedJob pairs a job id with its work function
type queuedJob struct {
	id  string
	run func(ctx context.Context)
}

// Runner executes queued jobs on a single worker, one at a time.
// Backups and restores share the worker so account archives never run
// concurrently on the same host.
type Runner struct {
	queue chan queuedJob

	mu      sync.Mutex
	current string
	pending []string
}

// NewRunner creates a runner with the given queue depth
func NewRunner(depth int) *Runner {
	if depth < 1 {
		depth = 16
	}
	return &Runner{queue: make(chan queuedJob, depth)}
}

// Start runs the worker loop until the context is cancelled
func (r *Runner) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-r.queue:
				r.setCurrent(job.id)
				log.Printf("[Runner] Job %s started", job.id)
				job.run(ctx)
				log.Printf("[Runner] Job %s finished", job.id)
				r.setCurrent("")
			}
		}
	}()
}

// Enqueue adds a job to the queue without blocking
func (r *Runner) Enqueue(id string, run func(ctx context.Context)) error {
	wrapped := queuedJob{id: id, run: func(ctx context.Context) {
		defer r.dropPending(id)
		run(ctx)
	}}

	select {
	case r.queue <- wrapped:
		r.addPending(id)
		return nil
	default:
		return ErrQueueFull
	}
}

// Status reports the running job id and the ids still queued behind it
func (r *Runner) Status() (current string, pending []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending = make([]string, len(r.pending))
	copy(pending, r.pending)
	return r.current, pending
}

func (r *Runner) setCurrent(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = id
}

func (r *Runner) addPending(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, id)
}

func (r *Runner) dropPending(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, pending := range r.pending {
		if pending == id {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			break
		}
	}
}
