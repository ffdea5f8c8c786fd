// Package scheduler owns the set of periodic governance tasks. Tasks are
// idempotent and safe to interleave; overlapping runs of the same task are
// skipped so a slow pass can never double-apply its work.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Task is a named periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

type taskState struct {
	task    Task
	running atomic.Bool
}

// Status is the operational snapshot of the handle.
type Status struct {
	IsRunning bool     `json:"isRunning"`
	Tasks     []string `json:"tasks"`
}

// Handle owns a set of cancellable periodic tasks. Start and Stop replace
// any module-level scheduler state.
type Handle struct {
	mu      sync.Mutex
	tasks   []*taskState
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewHandle creates an empty scheduler handle.
func NewHandle() *Handle {
	return &Handle{}
}

// Register adds a task. Registration after Start has no effect on the
// running set.
func (h *Handle) Register(task Task) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tasks = append(h.tasks, &taskState{task: task})
}

// Start launches one goroutine per registered task. Each task fires once
// immediately, then on its own interval.
func (h *Handle) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	for _, ts := range h.tasks {
		h.wg.Add(1)
		go h.loop(runCtx, ts)
	}

	log.Info().Int("tasks", len(h.tasks)).Msg("Scheduler started")
}

func (h *Handle) loop(ctx context.Context, ts *taskState) {
	defer h.wg.Done()

	h.fire(ctx, ts)

	ticker := time.NewTicker(ts.task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.fire(ctx, ts)
		}
	}
}

// fire runs the task unless a previous run is still in flight, in which
// case the tick is skipped.
func (h *Handle) fire(ctx context.Context, ts *taskState) {
	if !ts.running.CompareAndSwap(false, true) {
		log.Warn().Str("task", ts.task.Name).Msg("Previous run still in progress; skipping tick")
		return
	}
	defer ts.running.Store(false)

	started := time.Now()
	ts.task.Run(ctx)
	log.Debug().
		Str("task", ts.task.Name).
		Dur("elapsed", time.Since(started)).
		Msg("Task run finished")
}

// Stop cancels all tasks and waits for in-flight runs to finish.
func (h *Handle) Stop() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.started = false
	cancel := h.cancel
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

// Status returns whether the handle is running and the registered task
// names.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, 0, len(h.tasks))
	for _, ts := range h.tasks {
		names = append(names, ts.task.Name)
	}
	return Status{IsRunning: h.started, Tasks: names}
}
