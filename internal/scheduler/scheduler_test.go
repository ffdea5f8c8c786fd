package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTaskFiresImmediatelyAndOnInterval(t *testing.T) {
	var runs atomic.Int32

	h := NewHandle()
	h.Register(Task{
		Name:     "counter",
		Interval: 20 * time.Millisecond,
		Run: func(context.Context) {
			runs.Add(1)
		},
	})

	h.Start(context.Background())
	defer h.Stop()

	// The first fire happens before the first tick
	deadline := time.After(500 * time.Millisecond)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 runs, got %d", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	var started atomic.Int32
	release := make(chan struct{})

	h := NewHandle()
	h.Register(Task{
		Name:     "slow",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) {
			started.Add(1)
			<-release
		},
	})

	h.Start(context.Background())

	// Let several ticks elapse while the first run is still blocked
	time.Sleep(80 * time.Millisecond)
	if got := started.Load(); got != 1 {
		t.Errorf("expected overlapping ticks to be skipped, got %d concurrent starts", got)
	}

	close(release)
	h.Stop()
}

func TestStopWaitsForInFlightRun(t *testing.T) {
	var finished atomic.Bool

	h := NewHandle()
	h.Register(Task{
		Name:     "slow-finish",
		Interval: time.Hour,
		Run: func(context.Context) {
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
		},
	})

	h.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	h.Stop()

	if !finished.Load() {
		t.Error("Stop must wait for the in-flight run to complete")
	}
}

func TestTasksRunIndependently(t *testing.T) {
	var fast atomic.Int32
	block := make(chan struct{})

	h := NewHandle()
	h.Register(Task{
		Name:     "blocked",
		Interval: time.Hour,
		Run: func(context.Context) {
			<-block
		},
	})
	h.Register(Task{
		Name:     "fast",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) {
			fast.Add(1)
		},
	})

	h.Start(context.Background())

	deadline := time.After(500 * time.Millisecond)
	for fast.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("a blocked task must not stall other tasks")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(block)
	h.Stop()
}

func TestStatusReportsTasks(t *testing.T) {
	h := NewHandle()
	h.Register(Task{Name: "one", Interval: time.Hour, Run: func(context.Context) {}})
	h.Register(Task{Name: "two", Interval: time.Hour, Run: func(context.Context) {}})

	status := h.Status()
	if status.IsRunning {
		t.Error("handle should not report running before Start")
	}
	if len(status.Tasks) != 2 || status.Tasks[0] != "one" || status.Tasks[1] != "two" {
		t.Errorf("unexpected task list: %v", status.Tasks)
	}

	h.Start(context.Background())
	if !h.Status().IsRunning {
		t.Error("handle should report running after Start")
	}

	h.Stop()
	if h.Status().IsRunning {
		t.Error("handle should not report running after Stop")
	}
}

func TestStartTwiceIsANoOp(t *testing.T) {
	var runs atomic.Int32

	h := NewHandle()
	h.Register(Task{
		Name:     "once",
		Interval: time.Hour,
		Run: func(context.Context) {
			runs.Add(1)
		},
	})

	ctx := context.Background()
	h.Start(ctx)
	h.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	h.Stop()

	if got := runs.Load(); got != 1 {
		t.Errorf("double Start must not double-fire, got %d runs", got)
	}
}
