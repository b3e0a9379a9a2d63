package scheduler

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"propertysearch/server/internal/pipeline"
)

type countingRunner struct {
	mu      sync.Mutex
	calls   map[pipeline.Task]int
	active  atomic.Int32
	overlap atomic.Bool
	block   chan struct{}
}

func newCountingRunner() *countingRunner {
	return &countingRunner{calls: map[pipeline.Task]int{}}
}

func (r *countingRunner) Run(ctx context.Context, task pipeline.Task) error {
	if r.active.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.active.Add(-1)

	r.mu.Lock()
	r.calls[task]++
	r.mu.Unlock()

	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	time.Sleep(time.Millisecond)
	return nil
}

func (r *countingRunner) count(task pipeline.Task) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[task]
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestScheduler_RunsJobsOnInterval(t *testing.T) {
	runner := newCountingRunner()
	s := NewScheduler(runner, []Job{
		{Task: pipeline.TaskUpdateProperty, Interval: 5 * time.Millisecond},
		{Task: pipeline.TaskUpdateTube, Interval: 7 * time.Millisecond},
		{Task: "disabled", Interval: 0},
	}, false, testLogger())

	s.Start()
	assert.Eventually(t, func() bool {
		return runner.count(pipeline.TaskUpdateProperty) >= 2 && runner.count(pipeline.TaskUpdateTube) >= 2
	}, 2*time.Second, time.Millisecond)
	s.Stop()

	assert.False(t, runner.overlap.Load(), "jobs must not run concurrently")
	assert.Zero(t, runner.count("disabled"))
}

func TestScheduler_RunOnStartup(t *testing.T) {
	runner := newCountingRunner()
	s := NewScheduler(runner, []Job{
		{Task: pipeline.TaskUpdateTube, Interval: time.Hour},
		{Task: pipeline.TaskUpdateProperty, Interval: time.Hour},
	}, true, testLogger())

	s.Start()
	assert.Eventually(t, func() bool {
		return runner.count(pipeline.TaskUpdateTube) == 1 && runner.count(pipeline.TaskUpdateProperty) == 1
	}, 2*time.Second, time.Millisecond)
	s.Stop()
}

func TestScheduler_StopCancelsRunningJob(t *testing.T) {
	runner := newCountingRunner()
	runner.block = make(chan struct{})
	s := NewScheduler(runner, []Job{{Task: pipeline.TaskUpdateProperty, Interval: time.Hour}}, true, testLogger())

	s.Start()
	assert.Eventually(t, func() bool {
		return runner.count(pipeline.TaskUpdateProperty) == 1
	}, 2*time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
