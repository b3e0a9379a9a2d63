package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"propertysearch/server/internal/logging"
	"propertysearch/server/internal/metrics"
)

// Task names a batch task
type Task string

const (
	TaskUpdateProperty Task = "update-property"
	TaskUpdateTube     Task = "update-tube"
)

// Notifier is told about every finished run.
type Notifier interface {
	NotifyRun(ctx context.Context, task string, elapsed time.Duration, runErr error) error
}

type TaskFunc func(ctx context.Context) error

// Runner executes tasks by name with run ids, timing, metrics and notifications.
type Runner struct {
	tasks    map[Task]TaskFunc
	notifier Notifier
	logger   *logrus.Logger
	metrics  *metrics.Metrics
}

// NewRunner registers the two batch tasks. notifier may be nil.
func NewRunner(property *PropertyPipeline, tube *TubeUpdater, notifier Notifier, logger *logrus.Logger, m *metrics.Metrics) *Runner {
	r := &Runner{
		tasks:    map[Task]TaskFunc{},
		notifier: notifier,
		logger:   logger,
		metrics:  m,
	}
	if property != nil {
		r.tasks[TaskUpdateProperty] = property.UpdateProperty
	}
	if tube != nil {
		r.tasks[TaskUpdateTube] = tube.UpdateTube
	}
	return r
}

// Register adds or replaces a task.
func (r *Runner) Register(task Task, fn TaskFunc) {
	r.tasks[task] = fn
}

// Task returns the function registered for task.
func (r *Runner) Task(task Task) (TaskFunc, bool) {
	fn, ok := r.tasks[task]
	return fn, ok
}

// Run executes one task and returns its error.
func (r *Runner) Run(ctx context.Context, task Task) error {
	fn, ok := r.tasks[task]
	if !ok {
		return fmt.Errorf("unknown task %q", task)
	}

	entry := r.logger.WithFields(logrus.Fields{
		"task":   string(task),
		"run_id": uuid.NewString(),
	})
	ctx = logging.WithEntry(ctx, entry)

	entry.Info("Starting task")
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	r.metrics.ObserveTask(string(task), err, elapsed)
	if err != nil {
		entry.WithError(err).WithField("elapsed", elapsed.String()).Error("Task failed")
	} else {
		entry.WithField("elapsed", elapsed.String()).Info("Completed task")
	}

	if r.notifier != nil {
		if nerr := r.notifier.NotifyRun(ctx, string(task), elapsed, err); nerr != nil {
			entry.WithError(nerr).Warn("Failed to send run notification")
		}
	}

	return err
}
