package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"propertysearch/server/internal/pipeline"
)

// TaskRunner executes one batch task by name
type TaskRunner interface {
	Run(ctx context.Context, task pipeline.Task) error
}

// Job is a task run on a fixed interval
type Job struct {
	Task     pipeline.Task
	Interval time.Duration
}

// Scheduler manages periodic execution of batch tasks
type Scheduler struct {
	runner       TaskRunner
	logger       *logrus.Logger
	jobs         []Job
	runOnStartup bool
	ctx          context.Context
	cancel       context.CancelFunc
	stopChan     chan struct{}
	wg           sync.WaitGroup
	jobMutex     sync.Mutex // Ensures sequential job execution
}

// NewScheduler creates a new scheduler. Jobs with a non-positive interval are ignored.
func NewScheduler(runner TaskRunner, jobs []Job, runOnStartup bool, logger *logrus.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	active := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Interval > 0 {
			active = append(active, j)
		}
	}
	return &Scheduler{
		runner:       runner,
		logger:       logger,
		jobs:         active,
		runOnStartup: runOnStartup,
		ctx:          ctx,
		cancel:       cancel,
		stopChan:     make(chan struct{}),
	}
}

// Start begins the scheduled tasks
func (s *Scheduler) Start() {
	if s.runOnStartup {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Info("Running startup jobs")
			for _, j := range s.jobs {
				s.execute(j.Task)
			}
			s.logger.Info("Startup jobs completed")
		}()
	}

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.runJob(j)
	}
}

// runJob ticks one job until Stop
func (s *Scheduler) runJob(j Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.execute(j.Task)
		}
	}
}

func (s *Scheduler) execute(task pipeline.Task) {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	// Stop may have been called while waiting for the previous job
	select {
	case <-s.stopChan:
		return
	default:
	}

	s.logger.WithField("task", string(task)).Info("Starting scheduled job")
	if err := s.runner.Run(s.ctx, task); err != nil {
		s.logger.WithError(err).WithField("task", string(task)).Error("Scheduled job failed")
		return
	}
	s.logger.WithField("task", string(task)).Info("Scheduled job completed successfully")
}

// Stop gracefully stops the scheduler, cancelling the running job
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.cancel()
	s.wg.Wait()
}
