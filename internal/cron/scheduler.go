package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// jobState tracks one registered job's single-flight lock, so a slow tick
// (a large cache sweep, a big pruning DELETE) never overlaps with the next
// scheduled tick for the same job.
type jobState struct {
	job Job
	mu  sync.Mutex
}

// Scheduler runs the gateway's maintenance jobs on their own cron
// schedules. Each job gets its own single-flight lock; jobs never run
// concurrently with themselves, but different jobs run independently.
type Scheduler struct {
	mu     sync.Mutex
	engine *cron.Cron
	states []*jobState
	logger *slog.Logger
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Jobs must be registered before Start().
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

// RegisterJob adds a job to the scheduler. Must be called before Start().
// Returns an error if a job with the same name is already registered.
func (s *Scheduler) RegisterJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.states {
		if st.job.Name() == j.Name() {
			return fmt.Errorf("cron: duplicate job name %q", j.Name())
		}
	}
	s.states = append(s.states, &jobState{job: j})
	return nil
}

// Start initializes the cron scheduler and begins executing registered jobs.
// Returns an error if any job has an invalid schedule expression.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s.engine = cron.New(cron.WithParser(parser))

	for _, st := range s.states {
		if _, err := s.engine.AddFunc(st.job.Schedule(), s.tick(ctx, st)); err != nil {
			cancel()
			return fmt.Errorf("cron: invalid schedule for job %q: %w", st.job.Name(), err)
		}
	}

	s.engine.Start()
	s.logger.Info("cron: scheduler started", "jobs", len(s.states))
	return nil
}

// tick returns the closure cron invokes each time st's schedule fires.
func (s *Scheduler) tick(ctx context.Context, st *jobState) func() {
	return func() {
		// TryLock is atomic - no race between check and acquire. If the
		// previous tick is still running, this one is skipped entirely
		// rather than queued.
		if !st.mu.TryLock() {
			s.logger.Warn("cron: job still running, skipping tick", "job", st.job.Name())
			return
		}
		defer st.mu.Unlock()

		s.logger.Debug("cron: job started", "job", st.job.Name())
		if err := st.job.Run(ctx); err != nil {
			s.logger.Error("cron: job failed", "job", st.job.Name(), "error", err)
			return
		}
		s.logger.Debug("cron: job completed", "job", st.job.Name())
	}
}

// Stop gracefully shuts down the scheduler, waiting for in-flight jobs.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.engine != nil {
		<-s.engine.Stop().Done()
		s.logger.Info("cron: scheduler stopped")
	}
	return nil
}
