// Package schedule runs a job at a fixed interval until cancelled.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Job is one scheduled invocation.
type Job func(ctx context.Context) error

// Config configures a Scheduler.
type Config struct {
	Interval   time.Duration
	RunOnStart bool
	Logger     logrus.FieldLogger
}

// Scheduler invokes a job once per interval. A failing or panicking run is
// logged and the next tick proceeds. Ticks that fire while a run is in
// progress are dropped, so missed runs are never caught up.
type Scheduler struct {
	interval   time.Duration
	runOnStart bool
	job        Job
	logger     logrus.FieldLogger

	mu      sync.RWMutex
	ticks   int
	lastRun time.Time
	lastErr error
}

// New creates a scheduler.
func New(cfg Config, job Job) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", cfg.Interval)
	}
	if job == nil {
		return nil, errors.New("job is nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		interval:   cfg.Interval,
		runOnStart: cfg.RunOnStart,
		job:        job,
		logger:     logger,
	}, nil
}

// Run blocks until ctx is done and returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.WithField("interval", s.interval).Info("Scheduler started")
	if s.runOnStart {
		s.RunOnce(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce invokes the job once, recovering from panics.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.mu.RLock()
	tick := s.ticks + 1
	s.mu.RUnlock()
	log := s.logger.WithField("tick", tick)

	err := s.safeRun(ctx)
	if err != nil {
		log.WithError(err).Error("Scheduled run failed")
	}

	s.mu.Lock()
	s.ticks = tick
	s.lastRun = time.Now()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Scheduler) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.logger.WithField("stack", string(debug.Stack())).Debug("Recovered scheduled run panic")
		}
	}()
	return s.job(ctx)
}

// Ticks returns the number of completed runs.
func (s *Scheduler) Ticks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticks
}

// LastRun returns when the last run completed and its error.
func (s *Scheduler) LastRun() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun, s.lastErr
}

// Interval returns the configured interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}
