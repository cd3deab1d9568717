// Package cron is the periodic-job scheduler collaborator, a thin shell
// around robfig/cron. The timer wheel is the library's business; the bot
// only registers, lists and resets jobs.
package cron

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mucbot/contract"
	boterrors "mucbot/errors"
)

const stopTimeout = 5 * time.Second

var _ contract.Scheduler = (*Scheduler)(nil)

// Scheduler runs plugin cron jobs. Reset swaps the underlying cron
// instance wholesale so no job of an unloaded plugin can linger.
type Scheduler struct {
	mu      sync.Mutex
	log     *slog.Logger
	c       *cron.Cron
	jobs    []contract.CronJob
	started bool
}

func NewScheduler(log *slog.Logger) *Scheduler {
	return &Scheduler{log: log, c: cron.New()}
}

// Register adds a job. Jobs registered while the scheduler is running are
// picked up immediately.
func (s *Scheduler) Register(job contract.CronJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn := job.Fn
	name := fmt.Sprintf("%s.%s", job.Module, job.Name)
	if _, err := s.c.AddFunc(job.Spec, func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("Cron job panicked", "job", name, "panic", r)
			}
		}()
		fn()
	}); err != nil {
		return fmt.Errorf("%w: %s (%s): %v", boterrors.ErrInvalidCronSpec, name, job.Spec, err)
	}

	s.jobs = append(s.jobs, job)
	s.log.Info("Registered cron job", "job", name, "spec", job.Spec)
	return nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.log.Info("Starting cron scheduler")
	s.c.Start()
	s.started = true
}

// Stop halts scheduling and waits a bounded time for running jobs, so a
// hung job cannot block shutdown forever.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.started = false
}

func (s *Scheduler) stopLocked() {
	done := s.c.Stop()
	select {
	case <-done.Done():
	case <-time.After(stopTimeout):
		s.log.Warn("Cron jobs still running after stop timeout, abandoning them")
	}
}

// Reset clears every registered job so a reload can repopulate the
// schedule from the new plugin set. A running scheduler stays running.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.c = cron.New()
	s.jobs = nil

	if s.started {
		s.c.Start()
	}
	s.log.Info("Cron schedule reset")
}

// ListJobs returns display strings in registration order.
func (s *Scheduler) ListJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, job := range s.jobs {
		out = append(out, fmt.Sprintf("%s.%s: %s", job.Module, job.Name, job.Spec))
	}
	return out
}
