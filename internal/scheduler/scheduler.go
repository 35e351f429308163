// Package scheduler runs the engine's periodic jobs: heartbeat, pending-order
// timeout sweep, decision cadence, listen-key refresh and profit-target check.
// Jobs are tracked by name so shutdown can cancel every timer explicitly.
package scheduler

import (
	"context"
	"sync"
	"time"

	"marlin/internal/logger"
)

type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]context.CancelFunc
	wg   sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{jobs: make(map[string]context.CancelFunc)}
}

// Every registers a named job firing at the given interval. Registering a name
// twice replaces the previous timer. The task runs on its own goroutine; it is
// expected to hand work to the engine loop rather than do it inline.
func (s *Scheduler) Every(ctx context.Context, name string, interval time.Duration, task func()) {
	if interval <= 0 || task == nil {
		logger.Warnf("scheduler: job %q ignored (interval=%s)", name, interval)
		return
	}
	jobCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if prev, ok := s.jobs[name]; ok {
		prev()
	}
	s.jobs[name] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		logger.Infof("scheduler: job %q started interval=%s", name, interval)
		for {
			select {
			case <-jobCtx.Done():
				logger.Infof("scheduler: job %q stopped", name)
				return
			case <-ticker.C:
				task()
			}
		}
	}()
}

// Cancel stops a single named job.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.jobs[name]; ok {
		cancel()
		delete(s.jobs, name)
	}
}

// Stop cancels every job and waits for the timers to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for name, cancel := range s.jobs {
		cancel()
		delete(s.jobs, name)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Names returns the currently registered job names.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	return out
}
