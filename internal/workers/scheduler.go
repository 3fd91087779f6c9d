// Package workers implements the background task scheduler (spec.md
// component F): a generic interval-task loop running up to maxTasks
// registered tasks on a single goroutine, replacing engine-level timers.
//
// Grounded on cdb_bgtask.c/.h: the "at most 16 tasks in a task thread"
// bound, the once-per-second wakeup that checks each task's elapsed time
// against its interval, and the add-before-start restriction all carry
// over. Go's goroutine + time.Ticker + channel shutdown stand in for the
// original's pthread/condvar loop; the "block all signals" step has no Go
// equivalent and is dropped (Go does not deliver OS signals to arbitrary
// goroutines the way pthreads does).
package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fusiyuan2010/cuttdb/pkg/errors"
)

// maxTasks is MAXTASKNUM: the maximum number of tasks a Scheduler can run.
const maxTasks = 16

// tickInterval is how often the scheduler wakes to check task due-times,
// matching cdb_bgtask.c's 1-second poll granularity.
const tickInterval = time.Second

// TaskFunc is a unit of background work. A returned error is logged but
// never stops the scheduler or the other registered tasks.
type TaskFunc func() error

type task struct {
	name     string
	fn       TaskFunc
	interval time.Duration
	last     time.Time
}

// Scheduler runs registered tasks on their own interval from a single
// background goroutine, started once and stopped once.
type Scheduler struct {
	mu      sync.Mutex
	tasks   []*task
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	log     *zap.SugaredLogger
}

// New creates a Scheduler. Tasks must be registered with Add before Start.
func New(log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{log: log}
}

// Add registers a task to run every interval once the scheduler starts.
// Like cdb_bgtask_add, this must be called before Start and is rejected
// past maxTasks.
func (s *Scheduler) Add(name string, interval time.Duration, fn TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.NewEngineError(nil, errors.ErrorCodeInvalidInput, "cannot add a task after the scheduler has started").
			WithOperation("Scheduler.Add")
	}
	if len(s.tasks) >= maxTasks {
		return errors.NewEngineError(nil, errors.ErrorCodeInvalidInput, "task limit reached").
			WithOperation("Scheduler.Add").
			WithDetail("max_tasks", maxTasks)
	}

	s.tasks = append(s.tasks, &task{name: name, fn: fn, interval: interval, last: time.Now()})
	return nil
}

// Start launches the scheduler's background goroutine. A no-op if already
// running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.loop()
}

func (s *Scheduler) loop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.runDue(now)
		}
	}
}

func (s *Scheduler) runDue(now time.Time) {
	s.mu.Lock()
	tasks := make([]*task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	for _, t := range tasks {
		if now.Before(t.last.Add(t.interval)) {
			continue
		}
		if err := t.fn(); err != nil && s.log != nil {
			s.log.Warnw("background task failed", "task", t.name, "error", err)
		}
		t.last = now
	}
}

// Stop signals the background goroutine to exit and waits for it. A no-op
// if not running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
}
