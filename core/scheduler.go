package core

import (
	"context"
	"sync"
	"time"
)

// Scheduler is the single long-lived worker loop per (provider) that picks
// pending jobs off a JobStore and launches JobRunners while a global
// concurrency semaphore has capacity. Grounded on the teacher's
// ticker-plus-channel-semaphore idiom (services/sna_progress_poller.go) and
// the source's condition-variable loop (hyperv_router.py's
// _scheduler_loop); the condition variable is realized here as a
// buffered wake channel, the idiomatic Go stand-in.
type Scheduler struct {
	store  *JobStore
	sem    chan struct{}
	logger Logger
	launch func(ctx context.Context, job *Job)

	wake chan struct{}
	stop chan struct{}

	mu      sync.Mutex
	started bool
	stopped chan struct{}
}

// NewScheduler constructs a scheduler bounded at cfg.JobMaxGlobal concurrent
// runners. launch is invoked once per acquired job; the scheduler itself
// releases the semaphore slot when launch returns.
func NewScheduler(store *JobStore, cfg RunnerConfig, logger Logger, launch func(ctx context.Context, job *Job)) *Scheduler {
	if logger == nil {
		logger = NoopLogger
	}
	return &Scheduler{
		store:  store,
		sem:    make(chan struct{}, cfg.JobMaxGlobal),
		logger: logger,
		launch: launch,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

// Start launches the loop goroutine; idempotent. Core.Start calls it once
// at boot; CreateJob does not start it.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stopped = make(chan struct{})
	go s.loop(ctx, s.stopped)
}

// Notify wakes the loop immediately instead of waiting for the next polling
// tick; called by CreateJob and after a runner releases its slot.
func (s *Scheduler) Notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Stop signals the loop to exit and waits for the current iteration to
// drain. It does not cancel in-flight runners.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	stopped := s.stopped
	s.mu.Unlock()
	close(s.stop)
	<-stopped
}

// loop implements spec.md §4.4's algorithm: wait for a Notify or the 100ms
// polling tick; for each pending job, attempt a non-blocking
// global-semaphore acquire; on acquire, spawn the runner, which releases
// the slot on its own exit.
func (s *Scheduler) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.wake:
		}
		s.drainPending(ctx)
	}
}

// drainPending keeps spawning runners for PENDING jobs until either the
// queue is empty or the global semaphore is exhausted.
func (s *Scheduler) drainPending(ctx context.Context) {
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		pending := s.store.ListJobsByStatus(JobPending)
		if len(pending) == 0 {
			return
		}
		for _, job := range pending {
			select {
			case s.sem <- struct{}{}:
				// Claim the job synchronously, before looping back to
				// re-list PENDING jobs: the spawned goroutine's own
				// UpdateJob happens in a separate goroutine and may not
				// have run yet by the time this loop iterates again,
				// which would otherwise let the same job be picked up
				// and launched a second time.
				claimed, ok := s.store.UpdateJob(job.JobID, func(j *Job) {
					if j.Status == JobPending {
						j.Status = JobRunning
					}
				})
				if !ok || claimed.Status != JobRunning {
					<-s.sem
					continue
				}
				go func(j *Job) {
					defer s.release()
					s.launch(ctx, j)
				}(claimed)
			default:
				// global concurrency budget exhausted; try again next wake.
				return
			}
		}
	}
}

// release returns one slot to the global semaphore and re-notifies the
// loop, the equivalent of a defer/finally release in the source.
func (s *Scheduler) release() {
	<-s.sem
	s.Notify()
}

// InUse reports the number of runners currently holding the global
// semaphore; exposed for invariant testing (spec.md §8 property 7).
func (s *Scheduler) InUse() int {
	return len(s.sem)
}
