package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Invariant 7: the count of runners holding the global semaphore never
// exceeds JOB_MAX_GLOBAL.
func TestScheduler_GlobalConcurrencyBound(t *testing.T) {
	jobs := NewJobStore(nil)
	cfg := DefaultRunnerConfig()
	cfg.JobMaxGlobal = 2

	var (
		mu         sync.Mutex
		inFlight   int32
		maxInFlight int32
	)
	release := make(chan struct{})

	var sched *Scheduler
	sched = NewScheduler(jobs, cfg, nil, func(ctx context.Context, job *Job) {
		cur := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if cur > maxInFlight {
			maxInFlight = cur
		}
		mu.Unlock()
		<-release
		atomic.AddInt32(&inFlight, -1)
		jobs.UpdateJob(job.JobID, func(j *Job) {
			j.Status = JobSucceeded
			now := time.Now()
			j.FinishedAt = &now
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	for i := 0; i < 5; i++ {
		key := NewScopeKey(ScopeVMS, []string{string(rune('a' + i))}, LevelSummary)
		_, err := jobs.CreateJob(key)
		require.NoError(t, err)
	}
	sched.Notify()

	require.Eventually(t, func() bool {
		return sched.InUse() == cfg.JobMaxGlobal
	}, time.Second, 5*time.Millisecond)

	assert.LessOrEqual(t, int(maxInFlight), cfg.JobMaxGlobal)

	close(release)
	require.Eventually(t, func() bool {
		return len(jobs.ListJobsByStatus(JobSucceeded)) == 5
	}, 2*time.Second, 10*time.Millisecond)
}
