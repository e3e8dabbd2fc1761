package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	jobStoreMaxItems = 128
	jobStoreMaxAge   = 24 * time.Hour
)

// JobStore is the authoritative map of jobs plus the single-active-job-per-
// scope index. One instance per (provider, scope) core; never shared across
// cores.
type JobStore struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	active   map[string]string // ScopeKey.String() -> job_id, lazily cleared
	now      func() time.Time
}

// NewJobStore constructs an empty store. nowFn defaults to time.Now and is
// overridable so tests can control elapsed time deterministically.
func NewJobStore(nowFn func() time.Time) *JobStore {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &JobStore{
		jobs:   make(map[string]*Job),
		active: make(map[string]string),
		now:    nowFn,
	}
}

// Get returns a deep copy of the job with progress recomputed, or false if
// absent. Progress is recomputed on the copy, not the stored job: Get only
// takes the store's read lock, and concurrent readers recomputing onto the
// same shared *Job would race.
func (s *JobStore) Get(jobID string) (*Job, bool) {
	s.mu.RLock()
	j, ok := s.jobs[jobID]
	if !ok {
		s.mu.RUnlock()
		return nil, false
	}
	out := j.Clone()
	s.mu.RUnlock()
	out.recomputeProgress()
	return out, true
}

// GetActiveForScope returns the active job for key iff its status is PENDING
// or RUNNING; a terminal stored job clears the index entry lazily.
func (s *JobStore) GetActiveForScope(key ScopeKey) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getActiveForScopeLocked(key)
}

func (s *JobStore) getActiveForScopeLocked(key ScopeKey) (*Job, bool) {
	k := key.String()
	jobID, ok := s.active[k]
	if !ok {
		return nil, false
	}
	j, ok := s.jobs[jobID]
	if !ok || !j.Status.IsActive() {
		delete(s.active, k)
		return nil, false
	}
	j.recomputeProgress()
	return j.Clone(), true
}

// CreateJob constructs a new PENDING job for key with every host in
// HostsStatus initialized to PENDING, registers it in the scope index, and
// triggers pruning. Fails if an active job already exists for key; callers
// must consult GetActiveForScope first.
func (s *JobStore) CreateJob(key ScopeKey) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.getActiveForScopeLocked(key); ok {
		return nil, fmt.Errorf("job %s is already active for scope %s", existing.JobID, key.String())
	}

	now := s.now()
	hostsStatus := make(map[string]HostJobStatus, len(key.Hosts))
	for _, h := range key.Hosts {
		hostsStatus[h] = HostJobStatus{State: HostPending}
	}
	j := &Job{
		JobID:         uuid.NewString(),
		ScopeKey:      key,
		Status:        JobPending,
		CreatedAt:     now,
		LastHeartbeat: now,
		HostsStatus:   hostsStatus,
	}
	j.recomputeProgress()
	s.jobs[j.JobID] = j
	s.active[key.String()] = j.JobID

	s.pruneLocked()
	return j.Clone(), nil
}

// UpdateJob applies mutator to the stored job under the store's exclusive
// lock, recomputes progress, and returns a copy. Returns false if jobID is
// unknown. The mutation is atomic against concurrent readers: no partial
// mutation is ever observable.
func (s *JobStore) UpdateJob(jobID string, mutator func(*Job)) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	mutator(j)
	j.LastHeartbeat = s.now()
	j.recomputeProgress()
	if j.Status.IsTerminal() {
		k := j.ScopeKey.String()
		if s.active[k] == jobID {
			delete(s.active, k)
		}
	}
	return j.Clone(), true
}

// ListJobsByStatus returns a snapshot view of jobs whose status is in
// statuses, used by the scheduler to find PENDING jobs.
func (s *JobStore) ListJobsByStatus(statuses ...JobState) []*Job {
	want := make(map[JobState]struct{}, len(statuses))
	for _, st := range statuses {
		want[st] = struct{}{}
	}
	s.mu.RLock()
	out := make([]*Job, 0)
	for _, j := range s.jobs {
		if _, ok := want[j.Status]; ok {
			out = append(out, j.Clone())
		}
	}
	s.mu.RUnlock()

	for _, j := range out {
		j.recomputeProgress()
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

// pruneLocked removes terminal jobs that finished more than jobStoreMaxAge
// ago, then, while the store still exceeds jobStoreMaxItems, removes
// terminal-or-oldest jobs. Non-terminal jobs are never removed by age.
// Must be called with s.mu held.
func (s *JobStore) pruneLocked() {
	now := s.now()
	for id, j := range s.jobs {
		if j.Status.IsTerminal() && j.FinishedAt != nil && now.Sub(*j.FinishedAt) > jobStoreMaxAge {
			delete(s.jobs, id)
		}
	}
	if len(s.jobs) <= jobStoreMaxItems {
		return
	}
	type entry struct {
		id       string
		terminal bool
		created  time.Time
	}
	entries := make([]entry, 0, len(s.jobs))
	for id, j := range s.jobs {
		entries = append(entries, entry{id: id, terminal: j.Status.IsTerminal(), created: j.CreatedAt})
	}
	sort.Slice(entries, func(i, k int) bool {
		if entries[i].terminal != entries[k].terminal {
			return entries[i].terminal // terminal first
		}
		return entries[i].created.Before(entries[k].created)
	})
	excess := len(s.jobs) - jobStoreMaxItems
	for i := 0; i < excess && i < len(entries); i++ {
		delete(s.jobs, entries[i].id)
	}
}
