// Package core implements the snapshot/job orchestration engine: the
// per-(provider, scope) fleet of background workers that fan out over
// upstream hosts, invoke inventory adapters, and publish coherent
// snapshot payloads into a shared in-memory store.
package core

import (
	"strings"
	"time"
)

// Scope is the inventory dimension a ScopeKey addresses.
type Scope int

const (
	ScopeVMS Scope = iota
	ScopeHosts
)

func (s Scope) String() string {
	switch s {
	case ScopeVMS:
		return "vms"
	case ScopeHosts:
		return "hosts"
	default:
		return "unknown"
	}
}

// Level controls how expensive the underlying adapter call is.
type Level int

const (
	LevelSummary Level = iota
	LevelDetail
)

func (l Level) String() string {
	switch l {
	case LevelSummary:
		return "summary"
	case LevelDetail:
		return "detail"
	default:
		return "unknown"
	}
}

// ScopeKey is the immutable identity of an inventory slice. Two keys are
// equal iff Scope, Level and the (already canonicalized) Hosts slice match
// element-wise.
type ScopeKey struct {
	Scope Scope
	Hosts []string
	Level Level
}

// NewScopeKey canonicalizes hosts (lowercase, de-duplicated, order
// preserved) and returns the resulting key.
func NewScopeKey(scope Scope, hosts []string, level Level) ScopeKey {
	return ScopeKey{Scope: scope, Hosts: canonicalizeHosts(hosts), Level: level}
}

func canonicalizeHosts(hosts []string) []string {
	seen := make(map[string]struct{}, len(hosts))
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		lh := strings.ToLower(strings.TrimSpace(h))
		if lh == "" {
			continue
		}
		if _, ok := seen[lh]; ok {
			continue
		}
		seen[lh] = struct{}{}
		out = append(out, lh)
	}
	return out
}

// HostsKey is the canonical string used as the persistence-bridge key
// component; it is the comma-joined, already-canonical host list.
func (k ScopeKey) HostsKey() string {
	return strings.Join(k.Hosts, ",")
}

// String renders a stable identity string, used as the JobStore/SnapshotStore
// map key.
func (k ScopeKey) String() string {
	return k.Scope.String() + "|" + k.Level.String() + "|" + k.HostsKey()
}

// JobState is the lifecycle state of a Job.
type JobState int

const (
	JobPending JobState = iota
	JobRunning
	JobSucceeded
	JobFailed
	JobExpired
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobRunning:
		return "running"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	case JobExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether a job in this state will never transition again.
func (s JobState) IsTerminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobExpired
}

// IsActive reports whether a job in this state counts against the
// single-active-job-per-scope invariant.
func (s JobState) IsActive() bool {
	return s == JobPending || s == JobRunning
}

// HostState is the per-host terminal classification reached during one job.
type HostState int

const (
	HostPending HostState = iota
	HostRunning
	HostOK
	HostError
	HostTimeout
	HostSkippedCooldown
	HostStale
)

func (s HostState) String() string {
	switch s {
	case HostPending:
		return "pending"
	case HostRunning:
		return "running"
	case HostOK:
		return "ok"
	case HostError:
		return "error"
	case HostTimeout:
		return "timeout"
	case HostSkippedCooldown:
		return "skipped_cooldown"
	case HostStale:
		return "stale"
	default:
		return "unknown"
	}
}

// HostJobStatus is the per-host progress record carried on a Job.
type HostJobStatus struct {
	State          HostState
	Attempt        int
	LastStartedAt  *time.Time
	LastFinishedAt *time.Time
	LastError      string
	CooldownUntil  *time.Time
}

func (h HostJobStatus) clone() HostJobStatus {
	out := h
	out.LastStartedAt = clonePtrTime(h.LastStartedAt)
	out.LastFinishedAt = clonePtrTime(h.LastFinishedAt)
	out.CooldownUntil = clonePtrTime(h.CooldownUntil)
	return out
}

func clonePtrTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Progress is always derivable from HostsStatus; the store recomputes it on
// every read.
type Progress struct {
	TotalHosts int
	Pending    int
	Done       int
	Error      int
	Skipped    int
}

// Job is a single orchestration run over a ScopeKey's host set.
type Job struct {
	JobID          string
	ScopeKey       ScopeKey
	Status         JobState
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	LastHeartbeat  time.Time
	Message        string
	CooldownUntil  *time.Time
	HostsStatus    map[string]HostJobStatus
	Progress       Progress
}

// Clone returns a deep copy safe for callers to mutate.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.StartedAt = clonePtrTime(j.StartedAt)
	out.FinishedAt = clonePtrTime(j.FinishedAt)
	out.CooldownUntil = clonePtrTime(j.CooldownUntil)
	out.HostsStatus = make(map[string]HostJobStatus, len(j.HostsStatus))
	for host, st := range j.HostsStatus {
		out.HostsStatus[host] = st.clone()
	}
	return &out
}

// recomputeProgress derives Progress from HostsStatus. Called under the
// JobStore's lock before any copy is handed back to a caller.
func (j *Job) recomputeProgress() {
	p := Progress{TotalHosts: len(j.HostsStatus)}
	for _, st := range j.HostsStatus {
		switch st.State {
		case HostPending, HostRunning:
			p.Pending++
		case HostOK:
			p.Done++
		case HostError, HostTimeout:
			p.Error++
		case HostSkippedCooldown, HostStale:
			p.Skipped++
		}
	}
	j.Progress = p
}

// HostHealthRecord tracks a host's consecutive-failure streak and cooldown
// window, process-wide (shared across every (provider, scope) core that
// targets the host).
type HostHealthRecord struct {
	ConsecutiveFailures int
	LastSuccessAt       *time.Time
	LastErrorAt         *time.Time
	LastErrorType       ErrorKind
	LastErrorMessage    string
	CooldownUntil       *time.Time
}

func (h HostHealthRecord) clone() HostHealthRecord {
	out := h
	out.LastSuccessAt = clonePtrTime(h.LastSuccessAt)
	out.LastErrorAt = clonePtrTime(h.LastErrorAt)
	out.CooldownUntil = clonePtrTime(h.CooldownUntil)
	return out
}

// SnapshotSource tags where a returned SnapshotPayload was served from.
type SnapshotSource int

const (
	SourceMemory SnapshotSource = iota
	SourceDB
)

func (s SnapshotSource) String() string {
	if s == SourceDB {
		return "db"
	}
	return "memory"
}

// SnapshotHostStatus is the per-host entry in a SnapshotPayload.
type SnapshotHostStatus struct {
	State            HostState
	LastSuccessAt    *time.Time
	LastErrorAt      *time.Time
	CooldownUntil    *time.Time
	LastJobID        string
	LastErrorType    ErrorKind
	LastErrorMessage string
}

func (s SnapshotHostStatus) clone() SnapshotHostStatus {
	out := s
	out.LastSuccessAt = clonePtrTime(s.LastSuccessAt)
	out.LastErrorAt = clonePtrTime(s.LastErrorAt)
	out.CooldownUntil = clonePtrTime(s.CooldownUntil)
	return out
}

// VMRecord is a normalized VM inventory row. Fields beyond the identifying
// ones are intentionally loose (Extra) since each provider surfaces a
// different attribute set; the Adapter is responsible for normalizing the
// ones callers rely on.
type VMRecord struct {
	ID     string
	Name   string
	Host   string
	Power  string
	Extra  map[string]any
}

// HostRecord is a normalized host-summary inventory row (scope=HOSTS).
type HostRecord struct {
	Host    string
	Name    string
	Status  string
	Extra   map[string]any
}

// SnapshotData is the scope-dependent payload container. Exactly one of
// VMData (scope=VMS, map keyed by host) or HostData (scope=HOSTS, list
// matched by host identifier) is populated, matching spec.md's Open
// Question #1 resolution (per-provider, fixed per scope).
type SnapshotData struct {
	VMData   map[string][]VMRecord
	HostData []HostRecord
}

// upsertHost mutates the payload in place for one host; nil data preserves
// whatever was previously stored (the cooldown/STALE carry-over path). For
// HOSTS scope, a nil record with no prior entry stores a bare {Host}
// placeholder.
func (d *SnapshotData) upsertHost(scope Scope, host string, vms []VMRecord, hostRec *HostRecord) {
	switch scope {
	case ScopeVMS:
		if d.VMData == nil {
			d.VMData = make(map[string][]VMRecord)
		}
		if vms != nil {
			d.VMData[host] = vms
		} else if _, ok := d.VMData[host]; !ok {
			d.VMData[host] = nil
		}
	case ScopeHosts:
		if hostRec == nil {
			for i := range d.HostData {
				if d.HostData[i].Host == host {
					return
				}
			}
			d.HostData = append(d.HostData, HostRecord{Host: host})
			return
		}
		for i := range d.HostData {
			if d.HostData[i].Host == host {
				d.HostData[i] = *hostRec
				return
			}
		}
		d.HostData = append(d.HostData, *hostRec)
	}
}

// hasData reports whether the payload has ever held a successful record for
// at least one host, the signal the finalization rules use to distinguish
// FAILED from SUCCEEDED(partial).
func (d *SnapshotData) hasData() bool {
	if d == nil {
		return false
	}
	for _, v := range d.VMData {
		if v != nil {
			return true
		}
	}
	for _, h := range d.HostData {
		// A bare {Host} entry is the STALE placeholder, not collected data.
		if h.Name != "" || h.Status != "" || len(h.Extra) > 0 {
			return true
		}
	}
	return false
}

func (d SnapshotData) clone() SnapshotData {
	out := SnapshotData{}
	if d.VMData != nil {
		out.VMData = make(map[string][]VMRecord, len(d.VMData))
		for h, v := range d.VMData {
			cp := make([]VMRecord, len(v))
			copy(cp, v)
			out.VMData[h] = cp
		}
	}
	if d.HostData != nil {
		out.HostData = make([]HostRecord, len(d.HostData))
		copy(out.HostData, d.HostData)
	}
	return out
}

// SnapshotPayload is the authoritative cached inventory slice for one
// ScopeKey.
type SnapshotPayload struct {
	ScopeKey    ScopeKey
	GeneratedAt time.Time
	TotalHosts  int
	HostsStatus map[string]SnapshotHostStatus
	Data        SnapshotData
	Summary     string
	Stale       bool
	StaleReason string
	Source      SnapshotSource
}

// Clone returns a deep copy safe for callers to mutate.
func (p *SnapshotPayload) Clone() *SnapshotPayload {
	if p == nil {
		return nil
	}
	out := *p
	out.Data = p.Data.clone()
	out.HostsStatus = make(map[string]SnapshotHostStatus, len(p.HostsStatus))
	for h, st := range p.HostsStatus {
		out.HostsStatus[h] = st.clone()
	}
	return &out
}
