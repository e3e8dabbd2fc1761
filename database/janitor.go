package database

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Janitor runs StaleSnapshotLister on a cron schedule and logs what it
// finds, surfacing persisted-but-stale snapshots across every
// provider/scope at once, not just the one a given core.Core owns. It only
// logs: it triggers no refresh, and the warmup loop does not use it.
type Janitor struct {
	lister *StaleSnapshotLister
	maxAge time.Duration
	sched  *cron.Cron
}

// NewJanitor constructs a Janitor reporting snapshots older than maxAge.
func NewJanitor(lister *StaleSnapshotLister, maxAge time.Duration) *Janitor {
	return &Janitor{
		lister: lister,
		maxAge: maxAge,
		sched:  cron.New(),
	}
}

// Start schedules the sweep at the given cron spec (e.g. "0 */1 * * *" for
// hourly) and begins running it in the background.
func (j *Janitor) Start(spec string) error {
	_, err := j.sched.AddFunc(spec, j.sweep)
	if err != nil {
		return err
	}
	j.sched.Start()
	return nil
}

// Stop halts the schedule, waiting for any in-flight sweep to finish.
func (j *Janitor) Stop() {
	<-j.sched.Stop().Done()
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := j.lister.ListOlderThan(ctx, time.Now().Add(-j.maxAge))
	if err != nil {
		log.WithError(err).Warn("janitor: stale snapshot sweep failed")
		return
	}
	if len(rows) == 0 {
		return
	}

	log.WithField("count", len(rows)).Warn("janitor: snapshots exceeded max age")
	for _, row := range rows {
		log.WithFields(log.Fields{
			"provider":     row.Provider,
			"scope":        row.Scope,
			"hosts_key":    row.HostsKey,
			"level":        row.Level,
			"generated_at": row.GeneratedAt,
		}).Warn("janitor: stale snapshot")
	}
}
