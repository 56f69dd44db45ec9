// Package retention archives idle sessions and purges old ones.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Store is the persistence retention runs against.
type Store interface {
	ArchiveIdleSessions(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeArchivedSessions(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeEmptySessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// Policy says how long sessions live. A zero duration disables that step.
type Policy struct {
	ArchiveIdleAfter   time.Duration
	PurgeArchivedAfter time.Duration
	PurgeEmptyAfter    time.Duration
}

// Result counts the sessions each step touched.
type Result struct {
	Archived int64
	Purged   int64
	Emptied  int64
}

// Run applies the policy once: archive idle sessions, then delete archived
// sessions past their window, then sessions that never got a message.
func (p Policy) Run(ctx context.Context, st Store, now time.Time) (Result, error) {
	var res Result
	var err error
	if p.ArchiveIdleAfter > 0 {
		if res.Archived, err = st.ArchiveIdleSessions(ctx, now.Add(-p.ArchiveIdleAfter)); err != nil {
			return res, fmt.Errorf("retention: archive idle sessions: %w", err)
		}
	}
	if p.PurgeArchivedAfter > 0 {
		if res.Purged, err = st.PurgeArchivedSessions(ctx, now.Add(-p.PurgeArchivedAfter)); err != nil {
			return res, fmt.Errorf("retention: purge archived sessions: %w", err)
		}
	}
	if p.PurgeEmptyAfter > 0 {
		if res.Emptied, err = st.PurgeEmptySessions(ctx, now.Add(-p.PurgeEmptyAfter)); err != nil {
			return res, fmt.Errorf("retention: purge empty sessions: %w", err)
		}
	}
	return res, nil
}

// Job binds a policy to a store for scheduled runs.
type Job struct {
	Policy Policy
	Store  Store
	Logger *slog.Logger
	Now    func() time.Time
}

// RunOnce applies the policy at the current time and logs the outcome.
func (j *Job) RunOnce(ctx context.Context) (Result, error) {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	log := j.Logger
	if log == nil {
		log = slog.Default()
	}
	res, err := j.Policy.Run(ctx, j.Store, now())
	if err != nil {
		log.Error("retention: run failed", "error", err)
		return res, err
	}
	log.Info("retention: run complete",
		"archived", res.Archived, "purged", res.Purged, "emptied", res.Emptied)
	return res, nil
}
