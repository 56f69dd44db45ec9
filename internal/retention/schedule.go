package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler runs a Job on a cron schedule.
type Scheduler struct {
	job   *Job
	sched cron.Schedule
	now   func() time.Time
}

// NewScheduler parses expr and returns a Scheduler for job.
func NewScheduler(expr string, job *Job) (*Scheduler, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("retention: parse schedule %q: %w", expr, err)
	}
	return &Scheduler{job: job, sched: sched, now: time.Now}, nil
}

// Next returns the first fire time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.sched.Next(t)
}

// Run fires the job at every scheduled time until ctx is cancelled. Run
// failures are logged by the job and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(s.until())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.job.RunOnce(ctx)
			timer.Reset(s.until())
		}
	}
}

func (s *Scheduler) until() time.Duration {
	now := s.now()
	d := s.sched.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
