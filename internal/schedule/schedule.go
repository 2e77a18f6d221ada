package schedule

import (
	"context"
	"log"
	"time"
)

// Daily fires a job once at every UTC midnight. The loop sleeps until the
// next boundary instead of polling, so an idle server does no periodic work.
type Daily struct {
	name string
	job  func(context.Context)
	now  func() time.Time
}

func NewDaily(name string, job func(context.Context)) *Daily {
	return &Daily{
		name: name,
		job:  job,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until ctx is cancelled. Callers start it in its own goroutine.
func (d *Daily) Run(ctx context.Context) {
	for {
		wait := time.Until(NextMidnight(d.now()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		log.Printf("[schedule] running job %s", d.name)
		d.job(ctx)
	}
}

// NextMidnight returns the first instant of the day after t, in UTC.
func NextMidnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
