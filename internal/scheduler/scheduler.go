// Package scheduler runs the daily fragment broadcast on a fixed UTC clock.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Daily fires a job once a day at the configured UTC wall-clock time.
type Daily struct {
	cron *cron.Cron
	spec string
}

// CronSpec builds the standard 5-field cron expression for a daily run
// at hour:minute.
func CronSpec(hour, minute int) string {
	return fmt.Sprintf("%d %d * * *", minute, hour)
}

// NewDaily schedules job at hour:minute UTC every day. The job runs in a
// goroutine managed by the underlying cron runner; overlapping runs are not
// possible for a daily cadence in practice.
func NewDaily(hour, minute int, job func()) (*Daily, error) {
	spec := CronSpec(hour, minute)

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(spec, job); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	return &Daily{cron: c, spec: spec}, nil
}

// Spec returns the cron expression the scheduler was built with.
func (d *Daily) Spec() string {
	return d.spec
}

// Start begins the schedule in its own goroutine.
func (d *Daily) Start() {
	d.cron.Start()
}

// Stop halts the schedule and waits for any in-flight job to finish.
func (d *Daily) Stop() {
	ctx := d.cron.Stop()
	<-ctx.Done()
}
