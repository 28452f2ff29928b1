// Package scheduler provides cron-based scheduling for the SMS gateway's
// periodic maintenance tasks, such as the hourly rate-limiter cache sweep.
package scheduler

import (
	"github.com/robfig/cron/v3"
)

// HourlyExpr runs a job at the top of every hour.
const HourlyExpr = "0 * * * *"

// Scheduler wraps a cron runner for the gateway's background maintenance.
type Scheduler struct {
	cron *cron.Cron
}

// New creates and starts a cron scheduler using the standard 5-field parser,
// with panic recovery on every job.
func New() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddHourly schedules a task at the top of every hour.
func (s *Scheduler) AddHourly(task func()) error {
	return s.AddJob(HourlyExpr, task)
}

// Stop stops the scheduler and waits for any running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
