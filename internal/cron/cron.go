// Package cron runs background jobs on cron schedules. The context
// optimizer is the job roundtable registers.
package cron

import (
	"context"

	"github.com/robfig/cron/v3"
)

// Parser reads job schedules: five fields or an @descriptor such as
// @hourly. It accepts exactly what cron.ParseStandard accepts.
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is a task run on a schedule.
type Job interface {
	// Name identifies the job in logs. It must be unique per scheduler.
	Name() string
	// Schedule is an expression understood by Parser.
	Schedule() string
	// Run performs one pass. ctx is cancelled when the scheduler stops.
	Run(ctx context.Context) error
}
