package scheduler

import (
	"github.com/robfig/cron/v3"
	gferrors "github.com/vnykmshr/gateflow/pkg/common/errors"
)

// cronParser accepts five-field expressions, six-field expressions with a
// leading seconds field, and descriptors such as "@every 5s" or "@hourly".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a cron expression in the dialect ScheduleCron accepts.
//
// Examples:
//
//	"*/5 * * * * *"  every 5 seconds
//	"0 */2 * * *"    every 2 hours
//	"@every 1m"      every minute
func ParseCron(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, gferrors.NewValidationError("scheduler", "cron", expr, "cannot be empty")
	}

	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, gferrors.NewValidationError("scheduler", "cron", expr, err.Error())
	}
	return schedule, nil
}
