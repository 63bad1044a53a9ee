package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/restflow/restflow/internal/models"
)

// cronParser accepts the 6-field form (seconds optional) the teacher's
// loader also used, plus the named descriptors ("@hourly", "@every 5m").
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Schedule wraps a parsed models.ScheduleTrigger so Next can be computed
// repeatedly without re-parsing the cron expression each tick.
type Schedule struct {
	expr     cron.Schedule
	timezone string
}

// ParseSchedule validates and compiles a trigger's cron expression.
func ParseSchedule(t models.ScheduleTrigger) (Schedule, error) {
	if t.CronExpr == "" {
		return Schedule{}, fmt.Errorf("cron: schedule has no cron_expr")
	}
	if t.Timezone != "" {
		if _, err := time.LoadLocation(t.Timezone); err != nil {
			return Schedule{}, fmt.Errorf("cron: invalid timezone %q: %w", t.Timezone, err)
		}
	}
	expr, err := cronParser.Parse(t.CronExpr)
	if err != nil {
		return Schedule{}, fmt.Errorf("cron: invalid expression %q: %w", t.CronExpr, err)
	}
	return Schedule{expr: expr, timezone: t.Timezone}, nil
}

// Next returns the first fire time strictly after now.
func (s Schedule) Next(now time.Time) time.Time {
	loc := now.Location()
	if s.timezone != "" {
		if tz, err := time.LoadLocation(s.timezone); err == nil {
			loc = tz
		}
	}
	return s.expr.Next(now.In(loc))
}
