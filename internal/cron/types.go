// Package cron fires scheduled tasks into the queue (SPEC_FULL §4.11): a
// 6-field cron expression with timezone, evaluated against a ticking clock,
// pushing a models.Task into internal/queue when due. Grounded on the
// teacher's internal/cron package (schedule parsing via robfig/cron/v3,
// an Option-configured Scheduler, an ExecutionStore for run history),
// retargeted from the teacher's message/agent/webhook job kinds onto this
// system's single Task model.
package cron

import "time"

// ErrorKind buckets why a trigger fire failed, for ExecutionStore entries
// and scheduler logging.
type ErrorKind string

const (
	ErrorKindSchedule ErrorKind = "schedule"
	ErrorKindEnqueue  ErrorKind = "enqueue"
)

// firing is an internal record of one trigger that came due during a tick.
type firing struct {
	triggerID string
	taskID    string
	at        time.Time
}
