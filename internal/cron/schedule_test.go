package cron

import (
	"testing"
	"time"

	"github.com/restflow/restflow/internal/models"
)

func TestParseScheduleRejectsEmptyExpr(t *testing.T) {
	if _, err := ParseSchedule(models.ScheduleTrigger{}); err == nil {
		t.Fatal("expected error for empty cron_expr")
	}
}

func TestParseScheduleRejectsBadTimezone(t *testing.T) {
	_, err := ParseSchedule(models.ScheduleTrigger{CronExpr: "* * * * *", Timezone: "Not/AZone"})
	if err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestParseScheduleRejectsBadExpr(t *testing.T) {
	_, err := ParseSchedule(models.ScheduleTrigger{CronExpr: "not a cron expr"})
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestScheduleNextEveryMinute(t *testing.T) {
	sched, err := ParseSchedule(models.ScheduleTrigger{CronExpr: "* * * * *"})
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	now := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)
	next := sched.Next(now)
	want := time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestScheduleNextHonorsTimezone(t *testing.T) {
	sched, err := ParseSchedule(models.ScheduleTrigger{CronExpr: "0 9 * * *", Timezone: "America/New_York"})
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	next := sched.Next(now)
	loc, _ := time.LoadLocation("America/New_York")
	if next.In(loc).Hour() != 9 {
		t.Errorf("expected 9am in America/New_York, got %v", next.In(loc))
	}
}
