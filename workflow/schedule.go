package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// TriggerType decides what starts a run of a published flow.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerPeriodic TriggerType = "periodic"
	TriggerCascade  TriggerType = "cascade"
)

// Schedule is how the server starts runs of a flow. CronSchedule uses the
// five-field "minute hour day-of-month month day-of-week" form.
type Schedule struct {
	Trigger              TriggerType `json:"trigger" yaml:"trigger"`
	CronSchedule         string      `json:"cron_schedule,omitempty" yaml:"cron_schedule,omitempty"`
	DisableManualTrigger bool        `json:"disable_manual_trigger,omitempty" yaml:"disable_manual_trigger,omitempty"`
	Paused               bool        `json:"paused,omitempty" yaml:"paused,omitempty"`
	SourceID             *uuid.UUID  `json:"source_id,omitempty" yaml:"source_id,omitempty"`
}

// RetentionPolicy bounds how many past runs the server keeps. Zero keeps all.
type RetentionPolicy struct {
	KOffLimit int `json:"k_latest_runs" yaml:"k_latest_runs"`
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks the trigger and, for periodic schedules, the cron string.
func (s *Schedule) Validate() error {
	switch s.Trigger {
	case TriggerManual:
		if s.DisableManualTrigger {
			return fmt.Errorf("a manual schedule cannot disable manual triggers")
		}
	case TriggerPeriodic:
		if _, err := cronParser.Parse(s.CronSchedule); err != nil {
			return fmt.Errorf("invalid cron schedule %q: %w", s.CronSchedule, err)
		}
	case TriggerCascade:
		if s.SourceID == nil {
			return fmt.Errorf("a cascade schedule requires a source flow")
		}
	default:
		return fmt.Errorf("unknown trigger type %q", s.Trigger)
	}
	return nil
}

// Next returns the first periodic run time after t.
func (s *Schedule) Next(t time.Time) (time.Time, error) {
	if s.Trigger != TriggerPeriodic {
		return time.Time{}, fmt.Errorf("schedule is not periodic")
	}
	sched, err := cronParser.Parse(s.CronSchedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron schedule %q: %w", s.CronSchedule, err)
	}
	return sched.Next(t), nil
}

// HourlySchedule runs once an hour at the given minute.
func HourlySchedule(minute int) *Schedule {
	return &Schedule{Trigger: TriggerPeriodic, CronSchedule: fmt.Sprintf("%d * * * *", minute)}
}

// DailySchedule runs once a day at hour:minute.
func DailySchedule(hour, minute int) *Schedule {
	return &Schedule{Trigger: TriggerPeriodic, CronSchedule: fmt.Sprintf("%d %d * * *", minute, hour)}
}

// WeeklySchedule runs once a week; weekday follows time.Weekday.
func WeeklySchedule(weekday time.Weekday, hour, minute int) *Schedule {
	return &Schedule{Trigger: TriggerPeriodic, CronSchedule: fmt.Sprintf("%d %d * * %d", minute, hour, int(weekday))}
}
