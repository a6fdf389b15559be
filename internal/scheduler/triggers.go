package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/raphaelgruber/recast/internal/models"
)

// ErrInvalidSchedule is returned for schedule settings that cannot produce a trigger.
var ErrInvalidSchedule = errors.New("invalid schedule")

// ScheduleFor builds the recurring trigger of inst, evaluated in loc.
func ScheduleFor(inst *models.Instance, loc *time.Location) (cron.Schedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	switch inst.ScheduleKind {
	case models.ScheduleInterval:
		if inst.ScheduleIntervalMinutes < 1 {
			return nil, fmt.Errorf("%w: interval of %d minutes", ErrInvalidSchedule, inst.ScheduleIntervalMinutes)
		}
		return cron.Every(time.Duration(inst.ScheduleIntervalMinutes) * time.Minute), nil

	case models.ScheduleDaily:
		return clockSchedule(inst.ScheduleTime, "*", loc)

	case models.ScheduleTwiceDaily:
		first, err := clockSchedule(inst.ScheduleTime, "*", loc)
		if err != nil {
			return nil, err
		}
		second, err := clockSchedule(inst.ScheduleSecondTime, "*", loc)
		if err != nil {
			return nil, err
		}
		return earliest{first, second}, nil

	case models.ScheduleWeekly:
		if inst.ScheduleWeekday < 0 || inst.ScheduleWeekday > 6 {
			return nil, fmt.Errorf("%w: weekday %d", ErrInvalidSchedule, inst.ScheduleWeekday)
		}
		return clockSchedule(inst.ScheduleTime, strconv.Itoa(inst.ScheduleWeekday), loc)

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, inst.ScheduleKind)
	}
}

// clockSchedule parses an "HH:MM" time into a standard cron spec for weekday.
func clockSchedule(clock, weekday string, loc *time.Location) (cron.Schedule, error) {
	hour, minute, err := parseClock(clock)
	if err != nil {
		return nil, err
	}
	sched, err := cron.ParseStandard(fmt.Sprintf("%d %d * * %s", minute, hour, weekday))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok {
		spec.Location = loc
	}
	return sched, nil
}

func parseClock(clock string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(clock), ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: time %q is not HH:MM", ErrInvalidSchedule, clock)
	}
	hour, herr := strconv.Atoi(h)
	minute, merr := strconv.Atoi(m)
	if herr != nil || merr != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: time %q is not HH:MM", ErrInvalidSchedule, clock)
	}
	return hour, minute, nil
}

// earliest fires at whichever of its schedules comes first.
type earliest []cron.Schedule

func (e earliest) Next(t time.Time) time.Time {
	var next time.Time
	for _, s := range e {
		n := s.Next(t)
		if n.IsZero() {
			continue
		}
		if next.IsZero() || n.Before(next) {
			next = n
		}
	}
	return next
}

// Due reports whether inst's trigger has fired since its last run.
func Due(sched cron.Schedule, inst *models.Instance, now time.Time) bool {
	from := inst.CreatedAt
	if inst.LastRun != nil {
		from = *inst.LastRun
	}
	next := sched.Next(from)
	return !next.IsZero() && !next.After(now)
}
