package factory

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// timerSchedule computes the next fire time for a timer node from a
// standard five-field cron expression, optionally firing immediately on
// its first execution.
type timerSchedule struct {
	cronExpr       cron.Schedule
	triggerOnStart bool
	lastFire       time.Time
	fired          bool
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func newTimerSchedule(config map[string]any) (*timerSchedule, error) {
	raw, ok := config["schedule"].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("timer node requires a schedule configuration")
	}
	sched, err := cronParser.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", raw, err)
	}

	triggerOnStart, _ := config["triggerOnStart"].(bool)

	return &timerSchedule{cronExpr: sched, triggerOnStart: triggerOnStart}, nil
}

// wait returns a channel that fires once at the schedule's next due time.
// If triggerOnStart is set and the schedule has never fired before, it
// fires immediately instead of waiting for the next cron occurrence.
func (s *timerSchedule) wait() <-chan time.Time {
	ch := make(chan time.Time, 1)

	if s.triggerOnStart && !s.fired {
		now := time.Now()
		s.fired = true
		s.lastFire = now
		ch <- now
		return ch
	}

	base := s.lastFire
	if base.IsZero() {
		base = time.Now()
	}
	due := s.cronExpr.Next(base)

	go func() {
		timer := time.NewTimer(time.Until(due))
		fired := <-timer.C
		s.fired = true
		s.lastFire = fired
		ch <- fired
	}()
	return ch
}
