package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule computes the next run time after a run that started at the given instant.
type Schedule interface {
	Next(from time.Time) time.Time
}

type fixedInterval struct {
	interval time.Duration
}

func (f fixedInterval) Next(from time.Time) time.Time { return from.Add(f.interval) }

func (f fixedInterval) String() string { return "every " + f.interval.String() }

// Every returns a fixed-interval schedule. Non-positive intervals are clamped to one second.
func Every(interval time.Duration) Schedule {
	if interval <= 0 {
		interval = time.Second
	}
	return fixedInterval{interval: interval}
}

type cronSchedule struct {
	expr  string
	inner cron.Schedule
}

func (c cronSchedule) Next(from time.Time) time.Time { return c.inner.Next(from) }

func (c cronSchedule) String() string { return c.expr }

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Cron parses a cron expression. Both the five-field form and the six-field form with a
// leading seconds field are accepted, as are descriptors such as "@hourly".
func Cron(expr string) (Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("cron expression required")
	}
	inner, err := cronParser.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", trimmed, err)
	}
	return cronSchedule{expr: trimmed, inner: inner}, nil
}

// MustCron is Cron for expressions known at compile time.
func MustCron(expr string) Schedule {
	s, err := Cron(expr)
	if err != nil {
		panic(err)
	}
	return s
}

func describe(s Schedule) string {
	if str, ok := s.(fmt.Stringer); ok {
		return str.String()
	}
	return fmt.Sprintf("%T", s)
}
