package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions and descriptors such as
// "@daily" or "@every 1h".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCronExpr parses expr in the named IANA zone. An empty tz means local
// time.
func ParseCronExpr(expr, tz string) (cron.Schedule, error) {
	loc := time.Local
	if tz != "" {
		var err error
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}
	sched, err := cronParser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok {
		spec.Location = loc
	}
	return sched, nil
}

// Validate reports whether a schedule can ever produce a run.
func (s Schedule) Validate() error {
	switch s.Kind {
	case KindAt:
		if s.AtMs <= 0 {
			return errors.New("at schedule needs atMs")
		}
	case KindEvery:
		if s.EveryMs <= 0 {
			return errors.New("every schedule needs a positive everyMs")
		}
	case KindCron:
		if _, err := ParseCronExpr(s.Expr, s.TZ); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}

// NextRun computes the next run in epoch milliseconds after nowMs, or nil
// when there is none.
func NextRun(s Schedule, nowMs int64) *int64 {
	var next int64
	switch s.Kind {
	case KindAt:
		if s.AtMs <= nowMs {
			return nil
		}
		next = s.AtMs
	case KindEvery:
		if s.EveryMs <= 0 {
			return nil
		}
		next = nowMs + s.EveryMs
	case KindCron:
		sched, err := ParseCronExpr(s.Expr, s.TZ)
		if err != nil {
			return nil
		}
		t := sched.Next(time.UnixMilli(nowMs))
		if t.IsZero() {
			return nil
		}
		next = t.UnixMilli()
	default:
		return nil
	}
	return &next
}

// Describe renders a schedule for humans.
func (s Schedule) Describe() string {
	switch s.Kind {
	case KindAt:
		return "at " + time.UnixMilli(s.AtMs).Format(time.RFC3339)
	case KindEvery:
		return "every " + (time.Duration(s.EveryMs) * time.Millisecond).String()
	case KindCron:
		if s.TZ != "" {
			return s.Expr + " (" + s.TZ + ")"
		}
		return s.Expr
	}
	return string(s.Kind)
}
