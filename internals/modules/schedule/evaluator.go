package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Evaluator computes expected run times from a Schedule. It is pure and
// deterministic, so the ingestor and the sweeper always agree on the same
// expected timeline for a monitor.
type Evaluator struct {
	parser cron.Parser
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

func (e *Evaluator) Validate(s Schedule) error {
	if _, err := s.location(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadTimezone, err)
	}

	switch s.Kind {
	case KindCrontab:
		if _, err := e.parser.Parse(s.Expr); err != nil {
			return fmt.Errorf("%w: %v", ErrBadExpr, err)
		}
		return nil
	case KindInterval:
		if s.Every < 1 {
			return fmt.Errorf("%w: every must be >= 1", ErrBadInterval)
		}
		if !s.Unit.valid() {
			return fmt.Errorf("%w: unknown unit %q", ErrBadInterval, s.Unit)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown schedule kind %q", ErrBadInterval, s.Kind)
	}
}

// Next returns the first expected occurrence strictly after `after`.
// Interval schedules are anchored at the monitor's creation time: the Nth
// occurrence is anchor + N*interval, never last_run + interval, so delayed
// check-ins cannot introduce drift.
func (e *Evaluator) Next(s Schedule, anchor, after time.Time) (time.Time, error) {
	loc, err := s.location()
	if err != nil {
		return time.Time{}, err
	}

	switch s.Kind {
	case KindCrontab:
		sched, err := e.parser.Parse(s.Expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrBadExpr, err)
		}
		return sched.Next(after.In(loc)), nil

	case KindInterval:
		anchor = anchor.In(loc)
		if after.Before(anchor) {
			return anchor, nil
		}
		n := intervalIndexAtOrBefore(s, anchor, after)
		return intervalNth(s, anchor, n+1), nil
	}

	return time.Time{}, fmt.Errorf("unknown schedule kind %q", s.Kind)
}

// Prev returns the latest expected occurrence at or before `before`, or the
// zero time if none exists (interval schedules generate nothing before their
// anchor).
func (e *Evaluator) Prev(s Schedule, anchor, before time.Time) (time.Time, error) {
	loc, err := s.location()
	if err != nil {
		return time.Time{}, err
	}

	switch s.Kind {
	case KindCrontab:
		sched, err := e.parser.Parse(s.Expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrBadExpr, err)
		}
		return cronPrev(sched, before.In(loc)), nil

	case KindInterval:
		anchor = anchor.In(loc)
		if before.Before(anchor) {
			return time.Time{}, nil
		}
		n := intervalIndexAtOrBefore(s, anchor, before)
		return intervalNth(s, anchor, n), nil
	}

	return time.Time{}, fmt.Errorf("unknown schedule kind %q", s.Kind)
}

// Nearest returns the expected occurrence closest to `at`. An in_progress
// check-in is correlated to this occurrence.
func (e *Evaluator) Nearest(s Schedule, anchor, at time.Time) (time.Time, error) {
	prev, err := e.Prev(s, anchor, at)
	if err != nil {
		return time.Time{}, err
	}
	next, err := e.Next(s, anchor, at)
	if err != nil {
		return time.Time{}, err
	}

	if prev.IsZero() {
		return next, nil
	}
	if next.IsZero() {
		return prev, nil
	}
	if at.Sub(prev) <= next.Sub(at) {
		return prev, nil
	}
	return next, nil
}

// cronPrev walks the schedule backwards by probing from progressively larger
// lookback windows. The cron library only exposes Next; a yearly expression
// is the worst case, so the final window spans just over a year.
func cronPrev(sched cron.Schedule, before time.Time) time.Time {
	lookbacks := []time.Duration{
		2 * time.Hour,
		26 * time.Hour,
		8 * 24 * time.Hour,
		35 * 24 * time.Hour,
		367 * 24 * time.Hour,
	}

	for _, lb := range lookbacks {
		t := sched.Next(before.Add(-lb))
		if t.IsZero() || t.After(before) {
			continue
		}
		for {
			n := sched.Next(t)
			if n.IsZero() || n.After(before) {
				return t
			}
			t = n
		}
	}
	return time.Time{}
}

// intervalNth computes anchor + n*interval. Month and year steps go through
// the calendar so "every 1 month" lands on the same day-of-month, not on a
// fixed duration.
func intervalNth(s Schedule, anchor time.Time, n int) time.Time {
	if n < 0 {
		n = 0
	}
	switch s.Unit {
	case UnitMonth:
		return anchor.AddDate(0, n*int(s.Every), 0)
	case UnitYear:
		return anchor.AddDate(n*int(s.Every), 0, 0)
	default:
		return anchor.Add(time.Duration(n) * s.stride())
	}
}

// intervalIndexAtOrBefore returns the largest n with nth(n) <= at.
// Requires at >= anchor.
func intervalIndexAtOrBefore(s Schedule, anchor, at time.Time) int {
	switch s.Unit {
	case UnitMonth, UnitYear:
		// estimate from the calendar distance, then correct
		months := (at.Year()-anchor.Year())*12 + int(at.Month()) - int(anchor.Month())
		step := int(s.Every)
		if s.Unit == UnitYear {
			step *= 12
		}
		n := months / step
		for n > 0 && intervalNth(s, anchor, n).After(at) {
			n--
		}
		for !intervalNth(s, anchor, n+1).After(at) {
			n++
		}
		return n
	default:
		return int(at.Sub(anchor) / s.stride())
	}
}

type WindowState string

const (
	WindowOnTime WindowState = "on_time"
	WindowLate   WindowState = "late"
	WindowMissed WindowState = "missed"
)

// Window classifies `now` against an expected occurrence and its margin.
// A run that has not started by expected+margin is missed.
func Window(expected time.Time, margin time.Duration, now time.Time) WindowState {
	if !now.After(expected) {
		return WindowOnTime
	}
	if !now.After(expected.Add(margin)) {
		return WindowLate
	}
	return WindowMissed
}
