package schedule

import (
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindCrontab  Kind = "crontab"
	KindInterval Kind = "interval"
)

type Unit string

const (
	UnitMinute Unit = "minute"
	UnitHour   Unit = "hour"
	UnitDay    Unit = "day"
	UnitWeek   Unit = "week"
	UnitMonth  Unit = "month"
	UnitYear   Unit = "year"
)

// Schedule is a tagged variant: a crontab expression or a fixed interval,
// both evaluated in an IANA timezone.
type Schedule struct {
	Kind     Kind
	Expr     string // crontab only
	Every    int32  // interval only
	Unit     Unit   // interval only
	Timezone string
}

func Crontab(expr string, timezone string) Schedule {
	return Schedule{Kind: KindCrontab, Expr: expr, Timezone: timezone}
}

func Interval(every int32, unit Unit, timezone string) Schedule {
	return Schedule{Kind: KindInterval, Every: every, Unit: unit, Timezone: timezone}
}

func (u Unit) valid() bool {
	switch u {
	case UnitMinute, UnitHour, UnitDay, UnitWeek, UnitMonth, UnitYear:
		return true
	}
	return false
}

// stride returns the fixed duration of one interval step. Month and year
// have no fixed duration; callers must use nth() for those.
func (s Schedule) stride() time.Duration {
	base := time.Duration(s.Every)
	switch s.Unit {
	case UnitMinute:
		return base * time.Minute
	case UnitHour:
		return base * time.Hour
	case UnitDay:
		return base * 24 * time.Hour
	case UnitWeek:
		return base * 7 * 24 * time.Hour
	}
	return 0
}

func (s Schedule) location() (*time.Location, error) {
	tz := s.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return loc, nil
}

var (
	ErrBadExpr     = errors.New("invalid crontab expression")
	ErrBadInterval = errors.New("invalid interval")
	ErrBadTimezone = errors.New("invalid timezone")
)
