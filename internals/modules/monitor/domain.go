package monitor

import (
	"errors"
	"time"

	"cronguard/internals/modules/schedule"

	"github.com/google/uuid"
)

type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

type Outcome string

const (
	OutcomeOk      Outcome = "ok"
	OutcomeError   Outcome = "error"
	OutcomeMissed  Outcome = "missed"
	OutcomeTimeout Outcome = "timeout"
)

// Failure reports whether the outcome counts against the failure threshold.
func (o Outcome) Failure() bool {
	return o != OutcomeOk
}

// Monitor is one tracked scheduled job, unique per (slug, environment).
// CreatedAt doubles as the anchor for interval schedules. Version guards
// every counter/status write (compare-and-swap).
type Monitor struct {
	ID                   uuid.UUID
	Slug                 string
	Environment          string
	Schedule             schedule.Schedule
	CheckinMarginMin     int32 // grace period after expected_at, minutes
	MaxRuntimeMin        int32 // 0 = unbounded, run never times out
	FailureThreshold     int32
	RecoveryThreshold    int32
	Status               Status
	ConsecutiveFailures  int32
	ConsecutiveSuccesses int32
	LastExpectedAt       time.Time
	LastRunID            uuid.UUID
	Version              int64
	CreatedAt            time.Time
}

func (m Monitor) Margin() time.Duration {
	return time.Duration(m.CheckinMarginMin) * time.Minute
}

func (m Monitor) MaxRuntime() time.Duration {
	return time.Duration(m.MaxRuntimeMin) * time.Minute
}

// Key is the rate-limit window key.
func (m Monitor) Key() string {
	return m.Slug + ":" + m.Environment
}

// Run is one scheduled occurrence. Margin and max runtime are snapshotted at
// creation, so a config change never retargets a run already in flight.
type Run struct {
	ID               uuid.UUID
	MonitorID        uuid.UUID
	ExpectedAt       time.Time
	StartedAt        *time.Time
	FinishedAt       *time.Time
	TerminalStatus   Outcome // empty until terminal
	CheckinMarginMin int32
	MaxRuntimeMin    int32
	CreatedAt        time.Time
}

func (r Run) Terminal() bool {
	return r.TerminalStatus != ""
}

func (r Run) Open() bool {
	return r.StartedAt != nil && !r.Terminal()
}

type UpsertCmd struct {
	Slug              string
	Environment       string
	Schedule          schedule.Schedule
	CheckinMarginMin  int32
	MaxRuntimeMin     int32
	FailureThreshold  int32
	RecoveryThreshold int32
}

// ErrVersionConflict is returned by UpdateCAS when the expected version lost
// the write race. Callers re-read and retry.
var ErrVersionConflict = errors.New("monitor version conflict")
