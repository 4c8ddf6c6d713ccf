package checkin

import (
	"encoding/json"
	"fmt"
	"time"

	"cronguard/internals/modules/schedule"
)

type CreateCheckInRequest struct {
	Environment     string                `json:"environment" validate:"required,max=64"`
	Status          string                `json:"status" validate:"required,oneof=in_progress ok error"`
	CheckInID       string                `json:"check_in_id" validate:"required_if=Status in_progress,omitempty,uuid"`
	DurationSeconds *float64              `json:"duration_seconds" validate:"omitempty,gte=0"`
	MonitorConfig   *MonitorConfigRequest `json:"monitor_config"`
}

type MonitorConfigRequest struct {
	Schedule          ScheduleRequest `json:"schedule" validate:"required"`
	Timezone          string          `json:"timezone"`
	CheckinMargin     int32           `json:"checkin_margin" validate:"gte=0"`
	MaxRuntime        int32           `json:"max_runtime" validate:"gte=0"`
	FailureThreshold  int32           `json:"failure_issue_threshold" validate:"gte=0"`
	RecoveryThreshold int32           `json:"recovery_threshold" validate:"gte=0"`
}

type ScheduleRequest struct {
	Type  string          `json:"type" validate:"required,oneof=crontab interval"`
	Value json.RawMessage `json:"value" validate:"required"`
	Unit  string          `json:"unit" validate:"omitempty,oneof=minute hour day week month year"`
}

// ToSchedule converts the wire shape to the schedule sum type: a crontab
// value is a string expression, an interval value is a count paired with
// the unit field.
func (r ScheduleRequest) ToSchedule(timezone string) (schedule.Schedule, error) {
	if timezone == "" {
		timezone = "UTC"
	}

	switch schedule.Kind(r.Type) {
	case schedule.KindCrontab:
		var expr string
		if err := json.Unmarshal(r.Value, &expr); err != nil {
			return schedule.Schedule{}, fmt.Errorf("crontab value must be a string: %w", err)
		}
		return schedule.Crontab(expr, timezone), nil

	case schedule.KindInterval:
		var every int32
		if err := json.Unmarshal(r.Value, &every); err != nil {
			return schedule.Schedule{}, fmt.Errorf("interval value must be a number: %w", err)
		}
		return schedule.Interval(every, schedule.Unit(r.Unit), timezone), nil
	}

	return schedule.Schedule{}, fmt.Errorf("unknown schedule type %q", r.Type)
}

type CreateCheckInResponse struct {
	CheckInID string `json:"check_in_id"`
}

type CheckInItem struct {
	CheckInID       string     `json:"check_in_id,omitempty"`
	Status          string     `json:"status"`
	Timestamp       time.Time  `json:"timestamp"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
}

type ListCheckInsResponse struct {
	MonitorSlug string        `json:"monitor_slug"`
	Environment string        `json:"environment"`
	CheckIns    []CheckInItem `json:"checkins"`
}
