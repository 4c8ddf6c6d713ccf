package monitor

import "time"

type ScheduleResponse struct {
	Type     string `json:"type"`
	Value    any    `json:"value"`
	Unit     string `json:"unit,omitempty"`
	Timezone string `json:"timezone"`
}

type GetMonitorResponse struct {
	Slug                 string           `json:"slug"`
	Environment          string           `json:"environment"`
	Schedule             ScheduleResponse `json:"schedule"`
	CheckinMargin        int32            `json:"checkin_margin"`
	MaxRuntime           int32            `json:"max_runtime"`
	FailureThreshold     int32            `json:"failure_issue_threshold"`
	RecoveryThreshold    int32            `json:"recovery_threshold"`
	Status               string           `json:"status"`
	ConsecutiveFailures  int32            `json:"consecutive_failures"`
	ConsecutiveSuccesses int32            `json:"consecutive_successes"`
	LastExpectedAt       *time.Time       `json:"last_expected_at,omitempty"`
	LastRunID            string           `json:"last_run_id,omitempty"`
}

type ListMonitorsResponse struct {
	Monitors   []GetMonitorResponse `json:"monitors"`
	NextCursor string               `json:"next_cursor,omitempty"`
}
