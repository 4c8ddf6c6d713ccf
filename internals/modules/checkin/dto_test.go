package checkin_test

import (
	"encoding/json"
	"testing"

	"cronguard/internals/modules/checkin"
	"cronguard/internals/modules/schedule"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleRequest_ToSchedule(t *testing.T) {
	tests := []struct {
		name     string
		req      checkin.ScheduleRequest
		timezone string
		want     schedule.Schedule
		wantErr  bool
	}{
		{
			name:     "crontab",
			req:      checkin.ScheduleRequest{Type: "crontab", Value: json.RawMessage(`"0 2 * * *"`)},
			timezone: "America/New_York",
			want:     schedule.Crontab("0 2 * * *", "America/New_York"),
		},
		{
			name:     "interval",
			req:      checkin.ScheduleRequest{Type: "interval", Value: json.RawMessage(`5`), Unit: "minute"},
			timezone: "UTC",
			want:     schedule.Interval(5, schedule.UnitMinute, "UTC"),
		},
		{
			name: "empty timezone defaults to UTC",
			req:  checkin.ScheduleRequest{Type: "crontab", Value: json.RawMessage(`"* * * * *"`)},
			want: schedule.Crontab("* * * * *", "UTC"),
		},
		{
			name:    "crontab value must be a string",
			req:     checkin.ScheduleRequest{Type: "crontab", Value: json.RawMessage(`5`)},
			wantErr: true,
		},
		{
			name:    "interval value must be a number",
			req:     checkin.ScheduleRequest{Type: "interval", Value: json.RawMessage(`"five"`), Unit: "minute"},
			wantErr: true,
		},
		{
			name:    "unknown type",
			req:     checkin.ScheduleRequest{Type: "rrule", Value: json.RawMessage(`"FREQ=DAILY"`)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.req.ToSchedule(tt.timezone)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
