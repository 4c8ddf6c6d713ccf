package checkin

import (
	"time"

	"cronguard/internals/modules/monitor"

	"github.com/google/uuid"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusOk         Status = "ok"
	StatusError      Status = "error"
)

// IngestCmd is one check-in event after transport decoding. CheckInID is
// uuid.Nil when the client did not send one; Config is nil when the request
// carried no monitor_config payload.
type IngestCmd struct {
	Slug        string
	Environment string
	Status      Status
	CheckInID   uuid.UUID
	DurationSec *float64
	Config      *monitor.UpsertCmd
	ReceivedAt  time.Time
}

// Result echoes the authoritative check-in id: for in_progress this is the
// run id the occurrence settled on (the first writer's id, not necessarily
// the caller's).
type Result struct {
	CheckInID uuid.UUID
}

// Record is one appended audit row. Check-ins are immutable once written;
// late terminals that lost the close race still land here.
type Record struct {
	ID          int64
	CheckInID   uuid.UUID
	MonitorID   uuid.UUID
	Status      Status
	Timestamp   time.Time
	DurationSec *float64
}
