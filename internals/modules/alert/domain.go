package alert

import "time"

type Transition string

const (
	TransitionDegraded  Transition = "Degraded"
	TransitionRecovered Transition = "Recovered"
)

// Event is the only alert-worthy output of the service: a monitor crossing
// its failure or recovery threshold. Every other terminal outcome just moves
// counters.
type Event struct {
	MonitorSlug      string     `json:"monitor_slug"`
	Environment      string     `json:"environment"`
	Transition       Transition `json:"transition"`
	ConsecutiveCount int32      `json:"consecutive_count"`
	Timestamp        time.Time  `json:"timestamp"`
}
