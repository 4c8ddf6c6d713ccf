package monitor

// Transition records a monitor crossing its failure or recovery threshold.
type Transition struct {
	To               Status
	ConsecutiveCount int32
}

// AdvanceThresholds applies one terminal run outcome to the monitor's
// counters and flips its status when a threshold is crossed. The hysteresis
// keeps a single flake from flapping the status.
//
// Returns nil for every outcome that does not flip the status, so a monitor
// already down emits nothing on further failures.
func AdvanceThresholds(m *Monitor, outcome Outcome) *Transition {

	if outcome == OutcomeOk {
		m.ConsecutiveSuccesses++
		m.ConsecutiveFailures = 0

		if m.Status == StatusDown && m.ConsecutiveSuccesses >= m.RecoveryThreshold {
			m.Status = StatusUp
			return &Transition{To: StatusUp, ConsecutiveCount: m.ConsecutiveSuccesses}
		}
		return nil
	}

	m.ConsecutiveFailures++
	m.ConsecutiveSuccesses = 0

	if m.Status == StatusUp && m.ConsecutiveFailures >= m.FailureThreshold {
		m.Status = StatusDown
		return &Transition{To: StatusDown, ConsecutiveCount: m.ConsecutiveFailures}
	}
	return nil
}
