package monitor_test

import (
	"testing"

	"cronguard/internals/modules/monitor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upMonitor(failureThreshold, recoveryThreshold int32) monitor.Monitor {
	return monitor.Monitor{
		Status:            monitor.StatusUp,
		FailureThreshold:  failureThreshold,
		RecoveryThreshold: recoveryThreshold,
	}
}

func TestAdvanceThresholds_SingleFailureBelowThreshold(t *testing.T) {
	m := upMonitor(2, 1)

	tr := monitor.AdvanceThresholds(&m, monitor.OutcomeError)

	assert.Nil(t, tr)
	assert.Equal(t, monitor.StatusUp, m.Status)
	assert.Equal(t, int32(1), m.ConsecutiveFailures)
}

func TestAdvanceThresholds_SuccessResetsFailureStreak(t *testing.T) {
	m := upMonitor(2, 1)

	monitor.AdvanceThresholds(&m, monitor.OutcomeError)
	tr := monitor.AdvanceThresholds(&m, monitor.OutcomeOk)
	require.Nil(t, tr)

	// the streak restarted, so one more failure is still below threshold
	tr = monitor.AdvanceThresholds(&m, monitor.OutcomeError)
	assert.Nil(t, tr)
	assert.Equal(t, monitor.StatusUp, m.Status)
	assert.Equal(t, int32(1), m.ConsecutiveFailures)
}

func TestAdvanceThresholds_FlipsDownExactlyOnce(t *testing.T) {
	m := upMonitor(2, 1)

	require.Nil(t, monitor.AdvanceThresholds(&m, monitor.OutcomeError))

	tr := monitor.AdvanceThresholds(&m, monitor.OutcomeError)
	require.NotNil(t, tr)
	assert.Equal(t, monitor.StatusDown, tr.To)
	assert.Equal(t, int32(2), tr.ConsecutiveCount)
	assert.Equal(t, monitor.StatusDown, m.Status)

	// further failures move the counter but emit nothing
	tr = monitor.AdvanceThresholds(&m, monitor.OutcomeError)
	assert.Nil(t, tr)
	assert.Equal(t, int32(3), m.ConsecutiveFailures)
}

func TestAdvanceThresholds_RecoveryHysteresis(t *testing.T) {
	m := monitor.Monitor{
		Status:              monitor.StatusDown,
		FailureThreshold:    2,
		RecoveryThreshold:   2,
		ConsecutiveFailures: 4,
	}

	tr := monitor.AdvanceThresholds(&m, monitor.OutcomeOk)
	require.Nil(t, tr)
	assert.Equal(t, monitor.StatusDown, m.Status)
	assert.Equal(t, int32(0), m.ConsecutiveFailures)

	tr = monitor.AdvanceThresholds(&m, monitor.OutcomeOk)
	require.NotNil(t, tr)
	assert.Equal(t, monitor.StatusUp, tr.To)
	assert.Equal(t, int32(2), tr.ConsecutiveCount)
	assert.Equal(t, monitor.StatusUp, m.Status)

	// an up monitor emits nothing on further successes
	assert.Nil(t, monitor.AdvanceThresholds(&m, monitor.OutcomeOk))
}

func TestAdvanceThresholds_MissedAndTimeoutAreFailures(t *testing.T) {
	for _, outcome := range []monitor.Outcome{monitor.OutcomeMissed, monitor.OutcomeTimeout} {
		m := upMonitor(1, 1)

		tr := monitor.AdvanceThresholds(&m, outcome)
		require.NotNil(t, tr, "outcome %s", outcome)
		assert.Equal(t, monitor.StatusDown, tr.To)
	}
}
