package monitor_test

import (
	"context"
	"testing"
	"time"

	"cronguard/internals/modules/alert"
	"cronguard/internals/modules/monitor"
	"cronguard/internals/modules/schedule"
	"cronguard/internals/testutil"
	"cronguard/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, store *testutil.MemStore, attempts int) (*monitor.Service, chan alert.Event) {
	t.Helper()
	events := make(chan alert.Event, 16)
	nop := zerolog.Nop()
	return monitor.NewService(store, events, attempts, time.Millisecond, &nop), events
}

func seedTestMonitor(store *testutil.MemStore, failureThreshold int32) monitor.Monitor {
	return store.SeedMonitor(monitor.Monitor{
		Slug:             "nightly-report",
		Environment:      "production",
		Schedule:         schedule.Crontab("0 2 * * *", "UTC"),
		FailureThreshold: failureThreshold,
		RecoveryThreshold: 1,
	})
}

func TestService_Upsert_DefaultsThresholds(t *testing.T) {
	store := testutil.NewMemStore()
	svc, _ := newService(t, store, 3)

	m, err := svc.Upsert(context.Background(), monitor.UpsertCmd{
		Slug:        "backup",
		Environment: "production",
		Schedule:    schedule.Interval(1, schedule.UnitHour, "UTC"),
	})
	require.NoError(t, err)

	assert.Equal(t, int32(1), m.FailureThreshold)
	assert.Equal(t, int32(1), m.RecoveryThreshold)
	assert.Equal(t, monitor.StatusUp, m.Status)
}

func TestService_Upsert_PreservesRuntimeState(t *testing.T) {
	store := testutil.NewMemStore()
	svc, _ := newService(t, store, 3)
	m := seedTestMonitor(store, 3)

	require.NoError(t, svc.RecordOutcome(context.Background(), m.ID, uuid.New(), monitor.OutcomeError))

	// a config resend must not reset counters or status
	updated, err := svc.Upsert(context.Background(), monitor.UpsertCmd{
		Slug:             m.Slug,
		Environment:      m.Environment,
		Schedule:         schedule.Crontab("0 3 * * *", "UTC"),
		FailureThreshold: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, m.ID, updated.ID)
	assert.Equal(t, int32(1), updated.ConsecutiveFailures)
	assert.Equal(t, int32(5), updated.FailureThreshold)
	assert.Equal(t, "0 3 * * *", updated.Schedule.Expr)
}

func TestService_RecordOutcome_EmitsDegradedOnce(t *testing.T) {
	store := testutil.NewMemStore()
	svc, events := newService(t, store, 3)
	m := seedTestMonitor(store, 2)
	ctx := context.Background()

	require.NoError(t, svc.RecordOutcome(ctx, m.ID, uuid.New(), monitor.OutcomeError))
	assert.Empty(t, events)

	require.NoError(t, svc.RecordOutcome(ctx, m.ID, uuid.New(), monitor.OutcomeError))
	require.Len(t, events, 1)

	ev := <-events
	assert.Equal(t, alert.TransitionDegraded, ev.Transition)
	assert.Equal(t, "nightly-report", ev.MonitorSlug)
	assert.Equal(t, int32(2), ev.ConsecutiveCount)

	// already down: a third failure moves the counter silently
	require.NoError(t, svc.RecordOutcome(ctx, m.ID, uuid.New(), monitor.OutcomeError))
	assert.Empty(t, events)

	got, err := store.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusDown, got.Status)
	assert.Equal(t, int32(3), got.ConsecutiveFailures)
}

func TestService_RecordOutcome_RecoversAfterDegraded(t *testing.T) {
	store := testutil.NewMemStore()
	svc, events := newService(t, store, 3)
	m := seedTestMonitor(store, 1)
	ctx := context.Background()

	require.NoError(t, svc.RecordOutcome(ctx, m.ID, uuid.New(), monitor.OutcomeMissed))
	require.NoError(t, svc.RecordOutcome(ctx, m.ID, uuid.New(), monitor.OutcomeOk))

	require.Len(t, events, 2)
	assert.Equal(t, alert.TransitionDegraded, (<-events).Transition)
	assert.Equal(t, alert.TransitionRecovered, (<-events).Transition)
}

func TestService_RecordOutcome_RetriesOnVersionConflict(t *testing.T) {
	store := testutil.NewMemStore()
	svc, _ := newService(t, store, 3)
	m := seedTestMonitor(store, 2)

	store.ForceCASConflicts = 2

	err := svc.RecordOutcome(context.Background(), m.ID, uuid.New(), monitor.OutcomeError)
	require.NoError(t, err)

	got, err := store.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), got.ConsecutiveFailures, "mutation applied exactly once despite retries")
}

func TestService_RecordOutcome_SurfacesConflictWhenExhausted(t *testing.T) {
	store := testutil.NewMemStore()
	svc, _ := newService(t, store, 3)
	m := seedTestMonitor(store, 2)

	store.ForceCASConflicts = 10

	err := svc.RecordOutcome(context.Background(), m.ID, uuid.New(), monitor.OutcomeError)
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.Conflict))

	got, getErr := store.GetByID(context.Background(), m.ID)
	require.NoError(t, getErr)
	assert.Equal(t, int32(0), got.ConsecutiveFailures, "nothing committed")
}

func TestService_RecordStart_KeepsLatestExpected(t *testing.T) {
	store := testutil.NewMemStore()
	svc, _ := newService(t, store, 3)
	m := seedTestMonitor(store, 2)
	ctx := context.Background()

	later := time.Date(2024, 5, 10, 2, 0, 0, 0, time.UTC)
	earlier := later.Add(-24 * time.Hour)
	firstRun, secondRun := uuid.New(), uuid.New()

	require.NoError(t, svc.RecordStart(ctx, m.ID, firstRun, later))
	// an out-of-order start for an older occurrence must not move time backwards
	require.NoError(t, svc.RecordStart(ctx, m.ID, secondRun, earlier))

	got, err := store.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.LastExpectedAt.Equal(later))
	assert.Equal(t, secondRun, got.LastRunID)
}

func TestService_RecordOutcome_RetriesTransientStoreError(t *testing.T) {
	store := testutil.NewMemStore()
	svc, _ := newService(t, store, 3)
	m := seedTestMonitor(store, 3)
	store.ForceStoreErrors = 1

	require.NoError(t, svc.RecordOutcome(context.Background(), m.ID, uuid.New(), monitor.OutcomeError))

	got, err := store.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), got.ConsecutiveFailures, "the outcome lands exactly once")
}

func TestService_RecordOutcome_StoreOutageKeepsDatabaseKind(t *testing.T) {
	store := testutil.NewMemStore()
	svc, _ := newService(t, store, 3)
	m := seedTestMonitor(store, 3)
	store.ForceStoreErrors = 10

	err := svc.RecordOutcome(context.Background(), m.ID, uuid.New(), monitor.OutcomeError)
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.DatabaseErr), "an outage is not a version conflict")
	assert.False(t, apperror.IsKind(err, apperror.Conflict))
}
