package checkin_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cronguard/internals/modules/alert"
	"cronguard/internals/modules/checkin"
	"cronguard/internals/modules/monitor"
	"cronguard/internals/modules/schedule"
	"cronguard/internals/testutil"
	"cronguard/pkg/apperror"
	"cronguard/pkg/ratelimit"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memAudit struct {
	mu      sync.Mutex
	records []checkin.Record
}

func (a *memAudit) Append(ctx context.Context, rec checkin.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

func (a *memAudit) ListByMonitor(ctx context.Context, monitorID uuid.UUID, limit int32) ([]checkin.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []checkin.Record
	for _, rec := range a.records {
		if rec.MonitorID == monitorID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (a *memAudit) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return false, errors.New("limiter backend unreachable")
}

type fixture struct {
	store   *testutil.MemStore
	audit   *memAudit
	limiter ratelimit.Limiter
	svc     *checkin.Service
	events  chan alert.Event
}

func newFixture(t *testing.T, limiter ratelimit.Limiter) *fixture {
	t.Helper()

	store := testutil.NewMemStore()
	audit := &memAudit{}
	events := make(chan alert.Event, 16)
	nop := zerolog.Nop()

	monitorSvc := monitor.NewService(store, events, 3, time.Millisecond, &nop)
	svc := checkin.NewService(store, monitorSvc, audit, schedule.NewEvaluator(), limiter, &nop)

	return &fixture{store: store, audit: audit, limiter: limiter, svc: svc, events: events}
}

var testBase = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

// seedMonitor installs a monitor on a 5-minute interval whose anchor puts an
// occurrence exactly at testBase.
func (f *fixture) seedMonitor(failureThreshold int32) monitor.Monitor {
	return f.store.SeedMonitor(monitor.Monitor{
		Slug:              "db-backup",
		Environment:       "production",
		Schedule:          schedule.Interval(5, schedule.UnitMinute, "UTC"),
		CheckinMarginMin:  2,
		MaxRuntimeMin:     30,
		FailureThreshold:  failureThreshold,
		RecoveryThreshold: 1,
		CreatedAt:         testBase.Add(-time.Hour),
	})
}

func TestIngest_FirstCheckInWithConfigCreatesMonitor(t *testing.T) {
	f := newFixture(t, ratelimit.NewMemoryLimiter(6, time.Minute))
	id := uuid.New()

	res, err := f.svc.Ingest(context.Background(), checkin.IngestCmd{
		Slug:        "etl-job",
		Environment: "staging",
		Status:      checkin.StatusInProgress,
		CheckInID:   id,
		Config: &monitor.UpsertCmd{
			Schedule:         schedule.Interval(1, schedule.UnitHour, "UTC"),
			CheckinMarginMin: 5,
		},
		ReceivedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, id, res.CheckInID)

	m, err := f.store.Get(context.Background(), "etl-job", "staging")
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusUp, m.Status)
	assert.Equal(t, int32(1), m.FailureThreshold, "thresholds default to 1")

	run, err := f.store.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.NotNil(t, run.StartedAt)
	assert.False(t, run.Terminal())
	assert.Equal(t, 1, f.audit.len())
}

func TestIngest_UnknownMonitorWithoutConfig(t *testing.T) {
	f := newFixture(t, ratelimit.NewMemoryLimiter(6, time.Minute))

	_, err := f.svc.Ingest(context.Background(), checkin.IngestCmd{
		Slug:        "ghost",
		Environment: "production",
		Status:      checkin.StatusOk,
		ReceivedAt:  testBase,
	})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.NotFound))
}

func TestIngest_InvalidScheduleRejected(t *testing.T) {
	f := newFixture(t, ratelimit.NewMemoryLimiter(6, time.Minute))

	_, err := f.svc.Ingest(context.Background(), checkin.IngestCmd{
		Slug:        "etl-job",
		Environment: "production",
		Status:      checkin.StatusInProgress,
		CheckInID:   uuid.New(),
		Config: &monitor.UpsertCmd{
			Schedule: schedule.Crontab("every day at noon", "UTC"),
		},
		ReceivedAt: time.Now().UTC(),
	})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.InvalidInput))
}

func TestIngest_DuplicateInProgressSettlesOnFirstWriter(t *testing.T) {
	f := newFixture(t, ratelimit.NewMemoryLimiter(6, time.Minute))
	m := f.seedMonitor(2)
	ctx := context.Background()

	first, second := uuid.New(), uuid.New()

	res1, err := f.svc.Ingest(ctx, checkin.IngestCmd{
		Slug: m.Slug, Environment: m.Environment,
		Status: checkin.StatusInProgress, CheckInID: first, ReceivedAt: testBase,
	})
	require.NoError(t, err)

	// retry with a fresh id targets the same occurrence
	res2, err := f.svc.Ingest(ctx, checkin.IngestCmd{
		Slug: m.Slug, Environment: m.Environment,
		Status: checkin.StatusInProgress, CheckInID: second, ReceivedAt: testBase.Add(30 * time.Second),
	})
	require.NoError(t, err)

	assert.Equal(t, first, res1.CheckInID)
	assert.Equal(t, first, res2.CheckInID, "second writer gets the settled run id back")

	runs, err := f.store.OpenRuns(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestIngest_OkClosesRunAndAdvancesCounters(t *testing.T) {
	f := newFixture(t, ratelimit.NewMemoryLimiter(6, time.Minute))
	m := f.seedMonitor(2)
	ctx := context.Background()
	id := uuid.New()

	_, err := f.svc.Ingest(ctx, checkin.IngestCmd{
		Slug: m.Slug, Environment: m.Environment,
		Status: checkin.StatusInProgress, CheckInID: id, ReceivedAt: testBase,
	})
	require.NoError(t, err)

	dur := 42.5
	_, err = f.svc.Ingest(ctx, checkin.IngestCmd{
		Slug: m.Slug, Environment: m.Environment,
		Status: checkin.StatusOk, CheckInID: id, DurationSec: &dur,
		ReceivedAt: testBase.Add(time.Minute),
	})
	require.NoError(t, err)

	run, err := f.store.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, monitor.OutcomeOk, run.TerminalStatus)
	require.NotNil(t, run.FinishedAt)

	got, err := f.store.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), got.ConsecutiveSuccesses)
	assert.Equal(t, int32(0), got.ConsecutiveFailures)
}

func TestIngest_ErrorCheckInCountsFailure(t *testing.T) {
	f := newFixture(t, ratelimit.NewMemoryLimiter(6, time.Minute))
	m := f.seedMonitor(1)
	ctx := context.Background()
	id := uuid.New()

	_, err := f.svc.Ingest(ctx, checkin.IngestCmd{
		Slug: m.Slug, Environment: m.Environment,
		Status: checkin.StatusInProgress, CheckInID: id, ReceivedAt: testBase,
	})
	require.NoError(t, err)

	_, err = f.svc.Ingest(ctx, checkin.IngestCmd{
		Slug: m.Slug, Environment: m.Environment,
		Status: checkin.StatusError, CheckInID: id, ReceivedAt: testBase.Add(time.Minute),
	})
	require.NoError(t, err)

	got, err := f.store.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusDown, got.Status)

	require.Len(t, f.events, 1)
	assert.Equal(t, alert.TransitionDegraded, (<-f.events).Transition)
}

func TestIngest_LateTerminalAfterCloseIsAuditOnly(t *testing.T) {
	f := newFixture(t, ratelimit.NewMemoryLimiter(6, time.Minute))
	m := f.seedMonitor(2)
	ctx := context.Background()
	id := uuid.New()

	_, err := f.svc.Ingest(ctx, checkin.IngestCmd{
		Slug: m.Slug, Environment: m.Environment,
		Status: checkin.StatusInProgress, CheckInID: id, ReceivedAt: testBase,
	})
	require.NoError(t, err)

	// the sweeper closed the run as timed out before the ok arrived
	closed, err := f.store.CloseRun(ctx, id, testBase.Add(31*time.Minute), monitor.OutcomeTimeout)
	require.NoError(t, err)
	require.True(t, closed)

	res, err := f.svc.Ingest(ctx, checkin.IngestCmd{
		Slug: m.Slug, Environment: m.Environment,
		Status: checkin.StatusOk, CheckInID: id, ReceivedAt: testBase.Add(32 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, id, res.CheckInID)

	run, err := f.store.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, monitor.OutcomeTimeout, run.TerminalStatus, "late ok cannot reopen or flip the run")

	got, err := f.store.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), got.ConsecutiveSuccesses, "late terminal never advances counters")

	// the event still lands in the audit trail
	assert.Equal(t, 2, f.audit.len())
}

func TestIngest_ForeignRunIDCannotCloseAnotherMonitorsRun(t *testing.T) {
	f := newFixture(t, ratelimit.NewMemoryLimiter(6, time.Minute))
	victim := f.seedMonitor(1)
	other := f.store.SeedMonitor(monitor.Monitor{
		Slug:              "etl-job",
		Environment:       "production",
		Schedule:          schedule.Interval(5, schedule.UnitMinute, "UTC"),
		FailureThreshold:  1,
		RecoveryThreshold: 1,
		CreatedAt:         testBase.Add(-time.Hour),
	})
	ctx := context.Background()
	victimRunID := uuid.New()

	_, err := f.svc.Ingest(ctx, checkin.IngestCmd{
		Slug: victim.Slug, Environment: victim.Environment,
		Status: checkin.StatusInProgress, CheckInID: victimRunID, ReceivedAt: testBase,
	})
	require.NoError(t, err)

	// a terminal for the other monitor carrying the victim's run id must not
	// touch the victim's run; it falls back to a heartbeat on its own monitor
	_, err = f.svc.Ingest(ctx, checkin.IngestCmd{
		Slug: other.Slug, Environment: other.Environment,
		Status: checkin.StatusError, CheckInID: victimRunID, ReceivedAt: testBase.Add(time.Minute),
	})
	require.Error(t, err, "heartbeat run id collides with the victim's run row")

	victimRun, err := f.store.GetRun(ctx, victimRunID)
	require.NoError(t, err)
	assert.False(t, victimRun.Terminal(), "victim's run stays open")
	assert.Equal(t, victim.ID, victimRun.MonitorID)

	gotVictim, err := f.store.GetByID(ctx, victim.ID)
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusUp, gotVictim.Status)
	assert.Equal(t, int32(0), gotVictim.ConsecutiveFailures)
}

func TestIngest_HeartbeatOpensAndCloses(t *testing.T) {
	f := newFixture(t, ratelimit.NewMemoryLimiter(6, time.Minute))
	m := f.seedMonitor(2)
	ctx := context.Background()

	res, err := f.svc.Ingest(ctx, checkin.IngestCmd{
		Slug: m.Slug, Environment: m.Environment,
		Status: checkin.StatusOk, ReceivedAt: testBase.Add(time.Minute),
	})
	require.NoError(t, err)

	run, err := f.store.GetRun(ctx, res.CheckInID)
	require.NoError(t, err)
	assert.Equal(t, monitor.OutcomeOk, run.TerminalStatus)
	require.NotNil(t, run.StartedAt)
	require.NotNil(t, run.FinishedAt)

	got, err := f.store.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), got.ConsecutiveSuccesses)
}

func TestIngest_LateStartOnMissedRunDoesNotReopen(t *testing.T) {
	f := newFixture(t, ratelimit.NewMemoryLimiter(6, time.Minute))
	m := f.seedMonitor(2)
	ctx := context.Background()

	// the sweeper already synthesized a missed run for the testBase occurrence
	missedID := uuid.New()
	created, _, err := f.store.CreateRun(ctx, monitor.Run{
		ID:             missedID,
		MonitorID:      m.ID,
		ExpectedAt:     testBase,
		TerminalStatus: monitor.OutcomeMissed,
	})
	require.NoError(t, err)
	require.True(t, created)

	res, err := f.svc.Ingest(ctx, checkin.IngestCmd{
		Slug: m.Slug, Environment: m.Environment,
		Status: checkin.StatusInProgress, CheckInID: uuid.New(), ReceivedAt: testBase.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, missedID, res.CheckInID)

	run, err := f.store.GetRun(ctx, missedID)
	require.NoError(t, err)
	assert.NotNil(t, run.StartedAt, "late start is recorded")
	assert.Equal(t, monitor.OutcomeMissed, run.TerminalStatus, "missed verdict stands")
}

func TestIngest_SeventhCheckInInWindowIsDropped(t *testing.T) {
	now := testBase
	limiter := ratelimit.NewMemoryLimiter(6, time.Minute).WithClock(func() time.Time { return now })
	f := newFixture(t, limiter)
	m := f.seedMonitor(2)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := f.svc.Ingest(ctx, checkin.IngestCmd{
			Slug: m.Slug, Environment: m.Environment,
			Status: checkin.StatusOk, ReceivedAt: testBase.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err, "check-in %d within quota", i+1)
	}

	_, err := f.svc.Ingest(ctx, checkin.IngestCmd{
		Slug: m.Slug, Environment: m.Environment,
		Status: checkin.StatusOk, ReceivedAt: testBase.Add(7 * time.Second),
	})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.RateLimited))
	assert.Equal(t, 6, f.audit.len(), "the dropped event leaves no trace")

	// the window expires and the same monitor is accepted again
	now = now.Add(61 * time.Second)
	_, err = f.svc.Ingest(ctx, checkin.IngestCmd{
		Slug: m.Slug, Environment: m.Environment,
		Status: checkin.StatusOk, ReceivedAt: testBase.Add(2 * time.Minute),
	})
	assert.NoError(t, err)
}

func TestIngest_LimiterOutageFailsOpen(t *testing.T) {
	f := newFixture(t, brokenLimiter{})
	m := f.seedMonitor(2)

	_, err := f.svc.Ingest(context.Background(), checkin.IngestCmd{
		Slug: m.Slug, Environment: m.Environment,
		Status: checkin.StatusOk, ReceivedAt: testBase,
	})
	assert.NoError(t, err, "limiter outage must not block ingestion")
}

func TestIngest_TransientStoreErrorIsRetried(t *testing.T) {
	f := newFixture(t, ratelimit.NewMemoryLimiter(6, time.Minute))
	m := f.seedMonitor(1)
	f.store.ForceStoreErrors = 1

	res, err := f.svc.Ingest(context.Background(), checkin.IngestCmd{
		Slug: m.Slug, Environment: m.Environment,
		Status: checkin.StatusInProgress, ReceivedAt: testBase,
	})
	require.NoError(t, err, "a single transient failure is absorbed")
	assert.NotEqual(t, uuid.Nil, res.CheckInID)

	run, err := f.store.GetRun(context.Background(), res.CheckInID)
	require.NoError(t, err)
	require.NotNil(t, run.StartedAt)
}

func TestIngest_StoreOutageSurfacesDatabaseError(t *testing.T) {
	f := newFixture(t, ratelimit.NewMemoryLimiter(6, time.Minute))
	m := f.seedMonitor(1)
	f.store.ForceStoreErrors = 10

	_, err := f.svc.Ingest(context.Background(), checkin.IngestCmd{
		Slug: m.Slug, Environment: m.Environment,
		Status: checkin.StatusOk, ReceivedAt: testBase,
	})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.DatabaseErr), "outage keeps its database kind")
}
