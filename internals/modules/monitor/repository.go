package monitor

import (
	"context"
	"errors"
	"time"

	"cronguard/internals/modules/schedule"
	"cronguard/pkg/utils"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type Repository struct {
	pool   *pgxpool.Pool
	logger *zerolog.Logger
}

func NewRepository(pool *pgxpool.Pool, logger *zerolog.Logger) *Repository {
	return &Repository{
		pool:   pool,
		logger: logger,
	}
}

var _ Store = (*Repository)(nil)

const monitorCols = `id, slug, environment,
schedule_kind, schedule_expr, schedule_every, schedule_unit, timezone,
checkin_margin_min, max_runtime_min, failure_threshold, recovery_threshold,
status, consecutive_failures, consecutive_successes,
last_expected_at, last_run_id, version, created_at`

const qUpsertMonitor = `
INSERT INTO monitors (id, slug, environment,
	schedule_kind, schedule_expr, schedule_every, schedule_unit, timezone,
	checkin_margin_min, max_runtime_min, failure_threshold, recovery_threshold,
	status, consecutive_failures, consecutive_successes, version, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 'up', 0, 0, 1, $13)
ON CONFLICT (slug, environment) DO UPDATE SET
	schedule_kind      = EXCLUDED.schedule_kind,
	schedule_expr      = EXCLUDED.schedule_expr,
	schedule_every     = EXCLUDED.schedule_every,
	schedule_unit      = EXCLUDED.schedule_unit,
	timezone           = EXCLUDED.timezone,
	checkin_margin_min = EXCLUDED.checkin_margin_min,
	max_runtime_min    = EXCLUDED.max_runtime_min,
	failure_threshold  = EXCLUDED.failure_threshold,
	recovery_threshold = EXCLUDED.recovery_threshold
RETURNING ` + monitorCols + `;`

// Upsert creates the monitor on first check-in and overwrites config fields
// afterwards. Counters, status and version are never touched, so repeating
// the same config is a no-op.
func (r *Repository) Upsert(ctx context.Context, cmd UpsertCmd) (Monitor, error) {
	row := r.pool.QueryRow(ctx, qUpsertMonitor,
		utils.ToPgUUID(uuid.New()),
		cmd.Slug,
		cmd.Environment,
		string(cmd.Schedule.Kind),
		cmd.Schedule.Expr,
		cmd.Schedule.Every,
		string(cmd.Schedule.Unit),
		cmd.Schedule.Timezone,
		cmd.CheckinMarginMin,
		cmd.MaxRuntimeMin,
		cmd.FailureThreshold,
		cmd.RecoveryThreshold,
		time.Now().UTC(),
	)

	m, err := scanMonitor(row)
	if err != nil {
		return Monitor{}, utils.WrapRepoError("repo.monitor.upsert", err, false, r.logger)
	}
	return m, nil
}

const qGetMonitor = `SELECT ` + monitorCols + ` FROM monitors WHERE slug = $1 AND environment = $2;`

func (r *Repository) Get(ctx context.Context, slug, environment string) (Monitor, error) {
	m, err := scanMonitor(r.pool.QueryRow(ctx, qGetMonitor, slug, environment))
	if err != nil {
		return Monitor{}, utils.WrapRepoError("repo.monitor.get", err, true, r.logger)
	}
	return m, nil
}

const qGetMonitorByID = `SELECT ` + monitorCols + ` FROM monitors WHERE id = $1;`

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Monitor, error) {
	m, err := scanMonitor(r.pool.QueryRow(ctx, qGetMonitorByID, utils.ToPgUUID(id)))
	if err != nil {
		return Monitor{}, utils.WrapRepoError("repo.monitor.get_by_id", err, true, r.logger)
	}
	return m, nil
}

const qListMonitors = `SELECT ` + monitorCols + ` FROM monitors WHERE id > $1 ORDER BY id LIMIT $2;`

// List pages through monitors by id cursor. Pass uuid.Nil to start.
func (r *Repository) List(ctx context.Context, cursor uuid.UUID, limit int32) ([]Monitor, error) {
	rows, err := r.pool.Query(ctx, qListMonitors, utils.ToPgUUID(cursor), limit)
	if err != nil {
		return nil, utils.WrapRepoError("repo.monitor.list", err, false, r.logger)
	}
	defer rows.Close()

	monitors := make([]Monitor, 0, limit)
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, utils.WrapRepoError("repo.monitor.list", err, false, r.logger)
		}
		monitors = append(monitors, m)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.WrapRepoError("repo.monitor.list", err, false, r.logger)
	}
	return monitors, nil
}

const qUpdateMonitorCAS = `
UPDATE monitors SET
	status                = $3,
	consecutive_failures  = $4,
	consecutive_successes = $5,
	last_expected_at      = $6,
	last_run_id           = $7,
	version               = version + 1
WHERE id = $1 AND version = $2
RETURNING ` + monitorCols + `;`

// UpdateCAS writes the mutable run-state columns guarded by the version the
// caller read. Zero rows means another writer got there first.
func (r *Repository) UpdateCAS(ctx context.Context, m Monitor) (Monitor, error) {
	row := r.pool.QueryRow(ctx, qUpdateMonitorCAS,
		utils.ToPgUUID(m.ID),
		m.Version,
		string(m.Status),
		m.ConsecutiveFailures,
		m.ConsecutiveSuccesses,
		toPgTime(m.LastExpectedAt),
		toPgNullableUUID(m.LastRunID),
	)

	updated, err := scanMonitor(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Monitor{}, ErrVersionConflict
	}
	if err != nil {
		return Monitor{}, utils.WrapRepoError("repo.monitor.update_cas", err, false, r.logger)
	}
	return updated, nil
}

const runCols = `id, monitor_id, expected_at, started_at, finished_at, terminal_status,
checkin_margin_min, max_runtime_min, created_at`

const qInsertRun = `
INSERT INTO runs (id, monitor_id, expected_at, started_at, finished_at, terminal_status,
	checkin_margin_min, max_runtime_min, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (monitor_id, expected_at) DO NOTHING
RETURNING ` + runCols + `;`

const qRunByExpected = `SELECT ` + runCols + ` FROM runs WHERE monitor_id = $1 AND expected_at = $2;`

// CreateRun inserts the run for its (monitor_id, expected_at) occurrence.
/// On conflict the already-existing run is returned instead: whoever inserted
// first owns the run_id.
func (r *Repository) CreateRun(ctx context.Context, run Run) (bool, Run, error) {
	row := r.pool.QueryRow(ctx, qInsertRun,
		utils.ToPgUUID(run.ID),
		utils.ToPgUUID(run.MonitorID),
		run.ExpectedAt,
		toPgTimePtr(run.StartedAt),
		toPgTimePtr(run.FinishedAt),
		utils.ToPgText(string(run.TerminalStatus)),
		run.CheckinMarginMin,
		run.MaxRuntimeMin,
		time.Now().UTC(),
	)

	created, err := scanRun(row)
	if err == nil {
		return true, created, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, Run{}, utils.WrapRepoError("repo.run.create", err, false, r.logger)
	}

	// conflict -> fetch the winner's row
	existing, err := scanRun(r.pool.QueryRow(ctx, qRunByExpected, utils.ToPgUUID(run.MonitorID), run.ExpectedAt))
	if err != nil {
		return false, Run{}, utils.WrapRepoError("repo.run.create", err, true, r.logger)
	}
	return false, existing, nil
}

const qGetRun = `SELECT ` + runCols + ` FROM runs WHERE id = $1;`

func (r *Repository) GetRun(ctx context.Context, runID uuid.UUID) (Run, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, qGetRun, utils.ToPgUUID(runID)))
	if err != nil {
		return Run{}, utils.WrapRepoError("repo.run.get", err, true, r.logger)
	}
	return run, nil
}

func (r *Repository) RunByExpected(ctx context.Context, monitorID uuid.UUID, expectedAt time.Time) (Run, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, qRunByExpected, utils.ToPgUUID(monitorID), expectedAt))
	if err != nil {
		return Run{}, utils.WrapRepoError("repo.run.by_expected", err, true, r.logger)
	}
	return run, nil
}

const qLatestOpenRun = `
SELECT ` + runCols + ` FROM runs
WHERE monitor_id = $1 AND started_at IS NOT NULL AND terminal_status IS NULL
ORDER BY expected_at DESC
LIMIT 1;`

func (r *Repository) LatestOpenRun(ctx context.Context, monitorID uuid.UUID) (Run, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, qLatestOpenRun, utils.ToPgUUID(monitorID)))
	if err != nil {
		return Run{}, utils.WrapRepoError("repo.run.latest_open", err, true, r.logger)
	}
	return run, nil
}

const qOpenRuns = `
SELECT ` + runCols + ` FROM runs
WHERE monitor_id = $1 AND started_at IS NOT NULL AND terminal_status IS NULL
ORDER BY expected_at;`

func (r *Repository) OpenRuns(ctx context.Context, monitorID uuid.UUID) ([]Run, error) {
	rows, err := r.pool.Query(ctx, qOpenRuns, utils.ToPgUUID(monitorID))
	if err != nil {
		return nil, utils.WrapRepoError("repo.run.open_runs", err, false, r.logger)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, utils.WrapRepoError("repo.run.open_runs", err, false, r.logger)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.WrapRepoError("repo.run.open_runs", err, false, r.logger)
	}
	return runs, nil
}

const qClaimRunStart = `UPDATE runs SET started_at = $2 WHERE id = $1 AND started_at IS NULL;`

func (r *Repository) ClaimRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, qClaimRunStart, utils.ToPgUUID(runID), startedAt)
	if err != nil {
		return false, utils.WrapRepoError("repo.run.claim_start", err, false, r.logger)
	}
	return tag.RowsAffected() > 0, nil
}

const qCloseRun = `
UPDATE runs SET finished_at = $2, terminal_status = $3
WHERE id = $1 AND terminal_status IS NULL;`

func (r *Repository) CloseRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, outcome Outcome) (bool, error) {
	tag, err := r.pool.Exec(ctx, qCloseRun, utils.ToPgUUID(runID), finishedAt, string(outcome))
	if err != nil {
		return false, utils.WrapRepoError("repo.run.close", err, false, r.logger)
	}
	return tag.RowsAffected() > 0, nil
}

func scanMonitor(row pgx.Row) (Monitor, error) {
	var (
		m              Monitor
		id, lastRunID  pgtype.UUID
		kind, unit     string
		status         string
		lastExpectedAt pgtype.Timestamptz
	)

	err := row.Scan(
		&id, &m.Slug, &m.Environment,
		&kind, &m.Schedule.Expr, &m.Schedule.Every, &unit, &m.Schedule.Timezone,
		&m.CheckinMarginMin, &m.MaxRuntimeMin, &m.FailureThreshold, &m.RecoveryThreshold,
		&status, &m.ConsecutiveFailures, &m.ConsecutiveSuccesses,
		&lastExpectedAt, &lastRunID, &m.Version, &m.CreatedAt,
	)
	if err != nil {
		return Monitor{}, err
	}

	m.ID = utils.FromPgUUID(id)
	m.Status = Status(status)
	m.Schedule.Kind = schedule.Kind(kind)
	m.Schedule.Unit = schedule.Unit(unit)
	m.LastExpectedAt = utils.FromPgTimestamptz(lastExpectedAt)
	m.LastRunID = utils.FromPgUUID(lastRunID)
	return m, nil
}

func scanRun(row pgx.Row) (Run, error) {
	var (
		run            Run
		id, monitorID  pgtype.UUID
		started, done  pgtype.Timestamptz
		terminalStatus pgtype.Text
	)

	err := row.Scan(
		&id, &monitorID, &run.ExpectedAt, &started, &done, &terminalStatus,
		&run.CheckinMarginMin, &run.MaxRuntimeMin, &run.CreatedAt,
	)
	if err != nil {
		return Run{}, err
	}

	run.ID = utils.FromPgUUID(id)
	run.MonitorID = utils.FromPgUUID(monitorID)
	if started.Valid {
		t := started.Time
		run.StartedAt = &t
	}
	if done.Valid {
		t := done.Time
		run.FinishedAt = &t
	}
	run.TerminalStatus = Outcome(utils.FromPgText(terminalStatus))
	return run, nil
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func toPgTimePtr(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func toPgNullableUUID(id uuid.UUID) pgtype.UUID {
	if id == uuid.Nil {
		return pgtype.UUID{Valid: false}
	}
	return utils.ToPgUUID(id)
}
