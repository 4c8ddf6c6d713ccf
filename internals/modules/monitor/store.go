package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the single source of truth for monitors and runs. The ingestor
// and the sweeper are concurrent writers; every counter/status mutation goes
// through UpdateCAS and every run start/close goes through the first-writer
// guards below. No blind overwrites.
type Store interface {
	Upsert(ctx context.Context, cmd UpsertCmd) (Monitor, error)
	Get(ctx context.Context, slug, environment string) (Monitor, error)
	GetByID(ctx context.Context, id uuid.UUID) (Monitor, error)
	List(ctx context.Context, cursor uuid.UUID, limit int32) ([]Monitor, error)

	// UpdateCAS writes status, counters and last-run bookkeeping guarded by
	// m.Version. Returns ErrVersionConflict when the version lost the race.
	UpdateCAS(ctx context.Context, m Monitor) (Monitor, error)

	// CreateRun inserts the run for (monitor_id, expected_at). When another
	// writer already created that occurrence, created is false and the
	// existing row is returned.
	CreateRun(ctx context.Context, run Run) (created bool, out Run, err error)
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	RunByExpected(ctx context.Context, monitorID uuid.UUID, expectedAt time.Time) (Run, error)
	LatestOpenRun(ctx context.Context, monitorID uuid.UUID) (Run, error)
	OpenRuns(ctx context.Context, monitorID uuid.UUID) ([]Run, error)

	// ClaimRunStart sets started_at only if unset. First writer wins;
	// claimed is false for every later writer.
	ClaimRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) (claimed bool, err error)

	// CloseRun sets the terminal status only if unset. First terminal writer
	// wins; closed is false when the run was already terminal.
	CloseRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, outcome Outcome) (closed bool, err error)
}
