package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"cronguard/internals/modules/monitor"
	"cronguard/pkg/apperror"

	"github.com/google/uuid"
)

// MemStore is an in-memory monitor.Store with the same write discipline as
// the postgres repository: versioned CAS on monitors, first-writer-wins on
// run starts and terminal statuses, and one run row per (monitor,
// expected_at) occurrence.
type MemStore struct {
	mu       sync.Mutex
	monitors map[string]*monitor.Monitor // slug:env
	byID     map[uuid.UUID]*monitor.Monitor
	runs     map[uuid.UUID]*monitor.Run
	byOccur  map[string]uuid.UUID // monitorID|expected_at -> run id

	// ForceCASConflicts makes the next N UpdateCAS calls fail with
	// ErrVersionConflict, for retry-path tests.
	ForceCASConflicts int

	// ForceStoreErrors makes the next N store calls fail with a transient
	// database error, for outage retry-path tests.
	ForceStoreErrors int
}

func NewMemStore() *MemStore {
	return &MemStore{
		monitors: make(map[string]*monitor.Monitor),
		byID:     make(map[uuid.UUID]*monitor.Monitor),
		runs:     make(map[uuid.UUID]*monitor.Run),
		byOccur:  make(map[string]uuid.UUID),
	}
}

var _ monitor.Store = (*MemStore)(nil)

func notFound(op string) error {
	return &apperror.Error{Kind: apperror.NotFound, Op: op, Message: "resources not found"}
}

// transientErr consumes one forced store error. Callers hold s.mu.
func (s *MemStore) transientErr(op string) error {
	if s.ForceStoreErrors <= 0 {
		return nil
	}
	s.ForceStoreErrors--
	return &apperror.Error{Kind: apperror.DatabaseErr, Op: op, Message: "internal server error"}
}

func monitorKey(slug, env string) string {
	return slug + ":" + env
}

func occurrenceKey(monitorID uuid.UUID, expectedAt time.Time) string {
	return monitorID.String() + "|" + expectedAt.UTC().Format(time.RFC3339Nano)
}

func (s *MemStore) Upsert(ctx context.Context, cmd monitor.UpsertCmd) (monitor.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transientErr("memstore.upsert"); err != nil {
		return monitor.Monitor{}, err
	}

	key := monitorKey(cmd.Slug, cmd.Environment)
	if m, ok := s.monitors[key]; ok {
		// config overwrite only; counters, status and version survive
		m.Schedule = cmd.Schedule
		m.CheckinMarginMin = cmd.CheckinMarginMin
		m.MaxRuntimeMin = cmd.MaxRuntimeMin
		m.FailureThreshold = cmd.FailureThreshold
		m.RecoveryThreshold = cmd.RecoveryThreshold
		return *m, nil
	}

	m := &monitor.Monitor{
		ID:                uuid.New(),
		Slug:              cmd.Slug,
		Environment:       cmd.Environment,
		Schedule:          cmd.Schedule,
		CheckinMarginMin:  cmd.CheckinMarginMin,
		MaxRuntimeMin:     cmd.MaxRuntimeMin,
		FailureThreshold:  cmd.FailureThreshold,
		RecoveryThreshold: cmd.RecoveryThreshold,
		Status:            monitor.StatusUp,
		Version:           1,
		CreatedAt:         time.Now().UTC(),
	}
	s.monitors[key] = m
	s.byID[m.ID] = m
	return *m, nil
}

// SeedMonitor installs a fully specified monitor, for tests that need a
// fixed anchor or pre-set counters.
func (s *MemStore) SeedMonitor(m monitor.Monitor) monitor.Monitor {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Version == 0 {
		m.Version = 1
	}
	if m.Status == "" {
		m.Status = monitor.StatusUp
	}
	cp := m
	s.monitors[monitorKey(m.Slug, m.Environment)] = &cp
	s.byID[m.ID] = &cp
	return cp
}

func (s *MemStore) Get(ctx context.Context, slug, environment string) (monitor.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transientErr("memstore.get"); err != nil {
		return monitor.Monitor{}, err
	}

	m, ok := s.monitors[monitorKey(slug, environment)]
	if !ok {
		return monitor.Monitor{}, notFound("memstore.get")
	}
	return *m, nil
}

func (s *MemStore) GetByID(ctx context.Context, id uuid.UUID) (monitor.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transientErr("memstore.get_by_id"); err != nil {
		return monitor.Monitor{}, err
	}

	m, ok := s.byID[id]
	if !ok {
		return monitor.Monitor{}, notFound("memstore.get_by_id")
	}
	return *m, nil
}

func (s *MemStore) List(ctx context.Context, cursor uuid.UUID, limit int32) ([]monitor.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]monitor.Monitor, 0, len(s.byID))
	for id, m := range s.byID {
		if cursor != uuid.Nil && id.String() <= cursor.String() {
			continue
		}
		all = append(all, *m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID.String() < all[j].ID.String() })

	if int32(len(all)) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemStore) UpdateCAS(ctx context.Context, m monitor.Monitor) (monitor.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ForceCASConflicts > 0 {
		s.ForceCASConflicts--
		return monitor.Monitor{}, monitor.ErrVersionConflict
	}

	cur, ok := s.byID[m.ID]
	if !ok {
		return monitor.Monitor{}, notFound("memstore.update_cas")
	}
	if cur.Version != m.Version {
		return monitor.Monitor{}, monitor.ErrVersionConflict
	}

	cur.Status = m.Status
	cur.ConsecutiveFailures = m.ConsecutiveFailures
	cur.ConsecutiveSuccesses = m.ConsecutiveSuccesses
	cur.LastExpectedAt = m.LastExpectedAt
	cur.LastRunID = m.LastRunID
	cur.Version++
	return *cur, nil
}

func (s *MemStore) CreateRun(ctx context.Context, run monitor.Run) (bool, monitor.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transientErr("memstore.create_run"); err != nil {
		return false, monitor.Run{}, err
	}

	key := occurrenceKey(run.MonitorID, run.ExpectedAt)
	if existingID, ok := s.byOccur[key]; ok {
		return false, *s.runs[existingID], nil
	}
	if _, ok := s.runs[run.ID]; ok {
		// primary key on id: a run id cannot be reused for another occurrence
		return false, monitor.Run{}, &apperror.Error{Kind: apperror.DatabaseErr, Op: "memstore.create_run", Message: "internal server error"}
	}

	cp := run
	cp.CreatedAt = time.Now().UTC()
	s.runs[run.ID] = &cp
	s.byOccur[key] = run.ID
	return true, cp, nil
}

func (s *MemStore) GetRun(ctx context.Context, runID uuid.UUID) (monitor.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transientErr("memstore.get_run"); err != nil {
		return monitor.Run{}, err
	}

	run, ok := s.runs[runID]
	if !ok {
		return monitor.Run{}, notFound("memstore.get_run")
	}
	return *run, nil
}

func (s *MemStore) RunByExpected(ctx context.Context, monitorID uuid.UUID, expectedAt time.Time) (monitor.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byOccur[occurrenceKey(monitorID, expectedAt)]
	if !ok {
		return monitor.Run{}, notFound("memstore.run_by_expected")
	}
	return *s.runs[id], nil
}

func (s *MemStore) LatestOpenRun(ctx context.Context, monitorID uuid.UUID) (monitor.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transientErr("memstore.latest_open_run"); err != nil {
		return monitor.Run{}, err
	}

	var latest *monitor.Run
	for _, run := range s.runs {
		if run.MonitorID != monitorID || !run.Open() {
			continue
		}
		if latest == nil || run.ExpectedAt.After(latest.ExpectedAt) {
			latest = run
		}
	}
	if latest == nil {
		return monitor.Run{}, notFound("memstore.latest_open_run")
	}
	return *latest, nil
}

func (s *MemStore) OpenRuns(ctx context.Context, monitorID uuid.UUID) ([]monitor.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []monitor.Run
	for _, run := range s.runs {
		if run.MonitorID == monitorID && run.Open() {
			out = append(out, *run)
		}
	}
	return out, nil
}

func (s *MemStore) ClaimRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transientErr("memstore.claim_run_start"); err != nil {
		return false, err
	}

	run, ok := s.runs[runID]
	if !ok {
		return false, notFound("memstore.claim_run_start")
	}
	if run.StartedAt != nil {
		return false, nil
	}
	t := startedAt
	run.StartedAt = &t
	return true, nil
}

func (s *MemStore) CloseRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, outcome monitor.Outcome) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transientErr("memstore.close_run"); err != nil {
		return false, err
	}

	run, ok := s.runs[runID]
	if !ok {
		return false, notFound("memstore.close_run")
	}
	if run.Terminal() {
		return false, nil
	}
	t := finishedAt
	run.FinishedAt = &t
	run.TerminalStatus = outcome
	return true, nil
}
