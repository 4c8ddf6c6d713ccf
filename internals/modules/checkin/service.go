package checkin

import (
	"context"
	"math/rand"
	"time"

	"cronguard/internals/modules/monitor"
	"cronguard/internals/modules/schedule"
	"cronguard/pkg/apperror"
	"cronguard/pkg/ratelimit"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	storeAttempts    = 3
	storeBackoffBase = 25 * time.Millisecond
)

type Auditor interface {
	Append(ctx context.Context, rec Record) error
	ListByMonitor(ctx context.Context, monitorID uuid.UUID, limit int32) ([]Record, error)
}

type Service struct {
	store      monitor.Store
	monitorSvc *monitor.Service
	audit      Auditor
	eval       *schedule.Evaluator
	limiter    ratelimit.Limiter
	logger     *zerolog.Logger
}

func NewService(
	store monitor.Store,
	monitorSvc *monitor.Service,
	audit Auditor,
	eval *schedule.Evaluator,
	limiter ratelimit.Limiter,
	logger *zerolog.Logger,
) *Service {
	return &Service{
		store:      store,
		monitorSvc: monitorSvc,
		audit:      audit,
		eval:       eval,
		limiter:    limiter,
		logger:     logger,
	}
}

// Ingest runs one check-in through the pipeline: config upsert, rate limit,
// run correlation, threshold advance. A rate-limited event is dropped before
// it can touch any run state; a store failure is surfaced so the client can
// retry (resending is safe, run writes are first-writer-wins).
func (s *Service) Ingest(ctx context.Context, cmd IngestCmd) (Result, error) {

	m, err := s.resolveMonitor(ctx, cmd)
	if err != nil {
		return Result{}, err
	}

	allowed, err := s.limiter.Allow(ctx, m.Key())
	if err != nil {
		// limiter outage must not take ingestion down with it
		s.logger.Warn().Err(err).Str("monitor_slug", m.Slug).Msg("rate limiter unavailable, letting check-in through")
		allowed = true
	}
	if !allowed {
		return Result{}, apperror.New(apperror.RateLimited, "service.checkin.ingest", nil).
			WithMessage("check-in quota exceeded for this monitor, event dropped")
	}

	var result Result
	switch cmd.Status {
	case StatusInProgress:
		result, err = s.ingestStart(ctx, m, cmd)
	case StatusOk, StatusError:
		result, err = s.ingestTerminal(ctx, m, cmd)
	default:
		return Result{}, apperror.New(apperror.InvalidInput, "service.checkin.ingest", nil).
			WithMessage("unknown check-in status")
	}
	if err != nil {
		return Result{}, err
	}

	// audit append is best-effort: the run transition already committed
	if err := s.audit.Append(ctx, Record{
		CheckInID:   result.CheckInID,
		MonitorID:   m.ID,
		Status:      cmd.Status,
		Timestamp:   cmd.ReceivedAt,
		DurationSec: cmd.DurationSec,
	}); err != nil {
		s.logger.Error().Err(err).Str("monitor_slug", m.Slug).Msg("failed to append check-in audit record")
	}

	return result, nil
}

// storeRetry runs one store operation, retrying transient failures with a
// short jittered backoff before surfacing them. Monitor upserts and run
// writes are idempotent or first-writer-wins, so repeating an attempt is
// safe.
func (s *Service) storeRetry(ctx context.Context, op string, fn func() error) error {
	var err error

	for attempt := 0; attempt < storeAttempts; attempt++ {
		if attempt > 0 {
			d := storeBackoffBase*time.Duration(attempt) + time.Duration(rand.Int63n(int64(storeBackoffBase)))
			select {
			case <-ctx.Done():
				return apperror.New(apperror.RequestTimeout, op, ctx.Err())
			case <-time.After(d):
			}
			s.logger.Warn().Str("op", op).Int("attempt", attempt+1).Msg("retrying store operation")
		}

		if err = fn(); err == nil || !apperror.Retriable(err) {
			return err
		}
	}
	return err
}

// resolveMonitor upserts when the check-in carries config, otherwise the
// monitor must already exist. A monitor that never checked in with config
// does not exist and produces no state.
func (s *Service) resolveMonitor(ctx context.Context, cmd IngestCmd) (monitor.Monitor, error) {
	var m monitor.Monitor

	if cmd.Config == nil {
		err := s.storeRetry(ctx, "service.checkin.resolve", func() error {
			var err error
			m, err = s.store.Get(ctx, cmd.Slug, cmd.Environment)
			return err
		})
		return m, err
	}

	cfg := *cmd.Config
	cfg.Slug = cmd.Slug
	cfg.Environment = cmd.Environment

	if err := s.eval.Validate(cfg.Schedule); err != nil {
		return monitor.Monitor{}, apperror.New(apperror.InvalidInput, "service.checkin.resolve", err).
			WithMessage(err.Error())
	}

	err := s.storeRetry(ctx, "service.checkin.resolve", func() error {
		var err error
		m, err = s.monitorSvc.Upsert(ctx, cfg)
		return err
	})
	return m, err
}

// ingestStart correlates an in_progress check-in to the expected occurrence
// nearest its arrival and claims the run start. The first writer's run_id
// sticks; a duplicate in_progress for the same occurrence is a no-op.
func (s *Service) ingestStart(ctx context.Context, m monitor.Monitor, cmd IngestCmd) (Result, error) {
	expected, err := s.eval.Nearest(m.Schedule, m.CreatedAt, cmd.ReceivedAt)
	if err != nil {
		return Result{}, apperror.New(apperror.InvalidInput, "service.checkin.start", err).
			WithMessage("monitor schedule cannot be evaluated")
	}

	runID := cmd.CheckInID
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	startedAt := cmd.ReceivedAt

	var created bool
	var run monitor.Run
	err = s.storeRetry(ctx, "service.checkin.start", func() error {
		var err error
		created, run, err = s.store.CreateRun(ctx, monitor.Run{
			ID:               runID,
			MonitorID:        m.ID,
			ExpectedAt:       expected,
			StartedAt:        &startedAt,
			CheckinMarginMin: m.CheckinMarginMin,
			MaxRuntimeMin:    m.MaxRuntimeMin,
		})
		return err
	})
	if err != nil {
		return Result{}, err
	}

	if !created && run.StartedAt == nil {
		// occurrence row exists but never started (sweep-made missed run);
		// record the late start without touching its terminal status
		err := s.storeRetry(ctx, "service.checkin.start", func() error {
			_, err := s.store.ClaimRunStart(ctx, run.ID, startedAt)
			return err
		})
		if err != nil {
			return Result{}, err
		}
	}

	if err := s.monitorSvc.RecordStart(ctx, m.ID, run.ID, expected); err != nil {
		return Result{}, err
	}

	return Result{CheckInID: run.ID}, nil
}

// ingestTerminal closes the run this check-in references. First terminal
// writer wins: a close that arrives after a sweep already marked the run
// missed or timed out is recorded for audit but does not re-open anything.
func (s *Service) ingestTerminal(ctx context.Context, m monitor.Monitor, cmd IngestCmd) (Result, error) {
	outcome := monitor.OutcomeOk
	if cmd.Status == StatusError {
		outcome = monitor.OutcomeError
	}

	run, found, err := s.locateRun(ctx, m, cmd)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return s.heartbeat(ctx, m, cmd, outcome)
	}

	var closed bool
	err = s.storeRetry(ctx, "service.checkin.terminal", func() error {
		var err error
		closed, err = s.store.CloseRun(ctx, run.ID, cmd.ReceivedAt, outcome)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	if !closed {
		// lost the terminal race; keep the event for audit only
		s.logger.Debug().
			Str("monitor_slug", m.Slug).
			Str("run_id", run.ID.String()).
			Msg("late terminal check-in, run already closed")
		return Result{CheckInID: run.ID}, nil
	}

	if err := s.monitorSvc.RecordOutcome(ctx, m.ID, run.ID, outcome); err != nil {
		return Result{}, err
	}
	return Result{CheckInID: run.ID}, nil
}

func (s *Service) locateRun(ctx context.Context, m monitor.Monitor, cmd IngestCmd) (monitor.Run, bool, error) {
	var run monitor.Run

	if cmd.CheckInID != uuid.Nil {
		err := s.storeRetry(ctx, "service.checkin.locate", func() error {
			var err error
			run, err = s.store.GetRun(ctx, cmd.CheckInID)
			return err
		})
		if apperror.IsKind(err, apperror.NotFound) {
			// unknown id: treat as heartbeat completion
			return monitor.Run{}, false, nil
		}
		if err != nil {
			return monitor.Run{}, false, err
		}
		if run.MonitorID != m.ID {
			// id belongs to another monitor's run; never close across monitors
			return monitor.Run{}, false, nil
		}
		return run, true, nil
	}

	err := s.storeRetry(ctx, "service.checkin.locate", func() error {
		var err error
		run, err = s.store.LatestOpenRun(ctx, m.ID)
		return err
	})
	if apperror.IsKind(err, apperror.NotFound) {
		return monitor.Run{}, false, nil
	}
	if err != nil {
		return monitor.Run{}, false, err
	}
	return run, true, nil
}

// heartbeat opens and immediately closes a run for a terminal check-in that
// references no in_progress. Jobs that only report completion still drive
// the state machine this way.
func (s *Service) heartbeat(ctx context.Context, m monitor.Monitor, cmd IngestCmd, outcome monitor.Outcome) (Result, error) {
	expected, err := s.eval.Nearest(m.Schedule, m.CreatedAt, cmd.ReceivedAt)
	if err != nil {
		return Result{}, apperror.New(apperror.InvalidInput, "service.checkin.heartbeat", err).
			WithMessage("monitor schedule cannot be evaluated")
	}

	runID := cmd.CheckInID
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	now := cmd.ReceivedAt

	var created bool
	var run monitor.Run
	err = s.storeRetry(ctx, "service.checkin.heartbeat", func() error {
		var err error
		created, run, err = s.store.CreateRun(ctx, monitor.Run{
			ID:               runID,
			MonitorID:        m.ID,
			ExpectedAt:       expected,
			StartedAt:        &now,
			FinishedAt:       &now,
			TerminalStatus:   outcome,
			CheckinMarginMin: m.CheckinMarginMin,
			MaxRuntimeMin:    m.MaxRuntimeMin,
		})
		return err
	})
	if err != nil {
		return Result{}, err
	}

	if !created {
		if run.Terminal() {
			// occurrence already settled; audit only
			return Result{CheckInID: run.ID}, nil
		}
		var closed bool
		err := s.storeRetry(ctx, "service.checkin.heartbeat", func() error {
			var err error
			closed, err = s.store.CloseRun(ctx, run.ID, now, outcome)
			return err
		})
		if err != nil {
			return Result{}, err
		}
		if !closed {
			return Result{CheckInID: run.ID}, nil
		}
	}

	if err := s.monitorSvc.RecordOutcome(ctx, m.ID, run.ID, outcome); err != nil {
		return Result{}, err
	}
	return Result{CheckInID: run.ID}, nil
}

// ListForMonitor returns the recent audit trail for one monitor.
func (s *Service) ListForMonitor(ctx context.Context, slug, environment string, limit int32) (monitor.Monitor, []Record, error) {
	m, err := s.store.Get(ctx, slug, environment)
	if err != nil {
		return monitor.Monitor{}, nil, err
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	records, err := s.audit.ListByMonitor(ctx, m.ID, limit)
	if err != nil {
		return monitor.Monitor{}, nil, err
	}
	return m, records, nil
}
