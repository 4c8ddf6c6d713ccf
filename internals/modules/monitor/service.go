package monitor

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"cronguard/internals/modules/alert"
	"cronguard/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	store       Store
	alertChan   chan<- alert.Event
	casAttempts int
	backoffBase time.Duration
	logger      *zerolog.Logger
}

func NewService(store Store, alertChan chan<- alert.Event, casAttempts int, backoffBase time.Duration, logger *zerolog.Logger) *Service {
	if casAttempts < 1 {
		casAttempts = 3
	}
	if backoffBase <= 0 {
		backoffBase = 25 * time.Millisecond
	}
	return &Service{
		store:       store,
		alertChan:   alertChan,
		casAttempts: casAttempts,
		backoffBase: backoffBase,
		logger:      logger,
	}
}

// Upsert creates or updates the monitor config. Thresholds default to 1 so
// a bare config still produces a working state machine.
func (s *Service) Upsert(ctx context.Context, cmd UpsertCmd) (Monitor, error) {
	if cmd.FailureThreshold < 1 {
		cmd.FailureThreshold = 1
	}
	if cmd.RecoveryThreshold < 1 {
		cmd.RecoveryThreshold = 1
	}
	if cmd.CheckinMarginMin < 0 {
		cmd.CheckinMarginMin = 0
	}
	if cmd.MaxRuntimeMin < 0 {
		cmd.MaxRuntimeMin = 0
	}
	return s.store.Upsert(ctx, cmd)
}

func (s *Service) Get(ctx context.Context, slug, environment string) (Monitor, error) {
	return s.store.Get(ctx, slug, environment)
}

func (s *Service) List(ctx context.Context, cursor uuid.UUID, limit int32) ([]Monitor, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.store.List(ctx, cursor, limit)
}

// RecordStart updates the monitor's last-run bookkeeping after an
// in_progress check-in claimed a run. Counters are untouched.
func (s *Service) RecordStart(ctx context.Context, monitorID, runID uuid.UUID, expectedAt time.Time) error {
	return s.casRetry(ctx, "service.monitor.record_start", monitorID, func(m *Monitor) *Transition {
		m.LastRunID = runID
		if expectedAt.After(m.LastExpectedAt) {
			m.LastExpectedAt = expectedAt
		}
		return nil
	})
}

// RecordOutcome is the threshold engine entry point: it applies one terminal
// run outcome under CAS and emits the Degraded/Recovered transition when a
// threshold is crossed. Both the ingestor and the sweeper land here, so a
// concurrent check-in and sweep decision are linearized on the monitor row.
func (s *Service) RecordOutcome(ctx context.Context, monitorID, runID uuid.UUID, outcome Outcome) error {
	return s.casRetry(ctx, "service.monitor.record_outcome", monitorID, func(m *Monitor) *Transition {
		t := AdvanceThresholds(m, outcome)
		if runID != uuid.Nil {
			m.LastRunID = runID
		}
		return t
	})
}

// casRetry runs the read-mutate-write cycle. The mutation is applied to a
// freshly read monitor on every attempt; on version conflict it re-reads and
// tries again with a short jittered backoff, then surfaces Conflict.
func (s *Service) casRetry(ctx context.Context, op string, monitorID uuid.UUID, mutate func(*Monitor) *Transition) error {
	var lastErr error

	for attempt := 0; attempt < s.casAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return apperror.New(apperror.RequestTimeout, op, ctx.Err())
			case <-time.After(s.backoff(attempt)):
			}
		}

		m, err := s.store.GetByID(ctx, monitorID)
		if err != nil {
			if !apperror.Retriable(err) {
				return err
			}
			lastErr = err
			continue
		}

		transition := mutate(&m)

		updated, err := s.store.UpdateCAS(ctx, m)
		if errors.Is(err, ErrVersionConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			if !apperror.Retriable(err) {
				return err
			}
			lastErr = err
			continue
		}

		if transition != nil {
			s.emit(ctx, updated, transition)
		}
		return nil
	}

	s.logger.Warn().
		Str("op", op).
		Str("monitor_id", monitorID.String()).
		Int("attempts", s.casAttempts).
		Msg("monitor write retries exhausted")

	if apperror.Retriable(lastErr) {
		// store outage: the error already carries the dependency kind
		return lastErr
	}
	return apperror.New(apperror.Conflict, op, lastErr).
		WithMessage("monitor state contended, retry the check-in")
}

func (s *Service) backoff(attempt int) time.Duration {
	d := s.backoffBase * time.Duration(attempt)
	jitter := time.Duration(rand.Int63n(int64(s.backoffBase)))
	return d + jitter
}

func (s *Service) emit(ctx context.Context, m Monitor, t *Transition) {
	transition := alert.TransitionRecovered
	if t.To == StatusDown {
		transition = alert.TransitionDegraded
	}

	event := alert.Event{
		MonitorSlug:      m.Slug,
		Environment:      m.Environment,
		Transition:       transition,
		ConsecutiveCount: t.ConsecutiveCount,
		Timestamp:        time.Now().UTC(),
	}

	select {
	case s.alertChan <- event:
	case <-ctx.Done():
		s.logger.Warn().
			Str("monitor_slug", m.Slug).
			Str("transition", string(transition)).
			Msg("dropped transition event, context cancelled")
	}
}
