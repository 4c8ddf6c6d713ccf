package sweeper

import (
	"context"
	"time"

	"cronguard/config"
	"cronguard/internals/modules/monitor"
	"cronguard/internals/modules/schedule"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// elector is what the sweep loop needs from leadership. Satisfied by Leader;
// tests plug in a stub.
type elector interface {
	Acquired(ctx context.Context) bool
	Release(ctx context.Context)
}

// Sweeper finds the state transitions no check-in will ever report: runs
// that never started (Missed) and runs that never finished (Timeout). It
// writes them through the same store primitives as the ingestor, so a
// check-in racing a sweep decision settles on whoever wins the row.
type Sweeper struct {
	ctx            context.Context
	store          monitor.Store
	monitorSvc     *monitor.Service
	eval           *schedule.Evaluator
	leader         elector
	interval       time.Duration
	pageSize       int32
	monitorTimeout time.Duration
	logger         *zerolog.Logger

	done chan struct{}
}

func NewSweeper(
	ctx context.Context,
	store monitor.Store,
	monitorSvc *monitor.Service,
	eval *schedule.Evaluator,
	leader elector,
	cfg *config.SweeperConfig,
	logger *zerolog.Logger,
) *Sweeper {
	return &Sweeper{
		ctx:            ctx,
		store:          store,
		monitorSvc:     monitorSvc,
		eval:           eval,
		leader:         leader,
		interval:       cfg.Interval,
		pageSize:       cfg.PageSize,
		monitorTimeout: cfg.MonitorTimeout,
		logger:         logger,
		done:           make(chan struct{}),
	}
}

// Run ticks until the root context is cancelled. Sweeps only happen while
// this instance holds leadership.
func (sw *Sweeper) Run() {
	defer close(sw.done)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sw.ctx.Done():
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			sw.leader.Release(releaseCtx)
			cancel()
			return

		case <-ticker.C:
			if !sw.leader.Acquired(sw.ctx) {
				continue
			}
			sw.sweep(time.Now().UTC())
		}
	}
}

// Wait blocks until the sweep loop has exited. Call after cancelling the
// root context and before tearing down anything a sweep writes to, so no
// in-flight pass can emit on a closed channel.
func (sw *Sweeper) Wait() {
	<-sw.done
}

// sweep is one full pass over all monitors.
func (sw *Sweeper) sweep(now time.Time) {
	cursor := uuid.Nil

	for {
		monitors, err := sw.store.List(sw.ctx, cursor, sw.pageSize)
		if err != nil {
			sw.logger.Error().Err(err).Msg("sweep aborted, failed to list monitors")
			return
		}
		if len(monitors) == 0 {
			return
		}

		for i := range monitors {
			m := &monitors[i]

			// one slow monitor must not stall the whole pass
			mctx, cancel := context.WithTimeout(sw.ctx, sw.monitorTimeout)
			sw.sweepMonitor(mctx, m, now)
			cancel()

			if sw.ctx.Err() != nil {
				return
			}
		}

		cursor = monitors[len(monitors)-1].ID
	}
}

func (sw *Sweeper) sweepMonitor(ctx context.Context, m *monitor.Monitor, now time.Time) {
	if err := sw.detectMissed(ctx, m, now); err != nil {
		sw.logger.Error().Err(err).Str("monitor_slug", m.Slug).Msg("missed detection failed")
	}
	if err := sw.detectTimeouts(ctx, m, now); err != nil {
		sw.logger.Error().Err(err).Str("monitor_slug", m.Slug).Msg("timeout detection failed")
	}
}

// detectMissed closes the latest overdue occurrence as Missed when nothing
// ever started it. The synthesized run row doubles as the marker that the
// occurrence was handled, so repeat passes are no-ops.
func (sw *Sweeper) detectMissed(ctx context.Context, m *monitor.Monitor, now time.Time) error {
	expected, err := sw.eval.Prev(m.Schedule, m.CreatedAt, now)
	if err != nil {
		return err
	}
	if expected.IsZero() {
		return nil
	}

	if schedule.Window(expected, m.Margin(), now) != schedule.WindowMissed {
		// still inside the margin, nothing to decide yet
		return nil
	}

	created, run, err := sw.store.CreateRun(ctx, monitor.Run{
		ID:               uuid.New(),
		MonitorID:        m.ID,
		ExpectedAt:       expected,
		TerminalStatus:   monitor.OutcomeMissed,
		CheckinMarginMin: m.CheckinMarginMin,
		MaxRuntimeMin:    m.MaxRuntimeMin,
	})
	if err != nil {
		return err
	}
	if !created {
		// a check-in got there first; its run speaks for this occurrence
		return nil
	}

	sw.logger.Info().
		Str("monitor_slug", m.Slug).
		Str("environment", m.Environment).
		Time("expected_at", expected).
		Msg("run missed, no check-in inside margin")

	return sw.monitorSvc.RecordOutcome(ctx, m.ID, run.ID, monitor.OutcomeMissed)
}

// detectTimeouts closes open runs that exceeded their snapshotted max
// runtime. A zero max runtime means the run is unbounded and never times
// out.
func (sw *Sweeper) detectTimeouts(ctx context.Context, m *monitor.Monitor, now time.Time) error {
	runs, err := sw.store.OpenRuns(ctx, m.ID)
	if err != nil {
		return err
	}

	for i := range runs {
		run := &runs[i]
		if run.MaxRuntimeMin <= 0 {
			continue
		}

		deadline := run.StartedAt.Add(time.Duration(run.MaxRuntimeMin) * time.Minute)
		if !now.After(deadline) {
			continue
		}

		closed, err := sw.store.CloseRun(ctx, run.ID, now, monitor.OutcomeTimeout)
		if err != nil {
			return err
		}
		if !closed {
			// a terminal check-in won the race; our decision is moot
			continue
		}

		sw.logger.Info().
			Str("monitor_slug", m.Slug).
			Str("environment", m.Environment).
			Str("run_id", run.ID.String()).
			Time("started_at", *run.StartedAt).
			Msg("run exceeded max runtime, closed as timeout")

		if err := sw.monitorSvc.RecordOutcome(ctx, m.ID, run.ID, monitor.OutcomeTimeout); err != nil {
			return err
		}
	}
	return nil
}
