package sweeper

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Leader gates the sweep loop on a Postgres advisory lock so only one
// instance per shard runs sweeps. The lock is session-scoped: it lives on a
// dedicated pooled connection and postgres releases it server-side if that
// connection dies. Duplicate sweeps would be harmless (every write is CAS or
// first-writer-wins), just wasteful.
type Leader struct {
	pool    *pgxpool.Pool
	lockKey int64
	conn    *pgxpool.Conn
	logger  *zerolog.Logger
}

func NewLeader(pool *pgxpool.Pool, lockKey int64, logger *zerolog.Logger) *Leader {
	return &Leader{
		pool:    pool,
		lockKey: lockKey,
		logger:  logger,
	}
}

// Acquired reports whether this instance currently holds leadership,
// attempting to take the lock when it does not. The ping on the held
// connection detects local connection death so a demoted instance stops
// sweeping promptly.
func (l *Leader) Acquired(ctx context.Context) bool {
	if l.conn != nil {
		if err := l.conn.Ping(ctx); err == nil {
			return true
		}
		l.logger.Warn().Int64("lock_key", l.lockKey).Msg("leader connection lost, releasing lock")
		l.conn.Release()
		l.conn = nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to acquire connection for leader election")
		return false
	}

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.lockKey).Scan(&acquired); err != nil {
		l.logger.Error().Err(err).Msg("advisory lock query failed")
		conn.Release()
		return false
	}
	if !acquired {
		conn.Release()
		return false
	}

	l.logger.Info().Int64("lock_key", l.lockKey).Msg("acquired sweep leadership")
	l.conn = conn
	return true
}

func (l *Leader) Release(ctx context.Context) {
	if l.conn == nil {
		return
	}
	if _, err := l.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", l.lockKey); err != nil {
		l.logger.Warn().Err(err).Msg("advisory unlock failed")
	}
	l.conn.Release()
	l.conn = nil
	l.logger.Info().Int64("lock_key", l.lockKey).Msg("released sweep leadership")
}
