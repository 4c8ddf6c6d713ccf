package checkin

import (
	"context"
	"time"

	"cronguard/pkg/utils"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Repository appends and reads the immutable check-in audit log. Rows are
// never updated; state transitions live on monitors and runs.
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

const qAppendCheckIn = `
INSERT INTO checkins (checkin_id, monitor_id, status, ts, duration_sec, created_at)
VALUES ($1, $2, $3, $4, $5, $6);`

func (r *Repository) Append(ctx context.Context, rec Record) error {
	_, err := r.pool.Exec(ctx, qAppendCheckIn,
		toPgNullableUUID(rec.CheckInID),
		utils.ToPgUUID(rec.MonitorID),
		string(rec.Status),
		rec.Timestamp,
		rec.DurationSec,
		time.Now().UTC(),
	)
	if err != nil {
		return utils.WrapRepoError("repo.checkin.append", err, false, r.logger)
	}
	return nil
}

const qListCheckIns = `
SELECT id, checkin_id, monitor_id, status, ts, duration_sec
FROM checkins
WHERE monitor_id = $1
ORDER BY ts DESC
LIMIT $2;`

func (r *Repository) ListByMonitor(ctx context.Context, monitorID uuid.UUID, limit int32) ([]Record, error) {
	rows, err := r.pool.Query(ctx, qListCheckIns, utils.ToPgUUID(monitorID), limit)
	if err != nil {
		return nil, utils.WrapRepoError("repo.checkin.list", err, false, r.logger)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var (
			rec                  Record
			checkinID, monitorID pgtype.UUID
			status               string
		)
		if err := rows.Scan(&rec.ID, &checkinID, &monitorID, &status, &rec.Timestamp, &rec.DurationSec); err != nil {
			return nil, utils.WrapRepoError("repo.checkin.list", err, false, r.logger)
		}
		rec.CheckInID = utils.FromPgUUID(checkinID)
		rec.MonitorID = utils.FromPgUUID(monitorID)
		rec.Status = Status(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.WrapRepoError("repo.checkin.list", err, false, r.logger)
	}
	return records, nil
}

func toPgNullableUUID(id uuid.UUID) pgtype.UUID {
	if id == uuid.Nil {
		return pgtype.UUID{Valid: false}
	}
	return utils.ToPgUUID(id)
}
