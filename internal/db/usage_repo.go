package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"logoforge/internal/quota"
	"logoforge/internal/types"
)

// PostgresLedger is the durable quota.Ledger used for authenticated tiers,
// where the lifetime count must survive restarts.
//
// Schema:
//
//	usage_records (
//	    identity   TEXT PRIMARY KEY,   -- e.g. "user:abc123" or "ip:203.0.113.9"
//	    period_key TEXT NOT NULL,
//	    count      INT  NOT NULL DEFAULT 0,
//	    reserved   INT  NOT NULL DEFAULT 0,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	)
//
// Each operation is a single statement so the check and the mutation happen
// under one row lock; the application never does read-modify-write.
type PostgresLedger struct {
	db DBTX
}

var _ quota.Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger creates a ledger backed by the given connection.
func NewPostgresLedger(db DBTX) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Count returns the committed count for the identity in the given period.
// A missing row or a row from an earlier period reads as zero.
func (l *PostgresLedger) Count(ctx context.Context, identity string, period quota.PeriodKey) (int, error) {
	var count int
	row := l.db.QueryRow(ctx, `
		SELECT count FROM usage_records
		WHERE identity = $1 AND period_key = $2`, identity, string(period))
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, types.NewAppError(types.ErrCodeInternalLedger, "failed to read usage count", err)
	}
	return count, nil
}

// Reserve claims one unit if count+reserved is under the limit, rolling a
// stale row over to the requested period first. The upsert's WHERE clause
// makes the compare-and-reserve atomic: a losing concurrent request sees no
// row returned and maps to ErrQuotaExceeded.
func (l *PostgresLedger) Reserve(ctx context.Context, identity string, period quota.PeriodKey, limit int) (quota.Reservation, error) {
	if limit <= 0 {
		// A fresh INSERT cannot be rejected by the conflict predicate, so the
		// degenerate limit is handled before touching the table.
		return quota.Reservation{}, quota.ErrQuotaExceeded
	}

	var reservedTotal int
	row := l.db.QueryRow(ctx, `
		INSERT INTO usage_records (identity, period_key, count, reserved, updated_at)
		VALUES ($1, $2, 0, 1, now())
		ON CONFLICT (identity) DO UPDATE SET
			period_key = EXCLUDED.period_key,
			count = CASE WHEN usage_records.period_key = EXCLUDED.period_key
				THEN usage_records.count ELSE 0 END,
			reserved = CASE WHEN usage_records.period_key = EXCLUDED.period_key
				THEN usage_records.reserved ELSE 0 END + 1,
			updated_at = now()
		WHERE CASE WHEN usage_records.period_key = EXCLUDED.period_key
			THEN usage_records.count + usage_records.reserved ELSE 0 END < $3
		RETURNING count + reserved`,
		identity, string(period), limit)
	if err := row.Scan(&reservedTotal); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return quota.Reservation{}, quota.ErrQuotaExceeded
		}
		return quota.Reservation{}, types.NewAppError(types.ErrCodeInternalLedger, "failed to reserve quota", err)
	}

	return quota.Reservation{
		ID:       uuid.New().String(),
		Identity: identity,
		Period:   period,
	}, nil
}

// Commit converts the reservation into a committed unit and returns the new
// count. If the period rolled over while the round was in flight, the charge
// lands on the new period as its first unit.
func (l *PostgresLedger) Commit(ctx context.Context, res quota.Reservation) (int, error) {
	var count int
	row := l.db.QueryRow(ctx, `
		UPDATE usage_records SET
			count = CASE WHEN period_key = $2 THEN count + 1 ELSE 1 END,
			reserved = CASE WHEN period_key = $2 AND reserved > 0
				THEN reserved - 1 ELSE 0 END,
			period_key = $2,
			updated_at = now()
		WHERE identity = $1
		RETURNING count`,
		res.Identity, string(res.Period))
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Row deleted out of band; the round still completed.
			return 0, nil
		}
		return 0, types.NewAppError(types.ErrCodeInternalLedger, "failed to commit quota reservation", err)
	}
	return count, nil
}

// Release abandons the reservation without charging. Releases against a row
// that rolled over to a new period are no-ops.
func (l *PostgresLedger) Release(ctx context.Context, res quota.Reservation) error {
	_, err := l.db.Exec(ctx, `
		UPDATE usage_records SET
			reserved = reserved - 1,
			updated_at = now()
		WHERE identity = $1 AND period_key = $2 AND reserved > 0`,
		res.Identity, string(res.Period))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalLedger, "failed to release quota reservation", err)
	}
	return nil
}
