package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"logoforge/internal/types"
)

// UserRepo provides data access for the users table.
//
// Schema:
//
//	users (
//	    id                 TEXT PRIMARY KEY,      -- identity-provider subject
//	    email              TEXT NOT NULL UNIQUE,
//	    premium            BOOLEAN NOT NULL DEFAULT FALSE,
//	    stripe_customer_id TEXT,
//	    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    upgraded_at        TIMESTAMPTZ
//	)
type UserRepo struct {
	db DBTX
}

// NewUserRepo creates a UserRepo backed by the given connection (pool or tx).
func NewUserRepo(db DBTX) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, email, premium, stripe_customer_id, created_at, upgraded_at`

// GetByID returns the user with the given ID, or a not_found error.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*types.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// Ensure creates the account on first sight of a verified identity-provider
// subject, or returns the existing row. The upsert keeps the email current
// without touching entitlement fields.
func (r *UserRepo) Ensure(ctx context.Context, id, email string) (*types.User, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO users (id, email)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email
		RETURNING `+userColumns, id, email)
	return scanUser(row)
}

// GrantPremium marks the account as having the unlimited entitlement.
// Idempotent: replayed webhook deliveries leave the row unchanged.
func (r *UserRepo) GrantPremium(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET premium = TRUE,
		    upgraded_at = COALESCE(upgraded_at, now())
		WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to grant premium entitlement", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// UpdateStripeCustomerID records the Stripe customer created for the account.
func (r *UserRepo) UpdateStripeCustomerID(ctx context.Context, id, customerID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users SET stripe_customer_id = $2 WHERE id = $1`, id, customerID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update stripe customer id", err)
	}
	return nil
}

// GetBillingInfo returns the Stripe customer ID (empty if none yet) and the
// billing email for the given user.
func (r *UserRepo) GetBillingInfo(ctx context.Context, id string) (customerID string, email string, err error) {
	var stored *string
	row := r.db.QueryRow(ctx,
		`SELECT stripe_customer_id, email FROM users WHERE id = $1`, id)
	if err := row.Scan(&stored, &email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", types.NewAppError(types.ErrCodeNotFoundUser, "user not found", err)
		}
		return "", "", types.NewAppError(types.ErrCodeInternalDB, "failed to read billing info", err)
	}
	if stored != nil {
		customerID = *stored
	}
	return customerID, email, nil
}

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Premium,
		&u.StripeCustomerID,
		&u.CreatedAt,
		&u.UpgradedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan user row", err)
	}
	return &u, nil
}
