package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"logoforge/internal/types"
)

// LogoRepo provides data access for the logos table (the saved-logo
// collection).
//
// Schema:
//
//	logos (
//	    id            TEXT PRIMARY KEY,
//	    user_id       TEXT NOT NULL REFERENCES users(id),
//	    prompt        TEXT NOT NULL,
//	    image_url     TEXT NOT NULL,
//	    business_name TEXT NOT NULL DEFAULT '',
//	    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
//	)
type LogoRepo struct {
	db DBTX
}

// NewLogoRepo creates a LogoRepo backed by the given connection (pool or tx).
func NewLogoRepo(db DBTX) *LogoRepo {
	return &LogoRepo{db: db}
}

// Save stores a logo in the user's collection. A missing ID is assigned.
func (r *LogoRepo) Save(ctx context.Context, logo *types.Logo) error {
	if logo.ID == "" {
		logo.ID = uuid.New().String()
	}
	if logo.CreatedAt.IsZero() {
		logo.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO logos (id, user_id, prompt, image_url, business_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		logo.ID, logo.UserID, logo.Prompt, logo.ImageURL, logo.BusinessName, logo.CreatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save logo", err)
	}
	return nil
}

// ListByUser returns the user's saved logos, newest first.
func (r *LogoRepo) ListByUser(ctx context.Context, userID string) ([]*types.Logo, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, prompt, image_url, business_name, created_at
		FROM logos
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list logos", err)
	}
	defer rows.Close()

	var logos []*types.Logo
	for rows.Next() {
		var l types.Logo
		if err := rows.Scan(&l.ID, &l.UserID, &l.Prompt, &l.ImageURL, &l.BusinessName, &l.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan logo row", err)
		}
		logos = append(logos, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating logo rows", err)
	}

	return logos, nil
}

// Delete removes a logo from the user's collection. Ownership is enforced in
// the WHERE clause; deleting another user's logo reads as not found.
func (r *LogoRepo) Delete(ctx context.Context, id, userID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM logos WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete logo", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundLogo, "logo not found", nil)
	}
	return nil
}
