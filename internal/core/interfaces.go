package core

import (
	"context"

	"logoforge/internal/types"
)

// Authenticator decouples the HTTP layer from the identity provider,
// allowing for easy mocking in tests.
type Authenticator interface {
	// ResolveToken verifies an opaque bearer token and returns the Actor it
	// belongs to, creating the local account on first sight.
	//
	// Distinct error codes:
	//   - ErrCodeAuthTokenInvalid if the token is malformed, unknown, or revoked.
	//   - ErrCodeAuthTokenExpired if the token exists but has expired.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}
