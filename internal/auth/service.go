// Package auth resolves opaque bearer tokens into authenticated actors.
// Tokens are issued by an external identity provider; this backend never
// parses them, it asks the provider's introspection endpoint and provisions
// a local user row for the subject on first sight.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"logoforge/internal/external"
	"logoforge/internal/types"
)

// UserStore is the data access the token resolver needs: provisioning the
// local user row that carries premium entitlement.
type UserStore interface {
	Ensure(ctx context.Context, id, email string) (*types.User, error)
}

// Service implements core.Authenticator. It is the only component that talks
// to the identity provider; everything downstream works with types.Actor.
type Service struct {
	introspector external.TokenIntrospector
	users        UserStore
	logger       *slog.Logger
	now          func() time.Time
}

// ServiceConfig holds the dependencies for creating an auth Service.
type ServiceConfig struct {
	Introspector external.TokenIntrospector
	Users        UserStore
	Logger       *slog.Logger
	// Now overrides the clock; nil means time.Now. For tests.
	Now func() time.Time
}

// NewService creates a new auth Service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		introspector: cfg.Introspector,
		users:        cfg.Users,
		logger:       logger,
		now:          now,
	}
}

// ResolveToken verifies the token with the identity provider and returns the
// actor it belongs to, provisioning the local user row if this subject has
// never been seen before.
//
// A token the provider cannot vouch for is invalid, full stop: provider
// outages surface as auth_token_invalid rather than letting the caller
// through anonymously, because a presented token must never silently
// downgrade to anonymous access.
func (s *Service) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	result, err := s.introspector.Introspect(ctx, token)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeUpstreamIdentity {
			s.logger.ErrorContext(ctx, "identity provider unreachable during token resolution",
				slog.String("error", appErr.Message),
			)
		}
		return nil, types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			"token could not be verified",
			err,
		)
	}

	if !result.Active {
		return nil, types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			"token is not active",
			nil,
		)
	}

	if !result.ExpiresAt.IsZero() && !result.ExpiresAt.After(s.now()) {
		return nil, types.NewAppError(
			types.ErrCodeAuthTokenExpired,
			"token has expired",
			nil,
		)
	}

	if result.Subject == "" {
		return nil, types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			"token has no subject",
			nil,
		)
	}

	user, err := s.users.Ensure(ctx, result.Subject, result.Email)
	if err != nil {
		return nil, err
	}

	return &types.Actor{
		ID:      user.ID,
		Email:   user.Email,
		Premium: user.Premium,
	}, nil
}
