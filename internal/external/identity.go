package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"logoforge/internal/types"
)

// IdentityClientConfig holds the configuration for creating an IdentityClient.
type IdentityClientConfig struct {
	// IntrospectionURL is the provider's token introspection endpoint.
	IntrospectionURL string
	// ClientSecret authenticates this backend to the introspection endpoint.
	ClientSecret types.SecretString
	Logger       *slog.Logger
}

// introspectionResponse follows the RFC 7662 introspection response shape.
type introspectionResponse struct {
	Active  bool   `json:"active"`
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Exp     int64  `json:"exp"`
}

// IdentityClient implements TokenIntrospector against the external identity
// provider's introspection endpoint. Tokens are opaque to this backend; the
// provider is the sole authority on validity.
type IdentityClient struct {
	base             *BaseClient
	introspectionURL string
	clientSecret     types.SecretString
	logger           *slog.Logger
}

var _ TokenIntrospector = (*IdentityClient)(nil)

// NewIdentityClient creates a new IdentityClient.
func NewIdentityClient(httpClient *http.Client, cfg IdentityClientConfig) *IdentityClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"identity",
		RetryPolicy{
			MaxRetries: 1,
			MinWait:    200 * time.Millisecond,
			MaxWait:    2 * time.Second,
		},
		"LogoForge/1.0",
	)

	return &IdentityClient{
		base:             base,
		introspectionURL: cfg.IntrospectionURL,
		clientSecret:     cfg.ClientSecret,
		logger:           logger,
	}
}

// NewIdentityClientWithBase creates an IdentityClient with a pre-configured
// BaseClient, for tests that control retry behavior.
func NewIdentityClientWithBase(base *BaseClient, cfg IdentityClientConfig) *IdentityClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &IdentityClient{
		base:             base,
		introspectionURL: cfg.IntrospectionURL,
		clientSecret:     cfg.ClientSecret,
		logger:           logger,
	}
}

// Introspect submits the token to the provider and returns its verdict.
// Provider outages surface as upstream errors, not as invalid tokens;
// the auth layer decides how to treat them.
func (c *IdentityClient) Introspect(ctx context.Context, token string) (*Introspection, error) {
	form := url.Values{}
	form.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.introspectionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create introspection request",
			err,
		)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.clientSecret.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, c.wrapError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("identity provider introspection error",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(bodyBytes)),
		)
		return nil, types.NewAppError(
			types.ErrCodeUpstreamIdentity,
			fmt.Sprintf("identity provider returned %d", resp.StatusCode),
			fmt.Errorf("introspection returned %d: %s", resp.StatusCode, string(bodyBytes)),
		)
	}

	var body introspectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamIdentity,
			"failed to decode introspection response",
			err,
		)
	}

	result := &Introspection{
		Active:  body.Active,
		Subject: body.Subject,
		Email:   body.Email,
	}
	if body.Exp > 0 {
		result.ExpiresAt = time.Unix(body.Exp, 0).UTC()
	}

	return result, nil
}

// wrapError converts errors from BaseClient.Do into identity-domain errors
// while preserving upstream rate-limit codes.
func (c *IdentityClient) wrapError(err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		if appErr.Code == types.ErrCodeUpstreamRateLimit {
			return appErr
		}
		return types.NewAppError(
			types.ErrCodeUpstreamIdentity,
			fmt.Sprintf("Introspect: %s", appErr.Message),
			appErr.Err,
		)
	}

	return types.NewAppError(
		types.ErrCodeUpstreamIdentity,
		"Introspect failed",
		err,
	)
}
