package external

import (
	"context"
	"time"

	"logoforge/internal/types"
)

// ImageGenerator produces one logo image per call. Implementations map all
// provider failures to upstream AppErrors; the generation dispatcher decides
// whether those degrade to placeholders.
type ImageGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (imageURL string, err error)
}

// GenerationRequest is a single-prompt generation call to the provider.
// ReferenceImages, when present, are style guidance shared by every prompt
// in the caller's batch.
type GenerationRequest struct {
	Prompt          string
	ReferenceImages []types.ReferenceImage
}

// BillingProvider abstracts the payment provider (Stripe) for the upgrade
// purchase flow.
type BillingProvider interface {
	// EnsureCustomer returns the provider customer ID for the user, creating
	// one idempotently if none exists. Required before checkout.
	EnsureCustomer(ctx context.Context, userID, email string) (customerID string, err error)

	// CreateCheckoutSession generates a one-time-payment checkout URL for the
	// unlimited upgrade.
	CreateCheckoutSession(ctx context.Context, userID string, urls RedirectURLs) (checkoutURL string, sessionID string, err error)
}

// RedirectURLs are the server-controlled post-checkout redirect targets.
type RedirectURLs struct {
	Success string
	Cancel  string
}

// WebhookVerifier validates an incoming webhook payload signature.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// TokenIntrospector verifies opaque bearer tokens against the external
// identity provider.
type TokenIntrospector interface {
	Introspect(ctx context.Context, token string) (*Introspection, error)
}

// Introspection is the identity provider's verdict on a token.
type Introspection struct {
	Active    bool
	Subject   string
	Email     string
	ExpiresAt time.Time
}
