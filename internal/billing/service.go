// Package billing implements the premium upgrade flow: a one-time Stripe
// Checkout payment that flips the account to unlimited generations. The
// webhook, not the browser redirect, is the source of truth for entitlement.
package billing

import (
	"context"
	"encoding/json"
	"log/slog"

	stripe "github.com/stripe/stripe-go/v82"

	"logoforge/internal/external"
	"logoforge/internal/types"
)

// UserAccounts is the data access the billing service needs: reading
// entitlement and recording the premium grant.
type UserAccounts interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
	GrantPremium(ctx context.Context, id string) error
}

// CheckoutSession is a pending upgrade payment hosted by the provider.
type CheckoutSession struct {
	URL       string
	SessionID string
}

// Entitlement is the account's premium state as reported to the client.
type Entitlement struct {
	Premium    bool
	UpgradedAt string
}

// Service orchestrates upgrade purchases between the payment provider and
// the local user store.
type Service struct {
	provider      external.BillingProvider
	verifier      external.WebhookVerifier
	users         UserAccounts
	webhookSecret types.SecretString
	appURL        string
	logger        *slog.Logger
}

// ServiceConfig holds the dependencies for creating a billing Service.
type ServiceConfig struct {
	Provider      external.BillingProvider
	Verifier      external.WebhookVerifier
	Users         UserAccounts
	WebhookSecret types.SecretString
	// AppURL is the public origin of the frontend; checkout redirects land
	// back on it.
	AppURL string
	Logger *slog.Logger
}

// NewService creates a new billing Service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider:      cfg.Provider,
		verifier:      cfg.Verifier,
		users:         cfg.Users,
		webhookSecret: cfg.WebhookSecret,
		appURL:        cfg.AppURL,
		logger:        logger,
	}
}

// StartUpgrade creates a checkout session for the actor's upgrade purchase.
// Redirect URLs are server-controlled; the client only receives the hosted
// checkout URL. An already-premium account is rejected before any provider
// call.
func (s *Service) StartUpgrade(ctx context.Context, actor types.Actor) (*CheckoutSession, error) {
	user, err := s.users.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if user.Premium {
		return nil, types.NewAppError(
			types.ErrCodeConflictDuplicate,
			"account already has unlimited generations",
			nil,
		)
	}

	if _, err := s.provider.EnsureCustomer(ctx, user.ID, user.Email); err != nil {
		return nil, err
	}

	checkoutURL, sessionID, err := s.provider.CreateCheckoutSession(ctx, user.ID, external.RedirectURLs{
		Success: s.appURL + "/?upgrade=success",
		Cancel:  s.appURL + "/?upgrade=cancelled",
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "checkout session created",
		slog.String("user_id", user.ID),
		slog.String("session_id", sessionID),
	)

	return &CheckoutSession{URL: checkoutURL, SessionID: sessionID}, nil
}

// GetEntitlement reports the account's premium state.
func (s *Service) GetEntitlement(ctx context.Context, userID string) (*Entitlement, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	ent := &Entitlement{Premium: user.Premium}
	if user.UpgradedAt != nil {
		ent.UpgradedAt = user.UpgradedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return ent, nil
}

// checkoutSessionPayload is the slice of the checkout.session object the
// webhook handler needs.
type checkoutSessionPayload struct {
	ID                string `json:"id"`
	ClientReferenceID string `json:"client_reference_id"`
	PaymentStatus     string `json:"payment_status"`
}

// HandleWebhook processes a raw Stripe webhook delivery.
//
// Signature verification happens before any parsing; a payload that does not
// verify is rejected outright. Only checkout.session.completed events with
// payment_status=paid grant premium; every other event type acknowledges
// without action so Stripe stops retrying. The grant itself is idempotent,
// so duplicate deliveries are harmless.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	if err := s.verifier.Verify(payload, signatureHeader, s.webhookSecret.Unmask()); err != nil {
		return types.NewAppError(
			types.ErrCodeWebhookSignature,
			"webhook signature verification failed",
			err,
		)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"webhook payload is not a valid event",
			err,
		)
	}

	if event.Type != "checkout.session.completed" {
		s.logger.DebugContext(ctx, "ignoring webhook event",
			slog.String("event_type", string(event.Type)),
		)
		return nil
	}

	var session checkoutSessionPayload
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"checkout session object could not be parsed",
			err,
		)
	}

	if session.PaymentStatus != "paid" {
		s.logger.InfoContext(ctx, "checkout completed without payment; no grant",
			slog.String("session_id", session.ID),
			slog.String("payment_status", session.PaymentStatus),
		)
		return nil
	}

	if session.ClientReferenceID == "" {
		return types.NewAppError(
			types.ErrCodeValidationMissingField,
			"checkout session carries no client_reference_id",
			nil,
		)
	}

	if err := s.users.GrantPremium(ctx, session.ClientReferenceID); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "premium granted",
		slog.String("user_id", session.ClientReferenceID),
		slog.String("session_id", session.ID),
	)
	return nil
}
