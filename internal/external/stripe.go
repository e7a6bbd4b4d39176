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

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"logoforge/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// UserBillingLookup provides the minimal data access StripeClient needs to
// resolve a user into a Stripe customer ID and billing email, avoiding a
// dependency on the full UserRepo.
type UserBillingLookup interface {
	// GetBillingInfo returns the stripe customer ID ("" if none yet) and the
	// billing email for the user. Errors if the user does not exist.
	GetBillingInfo(ctx context.Context, userID string) (customerID string, email string, err error)

	// UpdateStripeCustomerID records the Stripe customer for the user.
	UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error
}

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	// UpgradePriceID is the Stripe Price for the one-time unlimited upgrade.
	UpgradePriceID string
	BaseURL        string // Override for testing; defaults to stripeAPIBase
	Logger         *slog.Logger
}

// StripeClient implements BillingProvider by making direct HTTP calls to the
// Stripe REST API through BaseClient, routing all requests through the
// platform's resilience infrastructure and making testing with httptest
// straightforward.
type StripeClient struct {
	base           *BaseClient
	secretKey      string
	upgradePriceID string
	baseURL        string
	userLookup     UserBillingLookup
	logger         *slog.Logger
}

var _ BillingProvider = (*StripeClient)(nil)

// NewStripeClient creates a new StripeClient.
func NewStripeClient(httpClient *http.Client, userLookup UserBillingLookup, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"LogoForge/1.0",
	)

	return &StripeClient{
		base:           base,
		secretKey:      cfg.SecretKey,
		upgradePriceID: cfg.UpgradePriceID,
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		userLookup:     userLookup,
		logger:         logger,
	}
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient, for tests that control retry behavior.
func NewStripeClientWithBase(base *BaseClient, userLookup UserBillingLookup, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:           base,
		secretKey:      cfg.SecretKey,
		upgradePriceID: cfg.UpgradePriceID,
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		userLookup:     userLookup,
		logger:         logger,
	}
}

// stripeSearchResult is the response of the customer Search API.
type stripeSearchResult struct {
	Data []stripeCustomer `json:"data"`
}

type stripeCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// EnsureCustomer retrieves or creates a Stripe customer for the user.
// Search-first logic prevents duplicate customers:
//  1. Query the Stripe Search API for metadata['user_id'] match.
//  2. If found, return the existing customer ID.
//  3. If not found, create a new customer with user_id metadata.
//  4. Record the customer ID locally.
func (s *StripeClient) EnsureCustomer(ctx context.Context, userID, email string) (string, error) {
	searchQuery := fmt.Sprintf("metadata['user_id']:'%s'", userID)
	params := url.Values{}
	params.Set("query", searchQuery)

	searchResp, err := s.doGet(ctx, "/v1/customers/search", params)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.search", err)
	}
	defer searchResp.Body.Close()

	if searchResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(searchResp, "EnsureCustomer.search")
	}

	var searchResult stripeSearchResult
	if err := json.NewDecoder(searchResp.Body).Decode(&searchResult); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer search response",
			err,
		)
	}

	if len(searchResult.Data) > 0 {
		customerID := searchResult.Data[0].ID
		if dbErr := s.userLookup.UpdateStripeCustomerID(ctx, userID, customerID); dbErr != nil {
			s.logger.WarnContext(ctx, "failed to record stripe customer id",
				"user_id", userID,
				"customer_id", customerID,
				"error", dbErr,
			)
		}
		return customerID, nil
	}

	createParams := url.Values{}
	createParams.Set("email", email)
	createParams.Set("metadata[user_id]", userID)

	createResp, err := s.doPost(ctx, "/v1/customers", createParams)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.create", err)
	}
	defer createResp.Body.Close()

	if createResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(createResp, "EnsureCustomer.create")
	}

	var customer stripeCustomer
	if err := json.NewDecoder(createResp.Body).Decode(&customer); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer creation response",
			err,
		)
	}

	if dbErr := s.userLookup.UpdateStripeCustomerID(ctx, userID, customer.ID); dbErr != nil {
		s.logger.WarnContext(ctx, "failed to record stripe customer id after creation",
			"user_id", userID,
			"customer_id", customer.ID,
			"error", dbErr,
		)
	}

	return customer.ID, nil
}

// CreateCheckoutSession generates a one-time-payment Checkout Session for
// the unlimited upgrade. client_reference_id carries the user ID so the
// webhook can correlate the completed payment back to the account.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, userID string, urls RedirectURLs) (string, string, error) {
	customerID, _, err := s.resolveCustomerID(ctx, userID)
	if err != nil {
		return "", "", err
	}

	params := url.Values{}
	params.Set("customer", customerID)
	// One-time payment, not a subscription: the upgrade is a lifetime grant.
	params.Set("mode", "payment")
	params.Set("client_reference_id", userID)
	params.Set("success_url", urls.Success)
	params.Set("cancel_url", urls.Cancel)
	params.Set("metadata[user_id]", userID)
	params.Set("line_items[0][price]", s.upgradePriceID)
	params.Set("line_items[0][quantity]", "1")

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return "", "", s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response",
			err,
		)
	}

	return session.URL, session.ID, nil
}

// doGet performs an authenticated GET request to the Stripe API.
func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// doPost performs an authenticated POST to the Stripe API (form-encoded).
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// resolveCustomerID fetches the Stripe customer ID for the user.
func (s *StripeClient) resolveCustomerID(ctx context.Context, userID string) (string, string, error) {
	customerID, email, err := s.userLookup.GetBillingInfo(ctx, userID)
	if err != nil {
		return "", "", err
	}
	if customerID == "" {
		return "", "", types.NewAppError(
			types.ErrCodeNotFoundUser,
			fmt.Sprintf("user %s has no Stripe customer; call EnsureCustomer first", userID),
			nil,
		)
	}
	return customerID, email, nil
}

// stripeErrorResponse is the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleErrorResponse reads a Stripe error response and maps it to an AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and the body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimit,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
		)
	case resp.StatusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Error.Message),
			nil,
		)
	default:
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe rejected the request: %s", operation, stripeErr.Error.Message),
			nil,
			map[string]any{
				"stripe_type": stripeErr.Error.Type,
				"stripe_code": stripeErr.Error.Code,
			},
		)
	}
}

// wrapStripeError converts errors from BaseClient.Do into Stripe-domain errors.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		if appErr.Code == types.ErrCodeUpstreamRateLimit {
			return appErr
		}
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: %s", operation, appErr.Message),
			appErr.Err,
		)
	}

	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s failed", operation),
		err,
	)
}

// StripeVerifier implements WebhookVerifier using stripe-go's webhook
// signature verification: HMAC-SHA256 with timestamp tolerance.
type StripeVerifier struct{}

var _ WebhookVerifier = (*StripeVerifier)(nil)

// Verify validates a Stripe webhook payload against the Stripe-Signature
// header and the signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return webhook.ValidatePayload(payload, header, secret)
}
