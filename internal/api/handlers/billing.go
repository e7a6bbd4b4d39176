package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"logoforge/internal/billing"
	"logoforge/internal/core"
	"logoforge/internal/types"
)

// BillingServiceInterface defines the service contract for the billing
// handler.
type BillingServiceInterface interface {
	StartUpgrade(ctx context.Context, actor types.Actor) (*billing.CheckoutSession, error)
	GetEntitlement(ctx context.Context, userID string) (*billing.Entitlement, error)
}

// BillingHandler serves the upgrade purchase surface. All routes require an
// authenticated actor; anonymous callers have nothing to upgrade.
type BillingHandler struct {
	service BillingServiceInterface
	logger  *slog.Logger
}

// NewBillingHandler creates a new BillingHandler with the provided
// dependencies.
func NewBillingHandler(svc BillingServiceInterface, logger *slog.Logger) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		service: svc,
		logger:  logger,
	}
}

// RegisterRoutes mounts the billing endpoints onto the mux.
// The router must wrap these in RequireAuth.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/checkout-session", h.HandleCreateCheckoutSession)
	r.Get("/entitlement", h.HandleGetEntitlement)
}

type checkoutSessionResponse struct {
	CheckoutURL string `json:"checkoutUrl"`
	SessionID   string `json:"sessionId"`
}

type entitlementResponse struct {
	Premium    bool   `json:"premium"`
	UpgradedAt string `json:"upgradedAt,omitempty"`
}

// HandleCreateCheckoutSession handles POST /v1/billing/checkout-session:
// starts the one-time upgrade payment and returns the hosted checkout URL.
func (h *BillingHandler) HandleCreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"authentication required",
			nil,
		))
		return
	}

	session, err := h.service.StartUpgrade(r.Context(), actor)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, checkoutSessionResponse{
		CheckoutURL: session.URL,
		SessionID:   session.SessionID,
	})
}

// HandleGetEntitlement handles GET /v1/billing/entitlement: the actor's
// premium state as recorded by the webhook, for clients polling after the
// checkout redirect.
func (h *BillingHandler) HandleGetEntitlement(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"authentication required",
			nil,
		))
		return
	}

	ent, err := h.service.GetEntitlement(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, entitlementResponse{
		Premium:    ent.Premium,
		UpgradedAt: ent.UpgradedAt,
	})
}
