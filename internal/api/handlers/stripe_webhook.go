package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"logoforge/internal/core"
	"logoforge/internal/types"
)

// maxWebhookBodySize bounds webhook payloads. Stripe events are small; 64KB
// leaves generous headroom.
const maxWebhookBodySize = 64 * 1024

// WebhookProcessor defines the service contract for the webhook handler.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error
}

// StripeWebhookHandler receives Stripe event deliveries. The route is
// unauthenticated; security comes from verifying the Stripe-Signature header
// against the signing secret before the payload is trusted.
type StripeWebhookHandler struct {
	processor WebhookProcessor
	logger    *slog.Logger
}

// NewStripeWebhookHandler creates a new StripeWebhookHandler with the
// provided dependencies.
func NewStripeWebhookHandler(processor WebhookProcessor, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		processor: processor,
		logger:    logger,
	}
}

// RegisterRoutes mounts the webhook endpoint onto the mux.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook", h.Handle)
}

// Handle handles POST /v1/billing/webhook.
//
// Responses matter to Stripe's retry machinery: 2xx acknowledges, 4xx tells
// Stripe the delivery is permanently bad, 5xx asks for a retry. A failed
// premium grant is therefore surfaced as 5xx so Stripe redelivers.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"failed to read webhook payload",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "webhook delivery without Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookSignature,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	if err := h.processor.HandleWebhook(r.Context(), payload, sigHeader); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, map[string]bool{"received": true})
}
