// Package handlers contains the HTTP handler implementations for the
// LogoForge API: batch generation, usage reporting, the saved-logo
// collection, and the billing/upgrade surface.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"logoforge/internal/core"
	"logoforge/internal/generation"
	"logoforge/internal/quota"
	"logoforge/internal/types"
)

// GenerationServiceInterface defines the service contract for the generate
// handler. Matches the generation.Service surface but is defined locally to
// avoid tight coupling per the handler injection pattern.
type GenerationServiceInterface interface {
	GenerateBatch(ctx context.Context, state quota.AuthState, req generation.BatchRequest) (*generation.BatchResult, error)
	Snapshot(ctx context.Context, state quota.AuthState) (generation.Usage, error)
}

// defaultMaxPrompts bounds a batch when no configured limit is supplied.
const defaultMaxPrompts = 5

// GenerateHandler maps HTTP requests to the generation service. It serves
// both anonymous and authenticated callers; the quota identity comes from
// whatever the auth middleware put in the request context.
type GenerateHandler struct {
	service    GenerationServiceInterface
	validator  *core.Validator
	maxPrompts int
	logger     *slog.Logger
}

// NewGenerateHandler creates a new GenerateHandler with the provided
// dependencies. maxPrompts caps the batch size; values <= 0 fall back to the
// default.
func NewGenerateHandler(
	svc GenerationServiceInterface,
	val *core.Validator,
	maxPrompts int,
	logger *slog.Logger,
) *GenerateHandler {
	if maxPrompts <= 0 {
		maxPrompts = defaultMaxPrompts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerateHandler{
		service:    svc,
		validator:  val,
		maxPrompts: maxPrompts,
		logger:     logger,
	}
}

// RegisterRoutes mounts the generation endpoints onto the mux.
func (h *GenerateHandler) RegisterRoutes(r chi.Router) {
	r.Post("/generate-batch", h.HandleGenerateBatch)
	r.Get("/usage", h.HandleGetUsage)
}

// generateBatchRequest is the wire shape of POST /v1/generate-batch.
type generateBatchRequest struct {
	Prompts         []string                `json:"prompts" validate:"required,min=1,dive,required,max=500"`
	BusinessName    string                  `json:"businessName" validate:"omitempty,max=200"`
	ReferenceImages []referenceImagePayload `json:"referenceImages" validate:"omitempty,max=5,dive"`
}

type referenceImagePayload struct {
	Data     string `json:"data" validate:"required,base64"`
	MimeType string `json:"mimeType" validate:"required,oneof=image/png image/jpeg image/webp"`
}

// generateBatchResponse is the wire shape of a successful round: one logo
// URL per prompt, in prompt order, plus the usage snapshot after the round
// was charged.
type generateBatchResponse struct {
	Logos []string     `json:"logos"`
	Usage usagePayload `json:"usage"`
}

type usagePayload struct {
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
	Total     int `json:"total"`
}

// quotaExceededResponse is the flat denial shape clients key off of. It is
// deliberately not the standard error envelope: limitExceeded distinguishes
// a quota denial from transport-level 429s.
type quotaExceededResponse struct {
	Error         string `json:"error"`
	LimitExceeded bool   `json:"limitExceeded"`
	Remaining     int    `json:"remaining"`
	Total         int    `json:"total"`
}

// HandleGenerateBatch handles POST /v1/generate-batch.
//
//  1. Decode and validate the batch (1..5 non-empty prompts).
//  2. Resolve the caller's quota state from context.
//  3. Run the round; a quota denial renders the flat 429 shape.
func (h *GenerateHandler) HandleGenerateBatch(w http.ResponseWriter, r *http.Request) {
	var req generateBatchRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}
	// The upper bound is configuration, not a struct tag, so deployments can
	// tune it without a rebuild.
	if len(req.Prompts) > h.maxPrompts {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationBatchSize,
			fmt.Sprintf("a batch carries at most %d prompts", h.maxPrompts),
			nil,
			map[string]any{"max_prompts": h.maxPrompts},
		))
		return
	}

	refs := make([]types.ReferenceImage, 0, len(req.ReferenceImages))
	for _, ref := range req.ReferenceImages {
		refs = append(refs, types.ReferenceImage{Data: ref.Data, MimeType: ref.MimeType})
	}

	result, err := h.service.GenerateBatch(r.Context(), authStateFromContext(r.Context()), generation.BatchRequest{
		Prompts:         req.Prompts,
		BusinessName:    req.BusinessName,
		ReferenceImages: refs,
	})
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeQuotaExceeded {
			h.writeQuotaDenial(w, r, appErr)
			return
		}
		core.Error(w, r, err)
		return
	}

	logos := make([]string, len(result.Results))
	for i, res := range result.Results {
		logos[i] = res.ImageURL
	}

	core.JSON(w, r, http.StatusOK, generateBatchResponse{
		Logos: logos,
		Usage: usagePayload{
			Used:      result.Usage.Used,
			Remaining: result.Usage.Remaining,
			Total:     result.Usage.Total,
		},
	})
}

// HandleGetUsage handles GET /v1/usage: the caller's current quota snapshot
// without charging anything.
func (h *GenerateHandler) HandleGetUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.service.Snapshot(r.Context(), authStateFromContext(r.Context()))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, usagePayload{
		Used:      usage.Used,
		Remaining: usage.Remaining,
		Total:     usage.Total,
	})
}

func (h *GenerateHandler) writeQuotaDenial(w http.ResponseWriter, r *http.Request, appErr *types.AppError) {
	total := 0
	if v, ok := appErr.Details["total"].(int); ok {
		total = v
	}

	h.logger.InfoContext(r.Context(), "quota denial",
		slog.String("path", r.URL.Path),
		slog.Int("total", total),
	)

	core.JSON(w, r, http.StatusTooManyRequests, quotaExceededResponse{
		Error:         appErr.Message,
		LimitExceeded: true,
		Remaining:     0,
		Total:         total,
	})
}

// authStateFromContext builds the quota view of the caller from what the
// middleware chain resolved: an actor if a valid token was presented, and
// the client IP either way.
func authStateFromContext(ctx context.Context) quota.AuthState {
	state := quota.AuthState{ClientIP: types.GetClientIP(ctx)}
	if actor, ok := types.GetActor(ctx); ok {
		state.Authenticated = true
		state.AccountID = actor.ID
		state.Premium = actor.Premium
	}
	return state
}
