package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"logoforge/internal/core"
	"logoforge/internal/types"
)

// LogoStoreInterface defines the data access contract for the logos handler.
type LogoStoreInterface interface {
	ListByUser(ctx context.Context, userID string) ([]*types.Logo, error)
	Delete(ctx context.Context, id, userID string) error
}

// LogosHandler serves the saved-logo collection. All routes require an
// authenticated actor; ownership is enforced by scoping every query to the
// actor's user ID, so one user can never read or delete another's logos.
type LogosHandler struct {
	store  LogoStoreInterface
	logger *slog.Logger
}

// NewLogosHandler creates a new LogosHandler with the provided dependencies.
func NewLogosHandler(store LogoStoreInterface, logger *slog.Logger) *LogosHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogosHandler{
		store:  store,
		logger: logger,
	}
}

// RegisterRoutes mounts the logo collection endpoints onto the mux.
// The router must wrap these in RequireAuth.
func (h *LogosHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Delete("/{id}", h.HandleDelete)
}

// logoPayload is the wire shape of one saved logo.
type logoPayload struct {
	ID           string    `json:"id"`
	Prompt       string    `json:"prompt"`
	ImageURL     string    `json:"imageUrl"`
	BusinessName string    `json:"businessName,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type logoListResponse struct {
	Logos []logoPayload `json:"logos"`
}

// HandleList handles GET /v1/logos: the actor's saved logos, newest first.
func (h *LogosHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"authentication required",
			nil,
		))
		return
	}

	logos, err := h.store.ListByUser(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	payload := logoListResponse{Logos: make([]logoPayload, 0, len(logos))}
	for _, logo := range logos {
		payload.Logos = append(payload.Logos, logoPayload{
			ID:           logo.ID,
			Prompt:       logo.Prompt,
			ImageURL:     logo.ImageURL,
			BusinessName: logo.BusinessName,
			CreatedAt:    logo.CreatedAt,
		})
	}

	core.JSON(w, r, http.StatusOK, payload)
}

// HandleDelete handles DELETE /v1/logos/{id}. A logo belonging to another
// user reads as not found rather than forbidden, so IDs cannot be probed.
func (h *LogosHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"authentication required",
			nil,
		))
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"logo id is required",
			nil,
		))
		return
	}

	if err := h.store.Delete(r.Context(), id, actor.ID); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "logo deleted",
		slog.String("logo_id", id),
		slog.String("user_id", actor.ID),
	)

	w.WriteHeader(http.StatusNoContent)
}
