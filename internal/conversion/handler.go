package conversion

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/karoseri/quotedesk/internal/platform/httpx"
	"github.com/karoseri/quotedesk/internal/rbac"
	"github.com/karoseri/quotedesk/internal/shared"
)

// Handler exposes the conversion endpoint.
type Handler struct {
	logger *slog.Logger
	bridge *Bridge
	rbac   rbac.Middleware
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, bridge *Bridge, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, bridge: bridge, rbac: rbac}
}

// MountRoutes attaches the conversion route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermQuotationCreate)).Post("/rfqs/{id}/convert", h.Convert)
}

// Convert handles POST /rfqs/{id}/convert. The body is optional.
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	actorID, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req Request
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
	}
	result, err := h.bridge.Convert(r.Context(), id, actorID, req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}
