package quotation

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/karoseri/quotedesk/internal/platform/httpx"
	"github.com/karoseri/quotedesk/internal/rbac"
	"github.com/karoseri/quotedesk/internal/shared"
)

// Handler exposes quotations, offers and offer items over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// List handles GET /quotations.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actorID, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	page, perPage := shared.PageParams(r)
	req := ListRequest{Page: page, PerPage: perPage}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := StatusType(raw)
		req.Status = &status
	}
	rows, pagination, err := h.service.List(r.Context(), actorID, req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows, "pagination": pagination})
}

// Create handles POST /quotations.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req CreateQuotationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	created, err := h.service.Create(r.Context(), actorID, req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

// Show handles GET /quotations/{id} with offers and items.
func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.GetForActor(r.Context(), id, actorID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

// Delete handles DELETE /quotations/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	result, err := h.service.Delete(r.Context(), id, actorID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// SetStatus handles POST /quotations/{id}/status.
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req StatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	detail, err := h.service.SetStatus(r.Context(), id, actorID, req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

// FollowUp handles POST /quotations/{id}/follow-up.
func (h *Handler) FollowUp(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	header, err := h.service.TouchFollowUp(r.Context(), id, actorID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, header)
}

// Progress handles POST /quotations/{id}/progress.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req ProgressRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	header, err := h.service.AppendProgress(r.Context(), id, actorID, req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, header)
}

// CreateOffer accepts either the numeric header id or the URL-escaped
// quotation number in the path.
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	actorID, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	number, err := h.quotationNumber(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var in OfferInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	offer, err := h.service.CreateOffer(r.Context(), number, actorID, in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, offer)
}

// ShowOffer handles GET /offers/{id}.
func (h *Handler) ShowOffer(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	offer, err := h.service.GetOfferForActor(r.Context(), id, actorID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, offer)
}

// CreateRevision handles POST /offers/{id}/revisions.
func (h *Handler) CreateRevision(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req RevisionRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
	}
	offer, err := h.service.CreateRevision(r.Context(), id, actorID, req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, offer)
}

// UpdateOffer handles PATCH /offers/{id}.
func (h *Handler) UpdateOffer(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req UpdateOfferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	offer, err := h.service.UpdateOffer(r.Context(), id, actorID, req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, offer)
}

// DeleteOffer handles DELETE /offers/{id}.
func (h *Handler) DeleteOffer(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	result, err := h.service.DeleteOffer(r.Context(), id, actorID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// Recompute handles POST /offers/{id}/recompute.
func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	offer, err := h.service.RecomputeTotals(r.Context(), id, actorID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, offer)
}

// AddItem handles POST /offers/{id}/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var in ItemInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	item, err := h.service.AddItem(r.Context(), id, actorID, in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

// UpdateItem handles PATCH /offer-items/{id}.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var patch ItemPatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	item, err := h.service.UpdateItem(r.Context(), id, actorID, patch)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

// DeleteItem handles DELETE /offer-items/{id}.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteItem(r.Context(), id, actorID); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Acceptance handles POST /offer-items/{id}/acceptance.
func (h *Handler) Acceptance(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req AcceptanceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	item, err := h.service.SetItemAcceptance(r.Context(), id, actorID, req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) quotationNumber(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "id")
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		header, err := h.service.Get(r.Context(), id)
		if err != nil {
			return "", err
		}
		return header.Number, nil
	}
	number, err := url.PathUnescape(raw)
	if err != nil || number == "" {
		return "", shared.Validationf("invalid quotation number")
	}
	return number, nil
}

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	actorID, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return 0, 0, false
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return 0, 0, false
	}
	return actorID, id, true
}
