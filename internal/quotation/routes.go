package quotation

import (
	"github.com/go-chi/chi/v5"

	"github.com/karoseri/quotedesk/internal/shared"
)

// MountRoutes attaches quotation, offer and offer item routes. Relationship
// checks happen in the service; the groups only gate on role capabilities.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/quotations", h.List)
	r.Get("/quotations/{id}", h.Show)
	r.Get("/offers/{id}", h.ShowOffer)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermQuotationCreate, shared.PermQuotationManage))
		r.Post("/quotations", h.Create)
		r.Delete("/quotations/{id}", h.Delete)
		r.Delete("/offers/{id}", h.DeleteOffer)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermQuotationCreate, shared.PermQuotationManage, shared.PermRFQCreate))
		r.Post("/quotations/{id}/status", h.SetStatus)
		r.Post("/quotations/{id}/follow-up", h.FollowUp)
		r.Post("/quotations/{id}/progress", h.Progress)
		r.Post("/quotations/{id}/offers", h.CreateOffer)
		r.Post("/offers/{id}/revisions", h.CreateRevision)
		r.Patch("/offers/{id}", h.UpdateOffer)
		r.Post("/offers/{id}/recompute", h.Recompute)
		r.Post("/offers/{id}/items", h.AddItem)
		r.Patch("/offer-items/{id}", h.UpdateItem)
		r.Delete("/offer-items/{id}", h.DeleteItem)
		r.Post("/offer-items/{id}/acceptance", h.Acceptance)
	})
}
