package rfq

import (
	"github.com/go-chi/chi/v5"

	"github.com/karoseri/quotedesk/internal/shared"
)

// MountRoutes attaches request routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/rfqs", h.List)
	r.Get("/rfqs/{id}", h.Show)
	r.Get("/rfqs/{id}/approvals", h.History)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermRFQCreate))
		r.Post("/rfqs", h.Create)
		r.Patch("/rfqs/{id}", h.Update)
		r.Post("/rfqs/{id}/items", h.AddItem)
		r.Patch("/rfqs/{id}/items/{itemID}", h.UpdateItem)
		r.Delete("/rfqs/{id}/items/{itemID}", h.DeleteItem)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermRFQApprove))
		r.Post("/rfqs/{id}/approve", h.Approve)
		r.Post("/rfqs/{id}/reject", h.Reject)
	})
}
