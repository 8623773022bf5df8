package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/karoseri/quotedesk/internal/conversion"
	"github.com/karoseri/quotedesk/internal/observability"
	"github.com/karoseri/quotedesk/internal/quotation"
	"github.com/karoseri/quotedesk/internal/rbac"
	"github.com/karoseri/quotedesk/internal/rfq"
	"github.com/karoseri/quotedesk/internal/shared"
	"github.com/karoseri/quotedesk/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Sessions          SessionLoader
	RBACMiddleware    rbac.Middleware
	RFQHandler        *rfq.Handler
	QuotationHandler  *quotation.Handler
	ConversionHandler *conversion.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:   params.Logger,
		Config:   params.Config,
		Sessions: params.Sessions,
		Metrics:  params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequireSession)
			r.Use(params.RBACMiddleware.RequireAny(shared.PermJobsView))
			params.JobHandler.MountRoutes(r)
		})
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(params.RBACMiddleware.RequireSession)
		r.Use(WriteLimiter(params.Config))
		if params.RFQHandler != nil {
			params.RFQHandler.MountRoutes(r)
		}
		if params.QuotationHandler != nil {
			params.QuotationHandler.MountRoutes(r)
		}
		if params.ConversionHandler != nil {
			params.ConversionHandler.MountRoutes(r)
		}
	})

	return r
}
