package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/obralink/obralink/internal/inventory"
	"github.com/obralink/obralink/internal/masterdata/suppliers"
	"github.com/obralink/obralink/internal/observability"
	"github.com/obralink/obralink/internal/procurement"
	"github.com/obralink/obralink/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	ProcurementHandler *procurement.Handler
	InventoryHandler   *inventory.Handler
	SuppliersHandler   *suppliers.Handler
	JobsHandler        *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/procurement", params.ProcurementHandler.MountRoutes)
	r.Route("/inventory", params.InventoryHandler.MountRoutes)
	if params.SuppliersHandler != nil {
		r.Route("/masterdata/suppliers", params.SuppliersHandler.MountRoutes)
	}
	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
