package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/distrohq/salesdesk/api/controllers"
	wizardcontrollers "github.com/distrohq/salesdesk/api/controllers/wizard"
	"github.com/distrohq/salesdesk/api/middleware"
	"github.com/distrohq/salesdesk/internal/session"
	"github.com/distrohq/salesdesk/pkg/config"
	"github.com/distrohq/salesdesk/pkg/division"
	"github.com/distrohq/salesdesk/pkg/logger"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Config        *config.Config
	Logger        *logger.Logger
	Sessions      *session.Manager
	DivisionStore middleware.ScopeStore
	Redis         controllers.Pinger
	Metrics       *prometheus.Registry
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"redis": deps.Redis,
		}))
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	defaultScope := division.Scope{
		DivisionID: cfg.Division.DefaultID,
		ShowAll:    cfg.Division.ShowAllDivisions,
	}

	r.Route("/api/v1/wizard", func(r chi.Router) {
		r.Use(middleware.DivisionContext(deps.DivisionStore, defaultScope, logg))

		r.Post("/sessions", wizardcontrollers.SessionCreate(deps.Sessions, logg))

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", wizardcontrollers.SessionState(deps.Sessions, logg))
			r.Delete("/", wizardcontrollers.SessionDelete(deps.Sessions, logg))

			r.Post("/customer", wizardcontrollers.SelectCustomer(deps.Sessions, logg))

			r.Put("/cart/items", wizardcontrollers.CartUpsert(deps.Sessions, logg))
			r.Delete("/cart/items/{productID}", wizardcontrollers.CartRemove(deps.Sessions, logg))

			r.Put("/drop-offs/count", wizardcontrollers.DropOffResize(deps.Sessions, logg))
			r.Patch("/drop-offs/{index}", wizardcontrollers.DropOffPatch(deps.Sessions, logg))
			r.Put("/drop-offs/{index}/coordinates", wizardcontrollers.DropOffMove(deps.Sessions, logg))
			r.Put("/drop-offs/{index}/items", wizardcontrollers.DropOffAssignItem(deps.Sessions, logg))
			r.Post("/drop-offs/{index}/validate", wizardcontrollers.DropOffValidate(deps.Sessions, logg))
			r.Post("/drop-offs/{index}/skip-validation", wizardcontrollers.DropOffSkipValidation(deps.Sessions, logg))

			r.Put("/warehouse", wizardcontrollers.WarehouseSelect(deps.Sessions, logg))

			r.Post("/advance", wizardcontrollers.Advance(deps.Sessions, logg))
			r.Post("/goto", wizardcontrollers.GoTo(deps.Sessions, logg))

			r.Get("/review", wizardcontrollers.Review(deps.Sessions, logg))
			r.Post("/finalize", wizardcontrollers.Finalize(deps.Sessions, logg))
			r.Post("/payments", wizardcontrollers.PaymentsSubmit(deps.Sessions, logg, cfg.Commerce.MaxUploadBytes))
		})
	})

	return r
}
