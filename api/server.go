/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap access log plus request metrics
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend
  5. Actor:      X-Actor-ID / X-Actor-Role, /api only

ROUTE GROUPS:
  /health               Store reachability
  /metrics              Prometheus exposition (when metrics are enabled)
  /api/*                Domain operations, see handlers.go

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/hr-ledger/logging"
	"github.com/warp/hr-ledger/metrics"
)

// RouterOptions configures the outer surface. Metrics may be nil.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        *metrics.Metrics
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	var obs logging.Observer
	if opts.Metrics != nil {
		obs = opts.Metrics
	}

	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(h.logger, obs))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", HeaderActorID, HeaderActorRole},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.CheckHealth)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(h.RequireActor)

		// Directory routes
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Put("/{id}", h.UpdateEmployee)
			r.Post("/{id}/archive", h.ArchiveEmployee)
			r.Get("/{id}/balances", h.ListBalances)
			r.Get("/{id}/monetizations", h.MonetizationHistory)
		})
		r.Route("/leave-types", func(r chi.Router) {
			r.Get("/", h.ListLeaveTypes)
			r.Post("/", h.CreateLeaveType)
			r.Get("/{id}", h.GetLeaveType)
			r.Put("/{id}", h.UpdateLeaveType)
		})

		// Request lifecycle routes
		r.Route("/leave-requests", func(r chi.Router) {
			r.Get("/", h.ListLeaveRequests)
			r.Post("/", h.SubmitLeaveRequest)
			r.Get("/{id}", h.GetLeaveRequest)
			r.Post("/{id}/decision", h.DecideLeaveRequest)
			r.Post("/{id}/cancel", h.CancelLeaveRequest)
			r.Get("/{id}/history", h.LeaveRequestHistory)
		})
		r.Route("/pass-slips", func(r chi.Router) {
			r.Get("/", h.ListPassSlips)
			r.Post("/", h.SubmitPassSlip)
			r.Get("/{id}", h.GetPassSlip)
			r.Post("/{id}/decision", h.DecidePassSlip)
			r.Post("/{id}/cancel", h.CancelPassSlip)
			r.Post("/{id}/return", h.RecordPassSlipReturn)
			r.Get("/{id}/history", h.PassSlipHistory)
		})

		// Balance routes
		r.Route("/balances", func(r chi.Router) {
			r.Post("/accrue", h.Accrue)
			r.Post("/consume", h.Consume)
			r.Post("/restore", h.Restore)
		})
		r.Post("/admin/accruals/run", h.RunAccruals)

		// Monetization routes
		r.Route("/monetizations", func(r chi.Router) {
			r.Post("/", h.Monetize)
			r.Get("/{id}", h.GetMonetization)
			r.Post("/{id}/correct", h.CorrectMonetization)
		})

		r.Get("/audit", h.ListAudit)
	})

	return r
}
