package routes

import (
	"net/http"
	"time"

	"github.com/drdecide/clinic-gateway/app"
	"github.com/drdecide/clinic-gateway/cognito"
	"github.com/drdecide/clinic-gateway/handlers"
	gwmiddleware "github.com/drdecide/clinic-gateway/middleware"
	"github.com/drdecide/clinic-gateway/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(gwmiddleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(deps.Metrics.Middleware)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{gwmiddleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.AuditLogs, deps.KeySet, deps.Logger)
	profile := handlers.NewProfileHandler(deps.Logger)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)
	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	// Each group declares its role once
	r.Route("/api", func(r chi.Router) {
		r.Route("/doctor", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireRole(cognito.RoleDoctor))
			r.Get("/profile", profile.HandleProfile)
		})

		r.Route("/patient", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireRole(cognito.RolePatient))
			r.Get("/profile", profile.HandleProfile)
		})

		r.Route("/receptionist", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireRole(cognito.RoleReceptionist))
			r.Get("/profile", profile.HandleProfile)

			// Decision history needs the audit database
			if deps.AuditLogs != nil {
				audit := handlers.NewAuditHandler(deps.AuditLogs, deps.Logger)
				r.Get("/audit", audit.HandleListAuditLogs)
				r.Get("/audit/{id}", audit.HandleGetAuditLog)
			}
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}
