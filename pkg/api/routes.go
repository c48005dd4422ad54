package api

import (
	"net/http"
	"strings"

	"github.com/ethpandaops/gymdesk/pkg/upload"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Route("/api/v1", func(r chi.Router) {
		// Every state-changing request below needs a session and a CSRF
		// token, except the routes in csrfExempt.
		r.Use(s.mutationGuard)

		r.Get("/health", s.handleHealth)

		// Auth endpoints.
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", s.handleLogin)
			r.Get("/check", s.handleAuthCheck)
			r.Post("/logout", s.handleLogout)
			r.Post("/recover", s.handleRecover)
		})

		// Public read endpoints. Only active records are returned.
		r.Group(func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Public,
				))
			}

			r.Get("/trainers", s.handleListTrainers)
			r.Get("/trainers/{id}", s.handleGetTrainer)
			r.Get("/classes", s.handleListClasses)
			r.Get("/classes/{id}", s.handleGetClass)
			r.Get("/programs", s.handleListPrograms)
			r.Get("/programs/{id}", s.handleGetProgram)
			r.Get("/schedule", s.handleListSchedule)
			r.Get("/schedule/{id}", s.handleGetSchedule)
			r.Get("/pricing", s.handleListPricing)
			r.Get("/settings", s.handleGetSettings)
		})

		// Admin endpoints (require a session; mutations also pass the
		// guard above).
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireSession)

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			r.Get("/overview", s.handleOverview)

			// Trainers.
			r.Get("/trainers", s.handleAdminListTrainers)
			r.Post("/trainers", s.handleCreateTrainer)
			r.Put("/trainers/{id}", s.handleUpdateTrainer)
			r.Delete("/trainers/{id}", s.handleDeleteTrainer)

			// Offered classes.
			r.Get("/classes", s.handleAdminListClasses)
			r.Post("/classes", s.handleCreateClass)
			r.Put("/classes/{id}", s.handleUpdateClass)
			r.Delete("/classes/{id}", s.handleDeleteClass)

			// Programs.
			r.Get("/programs", s.handleAdminListPrograms)
			r.Post("/programs", s.handleCreateProgram)
			r.Put("/programs/{id}", s.handleUpdateProgram)
			r.Delete("/programs/{id}", s.handleDeleteProgram)

			// Weekly schedule.
			r.Get("/schedules", s.handleListSchedule)
			r.Post("/schedules", s.handleCreateSchedule)
			r.Put("/schedules/{id}", s.handleUpdateSchedule)
			r.Delete("/schedules/{id}", s.handleDeleteSchedule)
			r.Post("/schedules/{id}/book", s.handleBookSchedule)
			r.Post("/schedules/{id}/cancel", s.handleCancelSchedule)

			// Pricing plans.
			r.Get("/pricing", s.handleListPricing)
			r.Post("/pricing", s.handleCreatePricing)
			r.Put("/pricing/{id}", s.handleUpdatePricing)
			r.Delete("/pricing/{id}", s.handleDeletePricing)

			// Site settings.
			r.Get("/settings", s.handleListSettings)
			r.Put("/settings", s.handleUpsertSettings)
			r.Delete("/settings/{key}", s.handleDeleteSetting)

			r.Post("/uploads", s.handleUpload)
		})
	})

	// Locally stored uploads.
	if local := s.cfg.Storage.Local; local != nil && local.Enabled {
		r.Get(upload.LocalURLPrefix+"*", http.StripPrefix(
			strings.TrimSuffix(upload.LocalURLPrefix, "/"),
			noDirectoryListing(http.FileServer(http.Dir(local.Dir))),
		).ServeHTTP)
	}

	return r
}

// noDirectoryListing answers 404 for directory paths.
func noDirectoryListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// corsMiddleware returns a CORS handler configured from the API config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", csrfHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
