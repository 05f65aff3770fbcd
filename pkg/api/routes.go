package api

import (
	"net/http"

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
	r.Use(chimw.StripSlashes)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{"not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed,
			errorResponse{"method not allowed"})
	})

	r.Get("/health", s.handleHealth)

	// The database segment is "db_<name>"; see resolveSuite.
	r.Route("/api/{db}/v4/{suite}", func(r chi.Router) {
		if s.cfg.Server.RateLimit.Enabled {
			r.Use(s.rateLimitMiddleware(
				s.cfg.Server.RateLimit.RequestsPerMinute,
			))
		}

		r.Use(s.resolveSuite)

		r.Get("/machines", s.handleListMachines)
		r.Get("/machines/{id:[0-9]+}", withID(s.handleGetMachine))
		r.Get("/orders/{id:[0-9]+}", withID(s.handleGetOrder))
		r.Get("/runs/{id:[0-9]+}", withID(s.handleGetRun))
		r.Get("/samples", s.handleListSamples)
		r.Get("/samples/{id:[0-9]+}", withID(s.handleGetSample))
		r.Get("/graph/{machine:[0-9]+}/{test:[0-9]+}/{metric}", s.handleGraph)
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
