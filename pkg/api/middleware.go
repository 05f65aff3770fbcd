package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const (
	databaseContextKey contextKey = "database"
	suiteContextKey    contextKey = "suite"
)

// databasePrefix precedes the database name in API paths.
const databasePrefix = "db_"

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("status", ww.Status()).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// resolveSuite checks the database and suite path segments and injects
// them into the request context.
func (s *server) resolveSuite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		segment := chi.URLParam(r, "db")

		name, ok := strings.CutPrefix(segment, databasePrefix)
		if !ok {
			writeJSON(w, http.StatusNotFound, errorResponse{"not found"})

			return
		}

		db, ok := s.databases[name]
		if !ok {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"unknown database " + name})

			return
		}

		suite := chi.URLParam(r, "suite")
		if _, ok := db.store.Suite(suite); !ok {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"unknown test suite " + suite})

			return
		}

		ctx := context.WithValue(r.Context(), databaseContextKey, db)
		ctx = context.WithValue(ctx, suiteContextKey, suite)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// target returns the database and suite resolved by resolveSuite.
func target(r *http.Request) (*database, string) {
	db, _ := r.Context().Value(databaseContextKey).(*database)
	suite, _ := r.Context().Value(suiteContextKey).(string)

	return db, suite
}
