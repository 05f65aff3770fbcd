package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/llvm/lnt/pkg/api/query"
	"github.com/llvm/lnt/pkg/api/store"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeError maps a query error onto an HTTP status.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrUnknownSuite):
		writeJSON(w, http.StatusNotFound, errorResponse{err.Error()})
	case errors.Is(err, query.ErrNotGraphable):
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
	default:
		s.log.WithError(err).
			WithField("path", r.URL.Path).
			Error("Request failed")

		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal server error"})
	}
}

// idParam parses a numeric route parameter. The route patterns only admit
// digits, so the one failure left is overflow.
func idParam(r *http.Request, name string) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 0)
	if err != nil {
		return 0, false
	}

	return uint(id), true
}

// withID resolves the "id" route parameter and hands it to fn. Ids too
// large to name any row are reported as not found.
func withID(
	fn func(w http.ResponseWriter, r *http.Request, id uint),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r, "id")
		if !ok {
			writeJSON(w, http.StatusNotFound, errorResponse{"not found"})

			return
		}

		fn(w, r, id)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListMachines returns every machine of the suite.
func (s *server) handleListMachines(w http.ResponseWriter, r *http.Request) {
	db, suite := target(r)

	env, err := db.query.Machines(r.Context(), suite)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, env)
}

// handleGetMachine returns one machine and its runs.
func (s *server) handleGetMachine(
	w http.ResponseWriter, r *http.Request, id uint,
) {
	db, suite := target(r)

	env, err := db.query.Machine(r.Context(), suite, id)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, env)
}

// handleGetOrder returns one order.
func (s *server) handleGetOrder(
	w http.ResponseWriter, r *http.Request, id uint,
) {
	db, suite := target(r)

	env, err := db.query.Order(r.Context(), suite, id)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, env)
}

// handleGetRun returns one run and its samples.
func (s *server) handleGetRun(
	w http.ResponseWriter, r *http.Request, id uint,
) {
	db, suite := target(r)

	env, err := db.query.Run(r.Context(), suite, id)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, env)
}

// handleListSamples returns the samples of every run named by a runid
// query parameter. Other query parameters are ignored.
func (s *server) handleListSamples(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query()["runid"]
	if len(raw) == 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"no runids specified"})

		return
	}

	runIDs := make([]uint, 0, len(raw))

	for _, v := range raw {
		id, err := strconv.ParseUint(v, 10, 0)
		if err != nil {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{fmt.Sprintf("invalid runid %q", v)})

			return
		}

		runIDs = append(runIDs, uint(id))
	}

	db, suite := target(r)

	env, err := db.query.Samples(r.Context(), suite, runIDs)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, env)
}

// handleGetSample returns one sample.
func (s *server) handleGetSample(
	w http.ResponseWriter, r *http.Request, id uint,
) {
	db, suite := target(r)

	env, err := db.query.Sample(r.Context(), suite, id)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, env)
}

// handleGraph returns the bare list of graph points for a machine, test
// and metric. This endpoint predates the envelope and keeps its shape.
func (s *server) handleGraph(w http.ResponseWriter, r *http.Request) {
	machineID, ok := idParam(r, "machine")
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{"machine not found"})

		return
	}

	testID, ok := idParam(r, "test")
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{"test not found"})

		return
	}

	limit := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{fmt.Sprintf("invalid limit %q", v)})

			return
		}

		limit = n
	}

	db, suite := target(r)

	points, err := db.query.Graph(
		r.Context(), suite, machineID, testID, chi.URLParam(r, "metric"), limit,
	)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, points)
}
