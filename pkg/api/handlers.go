package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ethpandaops/gymdesk/pkg/api/store"
	"github.com/go-chi/chi/v5"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// errorResponse is the standard failure payload.
type errorResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Errors  map[string]any `json:"errors,omitempty"`
	Detail  string         `json:"detail,omitempty"`
}

// dataResponse is the standard success payload.
type dataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

func writeData(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, dataResponse{Success: true, Data: v})
}

func (s *server) writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Message: message})
}

func (s *server) writeValidation(
	w http.ResponseWriter, status int, message string, errs map[string]any,
) {
	writeJSON(w, status, errorResponse{Message: message, Errors: errs})
}

// writeInternalError logs err and writes a generic 500. The error text is
// only included outside production.
func (s *server) writeInternalError(
	w http.ResponseWriter, r *http.Request, err error, message string,
) {
	s.log.WithError(err).
		WithField("path", r.URL.Path).
		Error(message)

	resp := errorResponse{Message: "Internal server error"}
	if !s.cfg.Server.IsProduction() {
		resp.Detail = err.Error()
	}

	writeJSON(w, http.StatusInternalServerError, resp)
}

// writeStoreError maps store sentinels onto HTTP statuses.
func (s *server) writeStoreError(
	w http.ResponseWriter, r *http.Request, err error, resource string,
) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		msg := resource + " not found"
		s.writeValidation(w, http.StatusNotFound, msg, map[string]any{"notFound": msg})
	case errors.Is(err, store.ErrConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrStale):
		s.writeError(w, http.StatusConflict,
			resource+" was changed by another request, reload and retry")
	default:
		s.writeInternalError(w, r, err, fmt.Sprintf("Failed to access %s", resource))
	}
}

// decodeJSON decodes a bounded JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v)
}

// parseIDParam extracts the {id} URL parameter as a uint.
func parseIDParam(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id")
	}

	return uint(id), nil
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
}
