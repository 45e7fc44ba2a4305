package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zctx.From(r.Context()).Warn("Encode response failed", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondJSON(w, r, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError maps domain errors to HTTP responses. Anything
// unrecognised is logged and reported as a generic 500.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status int
		code   string
	)

	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		status, code = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, domain.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrCartEmpty):
		status, code = http.StatusBadRequest, "cart_empty"
	case errors.Is(err, catalog.ErrUnavailable):
		zctx.From(r.Context()).Warn("Catalog unavailable", zap.Error(err))
		respondError(w, r, http.StatusServiceUnavailable, "service_unavailable", "catalog temporarily unavailable")
		return
	case errors.Is(err, context.DeadlineExceeded):
		zctx.From(r.Context()).Warn("Request timed out", zap.Error(err))
		respondError(w, r, http.StatusGatewayTimeout, "timeout", "request timed out")
		return
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondError(w, r, status, code, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes)).Decode(v); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}
