package http

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

type HealthHandler struct {
	checks  map[string]Check
	timeout time.Duration
}

func NewHealthHandler(timeout time.Duration) *HealthHandler {
	return &HealthHandler{checks: make(map[string]Check), timeout: timeout}
}

func (h *HealthHandler) Add(name string, check Check) {
	h.checks[name] = check
}

type HealthResponseDTO struct {
	Status string            `json:"status"`
	Failed map[string]string `json:"failed,omitempty"`
}

// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := map[string]string{}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		respondJSON(w, r, http.StatusServiceUnavailable, HealthResponseDTO{Status: "unavailable", Failed: failed})
		return
	}
	respondJSON(w, r, http.StatusOK, HealthResponseDTO{Status: "ok"})
}
