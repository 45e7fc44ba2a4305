package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fjod/storefront/internal/auth"
)

type OrdersHandler struct {
	svc     CartService
	timeout time.Duration
}

func NewOrdersHandler(svc CartService, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		svc:     svc,
		timeout: timeout,
	}
}

// GET /api/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := auth.UserFromContext(r.Context())
	if userID == "" {
		respondUnauthorized(w, r)
		return
	}

	orders, err := h.svc.Orders(ctx, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, orders)
}

// GET /api/orders/{id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := auth.UserFromContext(r.Context())
	if userID == "" {
		respondUnauthorized(w, r)
		return
	}

	order, err := h.svc.Order(ctx, userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, order)
}
