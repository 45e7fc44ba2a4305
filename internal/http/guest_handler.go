package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/sdk/zctx"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/guestcart"
)

// GuestHandler serves the cart of anonymous visitors from the guest cart
// cookie. Nothing is stored server side.
type GuestHandler struct {
	svc          CartService
	cookie       guestcart.CookieOptions
	timeout      time.Duration
	maxBodyBytes int64
}

func NewGuestHandler(svc CartService, cookie guestcart.CookieOptions, timeout time.Duration, maxBodyBytes int64) *GuestHandler {
	return &GuestHandler{
		svc:          svc,
		cookie:       cookie,
		timeout:      timeout,
		maxBodyBytes: maxBodyBytes,
	}
}

func (h *GuestHandler) store(w http.ResponseWriter, r *http.Request) *guestcart.Store {
	return guestcart.New(guestcart.NewCookieStorage(w, r, h.cookie), zctx.From(r.Context()))
}

func (h *GuestHandler) respondItems(ctx context.Context, w http.ResponseWriter, r *http.Request, items []domain.LineItem) {
	resolved, err := h.svc.ResolveItems(ctx, items)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, resolved)
}

// GET /api/guest/cart
func (h *GuestHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.respondItems(ctx, w, r, h.store(w, r).Get())
}

// POST /api/guest/cart/add
func (h *GuestHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ItemRequestDTO
	if !decodeJSON(w, r, h.maxBodyBytes, &req) {
		return
	}
	if req.ProductID == "" {
		respondError(w, r, http.StatusBadRequest, "invalid_argument", "productId is required")
		return
	}
	if _, err := h.svc.GetProduct(ctx, req.ProductID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.respondItems(ctx, w, r, h.store(w, r).Add(req.ProductID))
}

// POST /api/guest/cart/update
func (h *GuestHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ItemRequestDTO
	if !decodeJSON(w, r, h.maxBodyBytes, &req) {
		return
	}
	if req.ProductID == "" {
		respondError(w, r, http.StatusBadRequest, "invalid_argument", "productId is required")
		return
	}

	h.respondItems(ctx, w, r, h.store(w, r).Update(req.ProductID, req.Quantity))
}

// POST /api/guest/cart/remove
func (h *GuestHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ItemRequestDTO
	if !decodeJSON(w, r, h.maxBodyBytes, &req) {
		return
	}

	h.respondItems(ctx, w, r, h.store(w, r).Remove(req.ProductID))
}
