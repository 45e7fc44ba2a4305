package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"

	"github.com/fjod/storefront/internal/auth"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/guestcart"
	"github.com/fjod/storefront/internal/repository"
)

// CartService is what the handlers need from the service layer.
type CartService interface {
	Fetch(ctx context.Context, userID string) ([]domain.ResolvedItem, error)
	Add(ctx context.Context, userID, productID string) ([]domain.ResolvedItem, error)
	Update(ctx context.Context, userID, productID string, quantity int) ([]domain.ResolvedItem, error)
	Remove(ctx context.Context, userID, productID string) ([]domain.ResolvedItem, error)
	Merge(ctx context.Context, userID string, items []domain.LineItem, idempotencyKey string) ([]domain.ResolvedItem, error)
	Checkout(ctx context.Context, userID string) (*domain.Order, error)
	Orders(ctx context.Context, userID string) ([]*domain.Order, error)
	Order(ctx context.Context, userID, orderID string) (*domain.Order, error)
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	ListProducts(ctx context.Context, filter repository.ProductFilter) ([]domain.Product, error)
	ResolveItems(ctx context.Context, items []domain.LineItem) ([]domain.ResolvedItem, error)
}

const IdempotencyKeyHeader = "Idempotency-Key"

type CartHandler struct {
	svc          CartService
	guest        guestcart.CookieOptions
	timeout      time.Duration
	maxBodyBytes int64
}

func NewCartHandler(svc CartService, guest guestcart.CookieOptions, timeout time.Duration, maxBodyBytes int64) *CartHandler {
	return &CartHandler{
		svc:          svc,
		guest:        guest,
		timeout:      timeout,
		maxBodyBytes: maxBodyBytes,
	}
}

type ItemRequestDTO struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// GuestFallbackResponse tells the client to keep the item in the guest cart.
type GuestFallbackResponse struct {
	ErrorResponse
	Guest     bool   `json:"guest"`
	ProductID string `json:"productId"`
}

type MergeResponseDTO struct {
	Success bool                  `json:"success"`
	Items   []domain.ResolvedItem `json:"items"`
}

type CheckoutResponseDTO struct {
	Message string `json:"message"`
	OrderID string `json:"orderId"`
}

func respondUnauthorized(w http.ResponseWriter, r *http.Request) {
	respondError(w, r, http.StatusUnauthorized, "unauthenticated", domain.ErrUnauthenticated.Error())
}

// GET /api/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := auth.UserFromContext(r.Context())
	if userID == "" {
		respondUnauthorized(w, r)
		return
	}

	items, err := h.svc.Fetch(ctx, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, items)
}

// POST /api/cart/add
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := auth.UserFromContext(r.Context())
	if userID == "" {
		// Best effort: the product id is only echoed back for the guest cart.
		var req ItemRequestDTO
		_ = json.NewDecoder(io.LimitReader(r.Body, h.maxBodyBytes)).Decode(&req)
		respondJSON(w, r, http.StatusUnauthorized, GuestFallbackResponse{
			ErrorResponse: ErrorResponse{Error: domain.ErrUnauthenticated.Error(), Code: "unauthenticated"},
			Guest:         true,
			ProductID:     req.ProductID,
		})
		return
	}

	var req ItemRequestDTO
	if !decodeJSON(w, r, h.maxBodyBytes, &req) {
		return
	}

	items, err := h.svc.Add(ctx, userID, req.ProductID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, items)
}

// POST /api/cart/update
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := auth.UserFromContext(r.Context())
	if userID == "" {
		respondUnauthorized(w, r)
		return
	}

	var req ItemRequestDTO
	if !decodeJSON(w, r, h.maxBodyBytes, &req) {
		return
	}

	items, err := h.svc.Update(ctx, userID, req.ProductID, req.Quantity)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, items)
}

// POST /api/cart/remove
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := auth.UserFromContext(r.Context())
	if userID == "" {
		respondUnauthorized(w, r)
		return
	}

	var req ItemRequestDTO
	if !decodeJSON(w, r, h.maxBodyBytes, &req) {
		return
	}

	items, err := h.svc.Remove(ctx, userID, req.ProductID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, items)
}

// POST /api/cart/merge
//
// The body is {"items": [{"product": id, "quantity": n}, ...]}. An empty body
// merges the guest cart cookie instead and clears it once the merge is stored.
func (h *CartHandler) Merge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := auth.UserFromContext(r.Context())
	if userID == "" {
		respondUnauthorized(w, r)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "request body too large")
		return
	}

	var (
		items []domain.LineItem
		guest *guestcart.Store
	)
	if len(bytes.TrimSpace(body)) == 0 {
		guest = guestcart.New(guestcart.NewCookieStorage(w, r, h.guest), zctx.From(r.Context()))
		items = guest.Get()
	} else {
		items, err = decodeMergeRequest(body)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
	}

	merged, err := h.svc.Merge(ctx, userID, items, r.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if guest != nil {
		guest.Clear()
	}

	respondJSON(w, r, http.StatusOK, MergeResponseDTO{Success: true, Items: merged})
}

// decodeMergeRequest validates the merge payload shape: an object whose
// "items" member is an array. Malformed entries inside the array are dropped.
func decodeMergeRequest(body []byte) ([]domain.LineItem, error) {
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return nil, errors.Wrap(domain.ErrInvalidArgument, "body must be an object")
	}

	var (
		items []domain.LineItem
		found bool
	)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "items" {
			return d.Skip()
		}
		found = true
		var err error
		items, err = domain.DecodeLineItems(d)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			return nil, err
		}
		return nil, errors.Wrapf(domain.ErrInvalidArgument, "decode body: %v", err)
	}
	if !found {
		return nil, errors.Wrap(domain.ErrInvalidArgument, "items is required")
	}
	return items, nil
}

// POST /api/cart/checkout
func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := auth.UserFromContext(r.Context())
	if userID == "" {
		respondUnauthorized(w, r)
		return
	}

	order, err := h.svc.Checkout(ctx, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, CheckoutResponseDTO{
		Message: "Order placed successfully",
		OrderID: order.ID,
	})
}
