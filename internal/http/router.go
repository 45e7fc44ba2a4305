package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fjod/storefront/internal/auth"
	"github.com/fjod/storefront/internal/guestcart"
)

type RouterConfig struct {
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	SessionCookie      string
	GuestCookie        guestcart.CookieOptions
}

func NewRouter(cfg RouterConfig, svc CartService, verifier *auth.Verifier, health *HealthHandler, lg *zap.Logger) http.Handler {
	cartHandler := NewCartHandler(svc, cfg.GuestCookie, cfg.RequestTimeout, cfg.MaxRequestBodySize)
	guestHandler := NewGuestHandler(svc, cfg.GuestCookie, cfg.RequestTimeout, cfg.MaxRequestBodySize)
	ordersHandler := NewOrdersHandler(svc, cfg.RequestTimeout)
	productHandler := NewProductHandler(svc, cfg.RequestTimeout)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(InjectLogger(lg))
	r.Use(Recovery)
	r.Use(LogRequests)
	r.Use(middleware.Compress(5))
	r.Use(Authenticate(verifier, cfg.SessionCookie))

	r.Get("/health", health.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Post("/add", cartHandler.AddItem)
			r.Post("/update", cartHandler.UpdateQuantity)
			r.Post("/remove", cartHandler.RemoveItem)
			r.Post("/merge", cartHandler.Merge)
			r.Post("/checkout", cartHandler.Checkout)
		})
		r.Route("/guest/cart", func(r chi.Router) {
			r.Get("/", guestHandler.GetCart)
			r.Post("/add", guestHandler.AddItem)
			r.Post("/update", guestHandler.UpdateQuantity)
			r.Post("/remove", guestHandler.RemoveItem)
		})
		r.Get("/orders", ordersHandler.ListOrders)
		r.Get("/orders/{id}", ordersHandler.GetOrder)
		r.Get("/products", productHandler.List)
		r.Get("/products/{id}", productHandler.Get)
	})

	return r
}
