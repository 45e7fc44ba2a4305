package service

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/events"
	"github.com/fjod/storefront/internal/repository"
)

// maxMergeAttempts bounds compare-and-swap retries when a concurrent write
// changes the cart between reading it and storing the merged items.
const maxMergeAttempts = 5

// Catalog is the read side of the product catalog the service prices and
// resolves carts against.
type Catalog interface {
	Product(ctx context.Context, id string) (*domain.Product, error)
	Products(ctx context.Context, ids []string) (map[string]domain.Product, error)
	List(ctx context.Context, filter repository.ProductFilter) ([]domain.Product, error)
	Resolve(ctx context.Context, items []domain.LineItem) ([]domain.ResolvedItem, error)
}

type Deps struct {
	Carts     repository.CartRepository
	Orders    repository.OrderRepository
	Catalog   Catalog
	Cache     cache.CartCache
	Guard     cache.MergeGuard
	Publisher events.Publisher
}

type CartService struct {
	repo      repository.CartRepository
	orders    repository.OrderRepository
	catalog   Catalog
	cache     cache.CartCache
	guard     cache.MergeGuard
	publisher events.Publisher
	sfg       singleflight.Group // Prevents cache stampede
	lg        *zap.Logger
	tracer    trace.Tracer
	merges    metric.Int64Counter
	checkouts metric.Int64Counter
	now       func() time.Time
}

func NewCartService(deps Deps, lg *zap.Logger, tp trace.TracerProvider, mp metric.MeterProvider) (*CartService, error) {
	meter := mp.Meter("github.com/fjod/storefront/internal/service")
	merges, err := meter.Int64Counter("storefront.cart.merges",
		metric.WithDescription("Guest carts merged into server carts"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "merges counter")
	}
	checkouts, err := meter.Int64Counter("storefront.cart.checkouts",
		metric.WithDescription("Orders created from carts"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "checkouts counter")
	}

	return &CartService{
		repo:      deps.Carts,
		orders:    deps.Orders,
		catalog:   deps.Catalog,
		cache:     deps.Cache,
		guard:     deps.Guard,
		publisher: deps.Publisher,
		lg:        lg,
		tracer:    tp.Tracer("github.com/fjod/storefront/internal/service"),
		merges:    merges,
		checkouts: checkouts,
		now:       time.Now,
	}, nil
}

// cart returns the user's raw cart from cache or storage, creating an empty
// one on first access.
func (s *CartService) cart(ctx context.Context, userID string) (*domain.Cart, error) {
	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, generation, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		fill := errors.Is(err, cache.ErrCacheMiss)
		if !fill {
			s.lg.Warn("Cache get failed", zap.String("user_id", userID), zap.Error(err))
		}

		cart, err = s.repo.EnsureCart(ctx, userID)
		if err != nil {
			return nil, errors.Wrap(err, "load cart")
		}

		if fill {
			if err := s.cache.Set(ctx, userID, generation, cart); err != nil {
				s.lg.Warn("Cache set failed", zap.String("user_id", userID), zap.Error(err))
			}
		}

		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart), nil
}

// Fetch returns the user's cart resolved against the current catalog.
func (s *CartService) Fetch(ctx context.Context, userID string) ([]domain.ResolvedItem, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}

	cart, err := s.cart(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.catalog.Resolve(ctx, cart.Items)
}

// Add puts one unit of productID into the cart. The increment happens in a
// single storage update so concurrent adds are never lost.
func (s *CartService) Add(ctx context.Context, userID, productID string) ([]domain.ResolvedItem, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	if productID == "" {
		return nil, errors.Wrap(domain.ErrInvalidArgument, "productId is required")
	}

	if _, err := s.GetProduct(ctx, productID); err != nil {
		return nil, err
	}

	cart, err := s.repo.IncrementItem(ctx, userID, productID, 1)
	if err != nil {
		return nil, errors.Wrap(err, "add item")
	}

	s.invalidateCache(userID)
	return s.resolveStored(ctx, userID, cart.Items), nil
}

// Update sets the quantity of a product already in the cart.
func (s *CartService) Update(ctx context.Context, userID, productID string, quantity int) ([]domain.ResolvedItem, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	if productID == "" || quantity < 1 {
		return nil, errors.Wrap(domain.ErrInvalidArgument, "productId and a quantity of at least 1 are required")
	}

	cart, err := s.repo.SetItemQuantity(ctx, userID, productID, quantity)
	if errors.Is(err, repository.ErrItemNotFound) {
		return nil, errors.Wrapf(domain.ErrNotFound, "product %q is not in the cart", productID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "update item")
	}

	s.invalidateCache(userID)
	return s.resolveStored(ctx, userID, cart.Items), nil
}

// Remove drops productID from the cart. Removing a product that is not in
// the cart, or from a cart that does not exist, is not an error.
func (s *CartService) Remove(ctx context.Context, userID, productID string) ([]domain.ResolvedItem, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}

	cart, err := s.repo.RemoveItem(ctx, userID, productID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return []domain.ResolvedItem{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "remove item")
	}

	s.invalidateCache(userID)
	return s.resolveStored(ctx, userID, cart.Items), nil
}

// Merge adds guest entries into the user's cart: quantities of products
// already present are summed, new products are appended and invalid entries
// are skipped. A non-empty idempotency key makes a repeated call with the
// same key a no-op that returns the current cart.
func (s *CartService) Merge(ctx context.Context, userID string, items []domain.LineItem, idempotencyKey string) ([]domain.ResolvedItem, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}

	ctx, span := s.tracer.Start(ctx, "CartService.Merge",
		trace.WithAttributes(attribute.Int("storefront.merge.entries", len(items))),
	)
	defer span.End()

	if idempotencyKey != "" && s.guard != nil {
		first, err := s.guard.Claim(ctx, userID, idempotencyKey)
		if err != nil {
			return nil, errors.Wrap(err, "claim merge key")
		}
		if !first {
			s.lg.Info("Merge already applied",
				zap.String("user_id", userID),
				zap.String("idempotency_key", idempotencyKey),
			)
			return s.Fetch(ctx, userID)
		}
	}

	cart, err := s.mergeItems(ctx, userID, items)
	if err != nil {
		span.RecordError(err)
		if idempotencyKey != "" && s.guard != nil {
			if errRelease := s.guard.Release(context.WithoutCancel(ctx), userID, idempotencyKey); errRelease != nil {
				s.lg.Warn("Release merge key failed", zap.String("user_id", userID), zap.Error(errRelease))
			}
		}
		return nil, err
	}

	s.merges.Add(ctx, 1)
	return s.resolveStored(ctx, userID, cart.Items), nil
}

// resolveStored resolves items that are already written. The write stays
// reported as applied when the catalog fails, so a client retry does not
// repeat it; products then carry only their id.
func (s *CartService) resolveStored(ctx context.Context, userID string, items []domain.LineItem) []domain.ResolvedItem {
	resolved, err := s.catalog.Resolve(ctx, items)
	if err != nil {
		s.lg.Warn("Cart stored but not resolved",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return domain.Unresolved(items)
	}
	return resolved
}

func (s *CartService) mergeItems(ctx context.Context, userID string, items []domain.LineItem) (*domain.Cart, error) {
	incoming := domain.Coalesce(items)
	for attempt := 1; ; attempt++ {
		cart, err := s.repo.EnsureCart(ctx, userID)
		if err != nil {
			return nil, errors.Wrap(err, "load cart")
		}
		if len(incoming) == 0 {
			return cart, nil
		}

		merged := domain.MergeItems(cart.Items, incoming)
		updated, err := s.repo.ReplaceItems(ctx, userID, cart.Version, merged)
		if err == nil {
			s.invalidateCache(userID)
			return updated, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) || attempt == maxMergeAttempts {
			return nil, errors.Wrapf(err, "merge cart (attempt %d)", attempt)
		}
		s.lg.Debug("Merge lost a concurrent update, retrying",
			zap.String("user_id", userID),
			zap.Int("attempt", attempt),
		)
	}
}

// Checkout converts the cart into an order priced from the catalog and then
// empties the cart. The order is kept even if emptying the cart fails; the
// published event tells the reconciler to finish the job.
func (s *CartService) Checkout(ctx context.Context, userID string) (*domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}

	ctx, span := s.tracer.Start(ctx, "CartService.Checkout")
	defer span.End()

	cart, err := s.repo.GetCart(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) || (err == nil && cart.IsEmpty()) {
		return nil, domain.ErrCartEmpty
	}
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}

	products, err := s.catalog.Products(ctx, cart.ProductIDs())
	if err != nil {
		return nil, errors.Wrap(err, "price cart")
	}

	order, err := domain.NewOrder(userID, cart.Items, products, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "create order")
	}
	span.SetAttributes(attribute.String("storefront.order.id", order.ID))

	cleared := true
	if err := s.repo.ClearItems(ctx, userID); err != nil {
		cleared = false
		s.lg.Error("Order created but cart not cleared",
			zap.String("order_id", order.ID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
	s.invalidateCache(userID)

	event := events.CheckoutEvent{
		OrderID:     order.ID,
		UserID:      userID,
		Items:       order.LineItems(),
		Total:       order.Total,
		CartCleared: cleared,
		OccurredAt:  order.CreatedAt,
	}
	if err := s.publisher.PublishCheckout(ctx, event); err != nil {
		s.lg.Error("Publish checkout event failed",
			zap.String("order_id", order.ID),
			zap.Bool("cart_cleared", cleared),
			zap.Error(err),
		)
	}

	s.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("cart_cleared", cleared)))
	return order, nil
}

// Reconcile takes the quantities of an order out of a cart that checkout
// failed to empty. Units added after the checkout stay in the cart.
func (s *CartService) Reconcile(ctx context.Context, userID, orderID string, items []domain.LineItem) error {
	if err := s.repo.DeductOrder(ctx, userID, orderID, items); err != nil {
		return errors.Wrap(err, "deduct ordered items")
	}
	s.invalidateCache(userID)
	return nil
}

// Orders lists the user's orders, newest first.
func (s *CartService) Orders(ctx context.Context, userID string) ([]*domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	orders, err := s.orders.ListOrdersByUserID(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// Order returns one of the user's orders. Orders of other users are
// reported as not found.
func (s *CartService) Order(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, repository.ErrOrderNotFound) || (err == nil && order.UserID != userID) {
		return nil, errors.Wrapf(domain.ErrNotFound, "order %q", orderID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return order, nil
}

func (s *CartService) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	p, err := s.catalog.Product(ctx, productID)
	if errors.Is(err, repository.ErrProductNotFound) {
		return nil, errors.Wrapf(domain.ErrNotFound, "product %q", productID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	return p, nil
}

func (s *CartService) ListProducts(ctx context.Context, filter repository.ProductFilter) ([]domain.Product, error) {
	products, err := s.catalog.List(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return products, nil
}

// ResolveItems resolves line items that are not stored server side, such as
// guest entries.
func (s *CartService) ResolveItems(ctx context.Context, items []domain.LineItem) ([]domain.ResolvedItem, error) {
	return s.catalog.Resolve(ctx, domain.Coalesce(items))
}

func (s *CartService) invalidateCache(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.lg.Warn("Cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}
