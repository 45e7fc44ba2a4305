// Package catalog reads products for cart resolution and order pricing.
// All reads go through a circuit breaker so a struggling products collection
// fails cart responses fast instead of piling up requests.
package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
)

var ErrUnavailable = errors.New("catalog unavailable")

type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval after which closed-state counts are reset.
	Interval time.Duration
	// Timeout spent open before letting trial requests through.
	Timeout time.Duration
	// ConsecutiveFailures that trip the breaker.
	ConsecutiveFailures uint32
}

type Catalog struct {
	products repository.ProductRepository
	breaker  *gobreaker.CircuitBreaker[[]domain.Product]
	lg       *zap.Logger
}

func New(products repository.ProductRepository, cfg BreakerConfig, lg *zap.Logger) *Catalog {
	settings := gobreaker.Settings{
		Name:        "catalog",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
		// A missing product or a cancelled request says nothing about the
		// health of the database.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, repository.ErrProductNotFound) ||
				errors.Is(err, context.Canceled)
		},
	}

	return &Catalog{
		products: products,
		breaker:  gobreaker.NewCircuitBreaker[[]domain.Product](settings),
		lg:       lg,
	}
}

func (c *Catalog) execute(fn func() ([]domain.Product, error)) ([]domain.Product, error) {
	products, err := c.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	return products, err
}

// Product returns a single product or repository.ErrProductNotFound.
func (c *Catalog) Product(ctx context.Context, id string) (*domain.Product, error) {
	products, err := c.execute(func() ([]domain.Product, error) {
		p, err := c.products.GetProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		return []domain.Product{*p}, nil
	})
	if err != nil {
		return nil, err
	}
	return &products[0], nil
}

// Products returns the existing products among ids keyed by id.
func (c *Catalog) Products(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	products, err := c.execute(func() ([]domain.Product, error) {
		return c.products.GetProductsByIDs(ctx, ids)
	})
	if err != nil {
		return nil, errors.Wrap(err, "lookup products")
	}

	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return byID, nil
}

func (c *Catalog) List(ctx context.Context, filter repository.ProductFilter) ([]domain.Product, error) {
	return c.execute(func() ([]domain.Product, error) {
		return c.products.ListProducts(ctx, filter)
	})
}

// Resolve expands items with current product detail. Items whose product no
// longer exists are left out of the result and logged.
func (c *Catalog) Resolve(ctx context.Context, items []domain.LineItem) ([]domain.ResolvedItem, error) {
	if len(items) == 0 {
		return []domain.ResolvedItem{}, nil
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}

	products, err := c.Products(ctx, ids)
	if err != nil {
		return nil, err
	}

	resolved, missing := domain.Resolve(items, products)
	if len(missing) > 0 {
		c.lg.Warn("Cart references products missing from catalog", zap.Strings("product_ids", missing))
	}
	return resolved, nil
}
