package repository

import (
	"context"

	"github.com/fjod/storefront/internal/domain"
)

// CartRepository defines the cart storage operations.
// Every mutation is a single atomic document update and returns the cart as
// stored after the update.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	EnsureCart(ctx context.Context, userID string) (*domain.Cart, error)
	IncrementItem(ctx context.Context, userID, productID string, delta int) (*domain.Cart, error)
	SetItemQuantity(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, userID, productID string) (*domain.Cart, error)
	DeductOrder(ctx context.Context, userID, orderID string, items []domain.LineItem) error
	ReplaceItems(ctx context.Context, userID string, version int64, items []domain.LineItem) (*domain.Cart, error)
	ClearItems(ctx context.Context, userID string) error
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error)
}

// ProductFilter narrows product listings. Zero value lists everything.
type ProductFilter struct {
	Category string
	Query    string
}

type ProductRepository interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) ([]domain.Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]domain.Product, error)
}
