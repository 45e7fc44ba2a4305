package domain

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderItem is a priced line item frozen at purchase time.
type OrderItem struct {
	ProductID string  `bson:"product_id" json:"product_id"`
	Title     string  `bson:"title" json:"title"`
	Quantity  int     `bson:"quantity" json:"quantity"`
	UnitPrice float64 `bson:"unit_price" json:"unit_price"`
}

type Order struct {
	ID        string      `bson:"_id" json:"id"`
	UserID    string      `bson:"user_id" json:"user_id"`
	Items     []OrderItem `bson:"items" json:"items"`
	Total     float64     `bson:"total" json:"total"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
}

// NewOrder snapshots items at the prices found in products. Items whose
// product is no longer in the catalog are left out; if nothing purchasable
// remains ErrCartEmpty is returned.
func NewOrder(userID string, items []LineItem, products map[string]Product, now time.Time) (*Order, error) {
	order := &Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Items:     make([]OrderItem, 0, len(items)),
		CreatedAt: now.UTC(),
	}

	total := decimal.Zero
	for _, item := range items {
		if !item.Valid() {
			continue
		}
		p, ok := products[item.ProductID]
		if !ok {
			continue
		}
		price := decimal.NewFromFloat(p.Price)
		total = total.Add(price.Mul(decimal.NewFromInt(int64(item.Quantity))))

		order.Items = append(order.Items, OrderItem{
			ProductID: item.ProductID,
			Title:     p.Title,
			Quantity:  item.Quantity,
			UnitPrice: p.Price,
		})
	}

	if len(order.Items) == 0 {
		return nil, errors.Wrap(ErrCartEmpty, "no purchasable items")
	}

	order.Total = total.Round(2).InexactFloat64()
	return order, nil
}

// LineItems returns the ordered products and quantities without prices.
func (o *Order) LineItems() []LineItem {
	items := make([]LineItem, len(o.Items))
	for i, item := range o.Items {
		items[i] = LineItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return items
}
