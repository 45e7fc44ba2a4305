package domain

import "time"

type Product struct {
	ID          string    `bson:"_id" json:"_id"`
	Title       string    `bson:"title" json:"title"`
	Description string    `bson:"description" json:"description"`
	Price       float64   `bson:"price" json:"price"`
	Category    string    `bson:"category,omitempty" json:"category,omitempty"`
	Image       string    `bson:"image,omitempty" json:"image,omitempty"`
	Stock       int       `bson:"stock" json:"stock"`
	CreatedAt   time.Time `bson:"created_at" json:"createdAt"`
}

// ResolvedItem is a line item with its product expanded to current catalog
// detail.
type ResolvedItem struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// Resolve expands items using products keyed by id. Items whose product is
// absent are returned in missing instead.
func Resolve(items []LineItem, products map[string]Product) (resolved []ResolvedItem, missing []string) {
	resolved = make([]ResolvedItem, 0, len(items))
	for _, item := range items {
		p, ok := products[item.ProductID]
		if !ok {
			missing = append(missing, item.ProductID)
			continue
		}
		resolved = append(resolved, ResolvedItem{Product: p, Quantity: item.Quantity})
	}
	return resolved, missing
}

// Unresolved pairs items with products that carry only their id. It stands
// in for Resolve when the catalog cannot be reached.
func Unresolved(items []LineItem) []ResolvedItem {
	out := make([]ResolvedItem, 0, len(items))
	for _, item := range items {
		out = append(out, ResolvedItem{Product: Product{ID: item.ProductID}, Quantity: item.Quantity})
	}
	return out
}
