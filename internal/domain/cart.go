package domain

import "time"

type Cart struct {
	ID        string     `bson:"_id,omitempty" json:"id,omitempty"`
	UserID    string     `bson:"user_id" json:"user_id"`
	Items     []LineItem `bson:"items" json:"items"`
	Version   int64      `bson:"version" json:"version"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
}

// LineItem is the single cart entry shape used by server carts, guest carts
// and merge payloads.
type LineItem struct {
	ProductID string `bson:"product_id" json:"product_id"`
	Quantity  int    `bson:"quantity" json:"quantity"`
}

func (i LineItem) Valid() bool {
	return i.ProductID != "" && i.Quantity >= 1
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// ProductIDs lists the products referenced by the cart in item order.
func (c *Cart) ProductIDs() []string {
	ids := make([]string, len(c.Items))
	for i, item := range c.Items {
		ids[i] = item.ProductID
	}
	return ids
}

// MergeItems folds incoming into existing. Invalid incoming entries are
// skipped, quantities for a product already present are summed and new
// products are appended in input order. Neither argument is modified.
func MergeItems(existing, incoming []LineItem) []LineItem {
	merged := make([]LineItem, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))

	add := func(item LineItem) {
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			return
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}

	for _, item := range existing {
		add(item)
	}
	for _, item := range incoming {
		if !item.Valid() {
			continue
		}
		add(item)
	}
	return merged
}

// Coalesce drops invalid items and sums duplicates, keeping first-seen order.
func Coalesce(items []LineItem) []LineItem {
	return MergeItems(nil, items)
}
