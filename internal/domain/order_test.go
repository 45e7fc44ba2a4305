package domain

import (
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrder_SnapshotsPrices(t *testing.T) {
	products := map[string]Product{
		"p1": {ID: "p1", Title: "Mug", Price: 10},
		"p2": {ID: "p2", Title: "Tea", Price: 0.1},
	}
	items := []LineItem{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 3}}

	order, err := NewOrder("u1", items, products, time.Now())
	require.NoError(t, err)

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, "u1", order.UserID)
	require.Len(t, order.Items, 2)
	assert.Equal(t, 10.0, order.Items[0].UnitPrice)
	assert.Equal(t, "Mug", order.Items[0].Title)
	assert.Equal(t, 20.3, order.Total)

	// later catalog changes do not reach the order
	products["p1"] = Product{ID: "p1", Price: 20}
	assert.Equal(t, 10.0, order.Items[0].UnitPrice)
	assert.Equal(t, items, order.LineItems())
}

func TestNewOrder_SkipsProductsMissingFromCatalog(t *testing.T) {
	products := map[string]Product{"p1": {ID: "p1", Price: 5}}
	order, err := NewOrder("u1", []LineItem{{ProductID: "p1", Quantity: 1}, {ProductID: "gone", Quantity: 4}}, products, time.Now())
	require.NoError(t, err)

	require.Len(t, order.Items, 1)
	assert.Equal(t, 5.0, order.Total)
}

func TestNewOrder_NothingPurchasable(t *testing.T) {
	_, err := NewOrder("u1", nil, nil, time.Now())
	assert.True(t, errors.Is(err, ErrCartEmpty))

	_, err = NewOrder("u1", []LineItem{{ProductID: "gone", Quantity: 1}}, map[string]Product{}, time.Now())
	assert.True(t, errors.Is(err, ErrCartEmpty))
}
