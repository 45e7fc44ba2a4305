package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeItems_SumsExistingAndAppendsNew(t *testing.T) {
	existing := []LineItem{{ProductID: "p1", Quantity: 2}}
	guest := []LineItem{{ProductID: "p1", Quantity: 3}, {ProductID: "p2", Quantity: 1}}

	merged := MergeItems(existing, guest)

	require.Len(t, merged, 2)
	assert.Equal(t, LineItem{ProductID: "p1", Quantity: 5}, merged[0])
	assert.Equal(t, LineItem{ProductID: "p2", Quantity: 1}, merged[1])
	// inputs untouched
	assert.Equal(t, 2, existing[0].Quantity)
}

func TestMergeItems_OrderOfGuestEntriesDoesNotChangeQuantities(t *testing.T) {
	existing := []LineItem{{ProductID: "p1", Quantity: 2}}
	forward := MergeItems(existing, []LineItem{{ProductID: "p1", Quantity: 3}, {ProductID: "p2", Quantity: 1}})
	backward := MergeItems(existing, []LineItem{{ProductID: "p2", Quantity: 1}, {ProductID: "p1", Quantity: 3}})

	assert.Equal(t, quantities(forward), quantities(backward))
}

func TestMergeItems_DropsInvalidEntries(t *testing.T) {
	merged := MergeItems(nil, []LineItem{
		{ProductID: "p1", Quantity: 0},
		{ProductID: "p2", Quantity: 2},
		{ProductID: "", Quantity: 4},
		{ProductID: "p3", Quantity: -1},
	})

	assert.Equal(t, []LineItem{{ProductID: "p2", Quantity: 2}}, merged)
}

func TestMergeItems_EmptyGuestKeepsCart(t *testing.T) {
	existing := []LineItem{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 7}}
	assert.Equal(t, existing, MergeItems(existing, nil))
}

func TestCoalesce(t *testing.T) {
	items := Coalesce([]LineItem{
		{ProductID: "a", Quantity: 1},
		{ProductID: "b", Quantity: 2},
		{ProductID: "a", Quantity: 4},
	})

	assert.Equal(t, []LineItem{{ProductID: "a", Quantity: 5}, {ProductID: "b", Quantity: 2}}, items)
}

func TestCart_ProductIDs(t *testing.T) {
	c := &Cart{Items: []LineItem{{ProductID: "a", Quantity: 1}, {ProductID: "b", Quantity: 2}}}

	assert.Equal(t, []string{"a", "b"}, c.ProductIDs())
}

func TestCart_IsEmpty(t *testing.T) {
	var nilCart *Cart
	assert.True(t, nilCart.IsEmpty())
	assert.True(t, (&Cart{}).IsEmpty())
	assert.False(t, (&Cart{Items: []LineItem{{ProductID: "a", Quantity: 1}}}).IsEmpty())
}

func TestResolve(t *testing.T) {
	products := map[string]Product{"a": {ID: "a", Title: "Lamp", Price: 10}}
	resolved, missing := Resolve([]LineItem{{ProductID: "a", Quantity: 2}, {ProductID: "gone", Quantity: 1}}, products)

	require.Len(t, resolved, 1)
	assert.Equal(t, "Lamp", resolved[0].Product.Title)
	assert.Equal(t, 2, resolved[0].Quantity)
	assert.Equal(t, []string{"gone"}, missing)
}

func quantities(items []LineItem) map[string]int {
	m := make(map[string]int, len(items))
	for _, item := range items {
		m[item.ProductID] = item.Quantity
	}
	return m
}
