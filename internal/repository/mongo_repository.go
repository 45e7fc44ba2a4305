package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fjod/storefront/internal/domain"
)

var (
	ErrCartNotFound     = errors.New("cart not found")
	ErrItemNotFound     = errors.New("item not found in cart")
	ErrVersionConflict  = errors.New("cart was modified concurrently")
	ErrUpsertContention = errors.New("cart upsert kept losing to concurrent writers")
)

// maxUpsertAttempts bounds retries after a duplicate key error, which only
// happens when a concurrent request created the same user's cart first.
const maxUpsertAttempts = 3

// maxDeductedOrders is how many reconciled order ids a cart remembers.
const maxDeductedOrders = 20

type mongoRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewMongoRepository(db *mongo.Database) CartRepository {
	return &mongoRepository{
		collection: db.Collection(cartsCollection),
		now:        time.Now,
	}
}

func returnAfter() *options.FindOneAndUpdateOptions {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}

func (m *mongoRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart

	filter := bson.M{"user_id": userID}
	err := m.collection.FindOne(ctx, filter).Decode(&cart)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, errors.Wrap(err, "get cart")
	}

	return &cart, nil
}

// EnsureCart returns the user's cart, inserting an empty one if none exists.
func (m *mongoRepository) EnsureCart(ctx context.Context, userID string) (*domain.Cart, error) {
	now := m.now().UTC()
	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"items":      bson.A{},
			"version":    int64(0),
			"created_at": now,
			"updated_at": now,
		},
	}

	var cart domain.Cart
	err := m.withUpsertRetry(func() error {
		return m.collection.FindOneAndUpdate(ctx, filter, update, returnAfter().SetUpsert(true)).Decode(&cart)
	})
	if err != nil {
		return nil, errors.Wrap(err, "ensure cart")
	}
	return &cart, nil
}

// IncrementItem adds delta to the product's quantity, appending a new line
// item (and creating the cart) when the product is not in the cart yet.
// Both branches are single-document atomic updates, so concurrent calls for
// the same user never lose increments.
func (m *mongoRepository) IncrementItem(ctx context.Context, userID, productID string, delta int) (*domain.Cart, error) {
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		now := m.now().UTC()

		var cart domain.Cart
		err := m.collection.FindOneAndUpdate(ctx,
			bson.M{"user_id": userID, "items.product_id": productID},
			bson.M{
				"$inc": bson.M{"items.$.quantity": delta, "version": 1},
				"$set": bson.M{"updated_at": now},
			},
			returnAfter(),
		).Decode(&cart)
		if err == nil {
			return &cart, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errors.Wrap(err, "increment item")
		}

		err = m.collection.FindOneAndUpdate(ctx,
			bson.M{"user_id": userID, "items.product_id": bson.M{"$ne": productID}},
			bson.M{
				"$push":        bson.M{"items": domain.LineItem{ProductID: productID, Quantity: delta}},
				"$inc":         bson.M{"version": 1},
				"$set":         bson.M{"updated_at": now},
				"$setOnInsert": bson.M{"created_at": now},
			},
			returnAfter().SetUpsert(true),
		).Decode(&cart)
		if err == nil {
			return &cart, nil
		}
		// The item appeared (or the cart was created) between the two
		// updates; the next attempt takes the $inc branch.
		if mongo.IsDuplicateKeyError(err) {
			continue
		}
		return nil, errors.Wrap(err, "append item")
	}

	return nil, ErrUpsertContention
}

func (m *mongoRepository) SetItemQuantity(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error) {
	filter := bson.M{
		"user_id":          userID,
		"items.product_id": productID,
	}

	update := bson.M{
		"$set": bson.M{
			"items.$.quantity": quantity,
			"updated_at":       m.now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}

	var cart domain.Cart
	err := m.collection.FindOneAndUpdate(ctx, filter, update, returnAfter()).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrItemNotFound
		}
		return nil, errors.Wrap(err, "update item quantity")
	}
	return &cart, nil
}

// RemoveItem pulls the product from the cart. A cart without the product is
// returned unchanged; a missing cart yields ErrCartNotFound.
func (m *mongoRepository) RemoveItem(ctx context.Context, userID, productID string) (*domain.Cart, error) {
	filter := bson.M{"user_id": userID, "items.product_id": productID}
	update := bson.M{
		"$pull": bson.M{
			"items": bson.M{"product_id": productID},
		},
		"$set": bson.M{"updated_at": m.now().UTC()},
		"$inc": bson.M{"version": 1},
	}

	var cart domain.Cart
	err := m.collection.FindOneAndUpdate(ctx, filter, update, returnAfter()).Decode(&cart)
	if err == nil {
		return &cart, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrap(err, "remove item")
	}
	return m.GetCart(ctx, userID)
}

// DeductOrder takes the quantities of an order out of the cart and drops
// lines that reach zero. Units added after the order are kept. The order id
// is recorded on the cart, so a redelivered order is deducted once.
func (m *mongoRepository) DeductOrder(ctx context.Context, userID, orderID string, items []domain.LineItem) error {
	items = domain.Coalesce(items)
	if len(items) == 0 {
		return nil
	}

	now := m.now().UTC()
	inc := bson.M{"version": 1}
	filters := make([]interface{}, 0, len(items))
	for i, item := range items {
		name := fmt.Sprintf("i%d", i)
		inc["items.$["+name+"].quantity"] = -item.Quantity
		filters = append(filters, bson.M{name + ".product_id": item.ProductID})
	}

	_, err := m.collection.UpdateOne(ctx,
		bson.M{"user_id": userID, "deducted_orders": bson.M{"$ne": orderID}},
		bson.M{
			"$inc": inc,
			"$set": bson.M{"updated_at": now},
			"$push": bson.M{"deducted_orders": bson.M{
				"$each":  bson.A{orderID},
				"$slice": -maxDeductedOrders,
			}},
		},
		options.Update().SetArrayFilters(options.ArrayFilters{Filters: filters}),
	)
	if err != nil {
		return errors.Wrap(err, "deduct order")
	}

	_, err = m.collection.UpdateOne(ctx,
		bson.M{"user_id": userID, "items.quantity": bson.M{"$lte": 0}},
		bson.M{
			"$pull": bson.M{"items": bson.M{"quantity": bson.M{"$lte": 0}}},
			"$inc":  bson.M{"version": 1},
		},
	)
	if err != nil {
		return errors.Wrap(err, "drop empty lines")
	}
	return nil
}

// ReplaceItems overwrites the items only if the stored version still equals
// version. It is the compare-and-swap step for read-modify-write operations.
func (m *mongoRepository) ReplaceItems(ctx context.Context, userID string, version int64, items []domain.LineItem) (*domain.Cart, error) {
	if items == nil {
		items = []domain.LineItem{}
	}
	filter := bson.M{"user_id": userID, "version": version}
	update := bson.M{
		"$set": bson.M{
			"items":      items,
			"updated_at": m.now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}

	var cart domain.Cart
	err := m.collection.FindOneAndUpdate(ctx, filter, update, returnAfter()).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrVersionConflict
		}
		return nil, errors.Wrap(err, "replace items")
	}
	return &cart, nil
}

func (m *mongoRepository) ClearItems(ctx context.Context, userID string) error {
	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$set": bson.M{
			"items":      bson.A{},
			"updated_at": m.now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return errors.Wrap(err, "clear cart")
	}

	if result.MatchedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *mongoRepository) withUpsertRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		if err = fn(); !mongo.IsDuplicateKeyError(err) {
			return err
		}
	}
	return errors.Wrap(ErrUpsertContention, err.Error())
}
