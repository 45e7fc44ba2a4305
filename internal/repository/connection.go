package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	cartsCollection    = "carts"
	ordersCollection   = "orders"
	productsCollection = "products"
)

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, errors.Wrap(err, "connect to MongoDB")
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "ping MongoDB")
	}

	return client.Database(database), nil
}

// CreateIndexes creates the indexes every collection relies on. The unique
// user_id index on carts is what keeps one cart per user under concurrent
// lazy creation.
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	cartIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := db.Collection(cartsCollection).Indexes().CreateMany(ctx, cartIndexes); err != nil {
		return errors.Wrap(err, "create cart indexes")
	}

	orderIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	if _, err := db.Collection(ordersCollection).Indexes().CreateMany(ctx, orderIndexes); err != nil {
		return errors.Wrap(err, "create order indexes")
	}

	productIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "category", Value: 1}}},
	}
	if _, err := db.Collection(productsCollection).Indexes().CreateMany(ctx, productIndexes); err != nil {
		return errors.Wrap(err, "create product indexes")
	}

	return nil
}
