package repository

import (
	"context"
	"regexp"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fjod/storefront/internal/domain"
)

var ErrProductNotFound = errors.New("product not found")

type productRepository struct {
	collection *mongo.Collection
}

func NewProductRepository(db *mongo.Database) ProductRepository {
	return &productRepository{collection: db.Collection(productsCollection)}
}

func (r *productRepository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "query product")
	}
	return &p, nil
}

// GetProductsByIDs returns the products that exist among ids, in no
// particular order.
func (r *productRepository) GetProductsByIDs(ctx context.Context, ids []string) ([]domain.Product, error) {
	products := make([]domain.Product, 0, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, errors.Wrap(err, "query products by ids")
	}
	defer cursor.Close(ctx)

	if err := cursor.All(ctx, &products); err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	return products, nil
}

func (r *productRepository) ListProducts(ctx context.Context, filter ProductFilter) ([]domain.Product, error) {
	query := bson.M{}
	if filter.Category != "" {
		query["category"] = filter.Category
	}
	if filter.Query != "" {
		query["title"] = primitive.Regex{Pattern: regexp.QuoteMeta(filter.Query), Options: "i"}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, errors.Wrap(err, "query products")
	}
	defer cursor.Close(ctx)

	products := make([]domain.Product, 0)
	if err := cursor.All(ctx, &products); err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	return products, nil
}
