package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/fjod/storefront/internal/auth"
	c "github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/events"
	"github.com/fjod/storefront/internal/guestcart"
	r "github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/internal/service"
)

func setupTestDB(t *testing.T) *mongo.Database {
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	testcontainers.CleanupContainer(t, mongoContainer)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := r.ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)
	require.NoError(t, r.CreateIndexes(ctx, db))
	t.Cleanup(func() { _ = db.Client().Disconnect(ctx) })

	return db
}

func setupRedis(t *testing.T) *redis.Client {
	ctx := context.Background()
	redisC, err := testcontainers.Run(
		ctx, "redis:7",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	)
	require.NoError(t, err)
	testcontainers.CleanupContainer(t, redisC)

	endpoint, err := redisC.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// flakyProducts fails batch product lookups while failing is set.
type flakyProducts struct {
	r.ProductRepository
	failing atomic.Bool
}

func (f *flakyProducts) GetProductsByIDs(ctx context.Context, ids []string) ([]domain.Product, error) {
	if f.failing.Load() {
		return nil, errors.New("products collection unreachable")
	}
	return f.ProductRepository.GetProductsByIDs(ctx, ids)
}

func newIntegrationRouter(t *testing.T) http.Handler {
	return newIntegrationRouterWith(t, func(p r.ProductRepository) r.ProductRepository { return p })
}

func newIntegrationRouterWith(t *testing.T, wrapProducts func(r.ProductRepository) r.ProductRepository) http.Handler {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()
	db := setupTestDB(t)
	rdb := setupRedis(t)
	lg := zaptest.NewLogger(t)

	_, err := db.Collection("products").InsertMany(ctx, []any{
		domain.Product{ID: "lamp", Title: "Lamp", Price: 19.99, Category: "home", Stock: 5},
		domain.Product{ID: "chair", Title: "Chair", Price: 45, Category: "home", Stock: 2},
	})
	require.NoError(t, err)

	svc, err := service.NewCartService(service.Deps{
		Carts:  r.NewMongoRepository(db),
		Orders: r.NewOrderRepository(db),
		Catalog: catalog.New(wrapProducts(r.NewProductRepository(db)), catalog.BreakerConfig{
			MaxRequests:         1,
			Interval:            time.Minute,
			Timeout:             time.Second,
			ConsecutiveFailures: 5,
		}, lg),
		Cache:     c.NewRedisCache(rdb, 15*time.Minute),
		Guard:     c.NewRedisMergeGuard(rdb, time.Hour),
		Publisher: events.NewLogPublisher(lg),
	}, lg, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	require.NoError(t, err)

	health := NewHealthHandler(time.Second)
	health.Add("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })

	return NewRouter(RouterConfig{
		RequestTimeout:     10 * time.Second,
		MaxRequestBodySize: 1 << 20,
		SessionCookie:      "session",
		GuestCookie:        guestcart.CookieOptions{Path: "/", MaxAge: time.Hour},
	}, svc, auth.NewVerifier(testSecret), health, lg)
}

func TestIntegration_GuestToCheckout(t *testing.T) {
	router := newIntegrationRouter(t)

	// Guest browses and adds items.
	rec := do(t, router, http.MethodPost, "/api/guest/cart/add", `{"productId":"lamp"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	guest := lastGuestCookie(t, rec)

	req := httptest.NewRequest(http.MethodPost, "/api/guest/cart/update", strings.NewReader(`{"productId":"lamp","quantity":2}`))
	req.AddCookie(guest)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	guest = lastGuestCookie(t, rec)

	// The user already has a chair on the server.
	rec = do(t, router, http.MethodPost, "/api/cart/add", `{"productId":"chair"}`, "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodPost, "/api/cart/add", `{"productId":"lamp"}`, "alice")
	require.Equal(t, http.StatusOK, rec.Code)

	// Sign-in merges the guest cookie.
	req = httptest.NewRequest(http.MethodPost, "/api/cart/merge", nil)
	req.Header.Set("Authorization", bearer(t, "alice"))
	req.Header.Set(IdempotencyKeyHeader, "login-1")
	req.AddCookie(guest)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var merged MergeResponseDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&merged))
	assert.True(t, merged.Success)
	quantities := map[string]int{}
	for _, item := range merged.Items {
		quantities[item.Product.ID] = item.Quantity
	}
	assert.Equal(t, map[string]int{"chair": 1, "lamp": 3}, quantities)

	// Replaying the same sign-in does not double the cart.
	rec = do(t, router, http.MethodPost, "/api/cart/merge", `{"items":[{"product":"lamp","quantity":2}]}`, "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	req = httptest.NewRequest(http.MethodPost, "/api/cart/merge", strings.NewReader(`{"items":[{"product":"lamp","quantity":2}]}`))
	req.Header.Set("Authorization", bearer(t, "alice"))
	req.Header.Set(IdempotencyKeyHeader, "login-1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/cart", "", "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []domain.ResolvedItem
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&items))
	require.Len(t, items, 2)
	assert.Equal(t, "chair", items[0].Product.ID)
	assert.Equal(t, 5, items[1].Quantity)

	// Checkout snapshots prices and empties the cart.
	rec = do(t, router, http.MethodPost, "/api/cart/checkout", "", "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	var placed CheckoutResponseDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&placed))
	assert.Equal(t, "Order placed successfully", placed.Message)
	require.NotEmpty(t, placed.OrderID)

	rec = do(t, router, http.MethodGet, "/api/cart", "", "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/api/cart/checkout", "", "alice")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "cart_empty", decodeError(t, rec).Code)

	rec = do(t, router, http.MethodGet, "/api/orders/"+placed.OrderID, "", "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	var order domain.Order
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&order))
	assert.Equal(t, "alice", order.UserID)
	assert.InDelta(t, 45+5*19.99, order.Total, 0.001)

	rec = do(t, router, http.MethodGet, "/api/orders/"+placed.OrderID, "", "bob")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIntegration_CookieMergeWhileCatalogFails(t *testing.T) {
	products := &flakyProducts{}
	router := newIntegrationRouterWith(t, func(p r.ProductRepository) r.ProductRepository {
		products.ProductRepository = p
		return products
	})

	rec := do(t, router, http.MethodPost, "/api/guest/cart/add", `{"productId":"lamp"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	guest := lastGuestCookie(t, rec)

	products.failing.Store(true)
	req := httptest.NewRequest(http.MethodPost, "/api/cart/merge", nil)
	req.Header.Set("Authorization", bearer(t, "carol"))
	req.AddCookie(guest)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	cleared := lastGuestCookie(t, rec)
	assert.Equal(t, -1, cleared.MaxAge)

	var merged MergeResponseDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&merged))
	require.Len(t, merged.Items, 1)
	assert.Equal(t, "lamp", merged.Items[0].Product.ID)
	assert.Empty(t, merged.Items[0].Product.Title)
	assert.Equal(t, 1, merged.Items[0].Quantity)

	products.failing.Store(false)
	rec = do(t, router, http.MethodGet, "/api/cart", "", "carol")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []domain.ResolvedItem
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, "Lamp", items[0].Product.Title)
	assert.Equal(t, 1, items[0].Quantity)
}

func TestIntegration_Health(t *testing.T) {
	router := newIntegrationRouter(t)

	rec := do(t, router, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
}
