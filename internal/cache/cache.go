package cache

import (
	"context"
	"errors"

	"github.com/fjod/storefront/internal/domain"
)

// CartCache holds raw cart records (product ids and quantities only).
// Prices are never cached; they are resolved from the catalog per response.
//
// Every Delete bumps the user's generation. Get reports the generation it
// saw, also on a miss, and Set stores the cart only while that generation is
// still current. A cart read from storage before a concurrent write is
// therefore never cached after the write invalidated it.
type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, int64, error)
	Set(ctx context.Context, userID string, generation int64, cart *domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

// MergeGuard records merge idempotency keys so a redelivered merge request
// is applied at most once.
type MergeGuard interface {
	// Claim returns true the first time key is seen for userID.
	Claim(ctx context.Context, userID, key string) (bool, error)
	// Release forgets a claimed key, used when the merge it guarded failed.
	Release(ctx context.Context, userID, key string) error
}

var ErrCacheMiss = errors.New("cache miss")
