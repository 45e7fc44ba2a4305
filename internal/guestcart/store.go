// Package guestcart keeps the cart of a visitor who is not signed in. Entries
// live on the client side under a single key and every failure to read or
// write them is logged and swallowed: a broken guest cart degrades to an
// empty one, never to an error.
package guestcart

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/fjod/storefront/internal/domain"
)

// Key is the storage key holding the guest cart.
const Key = "guestCart"

var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Storage is a string key-value store with browser localStorage semantics.
type Storage interface {
	// GetItem reports false when key is absent.
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

type Store struct {
	storage Storage
	lg      *zap.Logger
}

func New(storage Storage, lg *zap.Logger) *Store {
	return &Store{storage: storage, lg: lg}
}

// Get returns the valid stored entries in stored order with duplicates
// summed. It never fails; unreadable storage yields an empty cart.
func (s *Store) Get() []domain.LineItem {
	raw, ok, err := s.storage.GetItem(Key)
	if err != nil {
		s.lg.Warn("Read guest cart failed", zap.Error(err))
		return []domain.LineItem{}
	}
	if !ok || raw == "" {
		return []domain.LineItem{}
	}

	items, err := domain.DecodeLineItems(jx.DecodeStr(raw))
	if err != nil {
		s.lg.Warn("Discarding unreadable guest cart", zap.Error(err))
		return []domain.LineItem{}
	}
	return domain.Coalesce(items)
}

// Save replaces the stored entries.
func (s *Store) Save(items []domain.LineItem) {
	if err := s.storage.SetItem(Key, Encode(items)); err != nil {
		s.lg.Warn("Write guest cart failed", zap.Int("entries", len(items)), zap.Error(err))
	}
}

func (s *Store) Clear() {
	if err := s.storage.RemoveItem(Key); err != nil {
		s.lg.Warn("Clear guest cart failed", zap.Error(err))
	}
}

// Add puts one unit of productID into the guest cart.
func (s *Store) Add(productID string) []domain.LineItem {
	items := domain.MergeItems(s.Get(), []domain.LineItem{{ProductID: productID, Quantity: 1}})
	s.Save(items)
	return items
}

// Update overwrites the quantity of productID. A quantity below one removes
// the entry; updating an absent product changes nothing.
func (s *Store) Update(productID string, quantity int) []domain.LineItem {
	if quantity < 1 {
		return s.Remove(productID)
	}

	items := s.Get()
	for i := range items {
		if items[i].ProductID == productID {
			items[i].Quantity = quantity
			s.Save(items)
			break
		}
	}
	return items
}

func (s *Store) Remove(productID string) []domain.LineItem {
	items := s.Get()
	kept := make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		if item.ProductID != productID {
			kept = append(kept, item)
		}
	}
	if len(kept) != len(items) {
		s.Save(kept)
	}
	return kept
}

// Encode renders items in the stored guest cart format.
func Encode(items []domain.LineItem) string {
	var e jx.Encoder
	e.ArrStart()
	for _, item := range items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(item.ProductID)
		e.FieldStart("quantity")
		e.Int(item.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.String()
}
