package domain

import "github.com/go-faster/errors"

// Sentinel errors shared by the service and transport layers. Callers wrap
// them with context and match with errors.Is.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrCartEmpty       = errors.New("cart is empty")
)
