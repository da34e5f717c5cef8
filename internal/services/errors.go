package services

import (
	"errors"
	"fmt"
)

// Sentinel errors mapped to 4xx responses at the API layer.
var (
	ErrEmptyCart        = errors.New("cart is empty")
	ErrNotFound         = errors.New("not found")
	ErrEmailTaken       = errors.New("email already registered")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotPendingReview = errors.New("user has no pending wholesale application")
	ErrProductInUse     = errors.New("product is referenced by existing orders")
)

// OutOfStockError rejects a checkout line whose quantity exceeds the
// available stock. It names the offending product.
type OutOfStockError struct {
	ProductID int64
	Name      string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q (product %d): requested %d, available %d",
		e.Name, e.ProductID, e.Requested, e.Available)
}

// ProductUnavailableError rejects a checkout line whose product does not
// exist or is inactive.
type ProductUnavailableError struct {
	ProductID int64
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %d not found or inactive", e.ProductID)
}
