package models

import "time"

// Order status values. Transitions are admin-driven and deliberately
// unordered; only membership in this set is enforced.
const (
	OrderStatusPending    = "PENDING"
	OrderStatusPaid       = "PAID"
	OrderStatusProcessing = "PROCESSING"
	OrderStatusShipped    = "SHIPPED"
	OrderStatusDelivered  = "DELIVERED"
	OrderStatusCancelled  = "CANCELLED"
)

// Payment status values, independent of order status.
const (
	PaymentStatusPending  = "PENDING"
	PaymentStatusPaid     = "PAID"
	PaymentStatusRefunded = "REFUNDED"
	PaymentStatusFailed   = "FAILED"
)

// User roles.
const (
	RoleCustomer  = "CUSTOMER"
	RoleWholesale = "WHOLESALE"
	RoleWarehouse = "WAREHOUSE"
	RoleAdmin     = "ADMIN"
)

// User account status values.
const (
	UserStatusPending  = "PENDING"
	UserStatusActive   = "ACTIVE"
	UserStatusInactive = "INACTIVE"
	UserStatusRejected = "REJECTED"
)

// Inventory movement types.
const (
	MovementSale       = "SALE"
	MovementAdjustment = "ADJUSTMENT"
	MovementRestock    = "RESTOCK"
	MovementImport     = "IMPORT"
)

// ValidOrderStatus reports whether s is a known order status.
func ValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// ValidPaymentStatus reports whether s is a known payment status.
func ValidPaymentStatus(s string) bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusRefunded, PaymentStatusFailed:
		return true
	}
	return false
}

// Product represents a product in the catalog. Stock is mutated only by the
// checkout inventory ledger or admin adjustments.
type Product struct {
	ID             int64    `json:"id" db:"id"`
	Name           string   `json:"name" db:"name"`
	Description    string   `json:"description" db:"description"`
	SKU            string   `json:"sku" db:"sku"`
	Price          float64  `json:"price" db:"price"`
	WholesalePrice *float64 `json:"wholesale_price" db:"wholesale_price"`
	Stock          int      `json:"stock" db:"stock"`
	MinStock       int      `json:"min_stock" db:"min_stock"`
	Images         string   `json:"images" db:"images"`
	IsActive       bool     `json:"is_active" db:"is_active"`
	CategoryID     *int64   `json:"category_id" db:"category_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Category groups products for display
type Category struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	DisplayOrder int       `json:"display_order" db:"display_order"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// User represents an account. Wholesale applicants carry company/tax fields
// and the wholesale_requested flag until an admin decides.
type User struct {
	ID                 int64     `json:"id" db:"id"`
	Email              string    `json:"email" db:"email"`
	Name               string    `json:"name" db:"name"`
	PasswordHash       string    `json:"-" db:"password_hash"`
	Role               string    `json:"role" db:"role"`
	Status             string    `json:"status" db:"status"`
	CompanyName        *string   `json:"company_name" db:"company_name"`
	TaxID              *string   `json:"tax_id" db:"tax_id"`
	WholesaleRequested bool      `json:"wholesale_requested" db:"wholesale_requested"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// Address is a shipping address. Checkout creates a default one when the
// buyer has none on file.
type Address struct {
	ID         int64     `json:"id" db:"id"`
	UserID     int64     `json:"user_id" db:"user_id"`
	Label      string    `json:"label" db:"label"`
	Recipient  string    `json:"recipient" db:"recipient"`
	Line1      string    `json:"line1" db:"line1"`
	Line2      string    `json:"line2" db:"line2"`
	City       string    `json:"city" db:"city"`
	PostalCode string    `json:"postal_code" db:"postal_code"`
	Phone      string    `json:"phone" db:"phone"`
	IsDefault  bool      `json:"is_default" db:"is_default"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Order is created once at checkout and only status-transitioned afterwards,
// never deleted.
type Order struct {
	ID             int64     `json:"id" db:"id"`
	OrderNumber    string    `json:"order_number" db:"order_number"`
	UserID         int64     `json:"user_id" db:"user_id"`
	Status         string    `json:"status" db:"status"`
	PaymentStatus  string    `json:"payment_status" db:"payment_status"`
	Subtotal       float64   `json:"subtotal" db:"subtotal"`
	Shipping       float64   `json:"shipping" db:"shipping"`
	Total          float64   `json:"total" db:"total"`
	TrackingNumber *string   `json:"tracking_number" db:"tracking_number"`
	Notes          string    `json:"notes" db:"notes"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`

	Items []OrderItem `json:"items,omitempty" db:"-"`
}

// OrderItem is immutable after creation. UnitPrice is the price at time of
// purchase, not a live reference to the product.
type OrderItem struct {
	ID        int64     `json:"id" db:"id"`
	OrderID   int64     `json:"order_id" db:"order_id"`
	ProductID int64     `json:"product_id" db:"product_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	UnitPrice float64   `json:"unit_price" db:"unit_price"`
	Subtotal  float64   `json:"subtotal" db:"subtotal"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// InventoryMovement is an append-only audit record of a stock change.
type InventoryMovement struct {
	ID           int64     `json:"id" db:"id"`
	ProductID    int64     `json:"product_id" db:"product_id"`
	UserID       int64     `json:"user_id" db:"user_id"`
	MovementType string    `json:"movement_type" db:"movement_type"`
	Quantity     int       `json:"quantity" db:"quantity"` // signed delta
	Reason       string    `json:"reason" db:"reason"`
	StockBefore  int       `json:"stock_before" db:"stock_before"`
	StockAfter   int       `json:"stock_after" db:"stock_after"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// CheckoutItem is one cart line as sent by the client. Name and price are
// display hints; the authoritative values come from the products table.
type CheckoutItem struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// CheckoutRequest is the checkout request body.
type CheckoutRequest struct {
	Items  []CheckoutItem `json:"items"`
	UserID int64          `json:"userId"`
}

// RegisterRequest is the registration request body.
type RegisterRequest struct {
	Email              string  `json:"email"`
	Name               string  `json:"name"`
	Password           string  `json:"password"`
	CompanyName        *string `json:"company_name"`
	TaxID              *string `json:"tax_id"`
	WholesaleRequested bool    `json:"wholesale_requested"`
}

// LoginRequest is the login request body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateOrderRequest updates order status, payment status and shipping info.
// Empty fields are left untouched.
type UpdateOrderRequest struct {
	Status         string  `json:"status"`
	PaymentStatus  string  `json:"payment_status"`
	TrackingNumber *string `json:"tracking_number"`
	Notes          *string `json:"notes"`
}

// AdjustStockRequest is a manual inventory adjustment.
type AdjustStockRequest struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"` // signed delta
	Reason    string `json:"reason"`
}

// ImportResult summarizes a CSV product import.
type ImportResult struct {
	Inserted int      `json:"inserted"`
	Updated  int      `json:"updated"`
	Errors   []string `json:"errors,omitempty"`
}
