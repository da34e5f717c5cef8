package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/inkwell-supplies/storefront/internal/db"
	"github.com/inkwell-supplies/storefront/internal/metrics"
	"github.com/inkwell-supplies/storefront/internal/models"
)

// CheckoutService runs the order-placement transaction: stock validation,
// order creation and the inventory ledger, all inside one database
// transaction so that no partial state survives a failure.
type CheckoutService struct {
	db                    *db.DB
	metrics               *metrics.AppMetrics
	shippingFlatRate      float64
	freeShippingThreshold float64
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(db *db.DB, m *metrics.AppMetrics, shippingFlatRate, freeShippingThreshold float64) *CheckoutService {
	return &CheckoutService{
		db:                    db,
		metrics:               m,
		shippingFlatRate:      shippingFlatRate,
		freeShippingThreshold: freeShippingThreshold,
	}
}

type checkoutLine struct {
	productID int64
	name      string
	quantity  int
	unitPrice float64
	stock     int
}

// PlaceOrder validates the requested quantities against current stock,
// creates the order with its items, decrements stock and appends one
// inventory movement per line. Everything runs in a single transaction;
// the first failing line aborts the whole checkout.
//
// WHOLESALE buyers are charged the wholesale price where one is set.
func (s *CheckoutService) PlaceOrder(ctx context.Context, userID int64, role string, items []models.CheckoutItem) (*models.Order, error) {
	if len(items) == 0 {
		s.recordFailure(ctx, "empty_cart")
		return nil, ErrEmptyCart
	}

	// Merge duplicate lines and lock products in a stable order so two
	// overlapping checkouts cannot deadlock on each other's row locks.
	quantities := make(map[int64]int, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			s.recordFailure(ctx, "invalid_quantity")
			return nil, fmt.Errorf("%w: quantity must be positive for product %d", ErrInvalidInput, item.ID)
		}
		quantities[item.ID] += item.Quantity
	}
	productIDs := make([]int64, 0, len(quantities))
	for id := range quantities {
		productIDs = append(productIDs, id)
	}
	sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Stock validation. FOR UPDATE holds the row locks until commit, so a
	// concurrent checkout for the same product blocks here and re-reads the
	// decremented stock.
	lines := make([]checkoutLine, 0, len(productIDs))
	var subtotal float64
	for _, productID := range productIDs {
		requested := quantities[productID]

		start := time.Now()
		query := "SELECT id, name, price, wholesale_price, stock, is_active FROM products WHERE id = ? FOR UPDATE"
		var (
			line           checkoutLine
			price          float64
			wholesalePrice sql.NullFloat64
			isActive       bool
		)
		err := tx.QueryRowContext(ctx, query, productID).Scan(
			&line.productID, &line.name, &price, &wholesalePrice, &line.stock, &isActive,
		)
		s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil || err == sql.ErrNoRows)

		if err == sql.ErrNoRows {
			s.recordFailure(ctx, "product_unavailable")
			return nil, &ProductUnavailableError{ProductID: productID}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load product %d: %w", productID, err)
		}
		if !isActive {
			s.recordFailure(ctx, "product_unavailable")
			return nil, &ProductUnavailableError{ProductID: productID}
		}
		if requested > line.stock {
			s.recordFailure(ctx, "out_of_stock")
			return nil, &OutOfStockError{
				ProductID: productID,
				Name:      line.name,
				Requested: requested,
				Available: line.stock,
			}
		}

		line.quantity = requested
		line.unitPrice = price
		if role == models.RoleWholesale && wholesalePrice.Valid {
			line.unitPrice = wholesalePrice.Float64
		}
		subtotal += line.unitPrice * float64(requested)
		lines = append(lines, line)
	}

	subtotal = round2(subtotal)
	shipping := s.shippingFlatRate
	if subtotal >= s.freeShippingThreshold {
		shipping = 0
	}
	total := round2(subtotal + shipping)

	orderNumber := GenerateOrderNumber()

	if err := s.ensureDefaultAddress(ctx, tx, userID); err != nil {
		return nil, err
	}

	// Order header
	start := time.Now()
	orderQuery := "INSERT INTO orders (order_number, user_id, status, payment_status, subtotal, shipping, total, notes) VALUES (?, ?, 'PENDING', 'PENDING', ?, ?, ?, '')"
	result, err := tx.ExecContext(ctx, orderQuery, orderNumber, userID, subtotal, shipping, total)
	s.metrics.RecordDBQuery(ctx, "INSERT", "orders", orderQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	orderID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get order ID: %w", err)
	}

	order := &models.Order{
		ID:            orderID,
		OrderNumber:   orderNumber,
		UserID:        userID,
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusPending,
		Subtotal:      subtotal,
		Shipping:      shipping,
		Total:         total,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	// Items, stock decrement and ledger, per line
	for _, line := range lines {
		lineSubtotal := round2(line.unitPrice * float64(line.quantity))

		start = time.Now()
		itemQuery := "INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal) VALUES (?, ?, ?, ?, ?)"
		_, err = tx.ExecContext(ctx, itemQuery, orderID, line.productID, line.quantity, line.unitPrice, lineSubtotal)
		s.metrics.RecordDBQuery(ctx, "INSERT", "order_items", itemQuery, start, err == nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create order item: %w", err)
		}

		// The stock >= ? predicate re-checks the invariant at write time;
		// RowsAffected == 0 means the row changed underneath us.
		start = time.Now()
		stockQuery := "UPDATE products SET stock = stock - ?, updated_at = NOW() WHERE id = ? AND stock >= ?"
		res, err := tx.ExecContext(ctx, stockQuery, line.quantity, line.productID, line.quantity)
		s.metrics.RecordDBQuery(ctx, "UPDATE", "products", stockQuery, start, err == nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decrement stock for product %d: %w", line.productID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			s.recordFailure(ctx, "out_of_stock")
			return nil, &OutOfStockError{
				ProductID: line.productID,
				Name:      line.name,
				Requested: line.quantity,
				Available: line.stock,
			}
		}

		start = time.Now()
		movementQuery := "INSERT INTO inventory_movements (product_id, user_id, movement_type, quantity, reason, stock_before, stock_after) VALUES (?, ?, ?, ?, ?, ?, ?)"
		_, err = tx.ExecContext(ctx, movementQuery,
			line.productID, userID, models.MovementSale, -line.quantity,
			fmt.Sprintf("order %s", orderNumber), line.stock, line.stock-line.quantity,
		)
		s.metrics.RecordDBQuery(ctx, "INSERT", "inventory_movements", movementQuery, start, err == nil)
		if err != nil {
			return nil, fmt.Errorf("failed to record inventory movement: %w", err)
		}

		order.Items = append(order.Items, models.OrderItem{
			OrderID:   orderID,
			ProductID: line.productID,
			Quantity:  line.quantity,
			UnitPrice: line.unitPrice,
			Subtotal:  lineSubtotal,
		})
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Printf("[ORDER] Order created: order_number=%s, user_id=%d, items=%d, total=%.2f",
		orderNumber, userID, len(order.Items), total)

	attrs := s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("order_status", order.Status),
	})
	s.metrics.OrdersCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
	s.metrics.RevenueTotal.Add(ctx, total, metric.WithAttributes(attrs...))

	return order, nil
}

// ensureDefaultAddress creates a placeholder default shipping address inside
// the checkout transaction when the buyer has none on file.
func (s *CheckoutService) ensureDefaultAddress(ctx context.Context, tx *sql.Tx, userID int64) error {
	start := time.Now()
	countQuery := "SELECT COUNT(*) FROM addresses WHERE user_id = ?"
	var count int
	err := tx.QueryRowContext(ctx, countQuery, userID).Scan(&count)
	s.metrics.RecordDBQuery(ctx, "SELECT", "addresses", countQuery, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to count addresses: %w", err)
	}
	if count > 0 {
		return nil
	}

	start = time.Now()
	nameQuery := "SELECT name FROM users WHERE id = ?"
	var name string
	err = tx.QueryRowContext(ctx, nameQuery, userID).Scan(&name)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", nameQuery, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to load user %d: %w", userID, err)
	}

	start = time.Now()
	insertQuery := "INSERT INTO addresses (user_id, label, recipient, line1, line2, city, postal_code, phone, is_default) VALUES (?, 'default', ?, '', '', '', '', '', TRUE)"
	_, err = tx.ExecContext(ctx, insertQuery, userID, name)
	s.metrics.RecordDBQuery(ctx, "INSERT", "addresses", insertQuery, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to create default address: %w", err)
	}
	return nil
}

func (s *CheckoutService) recordFailure(ctx context.Context, reason string) {
	s.metrics.CheckoutFailures.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("reason", reason),
	})...))
}

// GenerateOrderNumber builds a human-readable, time-based order number. The
// random suffix keeps numbers issued within the same second distinct; the
// orders.order_number UNIQUE index is the hard guarantee.
func GenerateOrderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", time.Now().UTC().Format("20060102150405"), suffix)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
