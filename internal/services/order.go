package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/inkwell-supplies/storefront/internal/db"
	"github.com/inkwell-supplies/storefront/internal/metrics"
	"github.com/inkwell-supplies/storefront/internal/models"
)

// OrderService handles order listing, detail and admin lifecycle updates.
type OrderService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

// NewOrderService creates a new order service
func NewOrderService(db *db.DB, metrics *metrics.AppMetrics) *OrderService {
	return &OrderService{
		db:      db,
		metrics: metrics,
	}
}

const orderColumns = "id, order_number, user_id, status, payment_status, subtotal, shipping, total, tracking_number, notes, created_at, updated_at"

func scanOrder(row interface{ Scan(...interface{}) error }, order *models.Order) error {
	return row.Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &order.Status, &order.PaymentStatus,
		&order.Subtotal, &order.Shipping, &order.Total, &order.TrackingNumber, &order.Notes,
		&order.CreatedAt, &order.UpdatedAt,
	)
}

// GetOrder returns an order by ID, including its items.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	start := time.Now()

	query := "SELECT " + orderColumns + " FROM orders WHERE id = ?"
	var order models.Order
	err := scanOrder(s.db.QueryRowContext(ctx, query, orderID), &order)
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	items, err := s.getOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return &order, nil
}

func (s *OrderService) getOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	start := time.Now()
	query := "SELECT id, order_id, product_id, quantity, unit_price, subtotal, created_at FROM order_items WHERE order_id = ?"
	rows, err := s.db.QueryContext(ctx, query, orderID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "order_items", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.Subtotal, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// ListUserOrders returns all orders for a user, newest first.
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	start := time.Now()
	query := "SELECT " + orderColumns + " FROM orders WHERE user_id = ? ORDER BY created_at DESC"
	rows, err := s.db.QueryContext(ctx, query, userID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

// ListAllOrders returns every order, newest first. Admin only.
func (s *OrderService) ListAllOrders(ctx context.Context, limit, offset int) ([]models.Order, error) {
	start := time.Now()
	query := "SELECT " + orderColumns + " FROM orders ORDER BY created_at DESC LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]models.Order, error) {
	var orders []models.Order
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// UpdateOrder applies an admin lifecycle update. Status and payment status are
// validated against the known value sets; the ordering of transitions is
// deliberately not enforced. Empty fields leave the current value in place.
func (s *OrderService) UpdateOrder(ctx context.Context, orderID int64, req *models.UpdateOrderRequest) error {
	if req.Status != "" && !models.ValidOrderStatus(req.Status) {
		return fmt.Errorf("%w: unknown order status %q", ErrInvalidInput, req.Status)
	}
	if req.PaymentStatus != "" && !models.ValidPaymentStatus(req.PaymentStatus) {
		return fmt.Errorf("%w: unknown payment status %q", ErrInvalidInput, req.PaymentStatus)
	}

	start := time.Now()
	query := `UPDATE orders SET
		status = COALESCE(NULLIF(?, ''), status),
		payment_status = COALESCE(NULLIF(?, ''), payment_status),
		tracking_number = COALESCE(?, tracking_number),
		notes = COALESCE(?, notes),
		updated_at = NOW()
		WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, req.Status, req.PaymentStatus, req.TrackingNumber, req.Notes, orderID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "orders", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}

	log.Printf("[ORDER] Order updated: order_id=%d, status=%q, payment_status=%q", orderID, req.Status, req.PaymentStatus)
	return nil
}
