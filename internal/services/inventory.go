package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/inkwell-supplies/storefront/internal/db"
	"github.com/inkwell-supplies/storefront/internal/metrics"
	"github.com/inkwell-supplies/storefront/internal/models"
)

// InventoryService exposes the inventory ledger: movement history, manual
// adjustments, and a low-stock monitor feeding the inventory gauges.
type InventoryService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

// NewInventoryService creates a new inventory service and starts the
// low-stock monitor.
func NewInventoryService(db *db.DB, m *metrics.AppMetrics, monitorInterval time.Duration) *InventoryService {
	s := &InventoryService{
		db:      db,
		metrics: m,
	}
	if monitorInterval > 0 {
		go s.monitorLowStock(monitorInterval)
	}
	return s
}

// monitorLowStock periodically publishes the number of active products at or
// below their minimum stock threshold.
func (s *InventoryService) monitorLowStock(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		ctx := context.Background()
		query := "SELECT COUNT(*) FROM products WHERE is_active = TRUE AND stock <= min_stock"
		start := time.Now()
		var count int
		err := s.db.QueryRowContext(ctx, query).Scan(&count)
		s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil)
		if err == nil {
			s.metrics.LowStockProducts.Record(ctx, int64(count), metric.WithAttributes(s.metrics.WithServiceName(nil)...))
		}
	}
}

// MovementFilter narrows ListMovements results.
type MovementFilter struct {
	ProductID int64 // 0 means any
	Limit     int
	Offset    int
}

// ListMovements returns ledger entries, newest first.
func (s *InventoryService) ListMovements(ctx context.Context, f MovementFilter) ([]models.InventoryMovement, error) {
	query := "SELECT id, product_id, user_id, movement_type, quantity, reason, stock_before, stock_after, created_at FROM inventory_movements"
	var args []interface{}
	if f.ProductID != 0 {
		query += " WHERE product_id = ?"
		args = append(args, f.ProductID)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.metrics.RecordDBQuery(ctx, "SELECT", "inventory_movements", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory movements: %w", err)
	}
	defer rows.Close()

	var movements []models.InventoryMovement
	for rows.Next() {
		var m models.InventoryMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.UserID, &m.MovementType, &m.Quantity,
			&m.Reason, &m.StockBefore, &m.StockAfter, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan inventory movement: %w", err)
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// AdjustStock applies a manual signed stock delta with a reason, in one
// transaction with its ledger entry. Negative deltas cannot take stock below
// zero.
func (s *InventoryService) AdjustStock(ctx context.Context, actingUserID int64, req *models.AdjustStockRequest) (*models.InventoryMovement, error) {
	if req.Quantity == 0 {
		return nil, fmt.Errorf("%w: quantity must be non-zero", ErrInvalidInput)
	}
	if req.Reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	start := time.Now()
	query := "SELECT name, stock FROM products WHERE id = ? FOR UPDATE"
	var name string
	var stock int
	err = tx.QueryRowContext(ctx, query, req.ProductID).Scan(&name, &stock)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil || err == sql.ErrNoRows)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", req.ProductID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product %d: %w", req.ProductID, err)
	}

	newStock := stock + req.Quantity
	if newStock < 0 {
		return nil, &OutOfStockError{
			ProductID: req.ProductID,
			Name:      name,
			Requested: -req.Quantity,
			Available: stock,
		}
	}

	start = time.Now()
	updateQuery := "UPDATE products SET stock = ?, updated_at = NOW() WHERE id = ?"
	_, err = tx.ExecContext(ctx, updateQuery, newStock, req.ProductID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", updateQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update stock: %w", err)
	}

	movementType := models.MovementAdjustment
	if req.Quantity > 0 {
		movementType = models.MovementRestock
	}

	start = time.Now()
	movementQuery := "INSERT INTO inventory_movements (product_id, user_id, movement_type, quantity, reason, stock_before, stock_after) VALUES (?, ?, ?, ?, ?, ?, ?)"
	result, err := tx.ExecContext(ctx, movementQuery,
		req.ProductID, actingUserID, movementType, req.Quantity, req.Reason, stock, newStock,
	)
	s.metrics.RecordDBQuery(ctx, "INSERT", "inventory_movements", movementQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to record inventory movement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	movementID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get movement ID: %w", err)
	}

	s.metrics.InventoryLevel.Record(ctx, int64(newStock), metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.Int64("product_id", req.ProductID),
	})...))
	log.Printf("[INVENTORY] Adjusted: product_id=%d delta=%d stock=%d->%d reason=%q",
		req.ProductID, req.Quantity, stock, newStock, req.Reason)

	return &models.InventoryMovement{
		ID:           movementID,
		ProductID:    req.ProductID,
		UserID:       actingUserID,
		MovementType: movementType,
		Quantity:     req.Quantity,
		Reason:       req.Reason,
		StockBefore:  stock,
		StockAfter:   newStock,
		CreatedAt:    time.Now(),
	}, nil
}
