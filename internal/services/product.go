package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/inkwell-supplies/storefront/internal/db"
	"github.com/inkwell-supplies/storefront/internal/metrics"
	"github.com/inkwell-supplies/storefront/internal/models"
)

// ProductCache holds cached products
type ProductCache struct {
	mu    sync.RWMutex
	items map[int64]cachedProduct
}

type cachedProduct struct {
	product models.Product
	expires time.Time
}

func NewProductCache() ProductCache {
	return ProductCache{
		items: make(map[int64]cachedProduct),
	}
}

// ProductService handles product catalog operations
type ProductService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	cache   ProductCache
}

// NewProductService creates a new product service
func NewProductService(db *db.DB, metrics *metrics.AppMetrics) *ProductService {
	return &ProductService{
		db:      db,
		metrics: metrics,
		cache:   NewProductCache(),
	}
}

const productColumns = "id, name, description, sku, price, wholesale_price, stock, min_stock, images, is_active, category_id, created_at, updated_at"

func scanProduct(row interface{ Scan(...interface{}) error }, p *models.Product) error {
	return row.Scan(
		&p.ID, &p.Name, &p.Description, &p.SKU, &p.Price, &p.WholesalePrice,
		&p.Stock, &p.MinStock, &p.Images, &p.IsActive, &p.CategoryID,
		&p.CreatedAt, &p.UpdatedAt,
	)
}

// ProductFilter narrows ListProducts results.
type ProductFilter struct {
	Limit      int
	Offset     int
	CategoryID int64 // 0 means any
	ActiveOnly bool
}

// ListProducts returns a paginated list of products
func (s *ProductService) ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, error) {
	query := "SELECT " + productColumns + " FROM products"
	var args []interface{}
	var where []string

	if f.ActiveOnly {
		where = append(where, "is_active = TRUE")
	}
	if f.CategoryID != 0 {
		where = append(where, "category_id = ?")
		args = append(args, f.CategoryID)
	}
	for i, cond := range where {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY name LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var p models.Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}

	return products, rows.Err()
}

// GetProduct returns a product by ID
func (s *ProductService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	// Check cache first
	s.cache.mu.RLock()
	if cached, exists := s.cache.items[id]; exists && time.Now().Before(cached.expires) {
		s.cache.mu.RUnlock()
		s.metrics.CacheHits.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName(nil)...))
		s.recordView(ctx, id)
		p := cached.product
		return &p, nil
	}
	s.cache.mu.RUnlock()

	s.metrics.CacheMisses.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName(nil)...))

	start := time.Now()
	query := "SELECT " + productColumns + " FROM products WHERE id = ?"
	var p models.Product
	err := scanProduct(s.db.QueryRowContext(ctx, query, id), &p)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	s.cache.mu.Lock()
	s.cache.items[id] = cachedProduct{
		product: p,
		expires: time.Now().Add(5 * time.Minute),
	}
	s.cache.mu.Unlock()

	s.recordView(ctx, id)
	return &p, nil
}

func (s *ProductService) recordView(ctx context.Context, id int64) {
	s.metrics.ProductsViewed.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.Int64("product_id", id),
	})...))
}

// invalidate removes a product from the cache after a write.
func (s *ProductService) invalidate(id int64) {
	s.cache.mu.Lock()
	delete(s.cache.items, id)
	s.cache.mu.Unlock()
}

// CreateProduct inserts a new product
func (s *ProductService) CreateProduct(ctx context.Context, p *models.Product) error {
	if p.Name == "" || p.SKU == "" {
		return fmt.Errorf("%w: name and sku are required", ErrInvalidInput)
	}
	if p.Price < 0 || p.Stock < 0 {
		return fmt.Errorf("%w: price and stock must not be negative", ErrInvalidInput)
	}

	start := time.Now()
	query := "INSERT INTO products (name, description, sku, price, wholesale_price, stock, min_stock, images, is_active, category_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	result, err := s.db.ExecContext(ctx, query,
		p.Name, p.Description, p.SKU, p.Price, p.WholesalePrice,
		p.Stock, p.MinStock, p.Images, p.IsActive, p.CategoryID,
	)
	s.metrics.RecordDBQuery(ctx, "INSERT", "products", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get product ID: %w", err)
	}
	p.ID = id

	log.Printf("[PRODUCT] Created: id=%d sku=%s", p.ID, p.SKU)
	return nil
}

// UpdateProduct rewrites a product row. Stock edits through this path are
// admin edits and are recorded in the inventory ledger by the caller.
func (s *ProductService) UpdateProduct(ctx context.Context, p *models.Product) error {
	if p.Name == "" || p.SKU == "" {
		return fmt.Errorf("%w: name and sku are required", ErrInvalidInput)
	}
	if p.Price < 0 || p.Stock < 0 {
		return fmt.Errorf("%w: price and stock must not be negative", ErrInvalidInput)
	}

	start := time.Now()
	query := "UPDATE products SET name = ?, description = ?, sku = ?, price = ?, wholesale_price = ?, stock = ?, min_stock = ?, images = ?, is_active = ?, category_id = ?, updated_at = NOW() WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query,
		p.Name, p.Description, p.SKU, p.Price, p.WholesalePrice,
		p.Stock, p.MinStock, p.Images, p.IsActive, p.CategoryID, p.ID,
	)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("product %d: %w", p.ID, ErrNotFound)
	}

	s.invalidate(p.ID)
	return nil
}

// DeleteProduct removes a product. Products referenced by order items are
// refused so order history keeps its price and quantity records intact.
func (s *ProductService) DeleteProduct(ctx context.Context, id int64) error {
	start := time.Now()
	countQuery := "SELECT COUNT(*) FROM order_items WHERE product_id = ?"
	var refs int
	err := s.db.QueryRowContext(ctx, countQuery, id).Scan(&refs)
	s.metrics.RecordDBQuery(ctx, "SELECT", "order_items", countQuery, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to count order item references: %w", err)
	}
	if refs > 0 {
		return fmt.Errorf("product %d: %w", id, ErrProductInUse)
	}

	start = time.Now()
	query := "DELETE FROM products WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, id)
	s.metrics.RecordDBQuery(ctx, "DELETE", "products", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("product %d: %w", id, ErrNotFound)
	}

	s.invalidate(id)
	log.Printf("[PRODUCT] Deleted: id=%d", id)
	return nil
}

// GetProductBySKU returns a product by its SKU.
func (s *ProductService) GetProductBySKU(ctx context.Context, sku string) (*models.Product, error) {
	start := time.Now()
	query := "SELECT " + productColumns + " FROM products WHERE sku = ?"
	var p models.Product
	err := scanProduct(s.db.QueryRowContext(ctx, query, sku), &p)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sku %q: %w", sku, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product by sku: %w", err)
	}
	return &p, nil
}
