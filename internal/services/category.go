package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/inkwell-supplies/storefront/internal/db"
	"github.com/inkwell-supplies/storefront/internal/metrics"
	"github.com/inkwell-supplies/storefront/internal/models"
)

// CategoryService handles category CRUD.
type CategoryService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

// NewCategoryService creates a new category service
func NewCategoryService(db *db.DB, metrics *metrics.AppMetrics) *CategoryService {
	return &CategoryService{
		db:      db,
		metrics: metrics,
	}
}

// ListCategories returns all categories ordered for display.
func (s *CategoryService) ListCategories(ctx context.Context, activeOnly bool) ([]models.Category, error) {
	query := "SELECT id, name, display_order, is_active, created_at FROM categories"
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY display_order, name"

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query)
	s.metrics.RecordDBQuery(ctx, "SELECT", "categories", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.DisplayOrder, &c.IsActive, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// GetCategory returns a category by ID
func (s *CategoryService) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	start := time.Now()
	query := "SELECT id, name, display_order, is_active, created_at FROM categories WHERE id = ?"
	var c models.Category
	err := s.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.DisplayOrder, &c.IsActive, &c.CreatedAt)
	s.metrics.RecordDBQuery(ctx, "SELECT", "categories", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("category %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

// CreateCategory inserts a new category
func (s *CategoryService) CreateCategory(ctx context.Context, c *models.Category) error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	start := time.Now()
	query := "INSERT INTO categories (name, display_order, is_active) VALUES (?, ?, ?)"
	result, err := s.db.ExecContext(ctx, query, c.Name, c.DisplayOrder, c.IsActive)
	s.metrics.RecordDBQuery(ctx, "INSERT", "categories", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to create category: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get category ID: %w", err)
	}
	c.ID = id
	return nil
}

// UpdateCategory rewrites a category row
func (s *CategoryService) UpdateCategory(ctx context.Context, c *models.Category) error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	start := time.Now()
	query := "UPDATE categories SET name = ?, display_order = ?, is_active = ? WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, c.Name, c.DisplayOrder, c.IsActive, c.ID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "categories", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to update category: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("category %d: %w", c.ID, ErrNotFound)
	}
	return nil
}

// DeleteCategory removes a category. Products keep existing through
// categories.id ON DELETE SET NULL, matching the optional reference.
func (s *CategoryService) DeleteCategory(ctx context.Context, id int64) error {
	start := time.Now()
	query := "DELETE FROM categories WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, id)
	s.metrics.RecordDBQuery(ctx, "DELETE", "categories", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("category %d: %w", id, ErrNotFound)
	}
	return nil
}
