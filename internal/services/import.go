package services

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/inkwell-supplies/storefront/internal/models"
)

// productRow is one parsed CSV line.
type productRow struct {
	Name           string
	SKU            string
	Price          float64
	Stock          int
	Description    string
	WholesalePrice *float64
	MinStock       int
	CategoryName   string
	Images         string
	IsActive       bool
}

// ImportCSV bulk-loads products from CSV. Existing SKUs are updated, new
// SKUs inserted. Rows that fail to parse or apply are reported in the result
// without aborting the rest; stock changes are recorded in the inventory
// ledger under the acting user.
func (s *ProductService) ImportCSV(ctx context.Context, r io.Reader, actingUserID int64) (*models.ImportResult, error) {
	rows, parseErrors, err := ParseProductCSV(r)
	if err != nil {
		return nil, err
	}

	result := &models.ImportResult{Errors: parseErrors}

	for i, row := range rows {
		inserted, err := s.applyImportRow(ctx, &row, actingUserID)
		outcome := "applied"
		if err != nil {
			outcome = "failed"
			result.Errors = append(result.Errors, fmt.Sprintf("row %d (sku %s): %v", i+2, row.SKU, err))
		} else if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
		s.metrics.ImportedRows.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
			attribute.String("outcome", outcome),
		})...))
	}

	log.Printf("[IMPORT] CSV import done: inserted=%d updated=%d errors=%d",
		result.Inserted, result.Updated, len(result.Errors))
	return result, nil
}

// applyImportRow upserts one row by SKU inside its own transaction and
// ledgers any stock change. Returns whether the row was an insert.
func (s *ProductService) applyImportRow(ctx context.Context, row *productRow, actingUserID int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var categoryID interface{}
	if row.CategoryName != "" {
		id, err := s.resolveCategory(ctx, tx, row.CategoryName)
		if err != nil {
			return false, err
		}
		categoryID = id
	}

	start := time.Now()
	lookupQuery := "SELECT id, stock FROM products WHERE sku = ? FOR UPDATE"
	var productID int64
	var prevStock int
	err = tx.QueryRowContext(ctx, lookupQuery, row.SKU).Scan(&productID, &prevStock)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", lookupQuery, start, err == nil || err == sql.ErrNoRows)

	inserted := false
	switch {
	case err == sql.ErrNoRows:
		inserted = true
		start = time.Now()
		insertQuery := "INSERT INTO products (name, description, sku, price, wholesale_price, stock, min_stock, images, is_active, category_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		res, err := tx.ExecContext(ctx, insertQuery,
			row.Name, row.Description, row.SKU, row.Price, row.WholesalePrice,
			row.Stock, row.MinStock, row.Images, row.IsActive, categoryID,
		)
		s.metrics.RecordDBQuery(ctx, "INSERT", "products", insertQuery, start, err == nil)
		if err != nil {
			return false, fmt.Errorf("failed to insert product: %w", err)
		}
		productID, err = res.LastInsertId()
		if err != nil {
			return false, fmt.Errorf("failed to get product ID: %w", err)
		}
		prevStock = 0
	case err != nil:
		return false, fmt.Errorf("failed to look up sku: %w", err)
	default:
		start = time.Now()
		updateQuery := "UPDATE products SET name = ?, description = ?, price = ?, wholesale_price = ?, stock = ?, min_stock = ?, images = ?, is_active = ?, category_id = COALESCE(?, category_id), updated_at = NOW() WHERE id = ?"
		_, err := tx.ExecContext(ctx, updateQuery,
			row.Name, row.Description, row.Price, row.WholesalePrice,
			row.Stock, row.MinStock, row.Images, row.IsActive, categoryID, productID,
		)
		s.metrics.RecordDBQuery(ctx, "UPDATE", "products", updateQuery, start, err == nil)
		if err != nil {
			return false, fmt.Errorf("failed to update product: %w", err)
		}
	}

	if row.Stock != prevStock {
		start = time.Now()
		movementQuery := "INSERT INTO inventory_movements (product_id, user_id, movement_type, quantity, reason, stock_before, stock_after) VALUES (?, ?, ?, ?, ?, ?, ?)"
		_, err = tx.ExecContext(ctx, movementQuery,
			productID, actingUserID, models.MovementImport, row.Stock-prevStock,
			"csv import", prevStock, row.Stock,
		)
		s.metrics.RecordDBQuery(ctx, "INSERT", "inventory_movements", movementQuery, start, err == nil)
		if err != nil {
			return false, fmt.Errorf("failed to record inventory movement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.invalidate(productID)
	return inserted, nil
}

// resolveCategory finds a category by name, creating it when missing.
func (s *ProductService) resolveCategory(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	start := time.Now()
	query := "SELECT id FROM categories WHERE name = ?"
	var id int64
	err := tx.QueryRowContext(ctx, query, name).Scan(&id)
	s.metrics.RecordDBQuery(ctx, "SELECT", "categories", query, start, err == nil || err == sql.ErrNoRows)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up category: %w", err)
	}

	start = time.Now()
	insertQuery := "INSERT INTO categories (name, display_order, is_active) VALUES (?, 0, TRUE)"
	res, err := tx.ExecContext(ctx, insertQuery, name)
	s.metrics.RecordDBQuery(ctx, "INSERT", "categories", insertQuery, start, err == nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create category: %w", err)
	}
	return res.LastInsertId()
}

// ParseProductCSV reads the import format: a header row with required
// columns name, sku, price, stock and optional description, wholesalePrice,
// minStock, categoryName, images, isActive. Returns parsed rows and
// per-row error messages (1-based line numbers counting the header).
func ParseProductCSV(r io.Reader) ([]productRow, []string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to read CSV header: %v", ErrInvalidInput, err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"name", "sku", "price", "stock"} {
		if _, ok := columns[required]; !ok {
			return nil, nil, fmt.Errorf("%w: missing required CSV column %q", ErrInvalidInput, required)
		}
	}

	field := func(record []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var rows []productRow
	var errs []string
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			errs = append(errs, fmt.Sprintf("row %d: %v", line, err))
			continue
		}

		row := productRow{
			Name:         field(record, "name"),
			SKU:          field(record, "sku"),
			Description:  field(record, "description"),
			CategoryName: field(record, "categoryname"),
			Images:       field(record, "images"),
			IsActive:     true,
		}
		if row.Name == "" || row.SKU == "" {
			errs = append(errs, fmt.Sprintf("row %d: name and sku are required", line))
			continue
		}

		row.Price, err = strconv.ParseFloat(field(record, "price"), 64)
		if err != nil || row.Price < 0 {
			errs = append(errs, fmt.Sprintf("row %d: invalid price %q", line, field(record, "price")))
			continue
		}
		row.Stock, err = strconv.Atoi(field(record, "stock"))
		if err != nil || row.Stock < 0 {
			errs = append(errs, fmt.Sprintf("row %d: invalid stock %q", line, field(record, "stock")))
			continue
		}

		if v := field(record, "wholesaleprice"); v != "" {
			wp, err := strconv.ParseFloat(v, 64)
			if err != nil || wp < 0 {
				errs = append(errs, fmt.Sprintf("row %d: invalid wholesalePrice %q", line, v))
				continue
			}
			row.WholesalePrice = &wp
		}
		if v := field(record, "minstock"); v != "" {
			row.MinStock, err = strconv.Atoi(v)
			if err != nil || row.MinStock < 0 {
				errs = append(errs, fmt.Sprintf("row %d: invalid minStock %q", line, v))
				continue
			}
		}
		if v := field(record, "isactive"); v != "" {
			row.IsActive = v == "true" || v == "1" || v == "yes"
		}

		rows = append(rows, row)
	}

	return rows, errs, nil
}
