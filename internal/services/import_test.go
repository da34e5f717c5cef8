package services

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	lookupSKU        = "SELECT id, stock FROM products WHERE sku = ? FOR UPDATE"
	insertImported   = "INSERT INTO products (name, description, sku, price, wholesale_price, stock, min_stock, images, is_active, category_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	updateImported   = "UPDATE products SET name = ?, description = ?, price = ?, wholesale_price = ?, stock = ?, min_stock = ?, images = ?, is_active = ?, category_id = COALESCE(?, category_id), updated_at = NOW() WHERE id = ?"
	lookupCategory   = "SELECT id FROM categories WHERE name = ?"
	insertCategory   = "INSERT INTO categories (name, display_order, is_active) VALUES (?, 0, TRUE)"
	insertImportMove = "INSERT INTO inventory_movements (product_id, user_id, movement_type, quantity, reason, stock_before, stock_after) VALUES (?, ?, ?, ?, ?, ?, ?)"
)

func TestParseProductCSV(t *testing.T) {
	csvBody := strings.Join([]string{
		"name,sku,price,stock,description,wholesalePrice,minStock,categoryName,isActive",
		"Fountain Pen,PEN-001,24.90,10,Fine nib,18.50,3,Pens,true",
		"Plain Notebook,NB-100,4.50,50,,,,Notebooks,",
	}, "\n")

	rows, errs, err := ParseProductCSV(strings.NewReader(csvBody))
	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, rows, 2)

	assert.Equal(t, "Fountain Pen", rows[0].Name)
	assert.Equal(t, "PEN-001", rows[0].SKU)
	assert.Equal(t, 24.90, rows[0].Price)
	assert.Equal(t, 10, rows[0].Stock)
	require.NotNil(t, rows[0].WholesalePrice)
	assert.Equal(t, 18.50, *rows[0].WholesalePrice)
	assert.Equal(t, 3, rows[0].MinStock)
	assert.Equal(t, "Pens", rows[0].CategoryName)
	assert.True(t, rows[0].IsActive)

	assert.Nil(t, rows[1].WholesalePrice)
	assert.True(t, rows[1].IsActive, "isActive defaults to true when blank")
}

func TestParseProductCSVMissingRequiredColumn(t *testing.T) {
	_, _, err := ParseProductCSV(strings.NewReader("name,sku,price\nPen,PEN-001,1.00"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestParseProductCSVBadRowsReportedWithLineNumbers(t *testing.T) {
	csvBody := strings.Join([]string{
		"name,sku,price,stock",
		"Pen,PEN-001,not-a-price,5",
		",NB-100,4.50,50",
		"Pencil,PCL-001,1.20,-3",
		"Eraser,ERS-001,0.80,12",
	}, "\n")

	rows, errs, err := ParseProductCSV(strings.NewReader(csvBody))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ERS-001", rows[0].SKU)

	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "row 2")
	assert.Contains(t, errs[0], "invalid price")
	assert.Contains(t, errs[1], "row 3")
	assert.Contains(t, errs[2], "row 4")
	assert.Contains(t, errs[2], "invalid stock")
}

func TestImportCSVInsertsNewSKU(t *testing.T) {
	svc, mock := newProductService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lookupCategory)).
		WithArgs("Pens").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta(insertCategory)).
		WithArgs("Pens").
		WillReturnResult(sqlmock.NewResult(4, 1))
	mock.ExpectQuery(regexp.QuoteMeta(lookupSKU)).
		WithArgs("PEN-001").
		WillReturnRows(sqlmock.NewRows([]string{"id", "stock"}))
	mock.ExpectExec(regexp.QuoteMeta(insertImported)).
		WithArgs("Fountain Pen", "Fine nib", "PEN-001", 24.90, sqlmock.AnyArg(), 10, 3, "", true, int64(4)).
		WillReturnResult(sqlmock.NewResult(21, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertImportMove)).
		WithArgs(int64(21), int64(1), "IMPORT", 10, "csv import", 0, 10).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	csvBody := "name,sku,price,stock,description,wholesalePrice,minStock,categoryName\n" +
		"Fountain Pen,PEN-001,24.90,10,Fine nib,18.50,3,Pens"
	result, err := svc.ImportCSV(context.Background(), strings.NewReader(csvBody), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 0, result.Updated)
	assert.Empty(t, result.Errors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportCSVUpdatesExistingSKU(t *testing.T) {
	svc, mock := newProductService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lookupSKU)).
		WithArgs("NB-100").
		WillReturnRows(sqlmock.NewRows([]string{"id", "stock"}).AddRow(8, 20))
	mock.ExpectExec(regexp.QuoteMeta(updateImported)).
		WithArgs("Plain Notebook", "", 4.50, nil, 50, 0, "", true, nil, int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertImportMove)).
		WithArgs(int64(8), int64(1), "IMPORT", 30, "csv import", 20, 50).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	csvBody := "name,sku,price,stock\nPlain Notebook,NB-100,4.50,50"
	result, err := svc.ImportCSV(context.Background(), strings.NewReader(csvBody), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 1, result.Updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportCSVUnchangedStockSkipsLedger(t *testing.T) {
	svc, mock := newProductService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lookupSKU)).
		WithArgs("NB-100").
		WillReturnRows(sqlmock.NewRows([]string{"id", "stock"}).AddRow(8, 50))
	mock.ExpectExec(regexp.QuoteMeta(updateImported)).
		WithArgs("Plain Notebook", "", 4.50, nil, 50, 0, "", true, nil, int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	csvBody := "name,sku,price,stock\nPlain Notebook,NB-100,4.50,50"
	result, err := svc.ImportCSV(context.Background(), strings.NewReader(csvBody), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportCSVRowFailureDoesNotAbortRest(t *testing.T) {
	svc, mock := newProductService(t)

	// first row: lookup blows up, its transaction rolls back
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lookupSKU)).
		WithArgs("PEN-001").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	// second row applies normally
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lookupSKU)).
		WithArgs("NB-100").
		WillReturnRows(sqlmock.NewRows([]string{"id", "stock"}).AddRow(8, 50))
	mock.ExpectExec(regexp.QuoteMeta(updateImported)).
		WithArgs("Plain Notebook", "", 4.50, nil, 50, 0, "", true, nil, int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	csvBody := strings.Join([]string{
		"name,sku,price,stock",
		"Fountain Pen,PEN-001,24.90,10",
		"Plain Notebook,NB-100,4.50,50",
	}, "\n")
	result, err := svc.ImportCSV(context.Background(), strings.NewReader(csvBody), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "PEN-001")
	assert.NoError(t, mock.ExpectationsWereMet())
}
