package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-supplies/storefront/internal/models"
)

const (
	selectProductForUpdate = "SELECT id, name, price, wholesale_price, stock, is_active FROM products WHERE id = ? FOR UPDATE"
	countAddresses         = "SELECT COUNT(*) FROM addresses WHERE user_id = ?"
	insertOrder            = "INSERT INTO orders (order_number, user_id, status, payment_status, subtotal, shipping, total, notes) VALUES (?, ?, 'PENDING', 'PENDING', ?, ?, ?, '')"
	insertOrderItem        = "INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal) VALUES (?, ?, ?, ?, ?)"
	decrementStock         = "UPDATE products SET stock = stock - ?, updated_at = NOW() WHERE id = ? AND stock >= ?"
	insertMovement         = "INSERT INTO inventory_movements (product_id, user_id, movement_type, quantity, reason, stock_before, stock_after) VALUES (?, ?, ?, ?, ?, ?, ?)"
)

func newCheckoutService(t *testing.T) (*CheckoutService, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, m := newTestDB(t)
	return NewCheckoutService(database, m, 5.90, 50.0), mock
}

func productRows(id int64, name string, price float64, wholesale interface{}, stock int, active bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "price", "wholesale_price", "stock", "is_active"}).
		AddRow(id, name, price, wholesale, stock, active)
}

func TestPlaceOrderSuccess(t *testing.T) {
	svc, mock := newCheckoutService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectProductForUpdate)).
		WithArgs(int64(1)).
		WillReturnRows(productRows(1, "Gel Pen", 2.50, nil, 100, true))
	mock.ExpectQuery(regexp.QuoteMeta(selectProductForUpdate)).
		WithArgs(int64(2)).
		WillReturnRows(productRows(2, "A4 Notebook", 4.00, nil, 10, true))

	// User has an address on file, no default address is created
	mock.ExpectQuery(regexp.QuoteMeta(countAddresses)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	// subtotal 3*2.50 + 2*4.00 = 15.50, below the free-shipping threshold
	mock.ExpectExec(regexp.QuoteMeta(insertOrder)).
		WithArgs(sqlmock.AnyArg(), int64(7), 15.50, 5.90, 21.40).
		WillReturnResult(sqlmock.NewResult(42, 1))

	mock.ExpectExec(regexp.QuoteMeta(insertOrderItem)).
		WithArgs(int64(42), int64(1), 3, 2.50, 7.50).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(decrementStock)).
		WithArgs(3, int64(1), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertMovement)).
		WithArgs(int64(1), int64(7), models.MovementSale, -3, sqlmock.AnyArg(), 100, 97).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectExec(regexp.QuoteMeta(insertOrderItem)).
		WithArgs(int64(42), int64(2), 2, 4.00, 8.00).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(regexp.QuoteMeta(decrementStock)).
		WithArgs(2, int64(2), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertMovement)).
		WithArgs(int64(2), int64(7), models.MovementSale, -2, sqlmock.AnyArg(), 10, 8).
		WillReturnResult(sqlmock.NewResult(2, 1))

	mock.ExpectCommit()

	order, err := svc.PlaceOrder(context.Background(), 7, models.RoleCustomer, []models.CheckoutItem{
		{ID: 1, Quantity: 3},
		{ID: 2, Quantity: 2},
	})
	require.NoError(t, err)
	require.NotNil(t, order)

	assert.Equal(t, int64(42), order.ID)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, 15.50, order.Subtotal)
	assert.Equal(t, 5.90, order.Shipping)
	assert.Equal(t, 21.40, order.Total)
	require.Len(t, order.Items, 2)

	// Sum of item subtotals equals the order subtotal
	var sum float64
	for _, item := range order.Items {
		sum += item.Subtotal
	}
	assert.Equal(t, order.Subtotal, sum)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderOutOfStockRollsBack(t *testing.T) {
	svc, mock := newCheckoutService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectProductForUpdate)).
		WithArgs(int64(1)).
		WillReturnRows(productRows(1, "Stapler", 9.90, nil, 2, true))
	mock.ExpectRollback()

	order, err := svc.PlaceOrder(context.Background(), 7, models.RoleCustomer, []models.CheckoutItem{
		{ID: 1, Quantity: 5},
	})
	require.Error(t, err)
	assert.Nil(t, order)

	var oos *OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, int64(1), oos.ProductID)
	assert.Equal(t, 5, oos.Requested)
	assert.Equal(t, 2, oos.Available)
	assert.Contains(t, err.Error(), "Stapler")

	// No order, item or movement insert was ever attempted
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderUnknownProduct(t *testing.T) {
	svc, mock := newCheckoutService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectProductForUpdate)).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "wholesale_price", "stock", "is_active"}))
	mock.ExpectRollback()

	_, err := svc.PlaceOrder(context.Background(), 7, models.RoleCustomer, []models.CheckoutItem{
		{ID: 99, Quantity: 1},
	})

	var unavailable *ProductUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, int64(99), unavailable.ProductID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderInactiveProduct(t *testing.T) {
	svc, mock := newCheckoutService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectProductForUpdate)).
		WithArgs(int64(3)).
		WillReturnRows(productRows(3, "Discontinued Binder", 3.20, nil, 50, false))
	mock.ExpectRollback()

	_, err := svc.PlaceOrder(context.Background(), 7, models.RoleCustomer, []models.CheckoutItem{
		{ID: 3, Quantity: 1},
	})

	var unavailable *ProductUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderEmptyCart(t *testing.T) {
	svc, _ := newCheckoutService(t)

	_, err := svc.PlaceOrder(context.Background(), 7, models.RoleCustomer, nil)
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestPlaceOrderRejectsNonPositiveQuantity(t *testing.T) {
	svc, _ := newCheckoutService(t)

	_, err := svc.PlaceOrder(context.Background(), 7, models.RoleCustomer, []models.CheckoutItem{
		{ID: 1, Quantity: 0},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPlaceOrderMergesDuplicateLines(t *testing.T) {
	svc, mock := newCheckoutService(t)

	// Two lines for product 1 collapse into a single quantity-4 line, which
	// exceeds the available stock of 3.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectProductForUpdate)).
		WithArgs(int64(1)).
		WillReturnRows(productRows(1, "Ruler", 1.10, nil, 3, true))
	mock.ExpectRollback()

	_, err := svc.PlaceOrder(context.Background(), 7, models.RoleCustomer, []models.CheckoutItem{
		{ID: 1, Quantity: 2},
		{ID: 1, Quantity: 2},
	})

	var oos *OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, 4, oos.Requested)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderWholesalePricing(t *testing.T) {
	svc, mock := newCheckoutService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectProductForUpdate)).
		WithArgs(int64(1)).
		WillReturnRows(productRows(1, "Copy Paper 500", 8.00, 6.00, 200, true))

	mock.ExpectQuery(regexp.QuoteMeta(countAddresses)).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	// 10 * 6.00 = 60.00, free shipping above the 50.00 threshold
	mock.ExpectExec(regexp.QuoteMeta(insertOrder)).
		WithArgs(sqlmock.AnyArg(), int64(9), 60.00, 0.0, 60.00).
		WillReturnResult(sqlmock.NewResult(5, 1))

	mock.ExpectExec(regexp.QuoteMeta(insertOrderItem)).
		WithArgs(int64(5), int64(1), 10, 6.00, 60.00).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(decrementStock)).
		WithArgs(10, int64(1), 10).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertMovement)).
		WithArgs(int64(1), int64(9), models.MovementSale, -10, sqlmock.AnyArg(), 200, 190).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectCommit()

	order, err := svc.PlaceOrder(context.Background(), 9, models.RoleWholesale, []models.CheckoutItem{
		{ID: 1, Quantity: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, 60.00, order.Subtotal)
	assert.Equal(t, 0.0, order.Shipping)
	assert.Equal(t, 6.00, order.Items[0].UnitPrice)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderCreatesDefaultAddress(t *testing.T) {
	svc, mock := newCheckoutService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectProductForUpdate)).
		WithArgs(int64(1)).
		WillReturnRows(productRows(1, "Envelope Pack", 3.00, nil, 40, true))

	mock.ExpectQuery(regexp.QuoteMeta(countAddresses)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM users WHERE id = ?")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Dana Example"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO addresses (user_id, label, recipient, line1, line2, city, postal_code, phone, is_default) VALUES (?, 'default', ?, '', '', '', '', '', TRUE)")).
		WithArgs(int64(7), "Dana Example").
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectExec(regexp.QuoteMeta(insertOrder)).
		WithArgs(sqlmock.AnyArg(), int64(7), 3.00, 5.90, 8.90).
		WillReturnResult(sqlmock.NewResult(6, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertOrderItem)).
		WithArgs(int64(6), int64(1), 1, 3.00, 3.00).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(decrementStock)).
		WithArgs(1, int64(1), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertMovement)).
		WithArgs(int64(1), int64(7), models.MovementSale, -1, sqlmock.AnyArg(), 40, 39).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	_, err := svc.PlaceOrder(context.Background(), 7, models.RoleCustomer, []models.CheckoutItem{
		{ID: 1, Quantity: 1},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderStockChangedUnderneath(t *testing.T) {
	svc, mock := newCheckoutService(t)

	// The UPDATE predicate re-checks stock at write time; RowsAffected 0
	// aborts the checkout even though validation passed.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectProductForUpdate)).
		WithArgs(int64(1)).
		WillReturnRows(productRows(1, "Highlighter", 1.80, nil, 5, true))
	mock.ExpectQuery(regexp.QuoteMeta(countAddresses)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta(insertOrder)).
		WithArgs(sqlmock.AnyArg(), int64(7), 9.00, 5.90, 14.90).
		WillReturnResult(sqlmock.NewResult(8, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertOrderItem)).
		WithArgs(int64(8), int64(1), 5, 1.80, 9.00).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(decrementStock)).
		WithArgs(5, int64(1), 5).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := svc.PlaceOrder(context.Background(), 7, models.RoleCustomer, []models.CheckoutItem{
		{ID: 1, Quantity: 5},
	})

	var oos *OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderCommitError(t *testing.T) {
	svc, mock := newCheckoutService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectProductForUpdate)).
		WithArgs(int64(1)).
		WillReturnRows(productRows(1, "Tape", 0.90, nil, 10, true))
	mock.ExpectQuery(regexp.QuoteMeta(countAddresses)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta(insertOrder)).
		WithArgs(sqlmock.AnyArg(), int64(7), 0.90, 5.90, 6.80).
		WillReturnResult(sqlmock.NewResult(9, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertOrderItem)).
		WithArgs(int64(9), int64(1), 1, 0.90, 0.90).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(decrementStock)).
		WithArgs(1, int64(1), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertMovement)).
		WithArgs(int64(1), int64(7), models.MovementSale, -1, sqlmock.AnyArg(), 10, 9).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(errors.New("deadlock"))

	_, err := svc.PlaceOrder(context.Background(), 7, models.RoleCustomer, []models.CheckoutItem{
		{ID: 1, Quantity: 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit")
}

func TestGenerateOrderNumber(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		n := GenerateOrderNumber()
		assert.True(t, strings.HasPrefix(n, "ORD-"), "order number %q missing prefix", n)
		assert.False(t, seen[n], "duplicate order number %q", n)
		seen[n] = true
	}
}
