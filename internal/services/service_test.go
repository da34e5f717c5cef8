package services

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/inkwell-supplies/storefront/internal/db"
	"github.com/inkwell-supplies/storefront/internal/metrics"
)

// newTestDB returns a db handle backed by a driver mock and the noop-metered
// instrument set used by every service under test.
func newTestDB(t *testing.T) (*db.DB, sqlmock.Sqlmock, *metrics.AppMetrics) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	m, err := metrics.NewAppMetrics(noop.NewMeterProvider().Meter("test"), "test")
	require.NoError(t, err)

	return db.Wrap(sqlDB), mock, m
}
