package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNewAppMetricsCreatesAllInstruments(t *testing.T) {
	m, err := NewAppMetrics(noop.NewMeterProvider().Meter("test"), "test-service")
	require.NoError(t, err)

	assert.NotNil(t, m.HTTPRequestsTotal)
	assert.NotNil(t, m.DBQueriesTotal)
	assert.NotNil(t, m.OrdersCreated)
	assert.NotNil(t, m.CheckoutFailures)
	assert.NotNil(t, m.LowStockProducts)
	assert.NotNil(t, m.ImportedRows)
}

func TestWithServiceName(t *testing.T) {
	m, err := NewAppMetrics(noop.NewMeterProvider().Meter("test"), "test-service")
	require.NoError(t, err)

	attrs := m.WithServiceName([]attribute.KeyValue{attribute.String("k", "v")})
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.String("service.name", "test-service"), attrs[1])

	attrs = m.WithServiceName(nil)
	require.Len(t, attrs, 1)
}

func TestParseHeaders(t *testing.T) {
	headers := parseHeaders("access-token=abc123, x-tenant = acme")
	assert.Equal(t, map[string]string{
		"access-token": "abc123",
		"x-tenant":     "acme",
	}, headers)

	assert.Empty(t, parseHeaders(""))
	assert.Empty(t, parseHeaders("malformed-no-equals"))
}
