package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMeterProvider creates a test meter provider with a manual reader
func setupTestMeterProvider(t *testing.T) *metric.ManualReader {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})
	return reader
}

// collectSums gathers int64 counter totals by instrument name
func collectSums(t *testing.T, reader *metric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	return sums
}

func TestNewOTelMetrics(t *testing.T) {
	setupTestMeterProvider(t)

	m, err := NewOTelMetrics()
	require.NoError(t, err)
	assert.NotNil(t, m.httpRequestsTotal)
	assert.NotNil(t, m.loginAttempts)
	assert.NotNil(t, m.tokenOperations)
	assert.NotNil(t, m.permissionChecks)
}

func TestOTelMetrics_RecordHTTPRequest(t *testing.T) {
	reader := setupTestMeterProvider(t)

	m, err := NewOTelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordHTTPRequest(ctx, "POST", "/user/login", 200, 100*time.Millisecond)
	m.RecordHTTPRequest(ctx, "POST", "/user/login", 401, 20*time.Millisecond)

	sums := collectSums(t, reader)
	assert.Equal(t, int64(2), sums["http.server.requests"])
}

func TestOTelMetrics_AuthInstruments(t *testing.T) {
	reader := setupTestMeterProvider(t)

	m, err := NewOTelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordLogin(ctx, "INTERNAL", 30*time.Millisecond, nil)
	m.RecordLogin(ctx, "GOOGLE_OAUTH2", 80*time.Millisecond, errors.New("bad token"))
	m.RecordTokenOperation(ctx, "refresh", nil)
	m.RecordPermissionCheck(ctx, "VIEW_USERS", true)
	m.RecordPermissionCheck(ctx, "VIEW_USERS", false)

	sums := collectSums(t, reader)
	assert.Equal(t, int64(2), sums["auth.login.attempts"])
	assert.Equal(t, int64(1), sums["auth.token.operations"])
	assert.Equal(t, int64(2), sums["auth.permission.checks"])
}
