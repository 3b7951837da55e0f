package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry metric instruments
type OTelMetrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Authentication metrics
	loginAttempts metric.Int64Counter
	loginDuration metric.Float64Histogram

	// Token metrics
	tokenOperations metric.Int64Counter

	// Permission metrics
	permissionChecks metric.Int64Counter
}

// NewOTelMetrics creates a new OTel metrics instance
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/platinummonkey/gatehouse")

	m := &OTelMetrics{}
	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http.server.requests",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	m.loginAttempts, err = meter.Int64Counter(
		"auth.login.attempts",
		metric.WithDescription("Total number of login attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create login_attempts counter: %w", err)
	}

	m.loginDuration, err = meter.Float64Histogram(
		"auth.login.duration",
		metric.WithDescription("Login duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create login_duration histogram: %w", err)
	}

	m.tokenOperations, err = meter.Int64Counter(
		"auth.token.operations",
		metric.WithDescription("Total number of token operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_operations counter: %w", err)
	}

	m.permissionChecks, err = meter.Int64Counter(
		"auth.permission.checks",
		metric.WithDescription("Total number of permission checks"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create permission_checks counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *OTelMetrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", statusCode),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordLogin records a login attempt for an authentication method
func (m *OTelMetrics) RecordLogin(ctx context.Context, method string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("auth.method", method),
		attribute.Bool("error", err != nil),
	)
	m.loginAttempts.Add(ctx, 1, attrs)
	m.loginDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordTokenOperation records an issue, refresh or revoke
func (m *OTelMetrics) RecordTokenOperation(ctx context.Context, operation string, err error) {
	m.tokenOperations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("token.operation", operation),
		attribute.Bool("error", err != nil),
	))
}

// RecordPermissionCheck records the outcome of a permission check
func (m *OTelMetrics) RecordPermissionCheck(ctx context.Context, permission string, allowed bool) {
	m.permissionChecks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("permission", permission),
		attribute.Bool("allowed", allowed),
	))
}
