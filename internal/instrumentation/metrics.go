package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrResult    = "result"
	attrTool      = "tool"
	attrKind      = "kind"
	attrOutcome   = "outcome"
)

// Metrics records the assistant's operational metrics. The zero value is a
// no-op recorder.
type Metrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
	activeSessions      metric.Int64UpDownCounter

	chatTurnsTotal      metric.Int64Counter
	toolDispatchesTotal metric.Int64Counter
	toolDuration        metric.Float64Histogram

	tokenRefreshTotal metric.Int64Counter

	ruleReconciliationsTotal metric.Int64Counter

	mailOperationsTotal metric.Int64Counter
	mailOperationDuration metric.Float64Histogram
}

// NewMetrics registers all instruments on the meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration_seconds histogram: %w", err)
	}

	m.activeSessions, err = meter.Int64UpDownCounter(
		"active_sessions",
		metric.WithDescription("Number of active user sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create active_sessions gauge: %w", err)
	}

	m.chatTurnsTotal, err = meter.Int64Counter(
		"chat_turns_total",
		metric.WithDescription("Total number of chat turns by outcome"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create chat_turns_total counter: %w", err)
	}

	m.toolDispatchesTotal, err = meter.Int64Counter(
		"tool_dispatches_total",
		metric.WithDescription("Total number of dispatched tool calls"),
		metric.WithUnit("{dispatch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tool_dispatches_total counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		"tool_dispatch_duration_seconds",
		metric.WithDescription("Tool dispatch duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("create tool_dispatch_duration_seconds histogram: %w", err)
	}

	m.tokenRefreshTotal, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("Total number of OAuth token refresh attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create oauth_token_refresh_total counter: %w", err)
	}

	m.ruleReconciliationsTotal, err = meter.Int64Counter(
		"rule_reconciliations_total",
		metric.WithDescription("Total number of sender-rule reconciliations"),
		metric.WithUnit("{reconciliation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rule_reconciliations_total counter: %w", err)
	}

	m.mailOperationsTotal, err = meter.Int64Counter(
		"mail_operations_total",
		metric.WithDescription("Total number of mail provider operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create mail_operations_total counter: %w", err)
	}

	m.mailOperationDuration, err = meter.Float64Histogram(
		"mail_operation_duration_seconds",
		metric.WithDescription("Mail provider operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("create mail_operation_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}
	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordChatTurn records a completed router turn by status
// (text, tool_result, validation_failed, tool_failed, error).
func (m *Metrics) RecordChatTurn(ctx context.Context, status string) {
	if m.chatTurnsTotal == nil {
		return
	}
	m.chatTurnsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, status)))
}

// RecordToolDispatch records one dispatched tool call.
func (m *Metrics) RecordToolDispatch(ctx context.Context, tool, status string, duration time.Duration) {
	if m.toolDispatchesTotal == nil || m.toolDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrTool, tool),
		attribute.String(attrStatus, status),
	}
	m.toolDispatchesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordTokenRefresh records an access-token refresh attempt. Result should
// be RefreshResultSuccess or RefreshResultFailure. Satisfies the credential
// manager's recorder interface.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, result string) {
	if m.tokenRefreshTotal == nil {
		return
	}
	m.tokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordRuleReconciliation records one sender-rule reconciliation by kind
// (archive, trash) and outcome (created, merged, unchanged, error).
func (m *Metrics) RecordRuleReconciliation(ctx context.Context, kind, outcome string) {
	if m.ruleReconciliationsTotal == nil {
		return
	}
	m.ruleReconciliationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrKind, kind),
		attribute.String(attrOutcome, outcome),
	))
}

// RecordMailOperation records one mail provider call by operation name.
func (m *Metrics) RecordMailOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if m.mailOperationsTotal == nil || m.mailOperationDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}
	m.mailOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.mailOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// IncrementActiveSessions bumps the live-session gauge.
func (m *Metrics) IncrementActiveSessions(ctx context.Context) {
	if m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, 1)
}

// DecrementActiveSessions drops the live-session gauge.
func (m *Metrics) DecrementActiveSessions(ctx context.Context) {
	if m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, -1)
}
