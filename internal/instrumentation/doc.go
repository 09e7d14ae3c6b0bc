// Package instrumentation wires OpenTelemetry metrics and tracing for the
// assistant: a provider that selects exporters from the environment and a
// Metrics recorder covering HTTP traffic, chat turns, tool dispatches, token
// refreshes, rule reconciliations, and provider calls.
//
// All Metrics methods are safe on a zero-value recorder, so callers never
// need to branch on whether instrumentation is enabled.
package instrumentation
