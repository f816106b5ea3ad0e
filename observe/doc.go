// Package observe instruments staged queues.
//
// Metrics exports Prometheus collectors, OTelMetrics records the same counts
// through an OpenTelemetry meter, and Tracing wraps every action execution in
// an OpenTelemetry span. Each of them plugs into a queue through
// stagequeue.WithMiddleware and, for the metric types, stagequeue.WithObserver.
package observe
