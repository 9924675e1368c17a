// Package metrics provides observability hooks for the preview pipeline.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics collection never requires nil checks at call
// sites. When a Prometheus registry is configured, the daemon swaps in
// PrometheusRecorder and serves the registry over HTTP.
package metrics
