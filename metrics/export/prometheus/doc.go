// Package prometheus exposes goSession metrics through client_golang.
//
// [NewCollector] wraps a [goSession.Manager] (or any metrics source) as a
// [prometheus.Collector]. Every counter is named gosession_*_total; the only
// histogram is gosession_provider_call_latency_seconds.
//
// # What this package must NOT do
//
//   - Register with the default Prometheus registry. Callers choose a registry.
//   - Mutate manager state.
package prometheus
