// Package otel bridges goSession metrics into an OpenTelemetry meter.
//
// Counters become observable counters. The provider latency histogram is
// published as one cumulative gauge per bucket plus a count gauge, since the
// metric API has no observable histogram.
//
// # What this package must NOT do
//
//   - Create or own a MeterProvider.
//   - Mutate manager state.
package otel
