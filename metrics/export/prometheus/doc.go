// Package prometheus exports goSession engine metrics to Prometheus.
//
// [Collector] implements prometheus.Collector and can be registered on any
// registry. [PrometheusExporter] bundles it with a ready-made handler and a
// dependency-free text renderer. Counter names are prefixed gosession_ and
// end in _total; latency histograms end in _seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry. Callers choose
//     the registry.
//   - Mutate engine state.
package prometheus
