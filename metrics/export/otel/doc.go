// Package otel binds goSession engine metrics to an OpenTelemetry meter.
//
// [NewOTelExporter] registers one observable counter per engine counter and
// one observable gauge per histogram bucket. A single callback takes one
// engine snapshot per collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
