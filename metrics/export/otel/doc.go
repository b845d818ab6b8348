// Package otel publishes goIdentity counters and the sign-in latency
// histogram through OpenTelemetry observable instruments.
//
// Counters map to Int64ObservableCounter. The histogram becomes one gauge
// per cumulative bucket plus _count and _sum gauges, since the metric API has
// no observable histogram. All instruments share one callback that takes a
// single snapshot per collection, so a scrape never mixes two snapshots.
//
// Callers own the MeterProvider and pass in a Meter.
package otel
